package catalog

import (
	"fmt"
	"sort"
)

// SParamID is the pseudo-command index for the S3/S4 line-termination and
// response-formatting parameters; S sits at offset 0 of the basic command
// ID space.
const SParamID = 0

// Catalog is the complete, immutable, build-time command table: basic and
// ampersand letters (sorted for binary search), the extended command trie,
// and the per-command descriptors. A Catalog is constructed once via
// NewCatalog and then shared, read-only, by every Server that uses it.
type Catalog struct {
	Basic              []BasicCommand
	Ampersand          []BasicCommand
	Extended           []ExtendedCommand
	Trie               *Trie
	MaxCommandsPerLine int

	// maxPerCommandBytes is the larger of the basic-command and
	// extended-write-command per-record encoding sizes.
	maxPerCommandBytes int
}

// NewCatalog validates and assembles a Catalog. basic and ampersand letters
// must each be unique within their own list; extended command names must be
// unique and drawn from the trie alphabet. maxCommandsPerLine must be at
// least 1.
func NewCatalog(basic, ampersand []BasicCommand, extended []ExtendedCommand, maxCommandsPerLine int) (*Catalog, error) {
	if maxCommandsPerLine < 1 {
		return nil, fmt.Errorf("catalog: max_commands_per_line must be >= 1")
	}
	if len(extended) > MaxExtendedCommands {
		return nil, fmt.Errorf("catalog: %d extended commands exceeds limit of %d", len(extended), MaxExtendedCommands)
	}

	basic = append([]BasicCommand(nil), basic...)
	ampersand = append([]BasicCommand(nil), ampersand...)
	sort.Slice(basic, func(i, j int) bool { return basic[i].Letter < basic[j].Letter })
	sort.Slice(ampersand, func(i, j int) bool { return ampersand[i].Letter < ampersand[j].Letter })
	if err := checkUniqueLetters(basic); err != nil {
		return nil, fmt.Errorf("catalog: basic commands: %w", err)
	}
	if err := checkUniqueLetters(ampersand); err != nil {
		return nil, fmt.Errorf("catalog: ampersand commands: %w", err)
	}

	names := make([]string, len(extended))
	for i, c := range extended {
		if err := validateExtendedCommand(c); err != nil {
			return nil, err
		}
		names[i] = c.Name
	}
	trie, err := BuildTrie(names)
	if err != nil {
		return nil, err
	}

	cat := &Catalog{
		Basic:              basic,
		Ampersand:          ampersand,
		Extended:           append([]ExtendedCommand(nil), extended...),
		Trie:               trie,
		MaxCommandsPerLine: maxCommandsPerLine,
	}
	cat.maxPerCommandBytes = cat.computeMaxPerCommandBytes()
	return cat, nil
}

func checkUniqueLetters(cmds []BasicCommand) error {
	for i := 1; i < len(cmds); i++ {
		if cmds[i].Letter == cmds[i-1].Letter {
			return fmt.Errorf("duplicate letter %q", cmds[i].Letter)
		}
	}
	return nil
}

// LookupBasic finds a basic command by letter; the table is sorted at
// construction so this is a binary search.
func (c *Catalog) LookupBasic(letter byte) (BasicCommand, bool) {
	return lookupLetter(c.Basic, letter)
}

// LookupAmpersand finds an ampersand command by letter via binary search.
func (c *Catalog) LookupAmpersand(letter byte) (BasicCommand, bool) {
	return lookupLetter(c.Ampersand, letter)
}

func lookupLetter(cmds []BasicCommand, letter byte) (BasicCommand, bool) {
	i := sort.Search(len(cmds), func(i int) bool { return cmds[i].Letter >= letter })
	if i < len(cmds) && cmds[i].Letter == letter {
		return cmds[i], true
	}
	return BasicCommand{}, false
}

// computeMaxPerCommandBytes is the per-command half of the line-buffer
// capacity formula: 6 bytes for a basic command (<=2 byte ID + 4 byte
// payload), and for each extended command 2 bytes (worst-case ID) plus
// the sum of its parameter slot sizes; the catalogue-wide maximum is the
// larger of these across every registered command.
func (c *Catalog) computeMaxPerCommandBytes() int {
	maxBytes := 6 // basic/ampersand/S-parameter worst case
	for _, ext := range c.Extended {
		size := 2 + ext.WriteSlotSize()
		if size > maxBytes {
			maxBytes = size
		}
	}
	return maxBytes
}

// LineBufferCapacity returns MaxCommandsPerLine times the worst-case
// per-command record size, the capacity a line buffer must reserve to
// hold the largest permitted line.
func (c *Catalog) LineBufferCapacity() int {
	return c.MaxCommandsPerLine * c.maxPerCommandBytes
}

// ExtCallType selects which of an extended command's operations a
// command ID refers to; it occupies the low two bits of the ID.
type ExtCallType uint8

const (
	ExtRead ExtCallType = iota
	ExtWrite
	ExtTest
)

// ExtCommandID returns (extIndex<<2)|callType, the command ID extended
// commands occupy.
func ExtCommandID(extIndex int, callType ExtCallType) int {
	return (extIndex << 2) | int(callType)
}

// DecodeExtCommandID splits an extended command ID back into its index and
// call type.
func DecodeExtCommandID(id int) (extIndex int, callType ExtCallType) {
	return id >> 2, ExtCallType(id & 0x3)
}

// BasicIDBase returns the first command ID past the extended command
// space: 4*E, where E is the number of registered extended commands.
func (c *Catalog) BasicIDBase() int {
	return 4 * len(c.Extended)
}

// BasicCommandID returns the command ID for the basic command at index i
// in c.Basic (the pseudo-command S occupies offset 0, basic commands
// follow in the letter-sorted order NewCatalog gives c.Basic, then
// ampersand commands). IDs do not follow the order in which the commands
// were passed to NewCatalog.
func (c *Catalog) BasicCommandID(i int) int {
	return c.BasicIDBase() + 1 + i
}

// AmpersandCommandID returns the command ID for the ampersand command at
// index i in c.Ampersand.
func (c *Catalog) AmpersandCommandID(i int) int {
	return c.BasicIDBase() + 1 + len(c.Basic) + i
}

// SCommandID returns the command ID for the S-parameter pseudo-command.
func (c *Catalog) SCommandID() int {
	return c.BasicIDBase() + SParamID
}
