// Command atcmdterm is a reference AT-command server: it wires a
// catalog.Catalog and server.Server to a real serial line instead of the
// in-memory byte feed the package tests use. It demonstrates a basic
// command, a read/write extended command, a string parameter, an
// all-optional-parameters command, and one command that suspends across
// an asynchronous event (a simulated GPS fix) and can be interrupted
// mid-flight.
package main

import (
	"io"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/kylelemons/goat/termios"
	"github.com/rs/zerolog"

	serial "github.com/daedaluz/goserial"

	"github.com/cesanta/atcmd/catalog"
	"github.com/cesanta/atcmd/server"
)

// interruptByte is the one byte this terminal treats as out-of-band: fed
// to the server with abortable=true, so it asks a suspended command to
// abort instead of being interpreted as line content.
const interruptByte = 0x03 // Ctrl-C

type options struct {
	Device  string `short:"d" long:"device" default:"/dev/ttyUSB0" description:"serial device to open"`
	Baud    uint32 `short:"b" long:"baud" default:"115200" description:"line speed"`
	Stdio   bool   `long:"stdio" description:"drive the server over the controlling terminal (raw mode) instead of a serial device"`
	Echo    bool   `long:"echo" description:"echo every received byte back out the transport"`
	Numeric bool   `long:"numeric" description:"use numeric result codes (0-8) instead of verbose words"`
	Debug   bool   `long:"debug" description:"enable debug-level logging"`
}

func main() {
	var opts options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		os.Exit(1)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Str("device", opts.Device).Logger()

	port, err := openTransport(opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("opening transport")
	}
	defer port.Close()
	if opts.Stdio {
		logger = logger.With().Str("transport", "stdio").Logger()
		logger.Info().Msg("terminal in raw mode")
	} else {
		logger.Info().Uint32("baud", opts.Baud).Msg("serial port open")
	}

	t := &terminal{port: port, log: logger, resume: make(chan resumeEvent, 4)}
	cat := t.buildCatalog()
	t.srv = server.NewServer(server.Settings{Catalog: cat, MaxCommandsPerLine: 4}, t.printByte, nil)
	session := t.srv.SessionParams()
	session.Echo = opts.Echo
	if opts.Numeric {
		session.Verbose = false
	}

	t.run()
}

func openTransport(opts options) (io.ReadWriteCloser, error) {
	if opts.Stdio {
		return openStdio()
	}
	return openPort(opts)
}

func openPort(opts options) (*serial.Port, error) {
	port, err := serial.Open(opts.Device, serial.NewOptions())
	if err != nil {
		return nil, err
	}
	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, err
	}
	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return nil, err
	}
	attrs.SetCustomSpeed(opts.Baud)
	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// stdioPort drives the engine over the controlling terminal: reads come
// from stdin, responses go to stdout, Close restores the cooked terminal
// state Raw replaced. Raw mode matters here: the engine wants every byte
// as typed, including Ctrl-C, which it treats as an abort request rather
// than a signal.
type stdioPort struct {
	tio *termios.TermSettings
}

func openStdio() (io.ReadWriteCloser, error) {
	tio, err := termios.NewTermSettings(0)
	if err != nil {
		return nil, err
	}
	if err := tio.Raw(); err != nil {
		return nil, err
	}
	return &stdioPort{tio: tio}, nil
}

func (s *stdioPort) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (s *stdioPort) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (s *stdioPort) Close() error                { return s.tio.Reset() }

// resumeEvent carries an asynchronous NotifyDone call back onto the
// terminal's single reader/dispatch goroutine; Server is not safe for
// concurrent use, so every call into it happens on that one goroutine.
type resumeEvent struct {
	notify func(*server.Server) bool
	name   string
}

type terminal struct {
	port   io.ReadWriteCloser
	srv    *server.Server
	log    zerolog.Logger
	resume chan resumeEvent
}

// printByte is the server's response sink: every byte the engine produces
// goes straight out the serial port.
func (t *terminal) printByte(b byte, ctx interface{}) {
	if _, err := t.port.Write([]byte{b}); err != nil {
		t.log.Error().Err(err).Msg("writing response byte")
	}
}

// run drives the terminal: a background goroutine turns serial reads into
// channel sends, and the select loop below is the only place that ever
// touches t.srv, keeping every Feed/NotifyDone call single-threaded.
func (t *terminal) run() {
	incoming := make(chan byte, 256)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 64)
		for {
			n, err := t.port.Read(buf)
			for i := 0; i < n; i++ {
				incoming <- buf[i]
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case b := <-incoming:
			if t.srv.SessionParams().Echo {
				t.port.Write([]byte{b})
			}
			t.srv.Feed(b, b == interruptByte)
		case ev := <-t.resume:
			t.log.Debug().Str("command", ev.name).Msg("delivering async resume")
			ev.notify(t.srv)
		case err := <-readErr:
			t.log.Warn().Err(err).Msg("serial read loop ended")
			return
		}
	}
}

// buildCatalog registers the demonstration command set: V (basic, no
// parameter), +GCI (mandatory hex read/write), +MV18AM (mandatory string
// read/write), +CFGOPT (two all-optional parameters with defaults), and
// +GPSFIX (a write that suspends for a simulated fix and can be aborted).
func (t *terminal) buildCatalog() *catalog.Catalog {
	v, err := catalog.NewBasicCommand('V', false, nil, func(h catalog.BasicHandle) catalog.Result {
		return catalog.OK
	})
	if err != nil {
		t.log.Fatal().Err(err).Msg("building V command")
	}

	var gciValue uint32
	gciParam, err := catalog.NewNumericParam(catalog.Hex, false, []catalog.Range{{Min: 0, Max: 0xFF}})
	if err != nil {
		t.log.Fatal().Err(err).Msg("building GCI parameter")
	}
	gci := catalog.ExtendedCommand{
		Name:   "GCI",
		Params: []catalog.Param{gciParam},
		Write: func(h catalog.ExtHandle) catalog.Result {
			gciValue = h.ParamValue(0).Num
			t.log.Info().Uint32("value", gciValue).Msg("+GCI write")
			return catalog.OK
		},
		Read: func(h catalog.ExtHandle) catalog.Result {
			h.PrintExtHeader()
			h.PrintNumeric(gciValue, 16)
			return catalog.OK
		},
	}

	var mv18am string
	mvParam, err := catalog.NewStringParam(false, 100)
	if err != nil {
		t.log.Fatal().Err(err).Msg("building MV18AM parameter")
	}
	mv := catalog.ExtendedCommand{
		Name:   "MV18AM",
		Params: []catalog.Param{mvParam},
		Write: func(h catalog.ExtHandle) catalog.Result {
			mv18am = h.ParamValue(0).Str
			t.log.Info().Str("value", mv18am).Msg("+MV18AM write")
			return catalog.OK
		},
		Read: func(h catalog.ExtHandle) catalog.Result {
			h.PrintExtHeader()
			h.PrintString(mv18am)
			return catalog.OK
		},
	}

	cfgOpt := t.buildCfgOptCommand()
	gpsFix := t.buildGPSFixCommand()

	cat, err := catalog.NewCatalog(
		[]catalog.BasicCommand{v},
		nil,
		[]catalog.ExtendedCommand{gci, mv, cfgOpt, gpsFix},
		4,
	)
	if err != nil {
		t.log.Fatal().Err(err).Msg("building catalog")
	}
	return cat
}

func (t *terminal) buildCfgOptCommand() catalog.ExtendedCommand {
	mode, err := catalog.NewNumericParam(catalog.Dec, true, []catalog.Range{{Min: 0, Max: 2}})
	if err != nil {
		t.log.Fatal().Err(err).Msg("building CFGOPT mode parameter")
	}
	mode, err = mode.WithNumericDefault(0)
	if err != nil {
		t.log.Fatal().Err(err).Msg("defaulting CFGOPT mode parameter")
	}
	label, err := catalog.NewStringParam(true, 32)
	if err != nil {
		t.log.Fatal().Err(err).Msg("building CFGOPT label parameter")
	}
	label, err = label.WithStringDefault("default")
	if err != nil {
		t.log.Fatal().Err(err).Msg("defaulting CFGOPT label parameter")
	}
	return catalog.ExtendedCommand{
		Name:   "CFGOPT",
		Params: []catalog.Param{mode, label},
		Write: func(h catalog.ExtHandle) catalog.Result {
			t.log.Info().
				Uint32("mode", h.ParamValue(0).Num).
				Str("label", h.ParamValue(1).Str).
				Msg("+CFGOPT write")
			return catalog.OK
		},
	}
}

// buildGPSFixCommand demonstrates suspend/resume: the write handler
// returns Async on the first call and kicks off a timer simulating a real
// GPS fix; the timer delivers a resumeEvent onto t.resume instead of
// calling back into the server directly. A Ctrl-C byte arriving while the
// fix is pending asks the handler to abort instead of completing it.
func (t *terminal) buildGPSFixCommand() catalog.ExtendedCommand {
	const fixLatency = 2 * time.Second
	fixReady := false
	return catalog.ExtendedCommand{
		Name: "GPSFIX",
		Write: func(h catalog.ExtHandle) catalog.Result {
			switch h.CallType() {
			case catalog.Request:
				fixReady = false
				t.log.Info().Msg("+GPSFIX requested, acquiring simulated fix")
				time.AfterFunc(fixLatency, func() {
					fixReady = true
					t.resume <- resumeEvent{
						name:   "GPSFIX",
						notify: func(s *server.Server) bool { return s.NotifyDoneExtWrite("GPSFIX") },
					}
				})
				return catalog.Async
			case catalog.Abort:
				t.log.Warn().Msg("+GPSFIX aborted before fix acquired")
				return catalog.OK
			default: // Response
				if !fixReady {
					return catalog.Async
				}
				h.InfoText("fix acquired")
				return catalog.OK
			}
		},
	}
}
