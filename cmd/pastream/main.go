// Command pastream lists audio devices, plays and records audio, and
// checks the stream layer against the in-memory loopback engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/drgolem/pastream/internal/logging"
	"github.com/drgolem/pastream/portaudio"
	"github.com/drgolem/pastream/portaudio/loopback"
	"github.com/drgolem/pastream/portaudio/native"
)

// env is what every command runs with.
type env struct {
	stdout io.Writer
	log    zerolog.Logger
	engine string
}

type command struct {
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"devices":  {"list audio devices", runDevices},
	"hosts":    {"list host APIs", runHosts},
	"tone":     {"play a sine wave through a callback stream", runTone},
	"play":     {"play a WAV, AIFF, MP3, Ogg Vorbis or raw PCM file", runPlay},
	"record":   {"record from an input device to WAV or raw PCM", runRecord},
	"loopback": {"self-check the stream layer on the loopback engine", runLoopback},
}

// errUsage means the command printed its own usage.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pastream", flag.ContinueOnError)
	fs.SetOutput(stderr)
	engine := fs.String("engine", "native", "Audio engine: native (PortAudio) or loopback (in-memory)")
	level := fs.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	jsonLogs := fs.Bool("log-json", false, "Write logs as JSON lines")

	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: pastream [options] <command> [command options]")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Commands:")
		names := make([]string, 0, len(commands))
		for name := range commands {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(stderr, "  %-9s %s\n", name, commands[name].summary)
		}
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Run 'pastream <command> -h' for command options.")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", fs.Arg(0))
		fs.Usage()
		return 2
	}
	if *engine != "native" && *engine != "loopback" {
		fmt.Fprintf(stderr, "unknown engine %q\n", *engine)
		return 2
	}

	log, err := logging.New(stderr, logging.Options{Level: *level, JSON: *jsonLogs})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := &env{stdout: stdout, log: log, engine: *engine}
	if err := cmd.run(ctx, e, fs.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			return 2
		}
		log.Error().Err(err).Str("command", fs.Arg(0)).Msg("command failed")
		return 1
	}
	return 0
}

// newEngine returns the engine selected with -engine.
func (e *env) newEngine() portaudio.Engine {
	if e.engine == "loopback" {
		return loopback.New(loopback.DefaultConfig())
	}
	return native.New()
}

// open initializes a Context on the selected engine. The returned func
// terminates it.
func (e *env) open() (*portaudio.Context, func(), error) {
	pa := portaudio.NewContext(e.newEngine(), portaudio.WithLogger(e.log))
	if err := pa.Initialize(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize %s engine: %w", e.engine, err)
	}
	e.log.Debug().Str("engine", e.engine).Str("version", pa.VersionText()).Msg("initialized")
	return pa, func() {
		if err := pa.Terminate(); err != nil {
			e.log.Warn().Err(err).Msg("terminate failed")
		}
	}, nil
}

// device resolves a -device flag value; -1 selects the default.
func device(pa *portaudio.Context, index int) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		return nil, nil
	}
	return pa.DeviceInfo(portaudio.DeviceIndex(index))
}

// parseFlags parses a command's flags, turning -h into errUsage.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	return nil
}

// formatFromBits maps integer PCM bit depths to sample formats.
func formatFromBits(bits int) (portaudio.SampleFormat, error) {
	switch bits {
	case 8:
		return portaudio.SampleFmtInt8, nil
	case 16:
		return portaudio.SampleFmtInt16, nil
	case 24:
		return portaudio.SampleFmtInt24, nil
	case 32:
		return portaudio.SampleFmtInt32, nil
	}
	return 0, fmt.Errorf("unsupported bits per sample: %d (use 8, 16, 24, or 32)", bits)
}
