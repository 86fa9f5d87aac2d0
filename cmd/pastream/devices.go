package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/drgolem/pastream/portaudio"
)

func runDevices(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("devices", flag.ContinueOnError)
	inputOnly := fs.Bool("input", false, "Only list devices with input channels")
	outputOnly := fs.Bool("output", false, "Only list devices with output channels")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	pa, done, err := e.open()
	if err != nil {
		return err
	}
	defer done()

	fmt.Fprintf(e.stdout, "%s\n", pa.VersionText())

	devices, err := pa.Devices()
	if err != nil {
		return err
	}
	defIn, _ := pa.DefaultInputDevice()
	defOut, _ := pa.DefaultOutputDevice()
	apis, _ := pa.HostApis()

	fmt.Fprintf(e.stdout, "\nAvailable Devices (%d):\n", len(devices))
	fmt.Fprintln(e.stdout, "========================")
	for _, d := range devices {
		if *inputOnly && d.MaxInputChannels == 0 || *outputOnly && d.MaxOutputChannels == 0 {
			continue
		}
		mark := ""
		if defIn != nil && d.Index == defIn.Index {
			mark += " [default input]"
		}
		if defOut != nil && d.Index == defOut.Index {
			mark += " [default output]"
		}
		fmt.Fprintf(e.stdout, "Device %d: %s%s\n", d.Index, d.Name, mark)
		if d.HostApiIndex >= 0 && d.HostApiIndex < len(apis) {
			fmt.Fprintf(e.stdout, "  Host API: %s\n", apis[d.HostApiIndex].Name)
		}
		fmt.Fprintf(e.stdout, "  Channels: %d input, %d output\n", d.MaxInputChannels, d.MaxOutputChannels)
		fmt.Fprintf(e.stdout, "  Sample Rate: %.0f Hz\n", d.DefaultSampleRate)
		if d.MaxInputChannels > 0 {
			fmt.Fprintf(e.stdout, "  Input Latency: %.1f ms low, %.1f ms high\n", ms(d.DefaultLowInputLatency), ms(d.DefaultHighInputLatency))
		}
		if d.MaxOutputChannels > 0 {
			fmt.Fprintf(e.stdout, "  Output Latency: %.1f ms low, %.1f ms high\n", ms(d.DefaultLowOutputLatency), ms(d.DefaultHighOutputLatency))
		}
		fmt.Fprintln(e.stdout)
	}
	return nil
}

func runHosts(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("hosts", flag.ContinueOnError)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	pa, done, err := e.open()
	if err != nil {
		return err
	}
	defer done()

	apis, err := pa.HostApis()
	if err != nil {
		return err
	}
	def, err := pa.DefaultHostApi()
	if err != nil {
		return err
	}

	fmt.Fprintf(e.stdout, "Host APIs (%d):\n", len(apis))
	for _, api := range apis {
		mark := ""
		if api.Index == def {
			mark = " [default]"
		}
		fmt.Fprintf(e.stdout, "[%d] %s%s: %d devices, default input %d, default output %d\n",
			api.Index, api.Name, mark, api.DeviceCount, api.DefaultInputDevice, api.DefaultOutputDevice)
	}
	return nil
}

func ms(t portaudio.PaTime) float64 {
	return float64(t) * 1000
}
