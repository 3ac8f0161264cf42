package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tphakala/crasgo/internal/bus"
	"github.com/tphakala/crasgo/internal/capture"
	"github.com/tphakala/crasgo/internal/conf"
	"github.com/tphakala/crasgo/internal/device"
	"github.com/tphakala/crasgo/internal/device/malgobackend"
	"github.com/tphakala/crasgo/internal/errors"
	"github.com/tphakala/crasgo/internal/floop"
	"github.com/tphakala/crasgo/internal/logging"
	"github.com/tphakala/crasgo/internal/metrics"
	"github.com/tphakala/crasgo/internal/scheduler"
	"github.com/tphakala/crasgo/internal/stream"
)

// floopRingSamples sizes each configured floop pair's sink ring at one
// second of interleaved stereo 48kHz audio, generous enough that a slow
// capture-side reader doesn't starve the synthetic loopback signal.
const floopRingSamples = 48000 * 2

// buildClientTypesMask resolves a floop pair's configured client-type
// names into the bitmask Pair.Matches consults (§4.I).
func buildClientTypesMask(names []string) (uint64, error) {
	var mask uint64
	for _, name := range names {
		ct, ok := stream.ParseClientType(name)
		if !ok {
			return 0, errors.Newf("unknown client type %q", name).
				Component("floop").
				Category(errors.CategoryFloop).
				Build()
		}
		mask |= 1 << uint(ct)
	}
	return mask, nil
}

// serveCommand runs the audio thread until interrupted (§4.H "Run drives
// the scheduler loop until Stop is called").
func serveCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the audio server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(settings)
		},
	}
}

func runServe(settings *conf.Settings) error {
	logging.Init(settings.Main.Log)

	buildCtx := conf.BuildContext()
	logging.Info("starting audiosrv", "version", buildCtx.Version(), "build_date", buildCtx.BuildDate(), "system_id", buildCtx.SystemID())

	diag := conf.Diagnose(settings)
	for _, w := range diag.Warnings {
		logging.Warn("configuration warning", "message", w)
	}
	if !diag.Valid {
		for _, e := range diag.Errors {
			logging.Error("configuration error", "message", e)
		}
		return fmt.Errorf("invalid configuration, see logged errors")
	}

	if settings.Telemetry.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              settings.Telemetry.SentryDSN,
			AttachStacktrace: true,
			Release:          buildCtx.Version(),
		}); err != nil {
			logging.Error("failed to initialize crash reporting", "error", err)
		}
		sentry.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("system_id", buildCtx.SystemID())
		})
		errors.SetTelemetryReporter(errors.NewSentryReporter(true))
		defer sentry.Flush(2e9)
	}

	collector := metrics.New()
	metrics.Init(collector)
	if settings.Metrics.Enabled && settings.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(settings.Metrics.Listen, mux); err != nil {
				logging.Error("metrics server exited", "error", err)
			}
		}()
	}

	b, err := bus.New()
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	sched := scheduler.New(b, settings.Scheduler.WakeSlack, settings.Scheduler.BusyloopWarn)
	sched.OnResetRequest = func(dev *device.Device, reason string) {
		logging.Warn("device reset requested", "reason", reason)
	}

	playback, err := malgobackend.New(false)
	var playbackDev *device.Device
	if err != nil {
		logging.Warn("no playback hardware available, falling back to silent backend", "error", err)
		playbackDev = device.New(0, device.DirPlayback, device.NewSilentBackend())
	} else {
		playbackDev = device.New(0, device.DirPlayback, playback)
	}
	playbackDev.SetLingerTimeout(settings.Devices.LingerTimeout)

	var debugRecorder *capture.Recorder
	if settings.DebugCapture.Enabled {
		debugRecorder = capture.NewRecorder(48000, 2, settings.DebugCapture.MaxFrames)
		playbackDev.SetDebugRecorder(debugRecorder)
	}

	sched.AddOutputDevice(playbackDev)

	captureBackend, err := malgobackend.New(true)
	var captureDev *device.Device
	if err != nil {
		logging.Warn("no capture hardware available, falling back to silent backend", "error", err)
		captureDev = device.New(1, device.DirCapture, device.NewSilentBackend())
	} else {
		captureDev = device.New(1, device.DirCapture, captureBackend)
	}
	captureDev.SetLingerTimeout(settings.Devices.LingerTimeout)
	sched.AddInputDevice(captureDev)

	// Register each configured flexible-loopback pair as an ordinary
	// output/input device pair in the scheduler's device lists (§4.I).
	// IDs start at 100 to stay clear of the real playback/capture
	// devices above; the client-accept path that would actually pin
	// streams to these pairs is out of scope here.
	for i, fc := range settings.Floop {
		mask, err := buildClientTypesMask(fc.ClientTypes)
		if err != nil {
			logging.Warn("skipping misconfigured floop pair", "name", fc.Name, "error", err)
			continue
		}

		pair := floop.New(fc.Name, mask, floopRingSamples)
		outID := uint32(100 + i*2)
		inID := outID + 1

		outDev := device.New(outID, device.DirPlayback, floop.NewOutputBackend(pair))
		outDev.SetLingerTimeout(settings.Devices.LingerTimeout)
		sched.AddOutputDevice(outDev)

		inDev := device.New(inID, device.DirCapture, floop.NewInputBackend(pair))
		inDev.SetLingerTimeout(settings.Devices.LingerTimeout)
		sched.AddInputDevice(inDev)

		logging.Info("configured flexible loopback pair", "name", fc.Name, "stable_id", pair.StableID, "output_device", outID, "input_device", inID)
	}

	done := make(chan struct{})
	go func() {
		// SCHED_FIFO/nice are per-OS-thread attributes on Linux; lock this
		// goroutine to its thread for the lifetime of the audio loop so
		// the elevation actually sticks to the thread that runs it (§5).
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		scheduler.ElevateRealtimePriority(settings.Server.RealtimePriority, settings.Server.NiceFallback)
		sched.Run()
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	sched.Stop()
	<-done

	if debugRecorder != nil {
		if path, err := debugRecorder.DumpWAV(settings.DebugCapture.Dir, "audio_thread", time.Now()); err != nil {
			logging.Warn("failed to dump audio debug capture", "error", err)
		} else if path != "" {
			logging.Info("wrote audio debug capture", "path", path)
		}
	}

	return nil
}
