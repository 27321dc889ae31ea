// Command tracklog connects to the hand-tracking daemon (or an embedded
// simulator), prints the event stream, and optionally records it to sqlite.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/tactile-data/handlink/internal/config"
	"github.com/tactile-data/handlink/internal/dispatch"
	"github.com/tactile-data/handlink/internal/recorder"
	"github.com/tactile-data/handlink/internal/session"
	"github.com/tactile-data/handlink/internal/simulator"
	"github.com/tactile-data/handlink/internal/trackconn"
	"github.com/tactile-data/handlink/internal/version"
	"github.com/tactile-data/handlink/internal/wire"
)

var (
	configPath = flag.String("config", "", "Path to yaml config file")
	socket     = flag.String("socket", "", "Tracking service socket path (overrides config)")
	namespace  = flag.String("namespace", "", "Connection namespace (overrides config)")
	dbPath     = flag.String("db", "", "Record events to this sqlite database")
	simMode    = flag.Bool("sim", false, "Use an embedded simulated service instead of a real daemon")
	mode       = flag.String("mode", "", "Tracking mode to request: desktop, hmd or screentop")
	images     = flag.Bool("images", false, "Enable the image stream policy flag")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func trackingMode(name string) (wire.TrackingMode, bool) {
	switch name {
	case "desktop":
		return wire.TrackingModeDesktop, true
	case "hmd":
		return wire.TrackingModeHMD, true
	case "screentop":
		return wire.TrackingModeScreentop, true
	default:
		return 0, false
	}
}

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("tracklog %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *socket != "" {
		cfg.Service.SocketPath = *socket
	}
	if *namespace != "" {
		cfg.Service.Namespace = *namespace
	}
	if *dbPath != "" {
		cfg.Recorder.Path = *dbPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var dialer session.Dialer
	if *simMode {
		dialer = func() (trackconn.Conn, error) {
			pipe := simulator.Pipe(ctx, simulator.Config{
				Device:    simulator.Device{Serial: "SIM-0001", PID: 0x1201, HFOV: 2.4, VFOV: 2.1, Range: 800},
				FrameRate: 60,
				Hands:     2,
			})
			return trackconn.NewClient(pipe, cfg.Service.Namespace)
		}
	} else {
		dialer = func() (trackconn.Conn, error) {
			return trackconn.Dial(cfg.Service.SocketPath, cfg.Service.Namespace)
		}
	}

	queue := dispatch.New(cfg.Session.QueueDepth)
	sess, err := session.New(session.Config{
		Dialer:      dialer,
		Queue:       queue,
		Registry:    session.NewRegistry(),
		PollTimeout: cfg.Session.PollTimeout.Std(),
		RetrySleep:  cfg.Session.RetrySleep.Std(),
		CloseWait:   cfg.Session.CloseWait.Std(),
	})
	if err != nil {
		log.Fatalf("failed to build session: %v", err)
	}

	sink := newPrintSink()
	var sinks teeSink = []session.CallbackInterface{sink}
	if cfg.Recorder.Path != "" {
		rec, err := recorder.Open(cfg.Recorder.Path)
		if err != nil {
			log.Fatalf("failed to open recorder: %v", err)
		}
		defer rec.Close()
		rec.SetFrameStride(cfg.Recorder.FrameStride)
		sinks = append(sinks, rec)
		log.Printf("recording run %s to %s", rec.RunID(), cfg.Recorder.Path)
	}

	if err := sess.Open(sinks); err != nil {
		log.Fatalf("failed to open session: %v", err)
	}
	defer sess.Close()

	if *mode != "" {
		m, ok := trackingMode(*mode)
		if !ok {
			log.Fatalf("unknown tracking mode %q", *mode)
		}
		sess.SetTrackingMode(m)
	}
	if *images {
		sess.SetPolicyFlag(wire.PolicyImages, true)
	}

	log.Printf("tracklog %s started (socket=%s sim=%t)", version.Version, cfg.Service.SocketPath, *simMode)

	// The dispatch queue is the main execution context; run it here until
	// a signal arrives.
	queue.Run(ctx)
	log.Print("shutting down")
}
