// Command facelock points a pan/tilt camera head at the first face it sees
// and sweeps the pan axis while nobody is in view.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/facelock/internal/api"
	"github.com/banshee-data/facelock/internal/config"
	"github.com/banshee-data/facelock/internal/db"
	"github.com/banshee-data/facelock/internal/health"
	"github.com/banshee-data/facelock/internal/monitoring"
	"github.com/banshee-data/facelock/internal/pipeline"
	"github.com/banshee-data/facelock/internal/servo"
	"github.com/banshee-data/facelock/internal/timeutil"
	"github.com/banshee-data/facelock/internal/track"
	"github.com/banshee-data/facelock/internal/version"
	"github.com/banshee-data/facelock/internal/vision"
)

// options holds the parsed command line. Flags left unset fall back to the
// config file, then to built-in defaults.
type options struct {
	configPath string
	video      int
	servoDev   string
	minSize    int
	maxSize    int
	cascade    string
	devMode    bool
	fixtures   string
	listen     string
	healthAddr string
	dbPath     string
	logFile    string
	pcapPath   string
	manual     bool
	version    bool

	set map[string]bool
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("facelock", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Path to a .json or .yaml config file")
	fs.IntVar(&o.video, "video", 0, "Camera device index")
	fs.StringVar(&o.servoDev, "servodev", "", "Serial servo controller device (UDP actuators when empty)")
	fs.IntVar(&o.minSize, "min_s", 100, "Minimum face size in pixels")
	fs.IntVar(&o.maxSize, "max_s", 180, "Maximum face size in pixels")
	fs.StringVar(&o.cascade, "cascade", "", "Haar cascade file for the face detector")
	fs.BoolVar(&o.devMode, "dev", false, "Replay scripted detections instead of using a camera")
	fs.StringVar(&o.fixtures, "fixtures", "", "Fixture file replayed in dev mode")
	fs.StringVar(&o.listen, "listen", "", "Status HTTP listen address (\"off\" disables)")
	fs.StringVar(&o.healthAddr, "health-listen", "", "gRPC health service listen address (\"off\" disables)")
	fs.StringVar(&o.dbPath, "db", "", "SQLite database path")
	fs.StringVar(&o.logFile, "log-file", "", "Also write logs to this rotating file")
	fs.StringVar(&o.pcapPath, "record-pcap", "", "Record actuator datagrams to this pcap file")
	fs.BoolVar(&o.manual, "manual", false, "Accept operator calibration keys on stdin")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// loadConfig reads the config file, if any, and applies explicitly set flags
// on top of it.
func loadConfig(o *options) (*config.Config, error) {
	cfg := config.Empty()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.set["video"] {
		cfg.CameraIndex = &o.video
	}
	if o.set["servodev"] {
		cfg.ServoDevice = &o.servoDev
	}
	if o.set["min_s"] {
		cfg.DetectorMinSize = &o.minSize
	}
	if o.set["max_s"] {
		cfg.DetectorMaxSize = &o.maxSize
	}
	if o.set["cascade"] {
		cfg.CascadePath = &o.cascade
	}
	if o.set["fixtures"] {
		cfg.FixturePath = &o.fixtures
	}
	if o.set["listen"] {
		cfg.Listen = &o.listen
	}
	if o.set["health-listen"] {
		cfg.HealthListen = &o.healthAddr
	}
	if o.set["db"] {
		cfg.DBPath = &o.dbPath
	}
	if o.set["log-file"] {
		cfg.LogFile = &o.logFile
	}
	if o.set["record-pcap"] {
		cfg.PcapPath = &o.pcapPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// homeDuties picks each axis's starting duty: the last saved calibration,
// else the configured default.
func homeDuties(cfg *config.Config, calibrated map[servo.Axis]int) map[servo.Axis]int {
	home := map[servo.Axis]int{
		servo.Pan:  cfg.GetPanDefaultDuty(),
		servo.Tilt: cfg.GetTiltDefaultDuty(),
	}
	for axis, duty := range calibrated {
		home[axis] = servo.Clamp(duty)
	}
	return home
}

// openTransport builds the actuator link: serial when a device is configured,
// UDP otherwise, optionally mirrored into a pcap file.
func openTransport(cfg *config.Config) (servo.Transport, error) {
	var (
		t   servo.Transport
		src *net.UDPAddr
	)
	if dev := cfg.GetServoDevice(); dev != "" {
		st, err := servo.NewSerialTransport(dev, nil)
		if err != nil {
			return nil, err
		}
		t = st
	} else {
		ut, err := servo.NewUDPTransport(map[servo.Axis]string{
			servo.Pan:  cfg.GetPanAddress(),
			servo.Tilt: cfg.GetTiltAddress(),
		})
		if err != nil {
			return nil, err
		}
		t, src = ut, ut.LocalAddr()
	}

	path := cfg.GetPcapPath()
	if path == "" {
		return t, nil
	}
	dst := make(map[servo.Axis]*net.UDPAddr, len(servo.Axes))
	for axis, addr := range map[servo.Axis]string{servo.Pan: cfg.GetPanAddress(), servo.Tilt: cfg.GetTiltAddress()} {
		a, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("failed to resolve %s address for pcap: %w", axis, err)
		}
		dst[axis] = a
	}
	f, err := os.Create(path)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("failed to create pcap file: %w", err)
	}
	tap, err := servo.NewPcapTap(t, f, src, dst, nil)
	if err != nil {
		f.Close()
		t.Close()
		return nil, err
	}
	monitoring.Logf("recording actuator traffic to %s", path)
	return tap, nil
}

// openVision returns the frame source and detector. In dev mode one replay
// fixture plays both roles.
func openVision(cfg *config.Config, dev bool) (vision.Camera, vision.Detector, error) {
	if dev {
		r, err := vision.LoadReplay(cfg.GetFixturePath(), nil)
		if err != nil {
			return nil, nil, err
		}
		r.Width, r.Height = cfg.GetFrameWidth(), cfg.GetFrameHeight()
		return r, r, nil
	}

	cam, err := vision.OpenCamera(cfg.GetCameraIndex(), cfg.GetFrameWidth(), cfg.GetFrameHeight())
	if err != nil {
		return nil, nil, err
	}
	det, err := vision.NewCascadeDetector(cfg.GetCascadePath(), cfg.GetDetectorMinSize(), cfg.GetDetectorMaxSize())
	if err != nil {
		cam.Close()
		return nil, nil, err
	}
	return cam, det, nil
}

// frameSource names where frames come from, for the session record.
func frameSource(cfg *config.Config, dev bool) string {
	if dev {
		return cfg.GetFixturePath()
	}
	return fmt.Sprintf("/dev/video%d", cfg.GetCameraIndex())
}

// run wires every component, ticks the pipeline until ctx ends, then tears
// everything down and closes the session record.
func run(ctx context.Context, args []string, stdin io.Reader) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}
	if o.version {
		fmt.Println(version.String())
		return nil
	}
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	if path := cfg.GetLogFile(); path != "" {
		closer := monitoring.SetupFileLog(monitoring.FileOptions{Path: path})
		defer closer.Close()
	}

	monitoring.Logf("%s starting", version.String())

	store, err := db.Open(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	calibrated, err := store.LoadCalibration(ctx)
	if err != nil {
		return err
	}

	source := frameSource(cfg, o.devMode)
	started := time.Now()
	session, err := store.StartSession(ctx, source, started)
	if err != nil {
		return err
	}
	journal := db.NewJournal(store, session.ID, 0)
	abort := func(err error) error {
		journal.Close()
		if endErr := store.EndSession(context.Background(), session.ID, time.Now(), pipeline.Stats{}, journal.Dropped()); endErr != nil {
			monitoring.Logf("failed to close session: %v", endErr)
		}
		return err
	}

	transport, err := openTransport(cfg)
	if err != nil {
		return abort(err)
	}
	client := servo.NewClient(transport,
		servo.WithSettleDelay(cfg.GetSettleDelay()),
		servo.WithObserver(journal),
	)
	defer client.Close()
	if err := client.Init(homeDuties(cfg, calibrated)); err != nil {
		return abort(err)
	}

	cam, det, err := openVision(cfg, o.devMode)
	if err != nil {
		return abort(fmt.Errorf("failed to open frame source: %w", err))
	}

	lock := track.NewExclusionLock()
	ctrl := track.NewController(client, lock, timeutil.RealClock{}, track.Config{
		FrameWidth:      cfg.GetFrameWidth(),
		FrameHeight:     cfg.GetFrameHeight(),
		CommandInterval: cfg.GetCommandInterval(),
		PanThreshold:    cfg.GetPanThreshold(),
		TiltThreshold:   cfg.GetTiltThreshold(),
	})

	p := pipeline.New(pipeline.DefaultOrder)
	if err := assemble(p, cam, det, ctrl); err != nil {
		// Registered stages release their own resources on teardown.
		if p.Stage(pipeline.Capture) == nil {
			cam.Close()
		}
		if c, ok := det.(io.Closer); ok && p.Stage(pipeline.Detect) == nil {
			c.Close()
		}
		if terr := p.Teardown(); terr != nil {
			monitoring.Logf("teardown: %v", terr)
		}
		return abort(fmt.Errorf("failed to assemble pipeline: %w", err))
	}

	status := api.NewServer()
	status.Duties = client
	status.Controller = ctrl
	status.Pipeline = p
	status.Journal = journal
	status.DB = store
	status.SessionID = session.ID
	shutdownHTTP := serveStatus(cfg.GetListen(), store, status)
	defer shutdownHTTP()
	setTracking, stopHealth := serveHealth(cfg.GetHealthListen())
	defer stopHealth()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	var wg sync.WaitGroup
	if o.manual {
		wg.Add(1)
		go func() {
			defer wg.Done()
			manual := track.NewManualDriver(client, lock, store)
			if err := manual.Run(sigCtx, stdin); err != nil {
				monitoring.Logf("manual driver: %v", err)
			}
		}()
	}

	go func() {
		<-sigCtx.Done()
		monitoring.Logf("shutdown requested, finishing current tick")
		p.Terminate()
		setTracking(false)
	}()

	monitoring.Logf("session %s started (source %s)", session.ID, source)
	setTracking(true)
	runErr := p.Run(context.Background())
	setTracking(false)
	if errors.Is(runErr, pipeline.ErrInterrupted) {
		runErr = nil
	}

	// Stage statistics go with the stages.
	stats := p.Stats()
	if err := p.Teardown(); err != nil {
		monitoring.Logf("teardown: %v", err)
	}
	stop()
	wg.Wait()
	journal.Close()

	ended := time.Now()
	if err := store.EndSession(context.Background(), session.ID, ended, stats, journal.Dropped()); err != nil {
		monitoring.Logf("failed to close session: %v", err)
	}
	monitoring.Logf("session %s ran %s: %d ticks, %d partial, %d commands journaled, %d dropped",
		session.ID, ended.Sub(started).Round(time.Millisecond), stats.Ticks, stats.PartialTicks,
		journal.Written(), journal.Dropped())
	return runErr
}

// assemble registers the three stages in order and checks the pipeline is
// complete.
func assemble(p *pipeline.Pipeline, cam vision.Camera, det vision.Detector, ctrl *track.Controller) error {
	stages := []struct {
		id pipeline.ID
		h  pipeline.Handler
	}{
		{pipeline.Capture, vision.NewCaptureStage(cam)},
		{pipeline.Detect, vision.NewDetectStage(det)},
		{pipeline.Track, ctrl},
	}
	for _, st := range stages {
		if err := p.Register(st.id, st.h); err != nil {
			return err
		}
	}
	return p.Validate()
}

// serveStatus starts the status and admin HTTP server unless addr is empty or
// "off". The returned func shuts it down.
func serveStatus(addr string, store *db.DB, s *api.Server) func() {
	if addr == "" || addr == "off" {
		return func() {}
	}

	mux := s.ServeMux()
	if err := store.AttachAdminRoutes(mux); err != nil {
		monitoring.Logf("admin routes unavailable: %v", err)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(mux),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("status server: %v", err)
		}
	}()
	monitoring.Logf("status server listening on %s", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("status server shutdown error: %v", err)
		}
	}
}

// serveHealth starts the gRPC health service unless addr is empty or "off".
// It returns a func reporting whether the pipeline is ticking and a func
// that stops the service.
func serveHealth(addr string) (func(bool), func()) {
	if addr == "" || addr == "off" {
		return func(bool) {}, func() {}
	}
	srv := health.NewServer(addr)
	if err := srv.Start(); err != nil {
		monitoring.Logf("health service unavailable: %v", err)
		return func(bool) {}, func() {}
	}
	return srv.SetTracking, srv.Stop
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Printf("facelock: %v", err)
		os.Exit(1)
	}
}
