package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/touchring/internal/api"
	"github.com/banshee-data/touchring/internal/capture"
	"github.com/banshee-data/touchring/internal/cells"
	"github.com/banshee-data/touchring/internal/config"
	"github.com/banshee-data/touchring/internal/geometry"
	"github.com/banshee-data/touchring/internal/link"
	"github.com/banshee-data/touchring/internal/monitoring"
	"github.com/banshee-data/touchring/internal/protocol"
	"github.com/banshee-data/touchring/internal/serialmux"
	"github.com/banshee-data/touchring/internal/timeutil"
	"github.com/banshee-data/touchring/internal/touchws"
	"github.com/banshee-data/touchring/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to JSON configuration file (defaults apply when empty)")
	listen      = flag.String("listen", ":8080", "HTTP API and debug listen address")
	wsListen    = flag.String("ws-listen", touchws.DefaultAddr, "Controller websocket listen address")
	devMode     = flag.Bool("dev", false, "Run without serial hardware")
	debugMode   = flag.Bool("debug", false, "Trace pointer mapping and serial opcodes")
	capturePath = flag.String("capture", "", "Record serial exchanges to this SQLite file")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.LoadConfig(path)
}

// openChannel returns the serial mux for one side, or a disabled stand-in in
// dev mode.
func openChannel(cfg *config.Config, side protocol.Side, dev bool) (serialmux.SerialMuxInterface, error) {
	if dev {
		return serialmux.NewDisabledSerialMux(side.String()), nil
	}
	return serialmux.NewRealSerialMux(side.String(), cfg.GetPort(side), cfg.PortOptions())
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("touchring %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	monitoring.SetDebug(*debugMode)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	topo, err := cfg.Topology()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	layout, err := cfg.GetFrameLayout()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	log.Printf("touch topology: divisions=%d radius=%d compensation=%d mode=%s",
		topo.Divisions, topo.PointerRadius, topo.RadiusCompensation, topo.Mode)

	agg := cells.NewAggregator(
		geometry.NewMapper(topo),
		geometry.NewFrameStore(geometry.Frame{}),
		cells.NewOverrideSet(),
	)
	activity := &cells.Activity{}

	var (
		captureDB *capture.DB
		recorder  *capture.Recorder
	)
	if *capturePath != "" {
		captureDB, err = capture.Open(*capturePath)
		if err != nil {
			log.Fatalf("failed to open capture database: %v", err)
		}
		defer captureDB.Close()
		recorder = capture.NewRecorder(captureDB)
	}

	var sessions []*link.Session
	var channels []serialmux.SerialMuxInterface
	for _, side := range protocol.Sides {
		ch, err := openChannel(cfg, side, *devMode)
		if err != nil {
			log.Fatalf("failed to open %s channel: %v", side, err)
		}
		defer ch.Close()
		channels = append(channels, ch)

		opts := []link.SessionOption{link.WithLayout(layout)}
		if recorder != nil {
			opts = append(opts, link.WithRecorder(recorder, cfg.GetCaptureFrames()))
		}
		sessions = append(sessions, link.NewSession(side, ch, opts...))
	}
	bridge := link.NewBridge(agg, timeutil.RealClock{}, sessions...)
	controllers := touchws.NewServer(agg)

	// Create a wait group for the aggregator, bridge, capture, and server routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := agg.Run(ctx, timeutil.RealClock{}, cfg.GetAggregateInterval(), activity.Observe); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("aggregator error: %v", err)
		}
		log.Print("aggregator routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bridge.Run(ctx, cfg.GetLinkInterval()); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("link bridge error: %v", err)
		}
		log.Print("link routine terminated")
	}()

	if recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := recorder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("capture recorder error: %v", err)
			}
			log.Printf("capture routine terminated (written=%d dropped=%d)", recorder.Written(), recorder.Dropped())
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := touchws.ListenAndServe(ctx, *wsListen, controllers); err != nil {
			log.Printf("controller websocket server error: %v", err)
			stop()
		}
		log.Print("controller routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(agg, bridge, activity)
		mux := apiServer.ServeMux()
		apiServer.AttachAdminRoutes(mux)
		bridge.AttachAdminRoutes(mux)
		controllers.AttachAdminRoutes(mux)
		for _, ch := range channels {
			ch.AttachAdminRoutes(mux)
		}
		if captureDB != nil {
			captureDB.AttachAdminRoutes(mux, recorder)
		}

		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("HTTP API listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				stop()
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
