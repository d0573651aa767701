package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/presence.report/internal/api"
	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/db"
	"github.com/banshee-data/presence.report/internal/fusion"
	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/serialmux"
	"github.com/banshee-data/presence.report/internal/telemetry"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

var (
	devMode       = flag.Bool("dev", false, "Replay fixtures.txt instead of reading a serial port")
	listen        = flag.String("listen", ":8080", "Listen address")
	serialPort    = flag.String("port", "/dev/ttyUSB0", "Serial port to use (ignored in dev mode)")
	baudRate      = flag.Int("baud", 115200, "Serial baud rate (ignored in dev mode)")
	configPath    = flag.String("config", "", "Path to tuning config JSON (defaults apply when empty)")
	dbFile        = flag.String("db", "sensor_data.db", "SQLite observation log path (empty disables logging)")
	debugLogs     = flag.Bool("debug", false, "Enable per-line debug logging")
	disableSensor = flag.Bool("disable-sensor", false, "Run the server without any sensor input")
)

// fixtureInterval approximates the real sensor module's transmit cadence.
const fixtureInterval = 250 * time.Millisecond

func main() {
	flag.Parse()
	monitoring.SetDebug(*debugLogs)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := &config.TuningConfig{}
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	var mux serialmux.SerialMuxInterface
	switch {
	case *disableSensor:
		mux = serialmux.NewDisabledSerialMux()
	case *devMode:
		fixture, err := os.ReadFile("fixtures.txt")
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		mux = serialmux.NewMockSerialMux(fixture, fixtureInterval)
	default:
		if *serialPort == "" {
			log.Fatal("Serial port is required")
		}
		var err error
		mux, err = serialmux.NewRealSerialMux(*serialPort, serialmux.PortOptions{BaudRate: *baudRate})
		if err != nil {
			log.Fatalf("failed to open serial port %s: %v", *serialPort, err)
		}
	}
	defer mux.Close()

	decoder := telemetry.NewDecoder(cfg.GetMinFields(), cfg.GetPresenceTrueTokens())
	store := fusion.NewStore(decoder, timeutil.RealClock{}, fusion.Params{
		CO2HistorySize:      cfg.GetCO2HistorySize(),
		PresenceHistorySize: cfg.GetPresenceHistorySize(),
		DistanceHistorySize: cfg.GetDistanceHistorySize(),
		RawDistanceWindow:   cfg.GetRawDistanceWindow(),
		DebounceWindow:      cfg.GetDebounceWindow(),
		PresenceTimeout:     cfg.GetPresenceTimeout(),
		ConfidenceThreshold: cfg.GetConfidenceThreshold(),
		MinValidDistance:    cfg.GetMinValidDistance(),
	})

	var database *db.DB
	if *dbFile != "" {
		var err error
		database, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer database.Close()
		store.SetRecorder(database)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := mux.Monitor(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			if errors.Is(err, telemetry.ErrTransportInterrupted) {
				monitoring.Logf("sensor transport interrupted: %v", err)
			} else {
				monitoring.Logf("failed to monitor serial port: %v", err)
			}
			stop()
		}
		monitoring.Logf("monitor routine terminated")
	}()

	// fold telemetry lines into the state store
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := mux.Subscribe()
		defer mux.Unsubscribe(id)
		for {
			select {
			case line, ok := <-c:
				if !ok {
					monitoring.Logf("ingest routine terminated: subscription closed")
					return
				}
				if err := store.Ingest(line); err != nil {
					monitoring.Logf("dropped telemetry line: %v", err)
				}
			case <-ctx.Done():
				monitoring.Logf("ingest routine terminated")
				return
			}
		}
	}()

	// drive the presence inactivity timeout
	wg.Add(1)
	go func() {
		defer wg.Done()
		store.Run(ctx)
		monitoring.Logf("timeout sweeper terminated")
	}()

	// HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()

		httpMux := api.NewServer(store, mux, database, cfg).ServeMux()
		mux.AttachAdminRoutes(httpMux)
		if database != nil {
			database.AttachAdminRoutes(httpMux)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(httpMux),
		}

		go func() {
			monitoring.Logf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		monitoring.Logf("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				monitoring.Logf("HTTP server force close error: %v", err)
			}
		}
		monitoring.Logf("HTTP server routine stopped")
	}()

	wg.Wait()
	monitoring.Logf("graceful shutdown complete")
}
