package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/pulse.report/internal/api"
	"github.com/banshee-data/pulse.report/internal/config"
	"github.com/banshee-data/pulse.report/internal/db"
	"github.com/banshee-data/pulse.report/internal/monitoring"
	"github.com/banshee-data/pulse.report/internal/pulse"
	"github.com/banshee-data/pulse.report/internal/sampler"
	"github.com/banshee-data/pulse.report/internal/security"
	"github.com/banshee-data/pulse.report/internal/serialmux"
	"github.com/banshee-data/pulse.report/internal/version"
)

var (
	//go:embed static/*
	staticFiles embed.FS

	devMode       = flag.Bool("dev", false, "Run in dev mode with a simulated sensor")
	listen        = flag.String("listen", ":8080", "Listen address")
	serialPort    = flag.String("serial", "/dev/ttyACM0", "Serial port of the sensor board")
	dbFile        = flag.String("db", "pulse.db", "Path to the SQLite database")
	configPath    = flag.String("config", "", "Path to a tuning config JSON file")
	sessionName   = flag.String("session", "", "Name for the recording session")
	recordSamples = flag.Bool("record-samples", false, "Record every raw sample, not just beats")
	disableSensor = flag.Bool("disable-sensor", false, "Run without a sensor (HTTP and DB only)")
	debug         = flag.Bool("debug", false, "Enable detector trace logging")
)

// loadTuning reads the tuning config from -config if given, otherwise
// returns an empty config whose getters supply the defaults.
func loadTuning() *config.TuningConfig {
	if *configPath == "" {
		return config.EmptyTuningConfig()
	}
	tuning, err := config.LoadTuningConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}
	return tuning
}

// simulatedLineSource renders the synthetic waveform as board sample
// lines at the configured period, for dev mode without hardware.
func simulatedLineSource(tuning *config.TuningConfig) func() string {
	sim := pulse.NewSimulator(time.Now().UnixNano())
	sim.Noise = 0.02

	periodMS := uint32(tuning.GetSamplePeriod() / time.Millisecond)
	maxCounts := (1 << tuning.GetADCBits()) - 1
	vref := tuning.GetADCReference()

	var uptimeMS uint64
	return func() string {
		uptimeMS += uint64(periodMS)
		v := sim.Next(periodMS)
		counts := int(v / vref * float64(maxCounts))
		if counts < 0 {
			counts = 0
		}
		if counts > maxCounts {
			counts = maxCounts
		}
		return fmt.Sprintf("%d,%d", uptimeMS, counts)
	}
}

func main() {
	flag.Parse()

	// "pulse-report migrate <action>" manages the schema and exits.
	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		db.RunMigrateCommand(args[1:], *dbFile)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	monitoring.Logf("pulse.report %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	tuning := loadTuning()

	var m serialmux.SerialMuxInterface
	switch {
	case *disableSensor:
		m = serialmux.NewDisabledSerialMux()
	case *devMode:
		m = serialmux.NewMockSerialMux(simulatedLineSource(tuning), tuning.GetSamplePeriod())
	default:
		var err error
		m, err = serialmux.NewRealSerialMux(*serialPort, serialmux.PortOptions{})
		if err != nil {
			log.Fatalf("failed to open serial port: %v", err)
		}
		if err := m.Initialize(); err != nil {
			log.Fatalf("failed to initialize sensor board: %v", err)
		}
	}
	defer m.Close()

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Session names end up in filenames when sessions are exported, so
	// they get the same sanitisation as any user-provided identifier.
	name := security.SanitizeFilename(*sessionName)
	if *sessionName == "" {
		host, _ := os.Hostname()
		name = security.SanitizeFilename(host)
	}

	smp := sampler.New(sampler.Config{
		Mux:           m,
		DB:            database,
		Threshold:     tuning.GetThreshold(),
		ADCBits:       tuning.GetADCBits(),
		ADCReference:  tuning.GetADCReference(),
		SessionName:   name,
		RecordSamples: *recordSamples,
		Debug:         *debug,
	})

	// Create a wait group for the HTTP server, serial monitor, and sampler routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// run the sampler, which subscribes to the serial line stream and
	// drives the beat detector
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := smp.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("sampler terminated: %v", err)
		}
		log.Print("sampler routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		database.AttachAdminRoutes(mux)
		m.AttachAdminRoutes(mux)

		// mount the API handlers
		apiMux := api.NewServer(m, database, smp, tuning.GetRateUnits()).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		// read static files from the embedded filesystem in production or from
		// the local ./static in dev for easier iteration without restarting the
		// server
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.FileServer(http.Dir("./static"))
		} else {
			staticHandler = http.FileServer(http.FS(staticFiles))
		}
		mux.Handle("/", staticHandler)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			monitoring.Logf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
