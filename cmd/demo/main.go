// Command demo hosts a small crosswire runtime: a plain journal module, an
// async hub with a slave reporter, and an HTTP gateway that feeds records
// into the bus. Post a record and watch it travel:
//
//	go run ./cmd/demo
//	curl -X POST localhost:8085/records -d 'hello'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/crosswirehq/crosswire"
	"github.com/crosswirehq/crosswire/feeders"
)

// API-point ids shared by every module in the demo.
const (
	apiRecord = 1 // string: a free-text record
	apiStats  = 2 // int: number of records stored so far
)

// journalModule is a plain module storing records; its slot runs on
// whichever goroutine emits.
type journalModule struct {
	crosswire.ModuleBase

	mu      sync.Mutex
	records []string

	statsSig crosswire.Signal[int]
}

func (m *journalModule) Emitters() []crosswire.EmitterBinding {
	return []crosswire.EmitterBinding{{ID: apiStats, Signal: &m.statsSig}}
}

func (m *journalModule) Detectors() []crosswire.DetectorBinding {
	return []crosswire.DetectorBinding{{ID: apiRecord, Slot: m.onRecord}}
}

func (m *journalModule) onRecord(text string) {
	m.mu.Lock()
	m.records = append(m.records, text)
	n := len(m.records)
	m.mu.Unlock()

	m.LogInfo(fmt.Sprintf("journaled record %d", n))
	m.statsSig.Emit(n)
}

func (m *journalModule) OnFinish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LogInfo(fmt.Sprintf("shutting down with %d records", len(m.records)))
	return nil
}

// hubModule is the async heart of the demo. It owns the reporter slave
// and a periodic cron heartbeat.
type hubModule struct {
	crosswire.AsyncBase

	heartbeat *crosswire.CronTimer
}

func (m *hubModule) OnStart(s *crosswire.Settings) error {
	interval, err := s.GetString("hub.heartbeat")
	if err != nil {
		interval = "@every 30s"
	}

	m.heartbeat, err = m.Dispatcher().AcquireCronTimer(interval, m, func() {
		m.LogDebug("heartbeat")
	})
	if err != nil {
		return fmt.Errorf("schedule heartbeat: %w", err)
	}
	return nil
}

func (m *hubModule) OnFinish() error {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
	}
	return nil
}

// reporterModule is a slave of the hub: its slots always execute on the
// hub's goroutine, so no locking is needed.
type reporterModule struct {
	crosswire.SlaveBase

	last int
}

func (m *reporterModule) Detectors() []crosswire.DetectorBinding {
	return []crosswire.DetectorBinding{{ID: apiStats, Slot: m.onStats}}
}

func (m *reporterModule) onStats(count int) {
	m.last = count
	m.LogInfo(fmt.Sprintf("journal now holds %d records", count))
}

// gatewayModule is an async module with its own run loop integrating a
// chi HTTP server alongside the mailbox.
type gatewayModule struct {
	crosswire.AsyncBase

	listen    string
	server    *http.Server
	recordSig crosswire.Signal[string]
}

func (m *gatewayModule) Emitters() []crosswire.EmitterBinding {
	return []crosswire.EmitterBinding{{ID: apiRecord, Signal: &m.recordSig}}
}

func (m *gatewayModule) OnStart(s *crosswire.Settings) error {
	listen, err := s.GetString("gateway.listen")
	if err != nil {
		listen = ":8085"
	}
	m.listen = listen

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Post("/records", m.handleRecord)

	m.server = &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

func (m *gatewayModule) handleRecord(w http.ResponseWriter, r *http.Request) {
	body := make([]byte, 4096)
	n, _ := r.Body.Read(body)
	if n == 0 {
		http.Error(w, "empty record", http.StatusBadRequest)
		return
	}
	m.recordSig.Emit(string(body[:n]))
	w.WriteHeader(http.StatusAccepted)
}

// Run serves HTTP on a helper goroutine while draining the mailbox here,
// then shuts the server down once quit is requested.
func (m *gatewayModule) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		if err := m.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	m.LogInfo("gateway listening on " + m.listen)

	for !m.IsQuit() {
		select {
		case err := <-serveErr:
			m.LogError("gateway server failed: " + err.Error())
			m.Quit()
		default:
		}
		m.CallbackQueue().WaitFor(100 * time.Millisecond)
		m.ProcessEvents()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}

func main() {
	settingsPath := flag.String("settings", "", "path to a YAML settings file")
	flag.Parse()

	logger := crosswire.NewZerologLoggerFrom(
		zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger(),
	)

	settings := crosswire.NewSettings()
	bagFeeders := []crosswire.Feeder{feeders.NewEnvFeeder("DEMO_")}
	if *settingsPath != "" {
		bagFeeders = append([]crosswire.Feeder{feeders.NewYamlFeeder(*settingsPath)}, bagFeeders...)
	}
	if err := settings.Feed(bagFeeders...); err != nil {
		logger.Error("failed to load settings", "error", err)
		os.Exit(1)
	}

	api := []crosswire.APIPoint{
		crosswire.NewAPIPoint[string](apiRecord, "free-text records"),
		crosswire.NewAPIPoint[int](apiStats, "journal size updates"),
	}

	d := crosswire.NewDispatcher(api, settings, logger)

	// Print the core lifecycle as it happens.
	_ = d.RegisterObserver(crosswire.NewFunctionalObserver("lifecycle-log",
		func(_ context.Context, event cloudevents.Event) error {
			logger.Debug("lifecycle event", "type", event.Type())
			return nil
		}))

	if err := register(d); err != nil {
		os.Exit(1)
	}

	if *settingsPath != "" {
		if _, err := d.WatchSettings(settings, *settingsPath, feeders.NewYamlFeeder(*settingsPath)); err != nil {
			logger.Warn("settings watching disabled", "error", err)
		}
	}

	// Translate OS quit signals into a dispatcher quit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		<-sigCh
		d.Quit()
	}()

	if err := d.Exec(); err != nil {
		os.Exit(1)
	}
}

func register(d *crosswire.Dispatcher) error {
	if err := d.RegisterModule("journal", "", &journalModule{}); err != nil {
		return err
	}
	if err := d.RegisterModule("hub", "", &hubModule{}); err != nil {
		return err
	}
	if err := d.RegisterModule("reporter", "hub", &reporterModule{}); err != nil {
		return err
	}
	if err := d.RegisterModule("gateway", "", &gatewayModule{}); err != nil {
		return err
	}
	return nil
}
