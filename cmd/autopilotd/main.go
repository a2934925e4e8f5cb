package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"gridpilot.ai/internal/nav/autopilot"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/persistence/indexdb"
	persistlog "gridpilot.ai/internal/persistence/log"
	"gridpilot.ai/internal/sim/simworld"
	"gridpilot.ai/internal/sim/tuning"
	"gridpilot.ai/internal/transport/ws"
)

//go:embed scenario.yaml
var defaultScenario []byte

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		tuningPath   = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (defaults are used when missing)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite event index (the journal is always written)")
		logLevel     = flag.String("log_level", "info", "debug, info, warn or error")
		scenarioPath = flag.String("scenario", "", "world scenario yaml (default: built-in scenario)")
	)
	flag.Parse()

	logger := log.NewWithOptions(os.Stdout, log.Options{Prefix: "autopilotd", ReportTimestamp: true})
	if lvl, err := log.ParseLevel(strings.TrimSpace(*logLevel)); err != nil {
		logger.Fatalf("bad -log_level %q: %v", *logLevel, err)
	} else {
		logger.SetLevel(lvl)
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Info("tuning not found; using defaults", "path", *tuningPath)
		tune = tuning.Defaults()
	}

	scen, err := loadScenario(*scenarioPath)
	if err != nil {
		logger.Fatalf("load scenario: %v", err)
	}
	w := simworld.New(logger)
	scen.Build(w)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	journal := persistlog.NewJournal(*dataDir, logger, func(ev navigator.Event) string {
		if g, ok := w.Grid(ev.Ship); ok {
			return g.Name
		}
		return ""
	})
	defer journal.Close()

	// Optional read model. The journal stays authoritative.
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "events.sqlite"), logger)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Warn("index: upsert tuning", "err", err)
		}
	}

	cfg := autopilot.Config{Tuning: tune, Log: logger, Sink: journal}
	var events ws.EventStore
	if idx != nil {
		cfg.Sink = navigator.Tee{journal, idx}
		cfg.DroppedWrites = idx.Dropped
		events = idx
	}
	fleet := autopilot.NewFleet(w, cfg)
	for _, name := range scen.Controlled() {
		g, _ := w.GridByName(name)
		if _, err := fleet.Add(g); err != nil {
			logger.Fatalf("autopilot %q: %v", name, err)
		}
	}
	logger.Info("world ready", "grids", len(w.Grids()), "ships", len(scen.Controlled()), "tick_rate_hz", tune.TickRateHz)

	mux := newMux(hostDeps{
		Fleet:   fleet,
		Index:   idx,
		Journal: journal,
		WS:      ws.NewServer(fleet, events, logger).Handler(),
	})
	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := fleet.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})

	if err := g.Wait(); err != nil {
		logger.Error("stopped", "err", err)
	}
	if idx != nil {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		if err := idx.Flush(ctx2); err != nil {
			logger.Warn("index flush", "err", err)
		}
		cancel2()
	}
	logger.Info("shutdown complete", "tick", w.Tick(), "journal", journal.Path())
}

func loadScenario(path string) (simworld.Scenario, error) {
	if strings.TrimSpace(path) == "" {
		return simworld.ParseScenario(defaultScenario)
	}
	return simworld.LoadScenario(path)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
