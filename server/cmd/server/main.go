package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/pitwall/pitwall/server/internal/alerts"
	"github.com/pitwall/pitwall/server/internal/api"
	"github.com/pitwall/pitwall/server/internal/backtest"
	"github.com/pitwall/pitwall/server/internal/config"
	"github.com/pitwall/pitwall/server/internal/degradation"
	"github.com/pitwall/pitwall/server/internal/metrics"
	"github.com/pitwall/pitwall/server/internal/montecarlo"
	"github.com/pitwall/pitwall/server/internal/receiver"
	"github.com/pitwall/pitwall/server/internal/session"
	"github.com/pitwall/pitwall/server/internal/state"
	"github.com/pitwall/pitwall/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	logLevel := flag.String("log-level", "info", "debug | info | warn | error")
	replayPath := flag.String("replay", "", "JSON-lines telemetry recording; overrides session.replay_path")
	uiDir := flag.String("ui-dir", "", "serve dashboard static files from this directory; leave empty to disable")
	flag.Parse()

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(*configPath, *replayPath, *uiDir); err != nil {
		slog.Error("pitwall stopped", "err", err)
		os.Exit(1)
	}
}

func run(configPath, replayPath, uiDir string) error {
	slog.Info("pitwall starting", "config", configPath)

	base, err := config.Load(configPath)
	if err != nil {
		return err
	}
	trackID := base.Session.TrackID
	cfg, err := base.ForTrack(trackID)
	if err != nil {
		return err
	}
	if replayPath == "" {
		replayPath = cfg.Session.ReplayPath
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"session_key", cfg.Session.SessionKey,
		"track_id", trackID,
		"total_laps", cfg.Session.TotalLaps,
		"pit_loss", cfg.Strategy.PitLoss,
		"simulations", cfg.MonteCarlo.Simulations,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := metrics.New()

	history := 0
	if cfg.Session.History {
		history = state.DefaultHistory
	}
	initial := state.New(cfg.Session.SessionKey, cfg.Session.TotalLaps)
	initial.SessionName = cfg.Session.SessionName
	initial.TrackID = trackID
	st := state.NewStore(initial, state.WithHistory(history), state.WithDropHook(reg.SubscriberDrops.Inc))
	defer st.Close()

	priors, err := cfg.Priors()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	models := degradation.NewManager(cfg.ModelConfig(), priors)

	hooks := montecarlo.Hooks{
		OnTrials:   func(n int) { reg.MonteCarloTrials.Add(uint64(n)) },
		OnFallback: func(error) { reg.MonteCarloFallback.Inc() },
	}
	tuning := func(c *config.Config) session.Tuning {
		return session.Tuning{
			Strategy:  c.Tuning(),
			Simulator: montecarlo.New(c.SimulatorConfig(), c.PhysicsModel(), hooks),
		}
	}

	src, ingest, err := openSource(replayPath, cfg, reg)
	if err != nil {
		return err
	}
	defer src.Close()

	runner := session.NewRunner(session.Config{
		LapInterval:  cfg.Session.LapInterval,
		Speed:        cfg.Session.Speed,
		FocusDriver:  cfg.Session.FocusDriver,
		OutlierSigma: cfg.Degradation.OutlierSigma,
		Traffic:      cfg.TrafficModel(),
	}, src, st, models, reg, tuning(cfg))

	recorder := backtest.NewRecorder()
	runner.Observe(recorder)

	alertEngine := alerts.New(cfg.Alerts)
	detach := alertEngine.Attach(st)
	defer detach()

	hub := ws.New(st, cfg.Server.BroadcastInterval, &reg.WSClients)

	deps := api.Deps{Runner: runner, Alerts: alertEngine, Player: runner, Backtest: recorder}
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           routes(st, deps, reg, hub, uiDir),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcSrv *grpc.Server
	if ingest != nil {
		grpcSrv = grpc.NewServer(grpc.ChainStreamInterceptor(
			receiver.StreamLogging(),
			receiver.StreamAPIKey(receiver.APIKeyHeader, cfg.Server.GRPCKey()),
		))
		receiver.Register(grpcSrv, ingest)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := runner.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		slog.Info("session finished", "run_id", runner.RunID(), "lap", st.Get().CurrentLap)
		if gctx.Err() == nil {
			return finishReport(recorder.Report(), cfg.Session.ReportPath)
		}
		return nil
	})

	g.Go(func() error {
		return config.NewWatcher(configPath, trackID, cfg, func(next *config.Config) {
			runner.SetTuning(tuning(next))
		}).Run(gctx)
	})

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcSrv != nil {
		g.Go(func() error {
			lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
			if err != nil {
				return fmt.Errorf("grpc listen: %w", err)
			}
			slog.Info("gRPC ingest listening", "port", cfg.Server.GRPCPort, "service", receiver.ServiceName)
			if err := grpcSrv.Serve(lis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("pitwall shutting down")
		if grpcSrv != nil {
			// Blocked streams return Unavailable once the receiver is closed.
			ingest.Close()
			grpcSrv.GracefulStop()
		}
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return httpSrv.Shutdown(sctx)
	})

	return g.Wait()
}

type source interface {
	session.Source
	io.Closer
}

// openSource returns the replay when a path is given and otherwise the gRPC
// receiver, which is also returned as ingest.
func openSource(replayPath string, cfg *config.Config, reg *metrics.Registry) (source, *receiver.Receiver, error) {
	if replayPath != "" {
		r, err := session.NewReplay(replayPath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("telemetry source: replay", "path", replayPath)
		return r, nil, nil
	}
	if cfg.Server.GRPCPort == 0 {
		return nil, nil, errors.New("no telemetry source: set session.replay_path, -replay or server.grpc_port")
	}
	ingest := receiver.New(cfg.Session.SessionKey, receiver.DefaultBuffer, reg)
	slog.Info("telemetry source: gRPC ingest", "port", cfg.Server.GRPCPort, "session_key", cfg.Session.SessionKey)
	return ingest, ingest, nil
}

// routes mounts the API, the scrape endpoint, the WebSocket hub and, when
// uiDir is set, the dashboard.
func routes(st *state.Store, deps api.Deps, reg *metrics.Registry, hub http.Handler, uiDir string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/", api.New(st, deps))
	mux.Handle("/metrics", reg.Handler())
	mux.Handle("/ws", hub)
	if uiDir != "" {
		mux.Handle("/", spa(uiDir))
		slog.Info("serving UI static files", "dir", uiDir)
	}
	return mux
}

// finishReport logs the backtest summary and writes it to path if set.
func finishReport(rep backtest.Report, path string) error {
	slog.Info("backtest",
		"decisions", rep.TotalDecisions,
		"scored", rep.ScoredDecisions,
		"accuracy", rep.Accuracy,
		"avg_pit_timing_error", rep.AvgPitTimingError,
		"position_gain", rep.TotalPositionGain,
	)
	if path == "" {
		return nil
	}
	if err := backtest.WriteFile(path, rep); err != nil {
		return err
	}
	slog.Info("backtest report written", "path", path)
	return nil
}

// spa serves files from dir, falling back to index.html for unknown paths.
func spa(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := dir + r.URL.Path
		if _, err := os.Stat(path); os.IsNotExist(err) {
			http.ServeFile(w, r, dir+"/index.html")
			return
		}
		fs.ServeHTTP(w, r)
	})
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q: want debug|info|warn|error", s)
	}
}
