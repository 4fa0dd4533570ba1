package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mjfcit/SeerrBridge/internal/api"
	"github.com/mjfcit/SeerrBridge/internal/bridge"
	"github.com/mjfcit/SeerrBridge/internal/config"
	"github.com/mjfcit/SeerrBridge/internal/confirm"
	"github.com/mjfcit/SeerrBridge/internal/debrid"
	"github.com/mjfcit/SeerrBridge/internal/ledger"
	"github.com/mjfcit/SeerrBridge/internal/logger"
	"github.com/mjfcit/SeerrBridge/internal/overseerr"
	"github.com/mjfcit/SeerrBridge/internal/scheduler"
	"github.com/mjfcit/SeerrBridge/internal/session"
	"github.com/mjfcit/SeerrBridge/internal/session/dmm"
	"github.com/mjfcit/SeerrBridge/internal/startup"
	"github.com/mjfcit/SeerrBridge/internal/trakt"
)

// version is stamped at build time via ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer log.Close()

	log.Info().
		Str("version", version).
		Str("logLevel", cfg.Logging.Level).
		Msg("SeerrBridge starting")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	api.Version = version

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog := overseerr.NewClient(cfg.Overseerr, log.Logger)
	metadata := trakt.NewClient(cfg.Trakt, log.Logger)

	// The request catalog is the one collaborator the bridge cannot run
	// without; wait for it through boot ordering races.
	probe := startup.DefaultRetryConfig()
	err = startup.WithRetry(ctx, "overseerr reachability", probe, log.Logger, func(ctx context.Context) error {
		_, err := catalog.FetchProcessingRequests(ctx)
		return err
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Request catalog unreachable")
	}

	// The interactive browser driver attaches out of process; until then the
	// snapshot session reports ErrUnavailable and items degrade to "not
	// confirmed, retry later".
	var sess session.Session = dmm.NewSnapshotSession(nil)

	store := ledger.NewStore(cfg.Bridge.LedgerPath, log.Logger)
	engine := confirm.New(sess, confirmPolicy(cfg.Match), log.Logger)
	tokens := debrid.NewTokenManager(cfg.Debrid, sess, log.Logger)

	svc := bridge.NewService(cfg.Bridge, sess, engine, catalog, metadata, store, housekeeper(sess, cfg.Bridge.ListingBaseURL), log.Logger)

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	if cfg.Bridge.EnableSubscriptionTask {
		err = sched.RegisterTask(scheduler.TaskConfig{
			ID:          "repopulate",
			Name:        "Catalog Re-population",
			Description: "Refills the queues from the request catalog and triggers the discrepancy recheck",
			Interval:    cfg.Bridge.RefreshInterval(),
			Func:        svc.Repopulate,
			RunOnStart:  true,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to register re-population task")
		}
	}

	refreshCheck := time.Duration(cfg.Debrid.RefreshCheckMinutes) * time.Minute
	if refreshCheck <= 0 {
		refreshCheck = 10 * time.Minute
	}
	err = sched.RegisterTask(scheduler.TaskConfig{
		ID:          "token-refresh",
		Name:        "Debrid Token Refresh",
		Description: "Renews the Real-Debrid access token before it expires",
		Interval:    refreshCheck,
		Func: func(ctx context.Context) error {
			return svc.LockSession(func() error {
				return tokens.CheckAndRefresh(ctx)
			})
		},
		RunOnStart: true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register token refresh task")
	}

	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	go func() {
		if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Drain loop exited")
		}
	}()

	server := api.NewServer(cfg, svc, sched, log.Logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	if err := sched.Stop(); err != nil {
		log.Error().Err(err).Msg("Scheduler shutdown failed")
	}
	cancel()

	log.Info().Msg("SeerrBridge stopped")
}

// confirmPolicy maps the config knobs onto the engine policy, falling back to
// the defaults for anything unset.
func confirmPolicy(m config.MatchConfig) confirm.Policy {
	p := confirm.DefaultPolicy()
	if m.CachedScanThreshold > 0 {
		p.CachedScanThreshold = m.CachedScanThreshold
	}
	if m.FullScanThreshold > 0 {
		p.FullScanThreshold = m.FullScanThreshold
	}
	if m.YearTolerance > 0 {
		p.YearTolerance = m.YearTolerance
	}
	if m.PollIntervalSeconds > 0 {
		p.PollInterval = time.Duration(m.PollIntervalSeconds) * time.Second
	}
	if m.PollTimeoutSeconds > 0 {
		p.PollTimeout = time.Duration(m.PollTimeoutSeconds) * time.Second
	}
	return p
}

// housekeeper returns the idle-time action: nudging the session's library
// view, which refreshes its cached state. Best effort.
func housekeeper(sess session.Session, baseURL string) bridge.Housekeeper {
	return func(ctx context.Context) error {
		return sess.Open(ctx, baseURL+"/library")
	}
}
