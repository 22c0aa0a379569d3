package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/Mindburn-Labs/reportdesk/pkg/api"
	"github.com/Mindburn-Labs/reportdesk/pkg/artifacts"
	"github.com/Mindburn-Labs/reportdesk/pkg/billing"
	"github.com/Mindburn-Labs/reportdesk/pkg/config"
	"github.com/Mindburn-Labs/reportdesk/pkg/evidence"
	"github.com/Mindburn-Labs/reportdesk/pkg/factory"
	"github.com/Mindburn-Labs/reportdesk/pkg/lock"
	"github.com/Mindburn-Labs/reportdesk/pkg/observability"
	"github.com/Mindburn-Labs/reportdesk/pkg/release"
	"github.com/Mindburn-Labs/reportdesk/pkg/rules"
	"github.com/Mindburn-Labs/reportdesk/pkg/snapshot"
	"github.com/Mindburn-Labs/reportdesk/pkg/store"
	"github.com/Mindburn-Labs/reportdesk/pkg/workorder"
)

// subsystems holds everything the server wires together.
type subsystems struct {
	store   *store.SQLStore
	ledger  billing.Control
	locker  lock.Locker
	blobs   artifacts.Store
	obs     *observability.Provider
	limiter *api.RateLimiter
	handler http.Handler

	closers []func(context.Context) error
}

// openStore connects to the configured database and applies migrations.
func openStore(ctx context.Context, cfg *config.Config) (*store.SQLStore, error) {
	dialect, err := store.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	if dialect == store.SQLite {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	n, err := st.Migrate(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	slog.Info("store ready", "dialect", dialect, "migrations_applied", n, "features", st.Features())
	return st, nil
}

// openLedger uses the Postgres ledger next to a Postgres store. Lite mode keeps
// billing in memory.
func openLedger(ctx context.Context, cfg *config.Config, st *store.SQLStore) (billing.Control, error) {
	if cfg.LiteMode {
		slog.Warn("lite mode: billing ledger is in memory and resets on restart")
		return billing.NewMemoryLedger(), nil
	}
	l := billing.NewPostgresLedger(st.DB())
	if err := l.Init(ctx); err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	return l, nil
}

func buildSubsystems(ctx context.Context, cfg *config.Config) (_ *subsystems, err error) {
	s := &subsystems{}
	defer func() {
		if err != nil {
			_ = s.close(context.Background())
		}
	}()

	s.obs, err = observability.New(ctx, &observability.Config{
		ServiceName:    "reportdesk",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRate:     cfg.OTelSampleRate,
		BatchTimeout:   observability.DefaultConfig().BatchTimeout,
		Enabled:        cfg.OTelEnabled,
		Insecure:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	s.closers = append(s.closers, s.obs.Shutdown)

	if s.store, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func(context.Context) error { return s.store.Close() })

	if s.ledger, err = openLedger(ctx, cfg, s.store); err != nil {
		return nil, err
	}

	if cfg.RedisAddr != "" {
		rl := lock.NewRedisLockerFromAddr(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		s.closers = append(s.closers, func(context.Context) error { return rl.Close() })
		s.locker = rl
		slog.Info("locker: redis", "addr", cfg.RedisAddr)
	} else {
		s.locker = lock.NewLocalLocker()
		slog.Info("locker: in-process")
	}

	if s.blobs, err = artifacts.NewStore(ctx, cfg.Artifacts); err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	reg, err := catalog.Registry()
	if err != nil {
		return nil, err
	}
	engine, err := rules.NewCELEngine(reg)
	if err != nil {
		return nil, err
	}
	profiles, err := catalog.Resolver()
	if err != nil {
		return nil, err
	}

	ev := evidence.NewService(s.store, s.locker,
		evidence.WithProfiles(profiles),
		evidence.WithObservability(s.obs),
	)
	snapOpts := []snapshot.Option{
		snapshot.WithDocumentLookup(evidence.BlobLookup{Blobs: s.blobs}),
		snapshot.WithObservability(s.obs),
	}
	if cfg.RulesetVersion != "" {
		snapOpts = append(snapOpts, snapshot.WithRulesetVersion(cfg.RulesetVersion))
	}
	snaps := snapshot.NewService(s.store, s.locker, engine, ev, snapOpts...)
	fs := factory.NewService(s.store, s.locker, snaps, s.blobs, factory.WithObservability(s.obs))

	s.limiter = api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	s.closers = append(s.closers, func(context.Context) error { s.limiter.Close(); return nil })

	db := s.store.DB()
	s.handler = api.NewRouter(api.Deps{
		WorkOrders:  workorder.NewService(s.store, s.locker, s.ledger, ev, snaps, workorder.WithObservability(s.obs)),
		Snapshots:   snaps,
		Evidence:    ev,
		Factory:     fs,
		Release:     release.NewService(s.store, s.locker, s.ledger, fs, release.WithObservability(s.obs)),
		Auth:        api.NewAuthenticator([]byte(cfg.JWTSecret)),
		RateLimiter: s.limiter,
		Obs:         s.obs,
		Health:      db.PingContext,
	})
	return s, nil
}

// close runs closers in reverse order.
func (s *subsystems) close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
