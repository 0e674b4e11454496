// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-quickauth.
//
// go-quickauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jeremyhahn/go-quickauth/internal/config"
	"github.com/jeremyhahn/go-quickauth/internal/password"
	"github.com/jeremyhahn/go-quickauth/pkg/account"
	"github.com/jeremyhahn/go-quickauth/pkg/auth"
	"github.com/jeremyhahn/go-quickauth/pkg/challenge"
	"github.com/jeremyhahn/go-quickauth/pkg/clock"
	"github.com/jeremyhahn/go-quickauth/pkg/crypto/rand"
	"github.com/jeremyhahn/go-quickauth/pkg/health"
	"github.com/jeremyhahn/go-quickauth/pkg/incident"
	"github.com/jeremyhahn/go-quickauth/pkg/metrics"
	"github.com/jeremyhahn/go-quickauth/pkg/ratelimit"
	"github.com/jeremyhahn/go-quickauth/pkg/session"
	"github.com/jeremyhahn/go-quickauth/pkg/storage"
	"github.com/jeremyhahn/go-quickauth/pkg/storage/file"
	"github.com/jeremyhahn/go-quickauth/pkg/store/postgres"
	"github.com/jeremyhahn/go-quickauth/pkg/trust"
	"github.com/jeremyhahn/go-quickauth/pkg/webauthn"
)

// Components is the wired authentication core shared by the HTTP server
// and the CLI.
type Components struct {
	Service     *auth.Service
	Accounts    account.AccountRepository
	Credentials account.CredentialRepository
	Limiter     *ratelimit.Limiter
	Health      *health.Checker

	// Postgres is set when the postgres storage backend is configured.
	Postgres *postgres.Store

	// Probes feed gauges that the resource collector refreshes.
	Probes []metrics.Probe

	closers []func() error
}

// NewComponents connects the configured backends and builds the service.
// On error every backend opened so far is closed.
func NewComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (c *Components, err error) {
	c = &Components{Health: health.NewChecker()}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	clk := clock.System{}
	random := rand.NewSoftware()

	if err := c.initializeStorage(ctx, cfg, clk); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var redisClient redis.UniversalClient
	if cfg.Challenge.Backend == config.BackendRedis || cfg.RateLimit.Backend == config.BackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, client.Close)
		c.Health.RegisterPing("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })
		redisClient = client
	}

	challenges, err := newChallengeStore(cfg, redisClient, clk, random)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize challenge store: %w", err)
	}
	if mem, ok := challenges.(*challenge.MemoryStore); ok {
		c.Probes = append(c.Probes, metrics.ChallengeProbe(mem.Len))
	}

	events, err := c.newEventStore(cfg, redisClient)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limit store: %w", err)
	}
	c.Limiter = ratelimit.New(events,
		ratelimit.WithClock(clk),
		ratelimit.WithLogger(logger),
		ratelimit.WithStoreTimeout(cfg.RateLimit.StoreTimeout))

	sink, err := c.newIncidentSink(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize incident sink: %w", err)
	}

	hasher, err := password.NewArgon2id(cfg.Password, random)
	if err != nil {
		return nil, err
	}
	machine, err := trust.New(c.Accounts, c.Credentials, hasher,
		trust.WithClock(clk),
		trust.WithLogger(logger),
		trust.WithIncidentSink(sink),
		trust.WithStoreTimeout(cfg.Storage.Timeout))
	if err != nil {
		return nil, err
	}
	verifier, err := webauthn.NewVerifier(&cfg.WebAuthn)
	if err != nil {
		return nil, err
	}
	issuer, err := session.NewIssuer(cfg.Session.Config, clk)
	if err != nil {
		return nil, err
	}

	c.Service, err = auth.NewService(auth.Config{
		Accounts:      c.Accounts,
		Credentials:   c.Credentials,
		Challenges:    challenges,
		RelyingParty:  &cfg.WebAuthn,
		Verifier:      verifier,
		Limiter:       c.Limiter,
		Policies:      cfg.RateLimit.Policies,
		Machine:       machine,
		Hasher:        hasher,
		Sessions:      issuer,
		Random:        random,
		Incidents:     sink,
		Clock:         clk,
		Logger:        logger,
		RememberTTL:   cfg.Session.RememberTTL,
		BlockDuration: cfg.RateLimit.BlockDuration,
		StoreTimeout:  cfg.Storage.Timeout,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("authentication core initialized",
		slog.String("storage", cfg.Storage.Backend),
		slog.String("challenges", cfg.Challenge.Backend),
		slog.String("ratelimit", cfg.RateLimit.Backend),
		slog.String("incidents", cfg.Incidents.Sink))
	return c, nil
}

func (c *Components) initializeStorage(ctx context.Context, cfg *config.Config, clk clock.Clock) error {
	var backend storage.Backend
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		backend = storage.NewMemory()
	case config.BackendFile:
		fs, err := file.New(cfg.Storage.Path)
		if err != nil {
			return err
		}
		backend = fs
	case config.BackendPostgres:
		pool, err := postgres.Open(ctx, cfg.Storage.Postgres.DSN, cfg.Storage.Postgres.Pool)
		if err != nil {
			return err
		}
		if cfg.Storage.Postgres.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return err
			}
		}
		store, err := postgres.New(pool, postgres.WithClock(clk))
		if err != nil {
			pool.Close()
			return err
		}
		c.closers = append(c.closers, func() error { store.Close(); return nil })
		c.Health.RegisterPing("postgres", store.Ping)
		c.Postgres = store
		c.Accounts = store
		c.Credentials = store
		return nil
	default:
		return fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}

	kv, err := account.NewKVStore(backend, account.WithClock(clk))
	if err != nil {
		return err
	}
	c.closers = append(c.closers, kv.Close)
	c.Accounts = kv
	c.Credentials = kv
	return nil
}

func newChallengeStore(cfg *config.Config, client redis.UniversalClient, clk clock.Clock, random rand.Source) (challenge.Store, error) {
	opts := []challenge.Option{
		challenge.WithTTL(cfg.Challenge.TTL),
		challenge.WithClock(clk),
		challenge.WithRandom(random),
	}
	if cfg.Challenge.Backend == config.BackendRedis {
		return challenge.NewRedisStore(client, cfg.Challenge.Prefix, opts...)
	}
	return challenge.NewMemoryStore(opts...), nil
}

func (c *Components) newEventStore(cfg *config.Config, client redis.UniversalClient) (ratelimit.EventStore, error) {
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		return ratelimit.NewRedisStore(client, cfg.RateLimit.Prefix)
	case config.BackendPostgres:
		if c.Postgres == nil {
			return nil, errors.New("postgres rate limit store requires postgres storage")
		}
		return c.Postgres, nil
	default:
		return ratelimit.NewMemoryStore(), nil
	}
}

func (c *Components) newIncidentSink(cfg *config.Config, logger *slog.Logger) (incident.Sink, error) {
	logSink := incident.NewLogSink(logger)
	if cfg.Incidents.Sink != config.SinkAMQP {
		return logSink, nil
	}
	amqpSink, err := incident.DialAMQP(cfg.Incidents.AMQP.URL, cfg.Incidents.AMQP.Exchange)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, amqpSink.Close)
	return incident.MultiSink{logSink, amqpSink}, nil
}

// PurgeRateLimitEvents deletes sliding-window events older than maxAge and
// expired blocks. Only the postgres store keeps history that needs purging;
// the memory and redis stores prune on write.
func (c *Components) PurgeRateLimitEvents(ctx context.Context, maxAge time.Duration) (int64, error) {
	if c.Postgres == nil {
		return 0, nil
	}
	now := time.Now()
	return c.Postgres.PurgeExpired(ctx, now.Add(-maxAge), now)
}

// Close releases every backend in reverse order of opening.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
