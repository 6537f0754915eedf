package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/amp-labs/denguebot/config"
	"github.com/amp-labs/denguebot/conversation"
	"github.com/amp-labs/denguebot/denguebot"
	"github.com/amp-labs/denguebot/geo"
	"github.com/amp-labs/denguebot/guards"
	"github.com/amp-labs/denguebot/logger"
	"github.com/amp-labs/denguebot/messaging"
	"github.com/amp-labs/denguebot/records"
	"github.com/amp-labs/denguebot/session"
	"github.com/amp-labs/denguebot/sqlitedb"
	"github.com/amp-labs/denguebot/statemachine"
	"github.com/amp-labs/denguebot/statemachine/visualizer"
	"github.com/amp-labs/denguebot/webhook"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// app is the wired service: storage, collaborators, the conversation
// pipeline and its HTTP surface.
type app struct {
	cfg      config.Config
	db       *sql.DB
	redis    *redis.Client
	service  *conversation.Service
	sources  conversation.Sources
	server   *webhook.Server
	sessions *session.Manager
}

func openDatabase(ctx context.Context, path string, busyTimeout time.Duration) (*sql.DB, error) {
	cfg := sqlitedb.DefaultConfig(path)
	if busyTimeout > 0 {
		cfg.BusyTimeout = busyTimeout
	}

	db, err := sqlitedb.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := sqlitedb.Migrate(ctx, db, slices.Concat(records.Migrations, geo.Migrations)...); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func tracedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func newApp(ctx context.Context, cfg config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}

	defer func() {
		if err != nil {
			err = errors.Join(err, a.close())
		}
	}()

	if a.db, err = openDatabase(ctx, cfg.Storage.DatabasePath, cfg.Storage.BusyTimeout); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	if a.sessions, err = a.newSessions(ctx); err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}

	store := records.NewSQLiteStore(a.db)

	var geocoder geo.Geocoder

	if cfg.Google.APIKey != "" {
		geocoder = geo.NewGoogleGeocoder(cfg.Google.APIKey,
			geo.WithRegion(cfg.Google.Region),
			geo.WithHTTPClient(tracedClient(cfg.Google.Timeout)))
	} else {
		logger.Get(ctx).WarnContext(ctx, "GOOGLE_API_KEY is not set, addresses will not be recognised")
	}

	deps := denguebot.MachineDeps{
		Dependencies: denguebot.Dependencies{
			Client: messaging.NewLINEClient(cfg.LINE.AccessToken,
				messaging.WithEndpoint(cfg.LINE.Endpoint),
				messaging.WithHTTPClient(tracedClient(cfg.LINE.Timeout))),
			Store:      store,
			Facilities: geo.NewFacilityStore(a.db),
		},
		GuardOptions: guards.Options{
			Geocoder:       geocoder,
			GeocodeTimeout: cfg.Google.Timeout,
		},
		Options: []statemachine.Option{
			statemachine.WithMaxHops(cfg.Machine.MaxHops),
			statemachine.WithActionTimeout(cfg.Machine.ActionTimeout),
		},
	}

	a.sources = conversation.Sources{
		FSM:        cfg.Machine.FSMPath,
		Conditions: cfg.Machine.ConditionsPath,
		Replies:    cfg.Machine.RepliesPath,
	}

	loader := conversation.NewLoader(a.sources, deps)

	machine, err := loader.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("state machine: %w", err)
	}

	a.service = conversation.NewService(statemachine.NewHolder(machine), a.sessions, store,
		conversation.WithLoader(loader),
		conversation.WithEventTimeout(cfg.Webhook.EventTimeout))

	a.server, err = webhook.New(webhook.Config{
		ChannelSecret: cfg.LINE.ChannelSecret,
		AdminToken:    cfg.HTTP.AdminToken,
		Async:         cfg.Webhook.Async,
		Workers:       cfg.Webhook.Workers,
		QueueSize:     cfg.Webhook.QueueSize,
		RateLimit:     cfg.Webhook.RateLimit,
		RateWindow:    cfg.Webhook.RateWindow,
		MaxBodyBytes:  cfg.Webhook.MaxBodyBytes,
		ServiceName:   appName,
		Graphviz:      visualizer.GraphvizRenderer{DotPath: cfg.Machine.DotPath},
	}, a.service, store)
	if err != nil {
		return nil, err
	}

	logger.Get(ctx).InfoContext(ctx, "Service ready",
		"fsm", machine.Table().Config().Name,
		"states", len(machine.Table().States()),
		"redis", a.redis != nil)

	return a, nil
}

func (a *app) newSessions(ctx context.Context) (*session.Manager, error) {
	storage := a.cfg.Storage

	if storage.RedisURL == "" {
		return session.NewManager(session.NewMemoryBackend(storage.SessionTTL), statemachine.DefaultInitialState), nil
	}

	client, err := session.Connect(ctx, session.ConnectConfig{URL: storage.RedisURL})
	if err != nil {
		return nil, err
	}

	a.redis = client

	backend := session.NewRedisBackend(client,
		session.WithKeyPrefix(storage.RedisKeyPrefix),
		session.WithSessionTTL(storage.SessionTTL),
		session.WithLockTTL(storage.LockTTL))

	return session.NewManager(backend, statemachine.DefaultInitialState), nil
}

func (a *app) close() error {
	var errs []error

	if a.server != nil {
		a.server.Close()
	}

	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}

	if a.db != nil {
		errs = append(errs, a.db.Close())
	}

	return errors.Join(errs...)
}
