package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/hashstyles/hashstyles/internal/addressbook"
	"github.com/hashstyles/hashstyles/internal/blob"
	"github.com/hashstyles/hashstyles/internal/catalog"
	"github.com/hashstyles/hashstyles/internal/checkout"
	"github.com/hashstyles/hashstyles/internal/config"
	"github.com/hashstyles/hashstyles/internal/docstore"
	"github.com/hashstyles/hashstyles/internal/events"
	h "github.com/hashstyles/hashstyles/internal/http"
	"github.com/hashstyles/hashstyles/internal/identity"
	"github.com/hashstyles/hashstyles/internal/logger"
	"github.com/hashstyles/hashstyles/internal/metrics"
	"github.com/hashstyles/hashstyles/internal/orders"
	"github.com/hashstyles/hashstyles/internal/sequencer"
	"github.com/hashstyles/hashstyles/internal/slot"
	"github.com/hashstyles/hashstyles/internal/workspace"
)

// documentCollections are the leaf collections of the document store.
var documentCollections = []string{"addresses", "cart", "wishlist", "orders", "order_counters"}

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   docstore.Store
	mongo   *docstore.MongoStore
	redis   *redis.Client
	seq     sequencer.Sequencer
	pgSeq   *sequencer.PostgresSequencer
	catalog *catalog.SQLiteCatalog
	gcs     *blob.GCSStore
	events  events.Publisher
	// consumer is nil when no brokers are configured
	consumer *events.Consumer
	handler  *h.Handler

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{
		cfg:    cfg,
		logger: logger.New(logger.Options{Level: cfg.LogLevel, Service: "storefront"}),
	}
	slog.SetDefault(a.logger)
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	policy := docstore.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Store.MaxTxRetries

	switch cfg.Store.Backend {
	case "mongo":
		db, err := docstore.ConnectMongoDB(ctx, cfg.Store.MongoURI, cfg.Store.MongoDB)
		if err != nil {
			return nil, err
		}
		a.mongo = docstore.NewMongoStore(db, policy)
		a.store = a.mongo
	default:
		a.store = docstore.NewMemoryStore(docstore.WithRetryPolicy(policy))
	}
	a.closers = append(a.closers, func() error { return a.store.Close(context.Background()) })

	if cfg.Sequencer.Backend == "redis" || cfg.Slot.Backend == "redis" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, a.redis.Close)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	switch cfg.Sequencer.Backend {
	case "redis":
		a.seq = sequencer.NewRedisSequencer(a.redis, policy)
	case "postgres":
		pg := cfg.Sequencer.Postgres
		a.pgSeq, err = sequencer.NewPostgresSequencer(&sequencer.Credentials{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			DBName:   pg.DBName,
		}, policy)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.pgSeq.Close)
		a.seq = a.pgSeq
	default:
		a.seq = sequencer.NewStoreSequencer(a.store)
	}

	var slots slot.Store
	switch cfg.Slot.Backend {
	case "redis":
		slots = slot.NewRedisStore(a.redis, cfg.Slot.TTL)
	default:
		slots = slot.NewMemoryStore(cfg.Slot.TTL)
	}

	a.catalog, err = catalog.NewSQLiteCatalog(cfg.Catalog.DBPath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.catalog.Close)
	if err := a.catalog.RunMigrations(); err != nil {
		return nil, err
	}

	var blobs blob.Store
	switch cfg.Blob.Backend {
	case "gcs":
		a.gcs, err = blob.NewGCSStore(ctx, blob.GCSConfig{
			Bucket:          cfg.Blob.Bucket,
			CredentialsFile: cfg.Blob.CredentialsFile,
			Endpoint:        cfg.Blob.Endpoint,
			PublicBaseURL:   cfg.Blob.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.gcs.Close)
		blobs = a.gcs
	default:
		blobs = blob.NewMemoryStore(cfg.Blob.PublicBaseURL)
	}

	a.events = events.Nop{}
	if len(cfg.Events.Brokers) > 0 {
		a.events = events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic, events.DefaultBreakerSettings(), a.logger)
	}
	a.closers = append(a.closers, a.events.Close)

	m := metrics.New()
	dir := identity.NewStaticDirectory(cfg.Auth.Tokens)
	book := addressbook.New(a.store, a.logger)

	registry := workspace.NewRegistry(dir, a.store, a.catalog, m, a.logger)
	if len(cfg.Events.Brokers) > 0 {
		a.consumer = events.NewKafkaConsumer(cfg.Events.Brokers, cfg.Events.Topic, consumerGroup(cfg),
			func(ctx context.Context, ev events.OrderPlaced) error {
				return registry.Invalidate(ctx, ev.UserID)
			}, a.logger)
		a.closers = append(a.closers, a.consumer.Close)
	}

	a.handler = h.NewHandler(h.Deps{
		Workspaces: registry,
		Catalog:    a.catalog,
		Creator:    catalog.NewUploader(a.catalog, blobs),
		Addresses:  book,
		Slots:      slots,
		Checkout: checkout.New(a.store, a.seq, book, slots, a.logger,
			checkout.WithPublisher(a.events), checkout.WithMetrics(m)),
		Orders:             orders.NewReader(a.store, slots),
		Metrics:            m,
		IsAdmin:            cfg.IsAdmin,
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	})
	return a, nil
}

// consumerGroup defaults to one group per host so every instance receives
// every order event.
func consumerGroup(cfg *config.Config) string {
	if cfg.Events.GroupID != "" {
		return cfg.Events.GroupID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return "storefront-" + host
}

// migrate applies what newApp does not: counter schema and store indexes.
func (a *app) migrate(ctx context.Context) error {
	if a.pgSeq != nil {
		if err := a.pgSeq.RunMigrations(); err != nil {
			return err
		}
	}
	if a.mongo != nil {
		if err := a.mongo.CreateIndexes(ctx, documentCollections...); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("failed to release resources", "error", err)
	}
}
