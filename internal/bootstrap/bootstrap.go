// Package bootstrap wires the consent stack from configuration. Every binary
// builds the same ledger, gate and dispatcher; only the outer surface (HTTP,
// SQS, schedule, CLI) differs.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"forwardgate/internal/config"
	"forwardgate/internal/consent"
	"forwardgate/internal/db"
	"forwardgate/internal/external"
	"forwardgate/internal/forward"
	"forwardgate/internal/gate"
	notifcore "forwardgate/internal/notifications/core"
	"forwardgate/internal/notifications/email"
	"forwardgate/internal/types"
)

// NewLogger returns a JSON logger at the named level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// LoadAWS loads the default credential chain, honouring AWS_ENDPOINT_URL for
// LocalStack.
func LoadAWS(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

// Store is the persistence backend: Postgres, or the in-memory store when
// DATABASE_URL is memory://.
type Store struct {
	Tx       types.TransactionManager
	Registry types.RepositoryRegistry
	ping     func(context.Context) error
	close    func()
}

func (s *Store) Ping(ctx context.Context) error { return s.ping(ctx) }

func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStore connects to the configured database, running migrations first
// when DB_AUTO_MIGRATE is set.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	dsn := cfg.URL.Unmask()
	if dsn == db.MemoryDSN {
		logger.Warn("using in-memory store; data is lost on exit")
		mem := db.NewMemoryStore(nil)
		return &Store{Tx: mem, Registry: mem, ping: mem.Ping}, nil
	}

	if cfg.AutoMigrate {
		version, err := db.MigrateUp(dsn)
		if err != nil {
			return nil, err
		}
		logger.Info("migrations applied", "version", version)
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{
		Tx:       db.NewTxManager(pool),
		Registry: db.NewRegistry(pool),
		ping:     pool.Ping,
		close:    pool.Close,
	}, nil
}

// Messaging is everything needed to send confirmations without touching the
// database; the email worker uses it alone.
type Messaging struct {
	Provider  external.EmailProvider
	Sender    *email.Sender
	Metrics   notifcore.ConsentMetrics
	From      types.SenderIdentity
	Publisher *notifcore.ConfirmationPublisher
}

// NewMessaging builds the provider, renderer and, when configured, the
// confirmation queue publisher and CloudWatch metrics.
func NewMessaging(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Messaging, error) {
	typed := types.NewSlogLogger(logger)

	var (
		awsCfg aws.Config
		err    error
	)
	needsAWS := cfg.Email.Provider == config.ProviderSES ||
		cfg.AWS.ConfirmationQueue != "" ||
		cfg.Observability.MetricsEnabled
	if needsAWS {
		if awsCfg, err = LoadAWS(ctx, cfg.AWS); err != nil {
			return nil, err
		}
	}

	m := &Messaging{
		Metrics: notifcore.NoopMetrics{},
		From:    types.SenderIdentity{Address: cfg.Email.FromAddress, Name: cfg.Email.FromName},
	}
	if cfg.Observability.MetricsEnabled {
		m.Metrics = notifcore.NewCloudWatchConsentMetrics(
			cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, typed)
	}

	if m.Provider, err = external.NewEmailProvider(cfg.Email, awsCfg, logger); err != nil {
		return nil, err
	}
	renderer, err := email.NewRenderer(email.RendererConfig{
		BaseURL: cfg.Server.PublicBaseURL,
		From:    m.From,
		NoReply: cfg.Email.NoReplyAddress,
		Product: cfg.Service,
	})
	if err != nil {
		return nil, err
	}
	m.Sender = email.NewSender(renderer, m.Provider, typed)

	if cfg.AWS.ConfirmationQueue != "" {
		m.Publisher = notifcore.NewConfirmationPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.ConfirmationQueue, typed)
	}
	return m, nil
}

// Stack is the assembled consent machinery.
type Stack struct {
	*Messaging

	Config    *config.Config
	Store     *Store
	Ledger    *consent.Ledger
	Gate      *gate.Gate
	Forwarder *forward.Forwarder

	flushers []func(context.Context) error
	closers  []func(context.Context) error
}

// Build assembles the stack. The dispatcher follows EMAIL_DISPATCH_MODE:
// async sends from this process, queue hands requests to SQS.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stack, error) {
	typed := types.NewSlogLogger(logger)

	messaging, err := NewMessaging(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	s := &Stack{Messaging: messaging, Config: cfg, Store: store}
	s.closers = append(s.closers, func(context.Context) error { store.Close(); return nil })

	var dispatcher consent.Dispatcher
	switch cfg.Email.DispatchMode {
	case config.DispatchQueue:
		dispatcher = email.NewQueueDispatcher(s.Publisher)
	default:
		async := email.NewAsyncDispatcher(email.AsyncDispatcherConfig{
			Sender:  s.Sender,
			Timeout: cfg.Email.DispatchTimeout,
			Metrics: s.Metrics,
			Logger:  typed,
		})
		dispatcher = async
		s.flushers = append(s.flushers, async.Flush)
		s.closers = append([]func(context.Context) error{async.Close}, s.closers...)
	}

	s.Ledger = consent.NewLedger(consent.LedgerConfig{
		TxManager:  store.Tx,
		Records:    store.Registry.Verifications(),
		Dispatcher: dispatcher,
		Metrics:    s.Metrics,
		Logger:     typed,
	})
	s.Gate = gate.NewGate(gate.GateConfig{
		Ledger:   s.Ledger,
		Channels: store.Registry.Channels(),
		Metrics:  s.Metrics,
		Logger:   typed,
	})
	s.Forwarder = forward.NewForwarder(forward.ForwarderConfig{
		Gate:     s.Gate,
		Channels: store.Registry.Channels(),
		Provider: s.Provider,
		From:     s.From,
		NoReply:  cfg.Email.NoReplyAddress,
		Logger:   typed,
	})
	return s, nil
}

// Reconciler returns a pass over every channel, tuned from configuration.
func (s *Stack) Reconciler(logger *slog.Logger) *gate.Reconciler {
	return gate.NewReconciler(gate.ReconcilerConfig{
		Gate:        s.Gate,
		Channels:    s.Store.Registry.Channels(),
		BatchSize:   s.Config.Reconcile.BatchSize,
		Concurrency: s.Config.Reconcile.Concurrency,
		Logger:      types.NewSlogLogger(logger),
	})
}

// Flush waits for confirmations dispatched so far to reach the provider.
// It is a no-op in queue mode, where Dispatch has already published.
func (s *Stack) Flush(ctx context.Context) error {
	var errs []error
	for _, f := range s.flushers {
		if err := f(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close drains in-flight confirmations and then releases the database.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error
	for _, c := range s.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
