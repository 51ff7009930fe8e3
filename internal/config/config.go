// Package config defines the process configuration for forwardgate services.
// Configuration is loaded once at startup and treated as immutable.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Missing required values or invalid formats fail startup.
package config

import (
	"time"

	"forwardgate/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Email provider names accepted by EMAIL_PROVIDER.
const (
	ProviderStub     = "stub"
	ProviderSendGrid = "sendgrid"
	ProviderSES      = "ses"
)

// Dispatch modes accepted by EMAIL_DISPATCH_MODE.
const (
	DispatchAsync = "async"
	DispatchQueue = "queue"
)

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"forwardgate"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Email         EmailConfig
	Reconcile     ReconcileConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`

	// PublicBaseURL prefixes the accept/reject links mailed to recipients
	// (no trailing slash), e.g. https://gate.example.com
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" validate:"required,url"`
	// WebsiteURL is where recipients land after answering.
	WebsiteURL string `envconfig:"WEBSITE_URL" validate:"required,url"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`

	VerifyRatePerMinute int `envconfig:"VERIFY_RATE_PER_MINUTE" default:"30" validate:"min=1"`
	VerifyRateBurst     int `envconfig:"VERIFY_RATE_BURST" default:"10" validate:"min=1"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`

	AutoMigrate bool `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// ConfirmationQueue receives confirmation dispatch requests when
	// EMAIL_DISPATCH_MODE=queue.
	ConfirmationQueue string `envconfig:"SQS_CONFIRMATIONS" validate:"omitempty,url"`

	// LocalStack support. Empty in prod.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig selects the outbound provider and the dispatch strategy for
// confirmation emails.
type EmailConfig struct {
	Provider       string       `envconfig:"EMAIL_PROVIDER" default:"stub" validate:"oneof=stub sendgrid ses"`
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY"`
	SESConfigSet   string       `envconfig:"SES_CONFIGURATION_SET"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"support@forwardgate.io" validate:"email"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"forwardgate app"`
	NoReplyAddress string       `envconfig:"EMAIL_NOREPLY_ADDRESS" default:"noreply@forwardgate.io" validate:"email"`

	DispatchMode    string        `envconfig:"EMAIL_DISPATCH_MODE" default:"async" validate:"oneof=async queue"`
	DispatchTimeout time.Duration `envconfig:"EMAIL_DISPATCH_TIMEOUT" default:"10s"`
}

// ReconcileConfig tunes the channel reconciliation pass.
type ReconcileConfig struct {
	BatchSize   int `envconfig:"RECONCILE_BATCH_SIZE" default:"200" validate:"min=1,max=5000"`
	Concurrency int `envconfig:"RECONCILE_CONCURRENCY" default:"8" validate:"min=1,max=64"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"ForwardGate"`
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
