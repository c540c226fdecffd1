// Package config defines the global configuration for the castline
// platform. Configuration is loaded once at process initialization and is
// immutable thereafter, following 12-Factor principles: environment
// variables layered over an optional .env file, validated on startup with
// fail-fast semantics.
package config

import (
	"time"

	"castline/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret
// type used throughout configuration to prevent accidental logging of
// sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once
// during process initialization and never modified. Components receive
// only the subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"castline"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server    ServerConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	Messaging MessagingConfig
	Cron      CronConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public origin the check-in form is served from (no trailing slash).
	CheckinBaseURL string `envconfig:"CHECKIN_BASE_URL" validate:"required,url"`
	// Bearer secret protecting the operator cron/trigger endpoints.
	CronSecret SecretString `envconfig:"CRON_SECRET" validate:"required,min=16"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`
}

// AWSConfig holds AWS resource identifiers. Empty values disable the
// corresponding integrations for self-hosted runs.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"ap-northeast-1"`

	// DispatchQueueURL is the SQS queue used to wake dispatch workers
	// after a fan-out. Empty disables waking.
	DispatchQueueURL string `envconfig:"SQS_DISPATCH_QUEUE"`

	// MetricsEnabled switches CloudWatch metric emission.
	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`
}

// MessagingConfig holds chat platform push API credentials.
type MessagingConfig struct {
	APIBaseURL    string       `envconfig:"CHAT_API_BASE_URL" default:"https://api.line.me"`
	AccessToken   SecretString `envconfig:"CHAT_ACCESS_TOKEN" validate:"required"`
	ChannelSecret SecretString `envconfig:"CHAT_CHANNEL_SECRET" validate:"required,min=16"`
	Timeout       time.Duration `envconfig:"CHAT_TIMEOUT" default:"10s"`
}

// CronConfig holds schedules for the self-hosted cron runner. The Lambda
// deployment ignores these; EventBridge rules carry the schedule there.
type CronConfig struct {
	FanoutSpec   string `envconfig:"CRON_FANOUT_SPEC" default:"0 21 * * *"`
	DispatchSpec string `envconfig:"CRON_DISPATCH_SPEC" default:"*/5 * * * *"`
	MaintSpec    string `envconfig:"CRON_MAINT_SPEC" default:"30 5 * * *"`
	RefreshSpec  string `envconfig:"CRON_REFRESH_SPEC" default:"0 6 1 * *"`
}
