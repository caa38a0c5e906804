package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string
	AppEnv         string
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3BucketName   string
	LedgerBackend  string // "sqlite" or "dynamo"
	SQLitePath     string
	JWTSecret      string
	JWTExpiry      time.Duration
	AllowedOrigins []string // CORS allowed origins
	RateLimitRPS   float64
	RateLimitBurst int
	Tracing        Tracing
	Guest          Guest
	Redis          Redis
	Notify         Notify
	Metrics        Metrics
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Merges string
}

// Tracing configures the host tracer and the save pipeline.
type Tracing struct {
	// Dir confines API-supplied trace paths. Empty means no restriction.
	Dir                string
	HostFile           string
	GuestFile          string
	CombinedFile       string
	PerThreadStorageMB int
	PollInterval       time.Duration
	MaxPollIters       int
	StableIters        int
}

// Guest configures the guest time-sync daemon.
type Guest struct {
	TraceFile       string
	TickInterval    time.Duration
	ReportInterval  time.Duration
	IdleInterval    time.Duration
	RequiresChannel bool
	NotificationID  int
	ResourcesFile   string
	HostURL         string
	HostToken       string
	CertPath        string
	KeyPath         string
	CAPath          string
}

// Redis configures the guest-time pub/sub channel.
type Redis struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Notify selects where the foreground notification is posted.
type Notify struct {
	Posters      []string // any of "log", "ntfy", "sns"
	NtfyTopicURL string
	NtfyToken    string
	SNSTopicARN  string
	SNSRegion    string
}

// Metrics configures Prometheus push for short-lived or guest processes.
type Metrics struct {
	PushgatewayURL string
	JobName        string
	PushInterval   time.Duration
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Merges: getEnv("DYNAMO_TABLE_MERGES", "merges"),
		},
		S3BucketName:   getEnv("S3_BUCKET_NAME", ""),
		LedgerBackend:  getEnv("LEDGER_BACKEND", "sqlite"),
		SQLitePath:     getEnv("SQLITE_PATH", "vperfetto.db"),
		JWTSecret:      getEnv("CONTROL_JWT_SECRET", ""),
		JWTExpiry:      getEnvDuration("CONTROL_JWT_EXPIRY", 24*time.Hour),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "https://ui.perfetto.dev"), ","),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 10),
		Tracing: Tracing{
			Dir:                getEnv("TRACE_DIR", ""),
			HostFile:           getEnv("HOST_TRACE_FILE", "vmm.trace"),
			GuestFile:          getEnv("GUEST_TRACE_FILE_ON_HOST", ""),
			CombinedFile:       getEnv("COMBINED_TRACE_FILE", ""),
			PerThreadStorageMB: getEnvInt("PER_THREAD_STORAGE_MB", 1),
			PollInterval:       getEnvDuration("GUEST_POLL_INTERVAL", time.Second),
			MaxPollIters:       getEnvInt("GUEST_POLL_MAX_ITERS", 20),
			StableIters:        getEnvInt("GUEST_POLL_STABLE_ITERS", 2),
		},
		Guest: Guest{
			TraceFile:       getEnv("GUEST_TRACE_FILE", "guest.trace"),
			TickInterval:    getEnvDuration("CLOCK_SYNC_INTERVAL", 100*time.Millisecond),
			ReportInterval:  getEnvDuration("REPORT_INTERVAL", time.Second),
			IdleInterval:    getEnvDuration("IDLE_INTERVAL", 1000*time.Second),
			RequiresChannel: getEnvBool("REQUIRES_NOTIFICATION_CHANNEL", true),
			NotificationID:  getEnvInt("NOTIFICATION_ID", 12345),
			ResourcesFile:   getEnv("RESOURCES_FILE", ""),
			HostURL:         getEnv("HOST_API_URL", ""),
			HostToken:       getEnv("HOST_API_TOKEN", ""),
			CertPath:        getEnv("HOST_API_CERT", ""),
			KeyPath:         getEnv("HOST_API_KEY", ""),
			CAPath:          getEnv("HOST_API_CA", ""),
		},
		Redis: Redis{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Channel:  getEnv("REDIS_CHANNEL", "vperfetto:guest-time"),
		},
		Notify: Notify{
			Posters:      splitList(getEnv("NOTIFY_POSTERS", "log")),
			NtfyTopicURL: getEnv("NTFY_TOPIC_URL", ""),
			NtfyToken:    getEnv("NTFY_TOKEN", ""),
			SNSTopicARN:  getEnv("SNS_TOPIC_ARN", ""),
			SNSRegion:    getEnv("SNS_REGION", "us-east-1"),
		},
		Metrics: Metrics{
			PushgatewayURL: getEnv("PROMETHEUS_PUSHGATEWAY_URL", ""),
			JobName:        getEnv("PROMETHEUS_JOB_NAME", "vperfetto"),
			PushInterval:   getEnvDuration("PROMETHEUS_PUSH_INTERVAL", 30*time.Second),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("1s", "100ms").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
