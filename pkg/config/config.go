// Package config loads the broker's environment-variable configuration.
//
// Every tunable named in the specification has a default here, so neither
// process requires a flag or a config file to start in a sane local mode.
// There is no ecosystem config-binding library in play (none of the
// candidate teacher/pack repos use one for flat env-var structs); os.Getenv
// plus small typed helpers is the idiomatic-enough stdlib shape for this.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full set of broker tunables, shared by the API and Worker
// processes. Not every field is read by both: the API process ignores the
// loop-period fields, the Worker process ignores rate-limit and CORS.
type Config struct {
	// Store
	DDBTableName string
	DDBGSIStatus string
	DDBGSIOwner  string
	DDBGSIIdem   string
	DDBEndpoint  string
	AWSRegion    string

	// Auth
	APIToken   string
	AdminToken string

	// CSP
	CSPBaseURL       string
	CSPAPIToken      string
	CSPConnectTimeout time.Duration
	CSPReadTimeout    time.Duration

	// Allocation
	LabDurationHours  int
	GracePeriodMinutes int
	KCandidates       int

	// Worker loop periods
	SyncInterval       time.Duration
	CleanupInterval    time.Duration
	AutoExpiryInterval time.Duration
	StaleDeleteInterval time.Duration
	StaleGraceHours    int

	CleanupBatchSize  int
	CleanupBatchDelay time.Duration

	DeletionRetryMaxAttempts int

	// Circuit breaker
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration

	// Rate limiter
	RateLimitRequestsPerSecond float64
	RateLimitBurst             int

	// HTTP
	APIVersionPrefix   string
	CORSAllowedOrigins []string

	// Observability
	LogLevel  string
	LogFormat string
}

// Load reads the environment into a Config, applying the defaults documented
// in the specification wherever a variable is unset.
func Load() Config {
	return Config{
		DDBTableName: getenv("DDB_TABLE_NAME", "sandbox-broker"),
		DDBGSIStatus: getenv("DDB_GSI1_NAME", "by_status"),
		DDBGSIOwner:  getenv("DDB_GSI2_NAME", "by_owner"),
		DDBGSIIdem:   getenv("DDB_GSI3_NAME", "by_idem"),
		DDBEndpoint:  getenv("DDB_ENDPOINT_URL", ""),
		AWSRegion:    getenv("AWS_REGION", "us-east-1"),

		APIToken:   getenv("BROKER_API_TOKEN", ""),
		AdminToken: getenv("BROKER_ADMIN_TOKEN", ""),

		CSPBaseURL:        getenv("CSP_BASE_URL", ""),
		CSPAPIToken:       getenv("CSP_API_TOKEN", ""),
		CSPConnectTimeout: getenvSeconds("CSP_TIMEOUT_CONNECT_SEC", 2),
		CSPReadTimeout:    getenvSeconds("CSP_TIMEOUT_READ_SEC", 5),

		LabDurationHours:   getenvInt("LAB_DURATION_HOURS", 4),
		GracePeriodMinutes: getenvInt("GRACE_PERIOD_MINUTES", 30),
		KCandidates:        getenvInt("K_CANDIDATES", 15),

		SyncInterval:        getenvSeconds("SYNC_INTERVAL_SEC", 600),
		CleanupInterval:     getenvSeconds("CLEANUP_INTERVAL_SEC", 300),
		AutoExpiryInterval:  getenvSeconds("AUTO_EXPIRY_INTERVAL_SEC", 300),
		StaleDeleteInterval: getenvSeconds("STALE_DELETE_INTERVAL_SEC", 86400),
		StaleGraceHours:     getenvInt("STALE_GRACE_HOURS", 24),

		CleanupBatchSize:  getenvInt("CLEANUP_BATCH_SIZE", 10),
		CleanupBatchDelay: getenvSeconds("CLEANUP_BATCH_DELAY_SEC", 2),

		DeletionRetryMaxAttempts: getenvInt("DELETION_RETRY_MAX_ATTEMPTS", 3),

		CircuitBreakerThreshold: getenvInt("CIRCUIT_BREAKER_THRESHOLD", 5),
		CircuitBreakerTimeout:   getenvSeconds("CIRCUIT_BREAKER_TIMEOUT_SEC", 60),

		RateLimitRequestsPerSecond: getenvFloat("RATE_LIMIT_REQUESTS_PER_SECOND", 5),
		RateLimitBurst:             getenvInt("RATE_LIMIT_BURST", 10),

		APIVersionPrefix:   getenv("API_VERSION_PREFIX", "/v1"),
		CORSAllowedOrigins: getenvList("CORS_ALLOWED_ORIGINS", nil),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvSeconds(key string, defSeconds int) time.Duration {
	n := getenvInt(key, defSeconds)
	return time.Duration(n) * time.Second
}

func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "*" {
		return []string{"*"}
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
