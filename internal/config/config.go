package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Amund211/duelhistory/internal/strutils"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

const (
	defaultRequestDelay = 500 * time.Millisecond
	defaultBackfillDays = 30
	defaultMaxPages     = 500
	defaultSyncInterval = 5 * time.Minute
	defaultPort         = "8080"

	// Used in development when no user is configured
	mockUserID = "000000000000000000000001"
)

type Config struct {
	cloudSQLUnixSocketPath string
	dBPassword             string
	dBUsername             string
	sentryDSN              string
	geoguessrAuthCookie    string
	userID                 string
	requestDelay           time.Duration
	backfillFullHistory    bool
	backfillDays           int
	maxPages               int
	syncInterval           time.Duration
	port                   string
	googleCloudProject     string
	allowedDomains         []string
	env                    environment
}

func (c *Config) CloudSQLUnixSocketPath() string {
	return c.cloudSQLUnixSocketPath
}

func (c *Config) DBPassword() string {
	return c.dBPassword
}

func (c *Config) DBUsername() string {
	return c.dBUsername
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) GeoguessrAuthCookie() string {
	return c.geoguessrAuthCookie
}

// The tracked user
func (c *Config) UserID() string {
	return c.userID
}

// Base delay before every outbound request and between feed pages
func (c *Config) RequestDelay() time.Duration {
	return c.requestDelay
}

func (c *Config) BackfillFullHistory() bool {
	return c.backfillFullHistory
}

func (c *Config) BackfillDays() int {
	return c.backfillDays
}

func (c *Config) MaxPages() int {
	return c.maxPages
}

func (c *Config) SyncInterval() time.Duration {
	return c.syncInterval
}

func (c *Config) Port() string {
	return c.port
}

// Optional. Enables trace correlation in Google Cloud logging when set.
func (c *Config) GoogleCloudProject() string {
	return c.googleCloudProject
}

// Domain suffixes allowed as CORS origins
func (c *Config) AllowedDomains() []string {
	return c.allowedDomains
}

func (c *Config) Environment() string {
	return string(c.env)
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf(
		"Config{env: %s, userID: %s, requestDelay: %s, backfillFullHistory: %t, backfillDays: %d, maxPages: %d, syncInterval: %s, ...}",
		string(c.env),
		c.userID,
		c.requestDelay,
		c.backfillFullHistory,
		c.backfillDays,
		c.maxPages,
		c.syncInterval,
	)
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}
	invalidValue := func(key, value string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, value)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("DUELHISTORY_ENVIRONMENT")
	if !ok {
		return missingKey("DUELHISTORY_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return invalidValue("DUELHISTORY_ENVIRONMENT", rawEnv)
	}
	if string(env) == "" {
		panic("logic error: env is empty")
	}

	cloudSQLUnixSocketPath := os.Getenv("CLOUDSQL_UNIX_SOCKET")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbUsername := os.Getenv("DB_USERNAME")
	sentryDSN := os.Getenv("SENTRY_DSN")
	geoguessrAuthCookie := os.Getenv("GEOGUESSR_AUTH_COOKIE")
	rawUserID := os.Getenv("GEOGUESSR_USER_ID")

	if env == production || env == staging {
		if cloudSQLUnixSocketPath == "" {
			return missingKey("CLOUDSQL_UNIX_SOCKET")
		}
		if dbUsername == "" {
			return missingKey("DB_USERNAME")
		}
		if dbPassword == "" {
			return missingKey("DB_PASSWORD")
		}
		if sentryDSN == "" {
			return missingKey("SENTRY_DSN")
		}
		if geoguessrAuthCookie == "" {
			return missingKey("GEOGUESSR_AUTH_COOKIE")
		}
		if rawUserID == "" {
			return missingKey("GEOGUESSR_USER_ID")
		}
	}

	userID := mockUserID
	if rawUserID != "" {
		normalized, err := strutils.NormalizeUserID(rawUserID)
		if err != nil {
			return invalidValue("GEOGUESSR_USER_ID", rawUserID)
		}
		userID = normalized
	}

	requestDelay := defaultRequestDelay
	if raw := os.Getenv("REQUEST_DELAY_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			return invalidValue("REQUEST_DELAY_MS", raw)
		}
		requestDelay = time.Duration(ms) * time.Millisecond
	}

	backfillFullHistory := false
	if raw := os.Getenv("BACKFILL_FULL_HISTORY"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return invalidValue("BACKFILL_FULL_HISTORY", raw)
		}
		backfillFullHistory = parsed
	}

	backfillDays := defaultBackfillDays
	if raw := os.Getenv("BACKFILL_DAYS"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 1 {
			return invalidValue("BACKFILL_DAYS", raw)
		}
		backfillDays = days
	}

	maxPages := defaultMaxPages
	if raw := os.Getenv("MAX_PAGES"); raw != "" {
		pages, err := strconv.Atoi(raw)
		if err != nil || pages < 1 {
			return invalidValue("MAX_PAGES", raw)
		}
		maxPages = pages
	}

	syncInterval := defaultSyncInterval
	if raw := os.Getenv("SYNC_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil || interval <= 0 {
			return invalidValue("SYNC_INTERVAL", raw)
		}
		syncInterval = interval
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	allowedDomains := []string{}
	for domain := range strings.SplitSeq(os.Getenv("CORS_ALLOWED_DOMAINS"), ",") {
		domain = strings.TrimSpace(domain)
		if domain == "" {
			continue
		}
		if strings.HasPrefix(domain, ".") || strings.Contains(domain, "://") {
			return invalidValue("CORS_ALLOWED_DOMAINS", domain)
		}
		allowedDomains = append(allowedDomains, domain)
	}

	return Config{
		cloudSQLUnixSocketPath: cloudSQLUnixSocketPath,
		dBPassword:             dbPassword,
		dBUsername:             dbUsername,
		sentryDSN:              sentryDSN,
		geoguessrAuthCookie:    geoguessrAuthCookie,
		userID:                 userID,
		requestDelay:           requestDelay,
		backfillFullHistory:    backfillFullHistory,
		backfillDays:           backfillDays,
		maxPages:               maxPages,
		syncInterval:           syncInterval,
		port:                   port,
		googleCloudProject:     os.Getenv("GOOGLE_CLOUD_PROJECT"),
		allowedDomains:         allowedDomains,
		env:                    env,
	}, nil
}
