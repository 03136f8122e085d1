package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values come from env, optionally seeded from a .env file in the working directory.
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	Store   StoreConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Twilio  TwilioConfig
	Asana   AsanaConfig
	Confirm ConfirmConfig
}

type AppConfig struct {
	Env  string
	Port int

	// BaseURL is the public URL the telephony provider calls back on.
	BaseURL string
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendAsana    = "asana"
)

type StoreConfig struct {
	Backend string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// Enabled reports whether a database is configured. It also enables the persistent audit log.
func (c DBConfig) Enabled() bool { return c.Host != "" }

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool { return c.Host != "" }

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	ValidateSignature bool
	RecordCalls       bool
}

func (c TwilioConfig) Enabled() bool { return c.AccountSID != "" && c.AuthToken != "" }

// AsanaConfig carries the project and the workspace-specific custom field ids.
type AsanaConfig struct {
	AccessToken string
	ProjectID   string
	BaseURL     string

	PhoneFieldID        string
	ModeFieldID         string
	RetryCountFieldID   string
	LastCallTimeFieldID string
	OutcomeFieldID      string
	StatusFieldID       string

	StatusPendingID     string
	StatusConfirmedID   string
	StatusUnavailableID string
}

type ConfirmConfig struct {
	RetryDelay  time.Duration
	MaxAttempts int

	ScanInterval     time.Duration
	BatchSize        int
	Parallelism      int
	StaleCallTimeout time.Duration

	// MaxConcurrentCalls caps calls in flight across processes (needs Redis). 0 is unlimited.
	MaxConcurrentCalls int
	ScriptsFile        string
}

func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf(".env: %w", err)
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("APP_BASE_URL")), "/")

	c.Store.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = optionalInt("DB_PORT", &parseErrs)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = optionalInt("REDIS_PORT", &parseErrs)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB = optionalInt("REDIS_DB", &parseErrs)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = optionalDuration("JWT_ACCESS_TTL", &parseErrs)
	c.Auth.RefreshTokenTTL = optionalDuration("JWT_REFRESH_TTL", &parseErrs)

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER"))
	// Signature validation defaults on in production.
	c.Twilio.ValidateSignature = optionalBool("TWILIO_VALIDATE_SIGNATURE", c.App.Env == "production", &parseErrs)
	c.Twilio.RecordCalls = optionalBool("TWILIO_RECORD_CALLS", false, &parseErrs)

	c.Asana.AccessToken = os.Getenv("ASANA_ACCESS_TOKEN")
	c.Asana.ProjectID = strings.TrimSpace(os.Getenv("ASANA_PROJECT_ID"))
	c.Asana.BaseURL = strings.TrimSpace(os.Getenv("ASANA_BASE_URL"))
	c.Asana.PhoneFieldID = strings.TrimSpace(os.Getenv("ASANA_PHONE_FIELD_ID"))
	c.Asana.ModeFieldID = strings.TrimSpace(os.Getenv("ASANA_OPERATION_MODE_FIELD_ID"))
	c.Asana.RetryCountFieldID = strings.TrimSpace(os.Getenv("ASANA_RETRY_COUNT_FIELD_ID"))
	c.Asana.LastCallTimeFieldID = strings.TrimSpace(os.Getenv("ASANA_LAST_CALL_TIME_FIELD_ID"))
	c.Asana.OutcomeFieldID = strings.TrimSpace(os.Getenv("ASANA_CALL_OUTCOME_FIELD_ID"))
	c.Asana.StatusFieldID = strings.TrimSpace(os.Getenv("ASANA_STATUS_FIELD_ID"))
	c.Asana.StatusPendingID = strings.TrimSpace(os.Getenv("ASANA_STATUS_PENDING_ID"))
	c.Asana.StatusConfirmedID = strings.TrimSpace(os.Getenv("ASANA_STATUS_CONFIRMED_ID"))
	c.Asana.StatusUnavailableID = strings.TrimSpace(os.Getenv("ASANA_STATUS_UNAVAILABLE_ID"))

	c.Confirm.RetryDelay = optionalDuration("CONFIRM_RETRY_DELAY", &parseErrs)
	c.Confirm.MaxAttempts = optionalInt("CONFIRM_MAX_ATTEMPTS", &parseErrs)
	c.Confirm.ScanInterval = optionalDuration("CONFIRM_SCAN_INTERVAL", &parseErrs)
	c.Confirm.BatchSize = optionalInt("CONFIRM_BATCH_SIZE", &parseErrs)
	c.Confirm.Parallelism = optionalInt("CONFIRM_PARALLELISM", &parseErrs)
	c.Confirm.StaleCallTimeout = optionalDuration("CONFIRM_STALE_CALL_TIMEOUT", &parseErrs)
	c.Confirm.MaxConcurrentCalls = optionalInt("CONFIRM_MAX_CONCURRENT_CALLS", &parseErrs)
	c.Confirm.ScriptsFile = strings.TrimSpace(os.Getenv("CONFIRM_SCRIPTS_FILE"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate applies environment-dependent defaults and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.BaseURL == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("APP_BASE_URL is required in production"))
		} else if c.App.Port > 0 {
			c.App.BaseURL = fmt.Sprintf("http://localhost:%d", c.App.Port)
		}
	} else if u, err := url.Parse(c.App.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("APP_BASE_URL must be an absolute URL, got %q", c.App.BaseURL))
	}

	switch c.Store.Backend {
	case "":
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_BACKEND is required in production"))
		} else {
			c.Store.Backend = BackendMemory
		}
	case BackendMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_BACKEND memory is not allowed in production"))
		}
	case BackendPostgres, BackendAsana:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of memory, postgres, asana, got %q", c.Store.Backend))
	}

	if c.Store.Backend == BackendPostgres && !c.DB.Enabled() {
		errs = append(errs, errors.New("DB_HOST is required for the postgres backend"))
	}
	if c.DB.Enabled() {
		errs = append(errs, c.validateDB()...)
	}

	if c.Redis.Enabled() && c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.Port < 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Store.Backend == BackendAsana {
		errs = append(errs, c.validateAsana()...)
		if !c.Redis.Enabled() {
			errs = append(errs, errors.New("REDIS_HOST is required for the asana backend"))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.IsProduction() && !c.Twilio.Enabled() {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required in production"))
	}
	if c.Twilio.Enabled() && c.Twilio.FromNumber == "" {
		errs = append(errs, errors.New("TWILIO_FROM_NUMBER is required when Twilio is configured"))
	}
	if c.Twilio.ValidateSignature && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required to validate webhook signatures"))
	}

	errs = append(errs, c.Confirm.applyDefaults()...)
	if c.Confirm.MaxConcurrentCalls > 0 && !c.Redis.Enabled() {
		errs = append(errs, errors.New("REDIS_HOST is required when CONFIRM_MAX_CONCURRENT_CALLS is set"))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Port == 0 {
		c.DB.Port = 5432
	}
	if c.DB.Port < 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c *Config) validateAsana() []error {
	var errs []error
	required := []struct{ key, val string }{
		{"ASANA_ACCESS_TOKEN", c.Asana.AccessToken},
		{"ASANA_PROJECT_ID", c.Asana.ProjectID},
		{"ASANA_PHONE_FIELD_ID", c.Asana.PhoneFieldID},
		{"ASANA_OPERATION_MODE_FIELD_ID", c.Asana.ModeFieldID},
		{"ASANA_RETRY_COUNT_FIELD_ID", c.Asana.RetryCountFieldID},
		{"ASANA_LAST_CALL_TIME_FIELD_ID", c.Asana.LastCallTimeFieldID},
		{"ASANA_CALL_OUTCOME_FIELD_ID", c.Asana.OutcomeFieldID},
		{"ASANA_STATUS_FIELD_ID", c.Asana.StatusFieldID},
		{"ASANA_STATUS_PENDING_ID", c.Asana.StatusPendingID},
		{"ASANA_STATUS_CONFIRMED_ID", c.Asana.StatusConfirmedID},
		{"ASANA_STATUS_UNAVAILABLE_ID", c.Asana.StatusUnavailableID},
	}
	for _, r := range required {
		if r.val == "" {
			errs = append(errs, fmt.Errorf("%s is required for the asana backend", r.key))
		}
	}
	return errs
}

func (c *ConfirmConfig) applyDefaults() []error {
	var errs []error
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Hour
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = 5 * time.Minute
	}
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
	if c.Parallelism == 0 {
		c.Parallelism = 4
	}
	if c.StaleCallTimeout == 0 {
		c.StaleCallTimeout = 30 * time.Minute
	}

	if c.RetryDelay < 0 {
		errs = append(errs, errors.New("CONFIRM_RETRY_DELAY must be positive"))
	}
	if c.MaxAttempts < 0 {
		errs = append(errs, errors.New("CONFIRM_MAX_ATTEMPTS must be positive"))
	}
	if c.ScanInterval < time.Second {
		errs = append(errs, fmt.Errorf("CONFIRM_SCAN_INTERVAL must be at least 1s, got %s", c.ScanInterval))
	}
	if c.BatchSize < 0 || c.Parallelism < 0 || c.MaxConcurrentCalls < 0 {
		errs = append(errs, errors.New("CONFIRM_BATCH_SIZE, CONFIRM_PARALLELISM and CONFIRM_MAX_CONCURRENT_CALLS must not be negative"))
	}
	if c.StaleCallTimeout < 0 {
		errs = append(errs, errors.New("CONFIRM_STALE_CALL_TIMEOUT must be positive"))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func optionalDuration(key string, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a duration (e.g. 90s, 1h), got %q", key, v))
		return 0
	}
	return d
}

func optionalBool(key string, def bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return def
	}
	return b
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
