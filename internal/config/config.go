// Package config provides centralized configuration for the dashboard suite
// and its provisioning tool. It loads configuration from CLI flags and
// environment variables, validates it, and provides sensible defaults.
//
// Credentials come from one of two environment variable pairs, selected by
// CREDENTIALS_SOURCE: the plain EMAIL/PASSWORD pair or the runner-namespaced
// NIGHTWATCH_EMAIL/NIGHTWATCH_PASSWORD pair. Neither is authoritative; each
// tool names its own default (plain for provisioning, nightwatch for the
// browser scenarios).
package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/dashboard-e2e/internal/driver"
	"github.com/kuitang/dashboard-e2e/internal/s3client"
	"github.com/kuitang/dashboard-e2e/internal/syncano"
	"github.com/kuitang/dashboard-e2e/internal/urlutil"
)

const (
	defaultDashboardURL = "https://dashboard.syncano.io"
	defaultRegion       = "auto"
	defaultScratchState = "tempInstance.json"
)

// CredentialsSource selects the environment variable pair credentials are
// read from.
type CredentialsSource string

const (
	SourcePlain      CredentialsSource = "plain"
	SourceNightwatch CredentialsSource = "nightwatch"
)

// envNames returns the email and password variable names for the source.
func (s CredentialsSource) envNames() (email, password string) {
	if s == SourcePlain {
		return "EMAIL", "PASSWORD"
	}
	return "NIGHTWATCH_EMAIL", "NIGHTWATCH_PASSWORD"
}

// Config holds all suite configuration.
type Config struct {
	// Targets
	DashboardURL string
	APIURL       string

	// Credentials
	CredentialsSource CredentialsSource
	Email             string
	Password          string

	// Browser
	BrowserDriver    driver.Kind
	BrowserRemoteURL string
	BrowserHeadless  bool
	WaitTimeout      time.Duration
	PollInterval     time.Duration

	// Scratch state: a file path or s3://bucket/key
	ScratchState string
	S3           s3client.Config

	// Client-side management API rate limit; 0 disables it
	APIRateLimitRPS float64
}

// Flags are the CLI overrides shared by the tools.
type Flags struct {
	State       string
	Credentials string
	API         string

	// DefaultCredentials applies when neither -credentials nor
	// CREDENTIALS_SOURCE names a source. Empty means SourceNightwatch.
	DefaultCredentials CredentialsSource
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// RegisterFlags registers -state, -credentials and -api on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.State, "state", "", "Scratch state location: file path or s3://bucket/key (overrides SCRATCH_STATE)")
	fs.StringVar(&f.Credentials, "credentials", "", "Credential source: plain or nightwatch (overrides CREDENTIALS_SOURCE)")
	fs.StringVar(&f.API, "api", "", "Management API base URL (overrides SYNCANO_API_URL)")
	return f
}

// LoadConfig loads configuration from environment variables, applies the
// flag overrides and validates the result. Credentials are read but not
// required; commands that log in call RequireCredentials.
func LoadConfig(flags Flags) (*Config, error) {
	cfg := &Config{}

	// Targets
	cfg.DashboardURL = urlutil.NormalizeBase(getEnvOrDefault("DASHBOARD_URL", defaultDashboardURL))
	cfg.APIURL = getEnvOrDefault("SYNCANO_API_URL", syncano.DefaultBaseURL)
	if flags.API != "" {
		cfg.APIURL = flags.API
	}
	cfg.APIURL = urlutil.NormalizeBase(cfg.APIURL)

	// Credentials
	defaultSource := flags.DefaultCredentials
	if defaultSource == "" {
		defaultSource = SourceNightwatch
	}
	cfg.CredentialsSource = CredentialsSource(strings.ToLower(getEnvOrDefault("CREDENTIALS_SOURCE", string(defaultSource))))
	if flags.Credentials != "" {
		cfg.CredentialsSource = CredentialsSource(strings.ToLower(strings.TrimSpace(flags.Credentials)))
	}
	emailVar, passwordVar := cfg.CredentialsSource.envNames()
	cfg.Email = strings.TrimSpace(os.Getenv(emailVar))
	// Passwords are taken verbatim.
	cfg.Password = os.Getenv(passwordVar)

	// Browser
	kind, err := driver.ParseKind(os.Getenv("BROWSER_DRIVER"))
	if err != nil {
		return nil, &ValidationError{Errors: []string{"BROWSER_DRIVER: " + err.Error()}}
	}
	cfg.BrowserDriver = kind
	cfg.BrowserRemoteURL = strings.TrimSpace(os.Getenv("BROWSER_REMOTE_URL"))
	cfg.BrowserHeadless = parseBoolOrDefault("BROWSER_HEADLESS", true)
	cfg.WaitTimeout = parseDurationOrDefault("WAIT_TIMEOUT", 5*time.Second)
	cfg.PollInterval = parseDurationOrDefault("POLL_INTERVAL", 500*time.Millisecond)

	// Scratch state
	cfg.ScratchState = getEnvOrDefault("SCRATCH_STATE", defaultScratchState)
	if flags.State != "" {
		cfg.ScratchState = strings.TrimSpace(flags.State)
	}
	cfg.S3 = s3client.Config{
		Endpoint:        strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3")),
		Region:          getEnvOrDefault("AWS_REGION", defaultRegion),
		AccessKeyID:     strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY")),
	}
	cfg.S3.UsePathStyle = cfg.S3.Endpoint != ""

	// Rate limiting
	cfg.APIRateLimitRPS = parseFloat64OrDefault("API_RATE_LIMIT_RPS", 5)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks everything except credentials.
func (c *Config) Validate() error {
	var errs []string

	if err := urlutil.CheckHTTP(c.DashboardURL); err != nil {
		errs = append(errs, "DASHBOARD_URL "+err.Error())
	}
	if err := urlutil.CheckHTTP(c.APIURL); err != nil {
		errs = append(errs, "SYNCANO_API_URL "+err.Error())
	}

	switch c.CredentialsSource {
	case SourcePlain, SourceNightwatch:
	default:
		errs = append(errs, fmt.Sprintf("CREDENTIALS_SOURCE must be plain or nightwatch, got %q", c.CredentialsSource))
	}

	if c.WaitTimeout <= 0 {
		errs = append(errs, "WAIT_TIMEOUT must be positive")
	}
	if c.PollInterval <= 0 {
		errs = append(errs, "POLL_INTERVAL must be positive")
	} else if c.PollInterval > c.WaitTimeout && c.WaitTimeout > 0 {
		errs = append(errs, "POLL_INTERVAL must not exceed WAIT_TIMEOUT")
	}

	if c.ScratchState == "" {
		errs = append(errs, "SCRATCH_STATE is required (file path or s3://bucket/key)")
	}
	if strings.HasPrefix(c.ScratchState, "s3://") && c.S3.AccessKeyID != "" && c.S3.SecretAccessKey == "" {
		errs = append(errs, "AWS_SECRET_ACCESS_KEY is required when AWS_ACCESS_KEY_ID is set")
	}

	if c.APIRateLimitRPS < 0 {
		errs = append(errs, "API_RATE_LIMIT_RPS must not be negative")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// RequireCredentials reports the missing variables of the selected source.
func (c *Config) RequireCredentials() error {
	emailVar, passwordVar := c.CredentialsSource.envNames()
	var errs []string
	if c.Email == "" {
		errs = append(errs, fmt.Sprintf("%s is required (CREDENTIALS_SOURCE=%s)", emailVar, c.CredentialsSource))
	}
	if c.Password == "" {
		errs = append(errs, fmt.Sprintf("%s is required (CREDENTIALS_SOURCE=%s)", passwordVar, c.CredentialsSource))
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// HasCredentials reports whether both credentials are set.
func (c *Config) HasCredentials() bool {
	return c.RequireCredentials() == nil
}

// Credentials returns the management API credentials.
func (c *Config) Credentials() syncano.Credentials {
	return syncano.Credentials{Email: c.Email, Password: c.Password}
}

// DriverOptions returns the options for opening a browser session.
func (c *Config) DriverOptions() driver.Options {
	return driver.Options{RemoteURL: c.BrowserRemoteURL, Headless: c.BrowserHeadless}
}

// PrintSummary prints a human-readable summary of the configuration. Secrets
// are never printed.
func (c *Config) PrintSummary(w io.Writer) {
	emailVar, _ := c.CredentialsSource.envNames()
	fmt.Fprintf(w, "  Dashboard:   %s\n", c.DashboardURL)
	fmt.Fprintf(w, "  API:         %s (%.1f req/s)\n", c.APIURL, c.APIRateLimitRPS)
	if c.Email != "" {
		fmt.Fprintf(w, "  Credentials: %s from %s\n", c.Email, emailVar)
	} else {
		fmt.Fprintf(w, "  Credentials: not set (%s)\n", emailVar)
	}
	browser := "local"
	if c.BrowserRemoteURL != "" {
		browser = "remote " + c.BrowserRemoteURL
	} else if c.BrowserHeadless {
		browser = "local, headless"
	}
	fmt.Fprintf(w, "  Browser:     %s (%s)\n", c.BrowserDriver, browser)
	fmt.Fprintf(w, "  Waits:       %s timeout, %s poll\n", c.WaitTimeout, c.PollInterval)
	fmt.Fprintf(w, "  State:       %s\n", c.ScratchState)
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
