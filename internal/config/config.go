package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/Amund211/wpaccount/internal/constants"
	"github.com/joho/godotenv"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

type Config struct {
	cloudSQLUnixSocketPath string
	dBPassword             string
	dBUsername             string
	sentryDSN              string
	wpcomAPIBaseURL        string
	port                   string
	gcpProject             string
	otlpEndpoint           string
	allowedOrigins         []string
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

func (c *Config) WPComAPIBaseURL() string {
	return c.wpcomAPIBaseURL
}

func (c *Config) Port() string {
	return c.port
}

func (c *Config) GCPProject() string {
	return c.gcpProject
}

// Domain suffixes of the browser origins allowed to call the API
func (c *Config) AllowedOrigins() []string {
	return c.allowedOrigins
}

func (c *Config) TelemetryEnabled() bool {
	return c.otlpEndpoint != ""
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
		"Config{env: %s, port: %s, wpcomAPIBaseURL: %s, telemetry: %t, ...}",
		string(c.env),
		c.port,
		c.wpcomAPIBaseURL,
		c.TelemetryEnabled(),
	)
}

// Load .env files into the process environment. Only intended for local development.
//
// Variables already present in the environment take precedence over .env, while
// .env.local overrides both.
func LoadDotEnv() error {
	for _, file := range []string{".env", ".env.local"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}

		load := godotenv.Load
		if file == ".env.local" {
			load = godotenv.Overload
		}
		if err := load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("WPACCOUNT_ENVIRONMENT")
	if !ok {
		return missingKey("WPACCOUNT_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return Config{}, fmt.Errorf("%w: WPACCOUNT_ENVIRONMENT (%s)", ErrInvalidValue, rawEnv)
	}
	if string(env) == "" {
		panic("logic error: env is empty")
	}

	cloudSQLUnixSocketPath := os.Getenv("CLOUDSQL_UNIX_SOCKET")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbUsername := os.Getenv("DB_USERNAME")
	sentryDSN := os.Getenv("SENTRY_DSN")
	gcpProject := os.Getenv("GOOGLE_CLOUD_PROJECT")
	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	port := os.Getenv("PORT")
	if port == "" {
		port = constants.DEFAULT_PORT
	}

	wpcomAPIBaseURL := strings.TrimSuffix(os.Getenv("WPCOM_API_BASE_URL"), "/")
	if wpcomAPIBaseURL == "" {
		wpcomAPIBaseURL = constants.DEFAULT_WPCOM_API_BASE_URL
	}
	parsedBaseURL, err := url.Parse(wpcomAPIBaseURL)
	if err != nil || (parsedBaseURL.Scheme != "https" && parsedBaseURL.Scheme != "http") || parsedBaseURL.Host == "" {
		return Config{}, fmt.Errorf("%w: WPCOM_API_BASE_URL (%s)", ErrInvalidValue, wpcomAPIBaseURL)
	}

	allowedOrigins := []string{constants.DEFAULT_ALLOWED_ORIGIN}
	if rawAllowedOrigins := os.Getenv("ALLOWED_ORIGINS"); rawAllowedOrigins != "" {
		allowedOrigins = nil
		for _, origin := range strings.Split(rawAllowedOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins = append(allowedOrigins, origin)
			}
		}
	}

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
		if parsedBaseURL.Scheme != "https" {
			return Config{}, fmt.Errorf("%w: WPCOM_API_BASE_URL must use https (%s)", ErrInvalidValue, wpcomAPIBaseURL)
		}
	}

	return Config{
		cloudSQLUnixSocketPath: cloudSQLUnixSocketPath,
		dBPassword:             dbPassword,
		dBUsername:             dbUsername,
		sentryDSN:              sentryDSN,
		wpcomAPIBaseURL:        wpcomAPIBaseURL,
		port:                   port,
		gcpProject:             gcpProject,
		otlpEndpoint:           otlpEndpoint,
		allowedOrigins:         allowedOrigins,
		env:                    env,
	}, nil
}
