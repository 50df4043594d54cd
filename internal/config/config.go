// internal/config/config.go
package config

import (
	"strings"

	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP      HTTP
		Database  Database
		Telemetry Telemetry
		Lending   Lending
	}

	HTTP struct {
		Host string
		Port int
	}

	Database struct {
		// URL is a postgres connection string. Empty selects the
		// in-memory stores, which is the mode tests and local
		// development run in.
		URL          string
		MaxOpenConns int
	}

	Telemetry struct {
		Enabled     bool
		Endpoint    string
		ServiceName string
	}

	Lending struct {
		// MaxTries bounds optimistic-lock retries per operation.
		MaxTries uint
	}
)

// Load reads configuration from environment variables prefixed with
// LIBRARIUM_ (for example LIBRARIUM_HTTP_PORT), falling back to
// defaults that run the service locally without a database.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("librarium")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("database.url", "")
	v.SetDefault("database.maxopenconns", 25)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.servicename", "librarium")
	v.SetDefault("lending.maxtries", 4)

	cfg := &Config{
		HTTP: HTTP{
			Host: v.GetString("http.host"),
			Port: v.GetInt("http.port"),
		},
		Database: Database{
			URL:          v.GetString("database.url"),
			MaxOpenConns: v.GetInt("database.maxopenconns"),
		},
		Telemetry: Telemetry{
			Enabled:     v.GetBool("telemetry.enabled"),
			Endpoint:    v.GetString("telemetry.endpoint"),
			ServiceName: v.GetString("telemetry.servicename"),
		},
		Lending: Lending{
			MaxTries: v.GetUint("lending.maxtries"),
		},
	}
	return cfg, nil
}
