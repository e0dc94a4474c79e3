package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"hermannm.dev/searchanalysis/query"
	"hermannm.dev/wrap"
)

type Config struct {
	IsProduction bool `env:"PRODUCTION" envDefault:"false"`
	Debug        bool `env:"DEBUG" envDefault:"false"`
	API          API
	Search       Search
}

type API struct {
	Port string `env:"API_PORT" envDefault:"8000"`
	// IANA name of the timezone that timestamps in PPL tables are displayed in.
	Timezone string `env:"API_TIMEZONE" envDefault:"UTC"`
}

func (api API) Location() (*time.Location, error) {
	location, err := time.LoadLocation(api.Timezone)
	if err != nil {
		return nil, wrap.Errorf(err, "unknown timezone '%s'", api.Timezone)
	}
	return location, nil
}

type Search struct {
	Address  string       `env:"SEARCH_ADDRESS"`
	Username string       `env:"SEARCH_USERNAME" envDefault:""`
	Password string       `env:"SEARCH_PASSWORD" envDefault:""`
	Flavor   query.Flavor `env:"SEARCH_FLAVOR" envDefault:"opensearch"`
	// Backend version, used to select version-dependent query syntax. Empty assumes a recent
	// version.
	Version string `env:"SEARCH_VERSION" envDefault:""`
	// Index pattern that queries run against.
	Index                      string `env:"SEARCH_INDEX"`
	MaxConcurrentShardRequests int    `env:"SEARCH_MAX_CONCURRENT_SHARD_REQUESTS" envDefault:"5"`
	// Logs requests and responses to the search backend.
	Debug bool `env:"SEARCH_DEBUG_ENABLED" envDefault:"false"`
}

// Dialect parses the configured backend flavor and version.
func (search Search) Dialect() (query.Dialect, error) {
	return query.NewDialect(search.Flavor, search.Version)
}

// ReadFromEnv loads variables from a .env file if present, then parses the config from the
// environment.
func ReadFromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, wrap.Error(err, "failed to load .env file")
	}

	var config Config
	if err := env.ParseWithOptions(&config, env.Options{RequiredIfNoDef: true}); err != nil {
		return Config{}, wrap.Error(err, "invalid environment variables")
	}

	if _, err := config.Search.Dialect(); err != nil {
		return Config{}, wrap.Error(err, "invalid SEARCH_VERSION in env")
	}
	if _, err := config.API.Location(); err != nil {
		return Config{}, wrap.Error(err, "invalid API_TIMEZONE in env")
	}

	return config, nil
}
