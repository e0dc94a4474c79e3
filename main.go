package main

import (
	"log/slog"
	"net/http"
	"os"

	"hermannm.dev/devlog"
	"hermannm.dev/devlog/log"
	"hermannm.dev/searchanalysis/api"
	"hermannm.dev/searchanalysis/config"
	"hermannm.dev/searchanalysis/search"
)

func main() {
	var logLevel slog.LevelVar
	logHandler := devlog.NewHandler(os.Stdout, &devlog.Options{Level: &logLevel})
	slog.SetDefault(slog.New(logHandler))

	log.Info("loading environment variables...")
	conf, err := config.ReadFromEnv()
	if err != nil {
		log.ErrorCause(err, "failed to read config from env")
		os.Exit(1)
	}
	if conf.Debug {
		logLevel.Set(slog.LevelDebug)
	}

	dialect, err := conf.Search.Dialect()
	if err != nil {
		log.ErrorCause(err, "invalid search backend dialect")
		os.Exit(1)
	}

	location, err := conf.API.Location()
	if err != nil {
		log.ErrorCause(err, "invalid display timezone")
		os.Exit(1)
	}

	log.Infof("connecting to %s at %s...", conf.Search.Flavor, conf.Search.Address)
	client, err := search.NewClient(conf.Search)
	if err != nil {
		log.ErrorCause(err, "failed to initialize search client")
		os.Exit(1)
	}

	searchAPI := api.NewSearchAPI(client, http.DefaultServeMux, api.Config{
		Port:                       conf.API.Port,
		Dialect:                    dialect,
		Index:                      conf.Search.Index,
		MaxConcurrentShardRequests: conf.Search.MaxConcurrentShardRequests,
		Location:                   location,
	})

	log.Infof("listening on port %s...", conf.API.Port)
	if err := searchAPI.ListenAndServe(); err != nil {
		log.ErrorCause(err, "server stopped")
		os.Exit(1)
	}
}
