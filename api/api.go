package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"hermannm.dev/searchanalysis/query"
	"hermannm.dev/searchanalysis/query/ppl"
)

type SearchAPI struct {
	searcher Searcher
	router   *http.ServeMux
	config   Config
}

// Searcher sends compiled queries to the search backend, returning raw response bodies.
type Searcher interface {
	MultiSearch(ctx context.Context, ndjson []byte) ([]byte, error)
	PPL(ctx context.Context, request ppl.Request) ([]byte, error)
}

type Config struct {
	Port                       string
	Dialect                    query.Dialect
	Index                      string
	MaxConcurrentShardRequests int
	// Location of timestamps in PPL table output. nil means time.Local.
	Location *time.Location
}

func NewSearchAPI(searcher Searcher, router *http.ServeMux, config Config) SearchAPI {
	api := SearchAPI{searcher: searcher, router: router, config: config}

	api.router.HandleFunc("/compile", api.CompileQueries)
	api.router.HandleFunc("/query", api.RunQueries)
	api.router.HandleFunc("/healthz", api.HealthCheck)

	return api
}

func (api SearchAPI) ListenAndServe() error {
	return http.ListenAndServe(fmt.Sprintf(":%s", api.config.Port), api.router)
}

func (api SearchAPI) HealthCheck(res http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		sendMethodNotAllowed(res, http.MethodGet)
		return
	}

	sendJSON(res, map[string]string{"status": "ok"})
}
