package api

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"hermannm.dev/devlog/log"
	"hermannm.dev/searchanalysis/query"
	"hermannm.dev/searchanalysis/query/dsl"
	"hermannm.dev/searchanalysis/query/ppl"
	"hermannm.dev/wrap"
)

type compileRequest struct {
	Queries      []query.Query       `json:"queries"`
	AdHocFilters []query.AdHocFilter `json:"adHocFilters"`
}

type compiledQuery struct {
	RefID string `json:"refId"`
	// Set for Lucene queries.
	MultiSearch *dsl.Request `json:"multiSearch,omitempty"`
	// Set for PPL queries.
	PPL         string             `json:"ppl,omitempty"`
	Diagnostics []query.Diagnostic `json:"diagnostics,omitempty"`
}

// Expects:
//   - body: JSON-encoded compileRequest
//
// Returns:
//   - JSON-encoded list of compiledQuery, with time range and interval placeholders unresolved
func (api SearchAPI) CompileQueries(res http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		sendMethodNotAllowed(res, http.MethodPost)
		return
	}

	var body compileRequest
	if err := jsonCodec.NewDecoder(req.Body).Decode(&body); err != nil {
		sendClientError(res, err, "failed to parse queries from request body")
		return
	}
	queries, err := prepareQueries(body.Queries)
	if err != nil {
		sendClientError(res, err, "")
		return
	}

	compiled := make([]compiledQuery, 0, len(queries))
	for _, q := range queries {
		if q.QueryType == query.QueryTypePPL {
			request, err := ppl.Compile(q, body.AdHocFilters, ppl.Options{Index: api.config.Index})
			if err != nil {
				sendQueryError(res, err, "failed to compile PPL query")
				return
			}
			compiled = append(compiled, compiledQuery{
				RefID:       q.RefID,
				PPL:         request.Query,
				Diagnostics: request.Diagnostics,
			})
		} else {
			request, err := dsl.Compile(q, body.AdHocFilters, api.dslOptions())
			if err != nil {
				sendQueryError(res, err, "failed to compile query")
				return
			}
			compiled = append(compiled, compiledQuery{
				RefID:       q.RefID,
				MultiSearch: &request,
				Diagnostics: request.Diagnostics,
			})
		}
	}

	sendJSON(res, compiled)
}

type queryRequest struct {
	Queries      []query.Query       `json:"queries"`
	AdHocFilters []query.AdHocFilter `json:"adHocFilters"`
	Range        query.TimeRange     `json:"range"`
	// Width of date histogram buckets with "auto" interval, as a Go duration string. Derived from
	// the time range if empty.
	Interval string `json:"interval"`
	// Shape of decoded Lucene responses. Defaults to time series. PPL queries use their own format.
	Mode query.Format `json:"mode"`
}

type queryResponse struct {
	Series      []query.Series     `json:"series"`
	Diagnostics []query.Diagnostic `json:"diagnostics,omitempty"`
}

// Number of buckets that a derived interval aims for.
const targetDataPoints = 1000

// Expects:
//   - body: JSON-encoded queryRequest
//
// Returns:
//   - JSON-encoded queryResponse
func (api SearchAPI) RunQueries(res http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		sendMethodNotAllowed(res, http.MethodPost)
		return
	}

	var body queryRequest
	if err := jsonCodec.NewDecoder(req.Body).Decode(&body); err != nil {
		sendClientError(res, err, "failed to parse query request from request body")
		return
	}
	queries, err := prepareQueries(body.Queries)
	if err != nil {
		sendClientError(res, err, "")
		return
	}
	if !body.Range.To.After(body.Range.From) {
		sendClientError(res, nil, "time range 'to' must be after 'from'")
		return
	}
	interval, err := body.interval()
	if err != nil {
		sendClientError(res, err, "invalid interval")
		return
	}
	mode := body.Mode
	if !mode.IsValid() {
		mode = query.FormatTimeSeries
	}

	var response queryResponse
	var luceneQueries []query.Query
	var multiSearch bytes.Buffer

	for _, q := range queries {
		if q.QueryType == query.QueryTypePPL {
			series, diagnostics, err := api.runPPLQuery(req, q, body)
			if err != nil {
				sendQueryError(res, err, "failed to run PPL query")
				return
			}
			response.Series = append(response.Series, series...)
			response.Diagnostics = append(response.Diagnostics, diagnostics...)
			continue
		}

		request, err := dsl.Compile(q, body.AdHocFilters, api.dslOptions())
		if err != nil {
			sendQueryError(res, err, "failed to compile query")
			return
		}
		payload, err := request.ResolvePlaceholders(body.Range, interval)
		if err != nil {
			sendServerError(res, err, "failed to encode query")
			return
		}

		luceneQueries = append(luceneQueries, q)
		multiSearch.Write(payload)
		response.Diagnostics = append(response.Diagnostics, request.Diagnostics...)
	}

	if len(luceneQueries) != 0 {
		log.Debug(
			"running multi-search",
			slog.Int("queries", len(luceneQueries)),
			slog.Duration("interval", interval),
		)

		responseBody, err := api.searcher.MultiSearch(req.Context(), multiSearch.Bytes())
		if err != nil {
			sendServerError(res, err, "multi-search failed")
			return
		}

		series, err := dsl.DecodeMultiSearch(luceneQueries, responseBody, mode)
		if err != nil {
			sendQueryError(res, err, "failed to decode search response")
			return
		}
		response.Series = append(response.Series, series...)
	}

	sendJSON(res, response)
}

func (api SearchAPI) runPPLQuery(
	req *http.Request,
	q query.Query,
	body queryRequest,
) ([]query.Series, []query.Diagnostic, error) {
	request, err := ppl.Compile(q, body.AdHocFilters, ppl.Options{Index: api.config.Index})
	if err != nil {
		return nil, nil, err
	}

	responseBody, err := api.searcher.PPL(req.Context(), request.ResolvePlaceholders(body.Range))
	if err != nil {
		return nil, nil, err
	}

	series, err := ppl.Decode(
		q,
		responseBody,
		request.Format,
		ppl.DecodeOptions{Location: api.config.Location},
	)
	if err != nil {
		return nil, nil, err
	}
	return series, request.Diagnostics, nil
}

func (api SearchAPI) dslOptions() dsl.Options {
	return dsl.Options{
		Dialect:                    api.config.Dialect,
		Index:                      api.config.Index,
		MaxConcurrentShardRequests: api.config.MaxConcurrentShardRequests,
	}
}

func (body queryRequest) interval() (time.Duration, error) {
	if body.Interval != "" {
		interval, err := time.ParseDuration(body.Interval)
		if err != nil {
			return 0, err
		}
		if interval <= 0 {
			return 0, errors.New("interval must be positive")
		}
		return interval, nil
	}

	interval := body.Range.To.Sub(body.Range.From) / targetDataPoints
	interval = interval.Truncate(time.Millisecond)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return interval, nil
}

// prepareQueries assigns request IDs to queries without one, and validates them.
func prepareQueries(queries []query.Query) ([]query.Query, error) {
	if len(queries) == 0 {
		return nil, errors.New("request has no queries")
	}

	prepared := make([]query.Query, 0, len(queries))
	var errs []error
	for i, q := range queries {
		if q.RefID == "" {
			q.RefID = uuid.NewString()
		}

		if queryErrs := q.Validate(); len(queryErrs) != 0 {
			errs = append(errs, wrap.Errors("query "+q.RefID, queryErrs...))
		}
		if q.TimeField == "" {
			errs = append(errs, wrap.Errorf(errors.New("missing timeField"), "query %d", i))
		}

		prepared = append(prepared, q)
	}

	if len(errs) != 0 {
		return nil, wrap.Errors("invalid queries", errs...)
	}
	return prepared, nil
}
