package api

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"hermannm.dev/devlog/log"
	"hermannm.dev/searchanalysis/query"
	"hermannm.dev/wrap"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

func sendJSON(res http.ResponseWriter, value any) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(http.StatusOK)

	if err := jsonCodec.NewEncoder(res).Encode(value); err != nil {
		log.ErrorCause(err, "failed to serialize response")
	}
}

func sendClientError(res http.ResponseWriter, err error, message string) {
	sendError(res, err, message, http.StatusBadRequest)
}

func sendServerError(res http.ResponseWriter, err error, message string) {
	sendError(res, err, message, http.StatusInternalServerError)
	log.ErrorCause(err, message)
}

// sendQueryError sends errors that the query compilers and decoders classify as client errors
// with status 400, and any other error with status 500.
func sendQueryError(res http.ResponseWriter, err error, message string) {
	var invalidQueryErr *query.InvalidQueryError
	var sortOrderErr *query.InvalidSortOrderError
	var sortFieldErr *query.InvalidSortFieldError
	var backendErr *query.BackendError
	var timeSeriesErr *query.InvalidTimeSeriesQueryError

	switch {
	case errors.As(err, &invalidQueryErr),
		errors.As(err, &sortOrderErr),
		errors.As(err, &sortFieldErr),
		errors.As(err, &backendErr),
		errors.As(err, &timeSeriesErr):
		sendClientError(res, err, message)
	default:
		sendServerError(res, err, message)
	}
}

func sendMethodNotAllowed(res http.ResponseWriter, allowed string) {
	res.Header().Set("Allow", allowed)
	sendError(res, nil, "method not allowed", http.StatusMethodNotAllowed)
}

type errorResponse struct {
	Error string `json:"error"`
}

func sendError(res http.ResponseWriter, err error, message string, statusCode int) {
	if err != nil {
		if message == "" {
			message = err.Error()
		} else {
			message = wrap.Error(err, message).Error()
		}
	}

	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(statusCode)
	if encodeErr := jsonCodec.NewEncoder(res).Encode(errorResponse{Error: message}); encodeErr != nil {
		log.ErrorCause(encodeErr, "failed to serialize error response")
	}
}
