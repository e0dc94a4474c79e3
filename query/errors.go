package query

import (
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
)

// InvalidQueryError is returned when a query definition cannot be compiled, even after filling
// in default metrics and bucket aggregations.
type InvalidQueryError struct {
	Reason string
}

func (err *InvalidQueryError) Error() string {
	if err.Reason == "" {
		return "invalid query"
	}
	return "invalid query: " + err.Reason
}

type InvalidSortOrderError struct {
	Order string
}

func (err *InvalidSortOrderError) Error() string {
	return fmt.Sprintf("invalid sort order '%s' (must be 'asc' or 'desc')", err.Order)
}

type InvalidSortFieldError struct {
	Field string
}

func (err *InvalidSortFieldError) Error() string {
	return fmt.Sprintf(
		"invalid terms order field '%s' (must be '_term', '_count' or a metric ID)", err.Field,
	)
}

// BackendError is a failure reported by the search backend inside an otherwise well-formed
// response body.
type BackendError struct {
	Reason string
	// Raw is the error object as returned by the backend, kept for diagnostics.
	Raw json.RawMessage
}

func (err *BackendError) Error() string {
	return err.Reason
}

// InvalidTimeSeriesQueryError is returned when a columnar response cannot be read as a two-column
// time/value series.
type InvalidTimeSeriesQueryError struct {
	Reason string
}

func (err *InvalidTimeSeriesQueryError) Error() string {
	return "invalid time series query: " + err.Reason
}

// UnknownBackendErrorReason is used when a backend error object carries no reason.
const UnknownBackendErrorReason = "Unknown elastic error response"

// NewBackendError reads the error object of a response body. The reason is the first root cause's
// reason if present, otherwise the top-level reason.
func NewBackendError(raw json.RawMessage) *BackendError {
	backendErr := &BackendError{Reason: UnknownBackendErrorReason, Raw: raw}

	// Some endpoints report errors as a plain string.
	var message string
	if err := jsonCodec.Unmarshal(raw, &message); err == nil {
		if message != "" {
			backendErr.Reason = message
		}
		return backendErr
	}

	var cause types.ErrorCause
	if err := jsonCodec.Unmarshal(raw, &cause); err != nil {
		return backendErr
	}

	if len(cause.RootCause) > 0 && cause.RootCause[0].Reason != nil &&
		*cause.RootCause[0].Reason != "" {
		backendErr.Reason = *cause.RootCause[0].Reason
	} else if cause.Reason != nil && *cause.Reason != "" {
		backendErr.Reason = *cause.Reason
	}

	return backendErr
}

// HasError is true if the given raw error field of a response is present and not null.
func HasError(raw json.RawMessage) bool {
	return len(raw) != 0 && string(raw) != "null"
}
