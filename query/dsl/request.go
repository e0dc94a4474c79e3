package dsl

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"hermannm.dev/searchanalysis/query"
	"hermannm.dev/wrap"
)

// Sorts map keys when encoding, so compiled requests are deterministic.
var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

type object = map[string]any

// Request is a compiled multi-search entry: a header line selecting the index, and the search body.
// The body may contain the $timeFrom, $timeTo and $__interval placeholders.
type Request struct {
	Header object `json:"header"`
	Body   object `json:"body"`
	// Metrics that were left out of the body, with the reason.
	Diagnostics []query.Diagnostic `json:"diagnostics,omitempty"`
}

// NDJSON encodes the request in the newline-delimited multi-search format.
func (request Request) NDJSON() ([]byte, error) {
	var buffer bytes.Buffer

	for _, line := range []object{request.Header, request.Body} {
		encoded, err := jsonCodec.Marshal(line)
		if err != nil {
			return nil, wrap.Error(err, "failed to encode search request")
		}
		buffer.Write(encoded)
		buffer.WriteByte('\n')
	}

	return buffer.Bytes(), nil
}

// ResolvePlaceholders encodes the request as NDJSON, replacing the time range placeholders with
// epoch milliseconds and the interval placeholder with the given bucket width.
func (request Request) ResolvePlaceholders(
	timeRange query.TimeRange,
	interval time.Duration,
) ([]byte, error) {
	encoded, err := request.NDJSON()
	if err != nil {
		return nil, err
	}

	replacer := strings.NewReplacer(
		query.TimeFromPlaceholder, strconv.FormatInt(timeRange.From.UnixMilli(), 10),
		query.TimeToPlaceholder, strconv.FormatInt(timeRange.To.UnixMilli(), 10),
		query.IntervalPlaceholder, query.FormatInterval(interval),
	)
	return []byte(replacer.Replace(string(encoded))), nil
}
