package ppl

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"hermannm.dev/searchanalysis/query"
)

// Request is a compiled PPL query. The query text may contain the $timeFrom and $timeTo
// placeholders, see ResolvePlaceholders.
type Request struct {
	Query string `json:"query"`
	// Format that responses to the request should be decoded with.
	Format query.Format `json:"-"`
	// Ad-hoc filters that could not be expressed in PPL.
	Diagnostics []query.Diagnostic `json:"-"`
}

type Options struct {
	// Index used in the source command when the query text is empty.
	Index string
}

// TimestampLayout is the layout of timestamp literals in compiled queries, always in UTC.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// Compile adds the time range and ad-hoc filters of the query to its PPL text.
func Compile(
	q query.Query,
	adHocFilters []query.AdHocFilter,
	options Options,
) (Request, error) {
	request := Request{Format: q.Format}
	if !request.Format.IsValid() {
		request.Format = query.FormatTable
	}

	text := strings.TrimSpace(q.QueryString)
	if text == "" {
		if options.Index == "" {
			return Request{}, &query.InvalidQueryError{Reason: "PPL query has no source index"}
		}
		text = "source = " + options.Index
	}

	var conditions []string
	for _, filter := range adHocFilters {
		operator, ok := filterOperators[filter.Operator]
		if !ok {
			request.Diagnostics = append(request.Diagnostics, query.Diagnostic{
				Source:  fmt.Sprintf("ad-hoc filter on '%s'", filter.Key),
				Message: fmt.Sprintf("operator '%s' is not supported in PPL", filter.Operator),
			})
			continue
		}

		conditions = append(
			conditions,
			fmt.Sprintf("`%s` %s %s", filter.Key, operator, literal(filter.Value)),
		)
	}
	if len(conditions) != 0 {
		text += " | where " + strings.Join(conditions, " and ")
	}

	if q.TimeField == "" {
		return Request{}, &query.InvalidQueryError{Reason: "PPL query has no time field"}
	}
	request.Query = withTimeRange(text, q.TimeField)

	return request, nil
}

var filterOperators = map[query.FilterOperator]string{
	query.FilterOperatorEquals:      "=",
	query.FilterOperatorNotEquals:   "!=",
	query.FilterOperatorLessThan:    "<",
	query.FilterOperatorGreaterThan: ">",
}

// withTimeRange inserts the time range condition right after the source command.
func withTimeRange(text string, timeField string) string {
	timeRange := fmt.Sprintf(
		"where `%s` >= timestamp('%s') and `%s` <= timestamp('%s')",
		timeField,
		query.TimeFromPlaceholder,
		timeField,
		query.TimeToPlaceholder,
	)

	source, stages, hasStages := strings.Cut(text, "|")
	if !hasStages {
		return text + " | " + timeRange
	}
	return strings.TrimRight(source, " ") + " | " + timeRange + " |" + stages
}

// literal formats an ad-hoc filter value: numbers and booleans as-is, datetimes as timestamp
// literals, and anything else as a quoted string.
func literal(value any) string {
	switch value := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return cast.ToString(value)
	case time.Time:
		return timestampLiteral(value)
	}

	text := cast.ToString(value)
	if _, err := cast.ToFloat64E(text); err == nil {
		return text
	}
	if timestamp, err := cast.ToTimeInDefaultLocationE(text, time.UTC); err == nil {
		return timestampLiteral(timestamp)
	}
	return "'" + strings.ReplaceAll(text, "'", "''") + "'"
}

func timestampLiteral(timestamp time.Time) string {
	return "timestamp('" + timestamp.UTC().Format(TimestampLayout) + "')"
}

// ResolvePlaceholders returns a copy of the request with the time range filled in.
func (request Request) ResolvePlaceholders(timeRange query.TimeRange) Request {
	replacer := strings.NewReplacer(
		query.TimeFromPlaceholder, timeRange.From.UTC().Format(TimestampLayout),
		query.TimeToPlaceholder, timeRange.To.UTC().Format(TimestampLayout),
	)
	request.Query = replacer.Replace(request.Query)
	return request
}
