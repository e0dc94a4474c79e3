package dsl

import (
	"fmt"

	"github.com/spf13/cast"
	"hermannm.dev/searchanalysis/query"
)

const (
	DefaultTermsSize    = 500
	DefaultDocumentSize = 500
)

type Options struct {
	Dialect query.Dialect
	// Index pattern to search. Empty searches all indices.
	Index string
	// Only sent to backends that support it. 0 leaves the backend default.
	MaxConcurrentShardRequests int
}

// Compile builds the multi-search request for the given query. The time range and interval are
// left as placeholders, see Request.ResolvePlaceholders.
//
// Pipeline metrics whose references cannot be resolved are left out of the request, and reported
// in Request.Diagnostics.
func Compile(
	q query.Query,
	adHocFilters []query.AdHocFilter,
	options Options,
) (Request, error) {
	q = q.WithDefaults()

	compiler := compiler{
		query:        q,
		capabilities: options.Dialect.Capabilities(),
	}

	request := Request{Header: compiler.header(options)}

	if document, ok := q.DocumentMetric(); ok {
		request.Body = compiler.documentQuery(document, adHocFilters)
		return request, nil
	}

	if len(q.BucketAggregations) == 0 {
		return Request{}, &query.InvalidQueryError{
			Reason: "query has no bucket aggregations and no raw document metric",
		}
	}

	filter := compiler.filterQuery(adHocFilters, true)
	request.Body = object{"size": 0, "query": object{"bool": filter.toJSON()}}

	deepest := request.Body
	for _, agg := range q.BucketAggregations {
		node, err := compiler.bucketAggregation(agg)
		if err != nil {
			return Request{}, err
		}

		childAggregations(deepest)[agg.ID] = node
		deepest = node
	}

	metrics := childAggregations(deepest)
	for _, metric := range q.MetricAggregations {
		body, diagnostic := compiler.metricAggregation(metric)
		if diagnostic != nil {
			request.Diagnostics = append(request.Diagnostics, *diagnostic)
			continue
		}
		if body == nil {
			continue
		}

		metrics[metric.ID] = object{metric.Kind().String(): body}
	}

	return request, nil
}

type compiler struct {
	query        query.Query
	capabilities query.Capabilities
}

func (compiler compiler) header(options Options) object {
	header := object{
		"search_type":        "query_then_fetch",
		"ignore_unavailable": true,
	}
	if options.Index != "" {
		header["index"] = options.Index
	}
	if compiler.capabilities.SupportsMaxConcurrentShardRequests &&
		options.MaxConcurrentShardRequests > 0 {
		header["max_concurrent_shard_requests"] = options.MaxConcurrentShardRequests
	}
	return header
}

// childAggregations returns the "aggs" object of the given node, adding it if missing.
func childAggregations(node object) object {
	if aggs, ok := node["aggs"].(object); ok {
		return aggs
	}
	aggs := object{}
	node["aggs"] = aggs
	return aggs
}

type boolQuery struct {
	filter  []any
	must    []any
	mustNot []any
}

func (boolQuery boolQuery) toJSON() object {
	encoded := object{"filter": boolQuery.filter}
	if len(boolQuery.must) != 0 {
		encoded["must"] = boolQuery.must
	}
	if len(boolQuery.mustNot) != 0 {
		encoded["must_not"] = boolQuery.mustNot
	}
	return encoded
}

func (compiler compiler) filterQuery(
	adHocFilters []query.AdHocFilter,
	useTimeRange bool,
) boolQuery {
	var filter boolQuery

	if useTimeRange {
		filter.filter = append(filter.filter, object{
			"range": object{
				compiler.query.TimeField: object{
					"gte":    query.TimeFromPlaceholder,
					"lte":    query.TimeToPlaceholder,
					"format": "epoch_millis",
				},
			},
		})
	}

	queryString := compiler.query.QueryString
	if queryString == "" {
		queryString = "*"
	}
	filter.filter = append(filter.filter, object{
		"query_string": object{"analyze_wildcard": true, "query": queryString},
	})

	for _, adHocFilter := range adHocFilters {
		key, value := adHocFilter.Key, adHocFilter.Value

		switch adHocFilter.Operator {
		case query.FilterOperatorEquals:
			filter.must = append(filter.must, matchPhrase(key, value))
		case query.FilterOperatorNotEquals:
			filter.mustNot = append(filter.mustNot, matchPhrase(key, value))
		case query.FilterOperatorLessThan:
			filter.filter = append(filter.filter, object{"range": object{key: object{"lt": value}}})
		case query.FilterOperatorGreaterThan:
			filter.filter = append(filter.filter, object{"range": object{key: object{"gt": value}}})
		case query.FilterOperatorRegexMatch:
			filter.filter = append(filter.filter, object{"regexp": object{key: value}})
		case query.FilterOperatorRegexNotMatch:
			filter.filter = append(filter.filter, object{
				"bool": object{"must_not": object{"regexp": object{key: value}}},
			})
		}
	}

	return filter
}

func matchPhrase(key string, value any) object {
	return object{"match_phrase": object{key: object{"query": value}}}
}

func (compiler compiler) documentQuery(
	document query.DocumentSettings,
	adHocFilters []query.AdHocFilter,
) object {
	size := document.Size
	if size <= 0 {
		size = DefaultDocumentSize
	}
	order := document.Order
	if !order.IsValid() {
		order = query.SortOrderDescending
	}

	filter := compiler.filterQuery(adHocFilters, document.UseTimeRange)

	body := object{
		"size":  size,
		"query": object{"bool": filter.toJSON()},
		"sort": object{
			compiler.query.TimeField: object{"order": order.String(), "unmapped_type": "boolean"},
		},
		"script_fields": object{},
	}

	if compiler.capabilities.SupportsFieldsList {
		body["fields"] = []string{"*", "_source"}
	}

	if document.Type == query.MetricKindLogs {
		body["highlight"] = object{
			"fields":        object{"*": object{}},
			"pre_tags":      []string{HighlightPreTag},
			"post_tags":     []string{HighlightPostTag},
			"fragment_size": 2147483647,
		}
	}

	return body
}

// Tags wrapping highlighted matches in log documents.
const (
	HighlightPreTag  = "@HIGHLIGHT@"
	HighlightPostTag = "@/HIGHLIGHT@"
)

func (compiler compiler) bucketAggregation(agg query.BucketAggregation) (object, error) {
	switch settings := agg.Settings.(type) {
	case query.TermsSettings:
		return compiler.termsAggregation(agg.Field, settings)
	case query.HistogramSettings:
		histogram := object{
			"field":         agg.Field,
			"interval":      numberOrString(settings.Interval),
			"min_doc_count": settings.MinDocCount,
		}
		if settings.Missing != "" {
			histogram["missing"] = settings.Missing
		}
		return object{"histogram": histogram}, nil
	case query.DateHistogramSettings:
		return object{"date_histogram": compiler.dateHistogram(agg.Field, settings)}, nil
	case query.FiltersSettings:
		filters := make(object, len(settings.Filters))
		for _, filter := range settings.Filters {
			filters[filter.Name()] = object{
				"query_string": object{"query": filter.Query, "analyze_wildcard": true},
			}
		}
		return object{"filters": object{"filters": filters}}, nil
	case query.GeoHashGridSettings:
		return object{
			"geohash_grid": object{"field": agg.Field, "precision": settings.Precision},
		}, nil
	default:
		return nil, &query.InvalidQueryError{
			Reason: fmt.Sprintf("bucket aggregation '%s' has no valid type", agg.ID),
		}
	}
}

func (compiler compiler) termsAggregation(
	field string,
	settings query.TermsSettings,
) (object, error) {
	size := settings.Size
	if size <= 0 {
		size = DefaultTermsSize
	}

	terms := object{"field": field, "size": size}
	if settings.MinDocCount != nil {
		terms["min_doc_count"] = *settings.MinDocCount
	}
	if settings.Missing != "" {
		terms["missing"] = settings.Missing
	}

	node := object{"terms": terms}

	if !settings.OrderBy.IsSet() {
		return node, nil
	}

	order := settings.Order
	if order == 0 {
		order = query.SortOrderDescending
	} else if !order.IsValid() {
		return nil, &query.InvalidSortOrderError{Order: order.String()}
	}

	var orderKey string
	switch {
	case settings.OrderBy.IsTerm():
		orderKey = compiler.capabilities.TermsOrderKey
	case settings.OrderBy.IsCount():
		orderKey = query.CountBucketPath
	default:
		metricID, _ := settings.OrderBy.MetricID()
		metric, found := query.FindMetric(compiler.query.MetricAggregations, metricID)
		if !found {
			return nil, &query.InvalidSortFieldError{Field: metricID}
		}

		switch metric.Settings.(type) {
		case query.CountSettings, nil:
			orderKey = query.CountBucketPath
		case query.FieldStatSettings:
			// The backend can only order by aggregations that are children of the terms node.
			orderKey = metric.ID
			childAggregations(node)[metric.ID] = object{
				metric.Kind().String(): object{"field": metric.Field},
			}
		default:
			return nil, &query.InvalidSortFieldError{Field: metricID}
		}
	}

	terms["order"] = object{orderKey: order.String()}
	return node, nil
}

func (compiler compiler) dateHistogram(
	field string,
	settings query.DateHistogramSettings,
) object {
	if field == "" {
		field = compiler.query.TimeField
	}

	interval := settings.Interval
	if interval == "" || interval == query.AutoInterval {
		interval = query.IntervalPlaceholder
	}

	dateHistogram := object{
		"field":         field,
		"interval":      interval,
		"min_doc_count": settings.MinDocCount,
		"extended_bounds": object{
			"min": query.TimeFromPlaceholder,
			"max": query.TimeToPlaceholder,
		},
		"format": "epoch_millis",
	}
	if settings.Offset != "" {
		dateHistogram["offset"] = settings.Offset
	}
	if settings.Missing != "" {
		dateHistogram["missing"] = settings.Missing
	}
	return dateHistogram
}

// metricAggregation returns the body of the metric's aggregation node, or nil if the metric needs
// no node. A non-nil diagnostic means the metric was dropped.
func (compiler compiler) metricAggregation(
	metric query.MetricAggregation,
) (body object, diagnostic *query.Diagnostic) {
	metrics := compiler.query.MetricAggregations

	switch settings := metric.Settings.(type) {
	case query.FieldStatSettings:
		return fieldMetric(metric.Field, settings.Extra), nil
	case query.PercentilesSettings:
		body = fieldMetric(metric.Field, settings.Extra)
		if settings.Percents != nil {
			body["percents"] = settings.Percents
		}
		return body, nil
	case query.ExtendedStatsSettings:
		return fieldMetric(metric.Field, settings.Extra), nil
	case query.PipelineSettings:
		bucketPath, ok := settings.Ref.Resolve(metrics)
		if !ok {
			return nil, droppedMetric(
				metric,
				fmt.Sprintf("referenced metric '%s' not found", settings.Ref),
			)
		}

		body = withExtra(object{}, settings.Extra)
		body["buckets_path"] = bucketPath
		return body, nil
	case query.BucketScriptSettings:
		if settings.Variables == nil {
			return nil, droppedMetric(metric, "bucket script has no variables")
		}

		bucketPaths := make(object, len(settings.Variables))
		for _, variable := range settings.Variables {
			if variable.Name == "" {
				continue
			}

			bucketPath, ok := variable.Ref.Resolve(metrics)
			if !ok {
				return nil, droppedMetric(
					metric,
					fmt.Sprintf(
						"metric '%s' referenced by variable '%s' not found",
						variable.Ref,
						variable.Name,
					),
				)
			}
			bucketPaths[variable.Name] = bucketPath
		}

		body = withExtra(object{}, settings.Extra)
		body["buckets_path"] = bucketPaths
		if settings.Script != "" {
			body["script"] = settings.Script
		}
		return body, nil
	default:
		// Count is always available on buckets, and document metrics are not aggregations.
		return nil, nil
	}
}

func fieldMetric(field string, extra map[string]any) object {
	body := withExtra(object{}, extra)
	if field != "" {
		body["field"] = field
	}
	return body
}

func withExtra(body object, extra map[string]any) object {
	for key, value := range extra {
		body[key] = value
	}
	return body
}

func droppedMetric(metric query.MetricAggregation, reason string) *query.Diagnostic {
	return &query.Diagnostic{
		Source:  fmt.Sprintf("metric '%s' (%s)", metric.ID, metric.Kind()),
		Message: reason,
	}
}

// numberOrString sends numeric settings as JSON numbers, since the editor stores them as strings.
func numberOrString(value string) any {
	if number, err := cast.ToFloat64E(value); err == nil && value != "" {
		return number
	}
	return value
}
