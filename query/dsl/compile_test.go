package dsl

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"hermannm.dev/searchanalysis/query"
)

func parseQuery(t *testing.T, rawQuery string) query.Query {
	t.Helper()

	var q query.Query
	require.NoError(t, json.Unmarshal([]byte(rawQuery), &q))
	return q
}

func compile(t *testing.T, rawQuery string, adHocFilters ...query.AdHocFilter) Request {
	t.Helper()

	request, err := Compile(parseQuery(t, rawQuery), adHocFilters, Options{})
	require.NoError(t, err)
	return request
}

// requireJSON checks the JSON encoding of the node at the given path of nested objects.
func requireJSON(t *testing.T, expected string, node object, path ...string) {
	t.Helper()

	for _, key := range path {
		child, ok := node[key].(object)
		require.Truef(t, ok, "expected object at key '%s' of path %v", key, path)
		node = child
	}

	encoded, err := jsonCodec.Marshal(node)
	require.NoError(t, err)
	require.JSONEq(t, expected, string(encoded))
}

func TestCompileDefaultQuery(t *testing.T) {
	request := compile(t, `{"refId": "A", "query": "", "timeField": "@timestamp"}`)

	requireJSON(t, `{
		"size": 0,
		"query": {
			"bool": {
				"filter": [
					{"range": {"@timestamp": {"gte": "$timeFrom", "lte": "$timeTo", "format": "epoch_millis"}}},
					{"query_string": {"analyze_wildcard": true, "query": "*"}}
				]
			}
		},
		"aggs": {
			"2": {
				"date_histogram": {
					"field": "@timestamp",
					"interval": "$__interval",
					"min_doc_count": 0,
					"extended_bounds": {"min": "$timeFrom", "max": "$timeTo"},
					"format": "epoch_millis"
				},
				"aggs": {}
			}
		}
	}`, request.Body)
	require.Empty(t, request.Diagnostics)
}

func TestCompileTermsAndDateHistogram(t *testing.T) {
	request := compile(t, `{
		"query": "status:500",
		"timeField": "@timestamp",
		"metrics": [{"id": "1", "type": "avg", "field": "bytes", "settings": {"missing": 0}}],
		"bucketAggs": [
			{
				"id": "3",
				"type": "terms",
				"field": "host",
				"settings": {"size": "10", "order": "asc", "orderBy": "1", "min_doc_count": "1"}
			},
			{
				"id": "2",
				"type": "date_histogram",
				"field": "@timestamp",
				"settings": {"interval": "1m", "offset": "30s"}
			}
		]
	}`)

	requireJSON(
		t,
		`{"field": "host", "size": 10, "min_doc_count": 1, "order": {"1": "asc"}}`,
		request.Body,
		"aggs", "3", "terms",
	)
	requireJSON(t, `{"avg": {"field": "bytes"}}`, request.Body, "aggs", "3", "aggs", "1")
	requireJSON(t, `{
		"field": "@timestamp",
		"interval": "1m",
		"offset": "30s",
		"min_doc_count": 0,
		"extended_bounds": {"min": "$timeFrom", "max": "$timeTo"},
		"format": "epoch_millis"
	}`, request.Body, "aggs", "3", "aggs", "2", "date_histogram")
	requireJSON(
		t,
		`{"1": {"avg": {"field": "bytes", "missing": 0}}}`,
		request.Body,
		"aggs", "3", "aggs", "2", "aggs",
	)
}

func TestCompileTermsDefaultSize(t *testing.T) {
	request := compile(t, `{
		"timeField": "@timestamp",
		"bucketAggs": [{"id": "2", "type": "terms", "field": "host", "settings": {"size": "0"}}]
	}`)

	requireJSON(t, `{"field": "host", "size": 500}`, request.Body, "aggs", "2", "terms")
}

func TestCompileTermsOrderKeyByDialect(t *testing.T) {
	q := parseQuery(t, `{
		"timeField": "@timestamp",
		"bucketAggs": [{"id": "2", "type": "terms", "field": "host", "settings": {"orderBy": "_term"}}]
	}`)

	testCases := []struct {
		flavor           query.Flavor
		version          string
		expectedOrderKey string
	}{
		{flavor: query.FlavorElasticsearch, version: "5.6.0", expectedOrderKey: "_term"},
		{flavor: query.FlavorElasticsearch, version: "7.10.2", expectedOrderKey: "_key"},
		{flavor: query.FlavorOpenSearch, version: "2.11.0", expectedOrderKey: "_key"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.flavor.String()+" "+testCase.version, func(t *testing.T) {
			dialect, err := query.NewDialect(testCase.flavor, testCase.version)
			require.NoError(t, err)

			request, err := Compile(q, nil, Options{Dialect: dialect})
			require.NoError(t, err)

			requireJSON(
				t,
				`{"`+testCase.expectedOrderKey+`": "desc"}`,
				request.Body,
				"aggs", "2", "terms", "order",
			)
		})
	}
}

func TestCompileTermsOrderByUnknownMetric(t *testing.T) {
	q := parseQuery(t, `{
		"timeField": "@timestamp",
		"bucketAggs": [{"id": "2", "type": "terms", "field": "host", "settings": {"orderBy": "5"}}]
	}`)

	_, err := Compile(q, nil, Options{})

	var sortFieldErr *query.InvalidSortFieldError
	require.ErrorAs(t, err, &sortFieldErr)
	require.Equal(t, "5", sortFieldErr.Field)
}

func TestCompileMaxConcurrentShardRequests(t *testing.T) {
	q := parseQuery(t, `{"timeField": "@timestamp"}`)

	openSearch, err := query.NewDialect(query.FlavorOpenSearch, "2.11.0")
	require.NoError(t, err)
	request, err := Compile(
		q,
		nil,
		Options{Dialect: openSearch, Index: "logs-*", MaxConcurrentShardRequests: 5},
	)
	require.NoError(t, err)
	requireJSON(t, `{
		"search_type": "query_then_fetch",
		"ignore_unavailable": true,
		"index": "logs-*",
		"max_concurrent_shard_requests": 5
	}`, request.Header)

	elasticsearch7, err := query.NewDialect(query.FlavorElasticsearch, "7.10.0")
	require.NoError(t, err)
	request, err = Compile(q, nil, Options{Dialect: elasticsearch7, MaxConcurrentShardRequests: 5})
	require.NoError(t, err)
	require.NotContains(t, request.Header, "max_concurrent_shard_requests")
}

func TestCompileDerivativeOfCount(t *testing.T) {
	request := compile(t, `{
		"timeField": "@timestamp",
		"metrics": [
			{"id": "1", "type": "count"},
			{"id": "3", "type": "derivative", "pipelineAgg": "1", "settings": {"unit": "1m"}}
		]
	}`)

	requireJSON(
		t,
		`{"3": {"derivative": {"buckets_path": "_count", "unit": "1m"}}}`,
		request.Body,
		"aggs", "2", "aggs",
	)
}

func TestCompilePipelineReferences(t *testing.T) {
	request := compile(t, `{
		"timeField": "@timestamp",
		"metrics": [
			{"id": "1", "type": "avg", "field": "bytes"},
			{"id": "3", "type": "moving_avg", "pipelineAgg": "1"},
			{"id": "4", "type": "cumulative_sum", "settings": {"buckets_path": "1.value"}},
			{
				"id": "5",
				"type": "bucket_script",
				"pipelineVariables": [
					{"name": "var1", "pipelineAgg": "1"},
					{"name": "var2", "pipelineAgg": "6"}
				],
				"settings": {"script": "params.var1 * params.var2"}
			},
			{"id": "6", "type": "count"}
		]
	}`)

	requireJSON(t, `{
		"1": {"avg": {"field": "bytes"}},
		"3": {"moving_avg": {"buckets_path": "1"}},
		"4": {"cumulative_sum": {"buckets_path": "1.value"}},
		"5": {
			"bucket_script": {
				"buckets_path": {"var1": "1", "var2": "_count"},
				"script": "params.var1 * params.var2"
			}
		}
	}`, request.Body, "aggs", "2", "aggs")
}

func TestCompileDropsUnresolvablePipelineMetrics(t *testing.T) {
	request := compile(t, `{
		"timeField": "@timestamp",
		"metrics": [
			{"id": "1", "type": "count"},
			{"id": "3", "type": "derivative", "pipelineAgg": "9"},
			{"id": "4", "type": "bucket_script", "settings": {"script": "params.x"}},
			{
				"id": "5",
				"type": "bucket_script",
				"pipelineVariables": [{"name": "x", "pipelineAgg": "8"}],
				"settings": {"script": "params.x"}
			}
		]
	}`)

	requireJSON(t, `{}`, request.Body, "aggs", "2", "aggs")
	require.Len(t, request.Diagnostics, 3)
	require.Contains(t, request.Diagnostics[0].Source, "'3'")
	require.Contains(t, request.Diagnostics[1].Source, "'4'")
	require.Contains(t, request.Diagnostics[2].Source, "'5'")
}

func TestCompileMultiValueMetrics(t *testing.T) {
	request := compile(t, `{
		"timeField": "@timestamp",
		"metrics": [
			{"id": "1", "type": "percentiles", "field": "latency", "settings": {"percents": ["50", "95"]}},
			{"id": "3", "type": "extended_stats", "field": "latency", "settings": {"sigma": 2}},
			{"id": "4", "type": "cardinality", "field": "user", "settings": {"precision_threshold": null}}
		]
	}`)

	requireJSON(t, `{
		"1": {"percentiles": {"field": "latency", "percents": ["50", "95"]}},
		"3": {"extended_stats": {"field": "latency", "sigma": 2}},
		"4": {"cardinality": {"field": "user"}}
	}`, request.Body, "aggs", "2", "aggs")
}

func TestCompileOtherBucketKinds(t *testing.T) {
	request := compile(t, `{
		"timeField": "@timestamp",
		"bucketAggs": [
			{
				"id": "2",
				"type": "filters",
				"settings": {"filters": [{"query": "status:500", "label": "errors"}, {"query": "*", "label": ""}]}
			},
			{"id": "3", "type": "histogram", "field": "bytes", "settings": {"interval": "1000", "min_doc_count": "1"}},
			{"id": "4", "type": "geohash_grid", "field": "location", "settings": {"precision": "4"}}
		]
	}`)

	requireJSON(t, `{
		"filters": {
			"errors": {"query_string": {"query": "status:500", "analyze_wildcard": true}},
			"*": {"query_string": {"query": "*", "analyze_wildcard": true}}
		}
	}`, request.Body, "aggs", "2", "filters")
	requireJSON(
		t,
		`{"field": "bytes", "interval": 1000, "min_doc_count": 1}`,
		request.Body,
		"aggs", "2", "aggs", "3", "histogram",
	)
	requireJSON(
		t,
		`{"field": "location", "precision": 4}`,
		request.Body,
		"aggs", "2", "aggs", "3", "aggs", "4", "geohash_grid",
	)
}

func TestCompileAdHocFilters(t *testing.T) {
	request := compile(
		t,
		`{"query": "*", "timeField": "@timestamp"}`,
		query.AdHocFilter{Key: "host", Operator: query.FilterOperatorEquals, Value: "server1"},
		query.AdHocFilter{Key: "host", Operator: query.FilterOperatorNotEquals, Value: "server2"},
		query.AdHocFilter{Key: "bytes", Operator: query.FilterOperatorLessThan, Value: 100},
		query.AdHocFilter{Key: "bytes", Operator: query.FilterOperatorGreaterThan, Value: 10},
		query.AdHocFilter{Key: "path", Operator: query.FilterOperatorRegexMatch, Value: "/api/.*"},
		query.AdHocFilter{Key: "path", Operator: query.FilterOperatorRegexNotMatch, Value: "/health"},
	)

	requireJSON(t, `{
		"filter": [
			{"range": {"@timestamp": {"gte": "$timeFrom", "lte": "$timeTo", "format": "epoch_millis"}}},
			{"query_string": {"analyze_wildcard": true, "query": "*"}},
			{"range": {"bytes": {"lt": 100}}},
			{"range": {"bytes": {"gt": 10}}},
			{"regexp": {"path": "/api/.*"}},
			{"bool": {"must_not": {"regexp": {"path": "/health"}}}}
		],
		"must": [{"match_phrase": {"host": {"query": "server1"}}}],
		"must_not": [{"match_phrase": {"host": {"query": "server2"}}}]
	}`, request.Body, "query", "bool")
}

func TestCompileRawDocumentDefaults(t *testing.T) {
	request := compile(t, `{
		"timeField": "@timestamp",
		"metrics": [{"id": "1", "type": "raw_document", "settings": {}}]
	}`)

	requireJSON(t, `{
		"size": 500,
		"query": {
			"bool": {
				"filter": [
					{"range": {"@timestamp": {"gte": "$timeFrom", "lte": "$timeTo", "format": "epoch_millis"}}},
					{"query_string": {"analyze_wildcard": true, "query": "*"}}
				]
			}
		},
		"sort": {"@timestamp": {"order": "desc", "unmapped_type": "boolean"}},
		"script_fields": {}
	}`, request.Body)
}

func TestCompileRawDocumentSettings(t *testing.T) {
	elasticsearch2, err := query.NewDialect(query.FlavorElasticsearch, "2.4.0")
	require.NoError(t, err)

	q := parseQuery(t, `{
		"timeField": "@timestamp",
		"metrics": [
			{"id": "1", "type": "raw_data", "settings": {"size": "20", "order": "asc", "useTimeRange": false}}
		]
	}`)
	request, err := Compile(q, nil, Options{Dialect: elasticsearch2})
	require.NoError(t, err)

	require.Equal(t, 20, request.Body["size"])
	require.Equal(t, []string{"*", "_source"}, request.Body["fields"])
	requireJSON(
		t,
		`{"@timestamp": {"order": "asc", "unmapped_type": "boolean"}}`,
		request.Body,
		"sort",
	)
	requireJSON(t, `{
		"filter": [{"query_string": {"analyze_wildcard": true, "query": "*"}}]
	}`, request.Body, "query", "bool")
}

func TestCompileLogsQuery(t *testing.T) {
	request := compile(t, `{
		"timeField": "@timestamp",
		"metrics": [{"id": "1", "type": "logs", "settings": {"limit": "100"}}]
	}`)

	require.Equal(t, 100, request.Body["size"])
	requireJSON(t, `{
		"fields": {"*": {}},
		"pre_tags": ["@HIGHLIGHT@"],
		"post_tags": ["@/HIGHLIGHT@"],
		"fragment_size": 2147483647
	}`, request.Body, "highlight")
}

func TestCompileWithoutBucketAggregations(t *testing.T) {
	q := parseQuery(t, `{"timeField": "@timestamp", "bucketAggs": []}`)

	_, err := Compile(q, nil, Options{})

	var invalidQueryErr *query.InvalidQueryError
	require.ErrorAs(t, err, &invalidQueryErr)
}

func TestCompileWithEmptyMetrics(t *testing.T) {
	request := compile(t, `{
		"timeField": "@timestamp",
		"metrics": [],
		"bucketAggs": [{"id": "2", "type": "date_histogram"}]
	}`)

	aggs, ok := request.Body["aggs"].(object)
	require.True(t, ok)
	require.Contains(t, aggs, "2")
	require.Empty(t, request.Diagnostics)
}

func TestCompileDoesNotModifyQuery(t *testing.T) {
	q := parseQuery(t, `{
		"timeField": "@timestamp",
		"bucketAggs": [{"id": "2", "type": "terms", "field": "host", "settings": {"orderBy": "1"}}],
		"metrics": [{"id": "1", "type": "max", "field": "bytes"}]
	}`)
	before := parseQuery(t, `{
		"timeField": "@timestamp",
		"bucketAggs": [{"id": "2", "type": "terms", "field": "host", "settings": {"orderBy": "1"}}],
		"metrics": [{"id": "1", "type": "max", "field": "bytes"}]
	}`)

	_, err := Compile(q, nil, Options{})
	require.NoError(t, err)
	require.Equal(t, before, q)
}

func TestResolvePlaceholders(t *testing.T) {
	request := compile(t, `{"timeField": "@timestamp"}`)

	payload, err := request.ResolvePlaceholders(
		query.TimeRange{From: time.UnixMilli(1000), To: time.UnixMilli(5000)},
		30*time.Second,
	)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(payload), "\n"), "\n")
	require.Len(t, lines, 2)
	require.JSONEq(t, `{"search_type": "query_then_fetch", "ignore_unavailable": true}`, lines[0])

	var body object
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &body))
	requireJSON(t, `{
		"field": "@timestamp",
		"interval": "30s",
		"min_doc_count": 0,
		"extended_bounds": {"min": "1000", "max": "5000"},
		"format": "epoch_millis"
	}`, body, "aggs", "2", "date_histogram")
	require.NotContains(t, string(payload), "$time")
}

func TestInvalidSortOrderInQuery(t *testing.T) {
	var q query.Query
	err := json.Unmarshal([]byte(`{
		"bucketAggs": [{"id": "2", "type": "terms", "field": "host", "settings": {"order": "sideways"}}]
	}`), &q)

	var sortOrderErr *query.InvalidSortOrderError
	require.True(t, errors.As(err, &sortOrderErr))
	require.Equal(t, "sideways", sortOrderErr.Order)
}
