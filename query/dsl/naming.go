package dsl

import (
	"strings"

	"github.com/grafana/regexp"
	"github.com/spf13/cast"
	"hermannm.dev/searchanalysis/query"
)

var aliasPattern = regexp.MustCompile(`\{\{([\s\S]+?)\}\}`)

// UnsetReference is the description of a pipeline metric whose input cannot be found.
const UnsetReference = "Unset"

type seriesNamer struct {
	query query.Query
	// Number of distinct value names among all series of the query.
	valueNameCount int
}

func newSeriesNamer(q query.Query, series []decodedSeries) seriesNamer {
	valueNames := make(map[string]struct{}, len(series))
	for _, s := range series {
		valueNames[s.valueName] = struct{}{}
	}
	return seriesNamer{query: q, valueNameCount: len(valueNames)}
}

func (namer seriesNamer) name(series decodedSeries) string {
	metricName := query.MetricLabel(series.valueName)

	if namer.query.Alias != "" {
		return aliasPattern.ReplaceAllStringFunc(namer.query.Alias, func(match string) string {
			group := strings.TrimSpace(aliasPattern.FindStringSubmatch(match)[1])

			if term, ok := strings.CutPrefix(group, "term "); ok {
				if value, ok := series.props.get(term); ok {
					return cast.ToString(value)
				}
			}
			if value, ok := series.props.get(group); ok {
				return cast.ToString(value)
			}

			switch group {
			case "metric":
				return metricName
			case "field":
				return series.field
			default:
				return match
			}
		})
	}

	switch settings := series.metric.Settings.(type) {
	case query.BucketScriptSettings:
		metricName = namer.describeBucketScript(settings)
	case query.PipelineSettings:
		if description, ok := namer.describeReference(settings.Ref); ok {
			metricName += " " + description
		} else {
			metricName = UnsetReference
		}
	default:
		if series.field != "" {
			metricName += " " + series.field
		}
	}

	if len(series.props) == 0 {
		return metricName
	}

	name := series.props.joinedValues()
	if namer.valueNameCount == 1 {
		return name
	}
	return strings.TrimSpace(name + " " + metricName)
}

// describeReference describes the input of a pipeline metric. ok is false if the input cannot be
// found.
func (namer seriesNamer) describeReference(ref query.Reference) (description string, ok bool) {
	metricID, isByID := ref.MetricID()
	if !isByID {
		return ref.String(), ref.IsSet()
	}

	metric, found := query.FindMetric(namer.query.MetricAggregations, metricID)
	if !found {
		return "", false
	}
	return query.DescribeMetric(metric), true
}

// describeBucketScript replaces the script's variable references with descriptions of the metrics
// they point to.
func (namer seriesNamer) describeBucketScript(settings query.BucketScriptSettings) string {
	if settings.Script == "" {
		return UnsetReference
	}

	script := settings.Script
	for _, variable := range settings.Variables {
		metricID, ok := variable.Ref.MetricID()
		if !ok {
			continue
		}
		metric, found := query.FindMetric(namer.query.MetricAggregations, metricID)
		if !found {
			continue
		}
		script = strings.ReplaceAll(script, "params."+variable.Name, query.DescribeMetric(metric))
	}
	return script
}
