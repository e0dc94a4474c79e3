package query

import "hermannm.dev/enumnames"

type FilterOperator uint8

const (
	FilterOperatorEquals FilterOperator = iota + 1
	FilterOperatorNotEquals
	FilterOperatorLessThan
	FilterOperatorGreaterThan
	FilterOperatorRegexMatch
	FilterOperatorRegexNotMatch
)

var filterOperatorMap = enumnames.NewMap(map[FilterOperator]string{
	FilterOperatorEquals:        "=",
	FilterOperatorNotEquals:     "!=",
	FilterOperatorLessThan:      "<",
	FilterOperatorGreaterThan:   ">",
	FilterOperatorRegexMatch:    "=~",
	FilterOperatorRegexNotMatch: "!~",
})

func (operator FilterOperator) IsValid() bool {
	return filterOperatorMap.ContainsEnumValue(operator)
}

func (operator FilterOperator) String() string {
	return filterOperatorMap.GetNameOrFallback(operator, "INVALID_FILTER_OPERATOR")
}

func (operator FilterOperator) MarshalJSON() ([]byte, error) {
	return filterOperatorMap.MarshalToNameJSON(operator)
}

func (operator *FilterOperator) UnmarshalJSON(bytes []byte) error {
	return filterOperatorMap.UnmarshalFromNameJSON(bytes, operator)
}

// AdHocFilter is a key/value condition applied on top of the query string, typically supplied by a
// dashboard rather than by the query itself.
type AdHocFilter struct {
	Key      string         `json:"key"`
	Operator FilterOperator `json:"operator"`
	Value    any            `json:"value"`
}
