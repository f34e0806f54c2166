package statehistory

import (
	"fmt"

	"github.com/vorteil/histtree/pkg/htinterval"
)

// AggregateFunc derives a synthetic value from the current values of a
// rule's source quarks. Missing sources are simply absent from values.
type AggregateFunc func(values map[int32]htinterval.Value) (htinterval.Value, error)

// AggregationRule maps a derived quark to the source quarks it depends
// on and the function that combines them.
type AggregationRule struct {
	Derived int32
	Sources []int32
	Combine AggregateFunc
}

// AggregationTable is a minimal rule table: one rule per derived quark.
type AggregationTable struct {
	rules map[int32]AggregationRule
}

// NewAggregationTable returns an empty table.
func NewAggregationTable() *AggregationTable {
	return &AggregationTable{rules: make(map[int32]AggregationRule)}
}

// Add registers a rule, replacing any existing rule for the same
// derived quark.
func (a *AggregationTable) Add(rule AggregationRule) {
	a.rules[rule.Derived] = rule
}

// Apply computes every rule whose sources are fully present in values,
// returning the derived quark -> value map. A rule whose sources are
// only partially present is skipped, not an error.
func (a *AggregationTable) Apply(values map[int32]htinterval.Value) (map[int32]htinterval.Value, error) {
	out := make(map[int32]htinterval.Value, len(a.rules))
	for derived, rule := range a.rules {
		sub := make(map[int32]htinterval.Value, len(rule.Sources))
		complete := true
		for _, src := range rule.Sources {
			v, ok := values[src]
			if !ok {
				complete = false
				break
			}
			sub[src] = v
		}
		if !complete {
			continue
		}
		v, err := rule.Combine(sub)
		if err != nil {
			return nil, fmt.Errorf("statehistory: aggregating quark %d: %w", derived, err)
		}
		out[derived] = v
	}
	return out, nil
}

// SumLong is a ready-made AggregateFunc combining LONG-valued sources
// with addition.
func SumLong(values map[int32]htinterval.Value) (htinterval.Value, error) {
	var total int64
	for _, v := range values {
		n, err := v.AsLong()
		if err != nil {
			return htinterval.Value{}, err
		}
		total += n
	}
	return htinterval.LongValue(total), nil
}

// MaxDouble is a ready-made AggregateFunc combining DOUBLE-valued
// sources by taking the maximum.
func MaxDouble(values map[int32]htinterval.Value) (htinterval.Value, error) {
	var max float64
	first := true
	for _, v := range values {
		f, err := v.AsDouble()
		if err != nil {
			return htinterval.Value{}, err
		}
		if first || f > max {
			max = f
			first = false
		}
	}
	return htinterval.DoubleValue(max), nil
}
