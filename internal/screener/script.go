package screener

import (
	"context"
	"fmt"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"MarketPulse/internal/domain/errs"
	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/indicators"
)

// scriptTemplate wraps user predicate code into a callable function. The
// predicate body sees the primary interval's series as plain slices plus the
// live price, and can call the indicators package.
const scriptTemplate = `package main

import (
	"math"

	"MarketPulse/pkg/indicators"
)

var _ = math.Abs
var _ = indicators.SMA

func evaluate(open, high, low, close, volume []float64, price float64) bool {
	%s
}
`

type predicateFn func(open, high, low, close, volume []float64, price float64) bool

// ScriptEvaluator runs an interpreted predicate compiled once at rule load
// time. The interpreter cannot be preempted mid-statement, so a deadline hit
// returns ErrTimeout while the runaway call finishes in the background.
type ScriptEvaluator struct {
	ruleID   string
	interval domrepo.Interval
	fn       predicateFn
}

// CompileScript compiles a rule's predicate code into an evaluator bound to
// the rule's primary interval.
func CompileScript(def *models.RuleDefinition) (*ScriptEvaluator, error) {
	if len(def.RequiredIntervals) == 0 {
		return nil, fmt.Errorf("rule %s: %w: no required intervals", def.ID, errs.ErrValidation)
	}
	iv := domrepo.NormalizeInterval(def.RequiredIntervals[0])

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	if err := i.Use(indicatorSymbols()); err != nil {
		return nil, fmt.Errorf("load indicator symbols: %w", err)
	}

	if _, err := i.Eval(fmt.Sprintf(scriptTemplate, def.PredicateCode)); err != nil {
		return nil, fmt.Errorf("rule %s: compile predicate: %w", def.ID, err)
	}
	v, err := i.Eval("evaluate")
	if err != nil {
		return nil, fmt.Errorf("rule %s: resolve predicate entrypoint: %w", def.ID, err)
	}
	fn, ok := v.Interface().(func([]float64, []float64, []float64, []float64, []float64, float64) bool)
	if !ok {
		return nil, fmt.Errorf("rule %s: predicate has wrong signature", def.ID)
	}

	return &ScriptEvaluator{ruleID: def.ID, interval: iv, fn: fn}, nil
}

// Evaluate runs the compiled predicate against the symbol context, honoring
// the context deadline and converting a predicate panic into an error.
func (e *ScriptEvaluator) Evaluate(ctx context.Context, mc *Context) (bool, error) {
	series := mc.Series[e.interval]
	if len(series) == 0 {
		return false, nil
	}
	open := make([]float64, len(series))
	high := make([]float64, len(series))
	low := make([]float64, len(series))
	closes := make([]float64, len(series))
	volume := make([]float64, len(series))
	for i, c := range series {
		open[i] = c.Open
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
		volume[i] = c.Volume
	}

	type outcome struct {
		matched bool
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("rule %s: predicate panic: %v", e.ruleID, r)}
			}
		}()
		done <- outcome{matched: e.fn(open, high, low, closes, volume, mc.Price())}
	}()

	select {
	case out := <-done:
		return out.matched, out.err
	case <-ctx.Done():
		return false, fmt.Errorf("rule %s on %s: %w", e.ruleID, mc.Symbol, errs.ErrTimeout)
	}
}

// CompileRule builds the runnable rule for a definition: predicate code is
// compiled through the script evaluator.
func CompileRule(def *models.RuleDefinition) (*Rule, error) {
	ev, err := CompileScript(def)
	if err != nil {
		return nil, err
	}
	return &Rule{Def: def, Eval: ev}, nil
}

func indicatorSymbols() interp.Exports {
	return interp.Exports{
		"MarketPulse/pkg/indicators/indicators": {
			"SMA":           reflect.ValueOf(indicators.SMA),
			"SMASeries":     reflect.ValueOf(indicators.SMASeries),
			"EMA":           reflect.ValueOf(indicators.EMA),
			"EMASeries":     reflect.ValueOf(indicators.EMASeries),
			"RSI":           reflect.ValueOf(indicators.RSI),
			"ATR":           reflect.ValueOf(indicators.ATR),
			"HighestHigh":   reflect.ValueOf(indicators.HighestHigh),
			"LowestLow":     reflect.ValueOf(indicators.LowestLow),
			"AvgVolume":     reflect.ValueOf(indicators.AvgVolume),
			"ChangePercent": reflect.ValueOf(indicators.ChangePercent),
			"CrossedAbove":  reflect.ValueOf(indicators.CrossedAbove),
		},
	}
}
