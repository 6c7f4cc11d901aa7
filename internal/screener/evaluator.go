package screener

import (
	"context"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/marketdata"
)

// Context is the read-only market view a predicate evaluates against: the
// symbol's ticker plus the ordered OHLCV series for each interval the rule
// requires.
type Context struct {
	Symbol string
	Ticker *models.TickerSnapshot
	Series map[domrepo.Interval][]models.Candle
}

// Candles returns the series for an interval, oldest first.
func (c *Context) Candles(iv domrepo.Interval) []models.Candle {
	return c.Series[iv]
}

// Close returns the close at a negative offset from the series end: -1 is the
// most recent candle. Returns 0 when out of range.
func (c *Context) Close(iv domrepo.Interval, offset int) float64 {
	s := c.Series[iv]
	i := len(s) + offset
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i].Close
}

// Price returns the latest ticker price, or the most recent close when no
// ticker has arrived yet.
func (c *Context) Price() float64 {
	if c.Ticker != nil {
		return c.Ticker.Price
	}
	for _, s := range c.Series {
		if len(s) > 0 {
			return s[len(s)-1].Close
		}
	}
	return 0
}

// Evaluator is the pluggable predicate capability: input a read-only market
// context, output a boolean match. Implementations enforce their own
// execution budget against ctx.
type Evaluator interface {
	Evaluate(ctx context.Context, mc *Context) (bool, error)
}

// FuncEvaluator adapts a native Go predicate.
type FuncEvaluator func(mc *Context) (bool, error)

func (f FuncEvaluator) Evaluate(_ context.Context, mc *Context) (bool, error) {
	return f(mc)
}

// Rule couples a persisted rule definition with its compiled evaluator.
type Rule struct {
	Def  *models.RuleDefinition
	Eval Evaluator
}

// buildContext assembles the per-symbol view a rule needs from the shared
// snapshot. The series slices are copies made by the store's read path, so a
// predicate cannot corrupt shared data.
func buildContext(snap *marketdata.Snapshot, symbol string, rule *Rule, depth int) *Context {
	mc := &Context{
		Symbol: symbol,
		Ticker: snap.Ticker(symbol),
		Series: make(map[domrepo.Interval][]models.Candle, len(rule.Def.RequiredIntervals)),
	}
	for _, raw := range rule.Def.RequiredIntervals {
		iv := domrepo.Interval(raw)
		if !domrepo.IsValidInterval(iv) {
			continue
		}
		mc.Series[iv] = snap.Candles(symbol, iv, depth)
	}
	return mc
}
