// Package rules implements a bounded boolean/arithmetic sublanguage
// compiled once per distinct expression text and evaluated against a
// per-equipment symbol table on every tick.
package rules

import "sync"

// Cache compiles each distinct expression source exactly once and shares
// the resulting Expr across every equipment whose rule uses that text
// verbatim.
type Cache struct {
	mu       sync.Mutex
	compiled map[string]Expr
}

// NewCache returns an empty compilation cache.
func NewCache() *Cache {
	return &Cache{compiled: make(map[string]Expr)}
}

// Compile returns the cached Expr for src, parsing it on first use. A
// parse failure is fatal at startup: callers should treat a non-nil error
// as a reason to abort configuration loading, naming src.
func (c *Cache) Compile(src string) (Expr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expr, ok := c.compiled[src]; ok {
		return expr, nil
	}
	expr, err := Parse(src)
	if err != nil {
		return nil, err
	}
	c.compiled[src] = expr
	return expr, nil
}

// Evaluate runs expr against sym and coerces the result to boolean by
// standard truthiness. Division by zero, unknown identifiers, and type
// mismatches never abort the tick: they are reported through err and the
// caller is expected to treat the returned false as the rule's result
// while logging err at warn level.
func Evaluate(expr Expr, sym SymbolTable) (bool, error) {
	v, err := expr.eval(sym)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}
