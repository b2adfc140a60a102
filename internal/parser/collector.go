package parser

import "github.com/dgallion1/mapread/internal/grammar"

// ErrorCollector accumulates grammar violations raised while a document is
// parsed. Whether they matter is decided after the dialect is known. It is
// owned by a single read and must be reset before reuse.
type ErrorCollector struct {
	errs []grammar.Violation
}

// Add records a violation.
func (c *ErrorCollector) Add(v grammar.Violation) {
	c.errs = append(c.errs, v)
}

// HasErrors reports whether any violation has been recorded.
func (c *ErrorCollector) HasErrors() bool {
	return len(c.errs) > 0
}

// Errors returns the recorded violations in document order.
func (c *ErrorCollector) Errors() []grammar.Violation {
	out := make([]grammar.Violation, len(c.errs))
	copy(out, c.errs)
	return out
}

// Reset discards all recorded violations.
func (c *ErrorCollector) Reset() {
	c.errs = nil
}
