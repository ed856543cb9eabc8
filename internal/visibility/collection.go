// Package visibility turns the caller's auth groups into a parameterised SQL
// predicate restricting which rows a query may return.
package visibility

import "strings"

// DenyAll is the predicate returned when no group contributed a condition.
const DenyAll = "FALSE"

// Collection accumulates SQL fragments that are ORed together.
type Collection struct {
	fragments []string
	params    map[string]any
}

// Add appends fragment unless it is blank and merges params into the collection.
// Parameter names must be unique across groups; a repeated key overwrites the earlier value.
func (c *Collection) Add(fragment string, params map[string]any) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}
	c.fragments = append(c.fragments, fragment)
	if c.params == nil {
		c.params = make(map[string]any, len(params))
	}
	for k, v := range params {
		c.params[k] = v
	}
}

// Len reports the number of accepted fragments.
func (c *Collection) Len() int { return len(c.fragments) }

// Reset drops all accumulated fragments and params.
func (c *Collection) Reset() {
	c.fragments = nil
	c.params = nil
}

// Resolve returns the combined predicate and its params.
// Zero fragments resolve to DenyAll with empty params.
func (c *Collection) Resolve() (string, map[string]any) {
	params := make(map[string]any, len(c.params))
	for k, v := range c.params {
		params[k] = v
	}
	switch len(c.fragments) {
	case 0:
		return DenyAll, params
	case 1:
		return "(" + c.fragments[0] + ")", params
	}
	var sb strings.Builder
	sb.WriteByte('(')
	for i, f := range c.fragments {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteByte('(')
		sb.WriteString(f)
		sb.WriteByte(')')
	}
	sb.WriteByte(')')
	return sb.String(), params
}
