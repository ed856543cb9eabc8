// Package permission aggregates per-group yes/no decisions for a single attempted action.
package permission

import "github.com/and161185/timeslots/internal/authgroup"

// Visitor is a resource-specific group visitor that marks permission on an embedded Aggregator.
type Visitor interface {
	authgroup.Visitor
	aggregator() *Aggregator
}

// Aggregator is embedded by permission visitors. It starts denied and only ever flips to granted.
type Aggregator struct {
	granted bool
}

func (a *Aggregator) aggregator() *Aggregator { return a }

// MarkWithPermission records that the visited group grants the action.
func (a *Aggregator) MarkWithPermission() { a.granted = true }

// Granted reports whether any visited group granted the action so far.
func (a *Aggregator) Granted() bool { return a.granted }

// HasPermission dispatches groups through v and reports whether any of them granted
// the action. It never returns an error: turning false into a denial is the caller's job.
func HasPermission(v Visitor, groups []authgroup.Group) bool {
	authgroup.Visit(groups, v)
	return v.aggregator().granted
}
