package visibility

import "github.com/and161185/timeslots/internal/authgroup"

// Visitor is a resource-specific group visitor that records its conditions into an
// embedded Query.
type Visitor interface {
	authgroup.Visitor
	collection() *Collection
}

// Query is embedded by resource visitors. Its zero value is ready to use.
type Query struct {
	c Collection
}

func (q *Query) collection() *Collection { return &q.c }

// AddCondition records fragment for the group being visited.
func (q *Query) AddCondition(fragment string, params map[string]any) {
	q.c.Add(fragment, params)
}

// AddAlwaysTrue grants the visited group every row of the resource.
func (q *Query) AddAlwaysTrue() {
	q.c.Add("TRUE", nil)
}

// UserVisibilityCondition dispatches groups through v and resolves the result.
// Accumulated state is reset first, so an empty group list always denies.
func UserVisibilityCondition(v Visitor, groups []authgroup.Group) (string, map[string]any) {
	c := v.collection()
	c.Reset()
	authgroup.Visit(groups, v)
	return c.Resolve()
}
