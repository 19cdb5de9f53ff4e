// Package plan provides plan value types and pure functions.
package plan

import (
	"sort"

	"github.com/artpar/tutorquota/domain/usage"
)

// Well-known plan IDs. Subscription state decides which one applies to a
// user; any other ID configured in the limit table is valid too.
const (
	Free    = "free"
	Premium = "premium"
)

// Plan represents a subscription tier (immutable value type).
type Plan struct {
	ID     string
	Name   string
	Limits map[usage.Action]int64 // Daily limit per action
}

// LimitFor returns the daily limit of an action under a plan.
// Actions missing from the plan are not allowed (limit 0).
// This is a PURE function.
func LimitFor(p Plan, action usage.Action) int64 {
	if p.Limits == nil {
		return 0
	}
	return p.Limits[action]
}

// FindPlan finds a plan by ID in a list.
// This is a PURE function.
func FindPlan(plans []Plan, id string) (Plan, bool) {
	for _, p := range plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// Actions returns the actions a plan meters, in the order of usage.KnownActions
// followed by any custom actions sorted by name.
func Actions(p Plan) []usage.Action {
	seen := make(map[usage.Action]bool, len(p.Limits))
	out := make([]usage.Action, 0, len(p.Limits))
	for _, a := range usage.KnownActions {
		if _, ok := p.Limits[a]; ok {
			out = append(out, a)
			seen[a] = true
		}
	}
	var custom []usage.Action
	for a := range p.Limits {
		if !seen[a] {
			custom = append(custom, a)
		}
	}
	sort.Slice(custom, func(i, j int) bool { return custom[i] < custom[j] })
	return append(out, custom...)
}
