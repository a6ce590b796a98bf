package ai

import "strings"

// ComputeDelta reconciles one raw upstream fragment against the text seen so
// far and returns the new text to emit plus the updated accumulation. It works
// whether the upstream sends cumulative snapshots or true deltas.
func ComputeDelta(fragment, prior string) (delta, acc string) {
	switch {
	case prior == "":
		return fragment, fragment
	case strings.HasPrefix(fragment, prior):
		return fragment[len(prior):], fragment
	case strings.HasPrefix(prior, fragment):
		// rewind: the upstream re-sent a prefix of what we already have
		return "", prior
	default:
		return fragment, prior + fragment
	}
}

// Reconciler holds the accumulated raw text for a single generation.
// It is not safe for concurrent use.
type Reconciler struct {
	acc string
}

// Next feeds a fragment and returns the delta to emit, possibly empty.
func (r *Reconciler) Next(fragment string) string {
	if fragment == "" {
		return ""
	}
	var delta string
	delta, r.acc = ComputeDelta(fragment, r.acc)
	return delta
}

// Text returns everything accumulated so far.
func (r *Reconciler) Text() string {
	return r.acc
}
