package reconcile

import "errors"

// Outcome is the terminal state of one reconciliation.
type Outcome int

const (
	// Unchanged: an equivalent rule was already present, nothing was sent.
	Unchanged Outcome = iota
	// Created: the rule was missing and the device acknowledged its creation.
	Created
	// Updated is reserved for an update path; no reconciler produces it yet.
	Updated
	// Failed: fetch or create failed; the accompanying error carries the reason.
	Failed
)

// String returns the lower-case name of the outcome.
func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Changed reports whether the device configuration was modified.
func (o Outcome) Changed() bool {
	return o == Created || o == Updated
}

// Rule kinds, used in logs, metrics and error prefixes.
const (
	KindDHCP = "dhcp"
	KindNAT  = "nat"
)

// ErrNotAcknowledged is reported when a create call succeeded at the transport level
// but the reply lacks the field confirming the rule was stored.
var ErrNotAcknowledged = errors.New("device did not acknowledge the created rule")
