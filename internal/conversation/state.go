// Package conversation implements the dialogue state machine. The machine is
// pure: Next maps (state, event) to the successor state and a list of effects,
// and the orchestrator persists the state before running any effect.
package conversation

import (
	"strconv"
	"strings"
)

// State names. Selection-carrying states encode the chosen index in the
// persisted tag, e.g. "confirm_pending:2".
const (
	StateDefault        = "default"
	StateWelcomeSent    = "welcome_sent"
	StateAddSelect      = "add_select"
	StateConfirmPending = "confirm_pending"
	StateCancelSelect   = "cancel_select"
	StateCancelConfirm  = "cancel_confirm"
)

// State is a dialogue position. Selection is the 1-based menu choice for
// ConfirmPending and CancelConfirm, zero otherwise.
type State struct {
	Name      string
	Selection int
}

func Default() State { return State{Name: StateDefault} }

// ParseTag decodes a persisted state tag. Unknown or malformed tags fall back
// to the default state so a bad row can never wedge a user.
func ParseTag(tag string) State {
	name, sel, hasSel := strings.Cut(strings.TrimSpace(tag), ":")
	switch name {
	case StateWelcomeSent, StateAddSelect, StateCancelSelect:
		return State{Name: name}
	case StateConfirmPending, StateCancelConfirm:
		if !hasSel {
			return Default()
		}
		n, err := strconv.Atoi(sel)
		if err != nil || n < 1 {
			return Default()
		}
		return State{Name: name, Selection: n}
	default:
		return Default()
	}
}

// Tag encodes the state for persistence. The default state has no tag; its
// row is deleted instead.
func (s State) Tag() string {
	switch s.Name {
	case StateConfirmPending, StateCancelConfirm:
		return s.Name + ":" + strconv.Itoa(s.Selection)
	case StateWelcomeSent, StateAddSelect, StateCancelSelect:
		return s.Name
	default:
		return ""
	}
}

// IsDefault reports whether the state needs no persisted row.
func (s State) IsDefault() bool {
	return s.Name == "" || s.Name == StateDefault
}
