package conversation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aicollections/billingbot/internal/catalog"
)

// EventType mirrors the chat platform's webhook event kinds.
type EventType string

const (
	EventMessage  EventType = "message"
	EventFollow   EventType = "follow"
	EventUnfollow EventType = "unfollow"
)

// Event is one normalized inbound occurrence. UsageCount is the number of the
// user's cancellable usage events, supplied by the orchestrator so the machine
// stays free of storage access.
type Event struct {
	Type       EventType
	Text       string
	UsageCount int
}

// Effect is a side effect the orchestrator must run after persisting the next
// state.
type Effect interface{ isEffect() }

// ReplyEffect sends a message back to the user.
type ReplyEffect struct{ Text string }

// RecordUsageEffect charges the catalog item the user confirmed. The
// orchestrator classifies it free or paid and reports the outcome.
type RecordUsageEffect struct{ ItemIndex int }

// CancelUsageEffect voids the user's n-th recorded usage event.
type CancelUsageEffect struct{ ListIndex int }

// ShowStatusEffect renders the account's usage summary.
type ShowStatusEffect struct{}

// ShowCancelMenuEffect renders the numbered list of cancellable events.
type ShowCancelMenuEffect struct{}

// UnlinkEffect detaches the chat user from their account on unfollow.
type UnlinkEffect struct{}

func (ReplyEffect) isEffect()          {}
func (RecordUsageEffect) isEffect()    {}
func (CancelUsageEffect) isEffect()    {}
func (ShowStatusEffect) isEffect()     {}
func (ShowCancelMenuEffect) isEffect() {}
func (UnlinkEffect) isEffect()         {}

// Machine computes dialogue transitions against a fixed catalog.
type Machine struct {
	catalog catalog.Catalog
}

func NewMachine(c catalog.Catalog) *Machine {
	return &Machine{catalog: c}
}

// Next returns the successor state and its effects. The current state's own
// handler always wins over global command matching: a user mid-selection who
// types "status" gets the selection prompt's treatment of that text, not the
// status command.
func (m *Machine) Next(s State, ev Event) (State, []Effect) {
	switch ev.Type {
	case EventFollow:
		return State{Name: StateWelcomeSent}, []Effect{ReplyEffect{Text: m.welcomeText()}}
	case EventUnfollow:
		return Default(), []Effect{UnlinkEffect{}}
	}

	text := strings.ToLower(strings.TrimSpace(ev.Text))

	switch s.Name {
	case StateAddSelect:
		return m.nextAddSelect(text)
	case StateConfirmPending:
		return m.nextConfirmPending(s, text)
	case StateCancelSelect:
		return m.nextCancelSelect(s, text, ev.UsageCount)
	case StateCancelConfirm:
		return m.nextCancelConfirm(s, text)
	}

	return m.nextCommand(s, text, ev.UsageCount)
}

func (m *Machine) nextAddSelect(text string) (State, []Effect) {
	if isAbort(text) {
		return Default(), []Effect{ReplyEffect{Text: "Okay, nothing added."}}
	}
	if n, ok := parseIndex(text, m.catalog.Len()); ok {
		item, _ := m.catalog.ByIndex(n)
		prompt := fmt.Sprintf("Add %s for %d/month? Reply yes or no.", item.Name, item.MonthlyPrice)
		return State{Name: StateConfirmPending, Selection: n}, []Effect{ReplyEffect{Text: prompt}}
	}
	return State{Name: StateAddSelect}, []Effect{
		ReplyEffect{Text: "Please pick a number from the menu.\n" + m.menuText()},
	}
}

func (m *Machine) nextConfirmPending(s State, text string) (State, []Effect) {
	switch {
	case isYes(text):
		return Default(), []Effect{RecordUsageEffect{ItemIndex: s.Selection}}
	case isNo(text) || isAbort(text):
		return Default(), []Effect{ReplyEffect{Text: "Okay, nothing added."}}
	default:
		return s, []Effect{ReplyEffect{Text: "Reply yes to confirm or no to go back."}}
	}
}

func (m *Machine) nextCancelSelect(s State, text string, usageCount int) (State, []Effect) {
	if isAbort(text) {
		return Default(), []Effect{ReplyEffect{Text: "Okay, nothing cancelled."}}
	}
	if n, ok := parseIndex(text, usageCount); ok {
		prompt := fmt.Sprintf("Cancel item %d? Reply yes or no.", n)
		return State{Name: StateCancelConfirm, Selection: n}, []Effect{ReplyEffect{Text: prompt}}
	}
	return s, []Effect{ReplyEffect{Text: "Please pick a number from the list, or reply back."}}
}

func (m *Machine) nextCancelConfirm(s State, text string) (State, []Effect) {
	switch {
	case isYes(text):
		return Default(), []Effect{CancelUsageEffect{ListIndex: s.Selection}}
	case isNo(text) || isAbort(text):
		return Default(), []Effect{ReplyEffect{Text: "Okay, nothing cancelled."}}
	default:
		return s, []Effect{ReplyEffect{Text: "Reply yes to confirm or no to go back."}}
	}
}

func (m *Machine) nextCommand(s State, text string, usageCount int) (State, []Effect) {
	if isGreeting(text) {
		return State{Name: StateWelcomeSent}, []Effect{ReplyEffect{Text: m.welcomeText()}}
	}

	switch text {
	case "add":
		return State{Name: StateAddSelect}, []Effect{ReplyEffect{Text: m.menuText()}}
	case "cancel":
		if usageCount == 0 {
			return s, []Effect{ReplyEffect{Text: "You have nothing to cancel."}}
		}
		return State{Name: StateCancelSelect}, []Effect{ShowCancelMenuEffect{}}
	case "status":
		return s, []Effect{ShowStatusEffect{}}
	case "menu", "help":
		return s, []Effect{ReplyEffect{Text: m.helpText()}}
	default:
		return s, []Effect{ReplyEffect{Text: m.helpText()}}
	}
}

func (m *Machine) menuText() string {
	var b strings.Builder
	b.WriteString("Which content would you like to add?\n")
	for i, item := range m.catalog.Items() {
		fmt.Fprintf(&b, "%d. %s (%d/month)\n", i+1, item.Name, item.MonthlyPrice)
	}
	b.WriteString("Reply with a number, or back to return.")
	return b.String()
}

func (m *Machine) welcomeText() string {
	return "Thanks for adding me! Reply add to browse contents, status to see your usage, or help for all commands."
}

func (m *Machine) helpText() string {
	return "Commands:\nadd - add a content\ncancel - cancel a recorded item\nstatus - usage summary\nhelp - this message"
}

func isYes(text string) bool {
	switch text {
	case "yes", "y", "ok", "confirm":
		return true
	}
	return false
}

func isNo(text string) bool {
	return text == "no" || text == "n"
}

func isAbort(text string) bool {
	return text == "back" || text == "quit"
}

func isGreeting(text string) bool {
	switch text {
	case "hello", "hi", "hey":
		return true
	}
	return false
}

func parseIndex(text string, max int) (int, bool) {
	n, err := strconv.Atoi(text)
	if err != nil || n < 1 || n > max {
		return 0, false
	}
	return n, true
}
