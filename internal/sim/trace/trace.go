// Package trace records the ordered execution events emitted by the action
// pipeline. Two instances fed the same input must produce equal traces.
package trace

import (
	"fmt"
	"strings"
)

type Kind uint8

const (
	ActionStart Kind = iota + 1
	Prepare
	Abort
	Before
	Execute
	After
	ActionEnd
)

var kindNames = map[Kind]string{
	ActionStart: "Action.Start",
	Prepare:     "Prepare",
	Abort:       "Abort",
	Before:      "Before",
	Execute:     "Action.Execute",
	After:       "After",
	ActionEnd:   "Action.End",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("trace: unknown event kind %q", string(b))
}

// Event is one immutable trace record. Hook is empty for action-level events.
type Event struct {
	Seq        int    `json:"seq"`
	Kind       Kind   `json:"kind"`
	Action     string `json:"action"`
	Hook       string `json:"hook,omitempty"`
	DomainID   int    `json:"domain_id"`
	DomainType string `json:"domain_type"`
}

// Matches compares every field except Seq.
func (e Event) Matches(o Event) bool {
	return e.Kind == o.Kind &&
		e.Action == o.Action &&
		e.Hook == o.Hook &&
		e.DomainID == o.DomainID &&
		e.DomainType == o.DomainType
}

func (e Event) String() string {
	target := fmt.Sprintf("%s[%d]", e.DomainType, e.DomainID)
	switch e.Kind {
	case ActionStart, Execute, ActionEnd:
		return fmt.Sprintf("[%d] %s: %s on %s", e.Seq, e.Kind, e.Action, target)
	default:
		return fmt.Sprintf("[%d] %s: %s for %s on %s", e.Seq, e.Kind, e.Hook, e.Action, target)
	}
}

// Logger is an append-only event buffer. It is owned by one goroutine.
type Logger struct {
	events []Event
	seq    int
}

func NewLogger() *Logger { return &Logger{} }

func (l *Logger) Record(kind Kind, action, hook string, domainID int, domainType string) {
	l.events = append(l.events, Event{
		Seq:        l.seq,
		Kind:       kind,
		Action:     action,
		Hook:       hook,
		DomainID:   domainID,
		DomainType: domainType,
	})
	l.seq++
}

// Events returns a copy of the recorded events.
func (l *Logger) Events() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *Logger) Len() int { return len(l.events) }

func (l *Logger) Reset() {
	l.events = nil
	l.seq = 0
}

// Compare returns the index of the first differing event, the shorter length
// when one trace is a strict prefix of the other, or -1 when they are equal.
func Compare(a, b []Event) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if !a[i].Matches(b[i]) {
			return i
		}
	}
	if len(a) != len(b) {
		return n
	}
	return -1
}

// Count returns how many events have the given kind.
func Count(events []Event, kind Kind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func Format(events []Event) string {
	var b strings.Builder
	for i, e := range events {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.String())
	}
	return b.String()
}

// Window renders events around idx, marking idx and noting a missing event
// when idx is past the end.
func Window(events []Event, idx, radius int) string {
	start := idx - radius
	if start < 0 {
		start = 0
	}
	end := idx + radius
	var b strings.Builder
	for i := start; i < end && i < len(events); i++ {
		marker := "    "
		if i == idx {
			marker = ">>> "
		}
		b.WriteString(marker)
		b.WriteString(events[i].String())
		b.WriteByte('\n')
	}
	if idx >= len(events) {
		fmt.Fprintf(&b, ">>> [missing event #%d]\n", idx)
	}
	return b.String()
}
