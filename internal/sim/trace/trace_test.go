package trace

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCompare(t *testing.T) {
	mk := func(kinds ...Kind) []Event {
		l := NewLogger()
		for _, k := range kinds {
			l.Record(k, "Inc", "", 1, "Counter")
		}
		return l.Events()
	}

	a := mk(ActionStart, Execute, ActionEnd)
	b := mk(ActionStart, Execute, ActionEnd)
	if got := Compare(a, b); got != -1 {
		t.Fatalf("equal traces: got %d", got)
	}
	if got := Compare(a, mk(ActionStart, Execute)); got != 2 {
		t.Fatalf("prefix: got %d want 2", got)
	}
	if got := Compare(a, mk(ActionStart, Before, ActionEnd)); got != 1 {
		t.Fatalf("mismatch: got %d want 1", got)
	}
	if got := Compare(nil, nil); got != -1 {
		t.Fatalf("empty: got %d", got)
	}
}

func TestMatchesIgnoresSeq(t *testing.T) {
	a := Event{Seq: 1, Kind: Before, Action: "A", Hook: "H", DomainID: 3, DomainType: "T"}
	b := a
	b.Seq = 99
	if !a.Matches(b) {
		t.Fatalf("seq must not affect matching")
	}
	b.DomainID = 4
	if a.Matches(b) {
		t.Fatalf("domain id must affect matching")
	}
}

func TestLoggerSequenceAndReset(t *testing.T) {
	l := NewLogger()
	l.Record(ActionStart, "A", "", 0, "Root")
	l.Record(ActionEnd, "A", "", 0, "Root")
	ev := l.Events()
	if ev[0].Seq != 0 || ev[1].Seq != 1 {
		t.Fatalf("unexpected seqs: %+v", ev)
	}
	l.Reset()
	l.Record(Execute, "B", "", 0, "Root")
	if got := l.Events()[0].Seq; got != 0 {
		t.Fatalf("seq after reset: %d", got)
	}
}

func TestEventString(t *testing.T) {
	e := Event{Seq: 2, Kind: Prepare, Action: "Increment", Hook: "Clamp", DomainID: 5, DomainType: "Counter"}
	if got, want := e.String(), "[2] Prepare: Clamp for Increment on Counter[5]"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	e = Event{Seq: 0, Kind: ActionStart, Action: "Increment", DomainID: 5, DomainType: "Counter"}
	if got, want := e.String(), "[0] Action.Start: Increment on Counter[5]"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestKindJSON(t *testing.T) {
	b, err := json.Marshal(Event{Kind: After})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"kind":"After"`) {
		t.Fatalf("kind not text encoded: %s", b)
	}
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Kind != After {
		t.Fatalf("kind = %v", e.Kind)
	}
}

func TestWindowMarksMissing(t *testing.T) {
	l := NewLogger()
	l.Record(ActionStart, "A", "", 0, "Root")
	out := Window(l.Events(), 1, 3)
	if !strings.Contains(out, "[missing event #1]") {
		t.Fatalf("window: %s", out)
	}
}
