package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/demo"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/trace"
)

var (
	ErrTraceMismatch  = errors.New("replay: traces differ")
	ErrDigestMismatch = errors.New("replay: digest differs")
)

// Report is the outcome of one verified replay.
type Report struct {
	MatchID  uuid.UUID    `json:"match_id"`
	Actions  int          `json:"actions"`
	Events   int          `json:"events"`
	Executed int          `json:"executed"`
	Aborted  int          `json:"aborted"`
	Digest   string       `json:"digest"`
	Summary  demo.Summary `json:"summary"`
}

// verify replays history on two fresh instances, requires identical traces
// and, when expect is set, the recorded digest.
func verify(matchID uuid.UUID, history []json.RawMessage, expect string) (Report, error) {
	a := demo.New(matchID)
	b := demo.New(matchID)
	ta, err := network.ReplayTrace(a, history)
	if err != nil {
		return Report{}, fmt.Errorf("replay primary: %w", err)
	}
	tb, err := network.ReplayTrace(b, history)
	if err != nil {
		return Report{}, fmt.Errorf("replay second: %w", err)
	}
	if idx := trace.Compare(ta, tb); idx >= 0 {
		return Report{}, fmt.Errorf("%w at event %d\nfirst:\n%s\nsecond:\n%s",
			ErrTraceMismatch, idx, trace.Window(ta, idx, 3), trace.Window(tb, idx, 3))
	}

	da, err := core.Digest(a)
	if err != nil {
		return Report{}, err
	}
	db, err := core.Digest(b)
	if err != nil {
		return Report{}, err
	}
	if da != db {
		return Report{}, fmt.Errorf("%w between instances: %s != %s", ErrDigestMismatch, da, db)
	}
	if expect != "" && da != expect {
		return Report{}, fmt.Errorf("%w: recorded %s, replayed %s", ErrDigestMismatch, expect, da)
	}
	return Report{
		MatchID:  matchID,
		Actions:  len(history),
		Events:   len(ta),
		Executed: trace.Count(ta, trace.Execute),
		Aborted:  trace.Count(ta, trace.Abort),
		Digest:   da,
		Summary:  a.Summary(),
	}, nil
}
