// Package validator runs an isolated shadow copy of a match next to the
// primary and reports the first point where the two diverge.
package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/trace"
)

// Kind tells which comparison failed.
type Kind string

const (
	KindTrace Kind = "trace"
	KindState Kind = "state"
)

// Options selects the state comparison run after traces match.
type Options struct {
	// CheckState compares the serialized state after every action.
	CheckState bool
	// FullState compares the JSON byte for byte instead of by hash. It is
	// slower but pinpoints the first differing byte.
	FullState bool
}

// Failure describes a detected divergence. For trace failures Primary and
// Shadow hold the formatted traces and Index the first differing event; for
// state failures they hold the snapshots and Index the first differing byte.
type Failure struct {
	MatchID     uuid.UUID `json:"match_id"`
	ActionCount int       `json:"action_count"`
	ActionType  string    `json:"action_type"`
	ActionJSON  string    `json:"action_json"`
	Kind        Kind      `json:"kind"`
	Index       int       `json:"index"`
	Primary     string    `json:"primary"`
	Shadow      string    `json:"shadow"`
	Context     string    `json:"context,omitempty"`
}

// Validator compares one primary match with its shadow. It is driven from
// the loop goroutine only.
type Validator struct {
	primary    network.State
	shadow     network.State
	matchID    uuid.UUID
	shadowExec *network.Executor
	opts       Options
	log        *slog.Logger

	count     int
	failed    bool
	failure   *Failure
	onFailure []func(Failure)
}

func New(primary, shadow network.State, opts Options, log *slog.Logger) *Validator {
	log = logging.OrNop(log)
	id := primary.Game().MatchID
	v := &Validator{
		primary:    primary,
		shadow:     shadow,
		matchID:    id,
		shadowExec: network.NewExecutor(shadow),
		opts:       opts,
		log:        log.With("component", "validator", "match", id),
	}
	v.log.Debug("validator ready")
	return v
}

func (v *Validator) Primary() network.State { return v.primary }
func (v *Validator) Shadow() network.State  { return v.shadow }
func (v *Validator) MatchID() uuid.UUID     { return v.matchID }
func (v *Validator) HasFailed() bool        { return v.failed }
func (v *Validator) ActionCount() int       { return v.count }

// Failure returns the recorded divergence, if any.
func (v *Validator) Failure() (Failure, bool) {
	if v.failure == nil {
		return Failure{}, false
	}
	return *v.failure, true
}

func (v *Validator) OnFailure(fn func(Failure)) {
	v.onFailure = append(v.onFailure, fn)
}

// Validate runs a clone of a on the shadow and then a itself on the primary
// through executePrimary, each under its own trace. Once a divergence has
// been recorded it only runs the primary. A panic from the primary is
// re-raised after the comparison so the caller still sees it.
func (v *Validator) Validate(a network.Action, executePrimary func()) (ok bool) {
	if v.failed {
		executePrimary()
		return true
	}
	v.count++

	codec := v.primary.Game().Codec()
	clone, raw, err := codec.Clone(a)
	if err != nil {
		v.log.Warn("cannot clone action, skipping validation", "action", core.ActionName(a), "err", err)
		executePrimary()
		return true
	}

	core.BeginTrace(v.shadow)
	v.shadowExec.Execute(clone, a.NetHeader().ExecutorID, func(err error) {
		v.log.Debug("shadow execution error", "err", err)
	})
	shadowEvents := core.EndTrace(v.shadow).Events()

	core.BeginTrace(v.primary)
	primaryPanic := runRecovered(executePrimary)
	primaryEvents := core.EndTrace(v.primary).Events()
	if primaryPanic != nil {
		defer panic(primaryPanic)
	}

	if idx := trace.Compare(primaryEvents, shadowEvents); idx >= 0 {
		v.fail(Failure{
			MatchID:     v.matchID,
			ActionCount: v.count,
			ActionType:  core.ActionName(a),
			ActionJSON:  string(raw),
			Kind:        KindTrace,
			Index:       idx,
			Primary:     trace.Format(primaryEvents),
			Shadow:      trace.Format(shadowEvents),
			Context: "primary:\n" + trace.Window(primaryEvents, idx, 3) +
				"shadow:\n" + trace.Window(shadowEvents, idx, 3),
		})
		return false
	}

	if v.opts.CheckState {
		f, diverged, err := v.compareState(a, raw)
		if err != nil {
			v.fail(Failure{
				MatchID:     v.matchID,
				ActionCount: v.count,
				ActionType:  core.ActionName(a),
				ActionJSON:  string(raw),
				Kind:        KindState,
				Index:       -1,
				Context:     err.Error(),
			})
			return false
		}
		if diverged {
			v.fail(f)
			return false
		}
	}

	if v.count%100 == 0 {
		v.log.Info("validated actions", "count", v.count, "events", len(primaryEvents))
	}
	return true
}

func runRecovered(fn func()) (v any) {
	defer func() { v = recover() }()
	fn()
	return nil
}

func (v *Validator) compareState(a network.Action, raw []byte) (Failure, bool, error) {
	p, err := core.Snapshot(v.primary)
	if err != nil {
		return Failure{}, false, fmt.Errorf("snapshot primary: %w", err)
	}
	s, err := core.Snapshot(v.shadow)
	if err != nil {
		return Failure{}, false, fmt.Errorf("snapshot shadow: %w", err)
	}
	if !v.opts.FullState && hashOf(p) == hashOf(s) {
		return Failure{}, false, nil
	}
	if v.opts.FullState && string(p) == string(s) {
		return Failure{}, false, nil
	}
	idx := firstDifference(p, s)
	return Failure{
		MatchID:     v.matchID,
		ActionCount: v.count,
		ActionType:  core.ActionName(a),
		ActionJSON:  string(raw),
		Kind:        KindState,
		Index:       idx,
		Primary:     string(p),
		Shadow:      string(s),
		Context:     "primary: ..." + around(p, idx) + "...\nshadow: ..." + around(s, idx) + "...",
	}, true, nil
}

func (v *Validator) fail(f Failure) {
	v.failed = true
	v.failure = &f
	v.log.Error("determinism failure",
		"kind", f.Kind,
		"action", f.ActionType,
		"action_count", f.ActionCount,
		"index", f.Index,
		"context", f.Context,
	)
	for _, fn := range v.onFailure {
		fn(f)
	}
}

func hashOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func firstDifference(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func around(b []byte, idx int) string {
	start := idx - 50
	if start < 0 {
		start = 0
	}
	end := start + 100
	if end > len(b) {
		end = len(b)
	}
	if start > end {
		start = end
	}
	return string(b[start:end])
}
