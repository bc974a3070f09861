package collective

import "github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"

// WaitAction is embedded by actions that run once every player submitted.
// The embedding action calls Submit from Apply.
type WaitAction struct {
	manager    *Manager
	collective bool
}

func (*WaitAction) waitSubmission() {}

func (w *WaitAction) SetCollectiveManager(m *Manager) { w.manager = m }

func (w *WaitAction) CollectiveManager() *Manager { return w.manager }

// IsCollectiveExecution reports whether this submission completed the round.
func (w *WaitAction) IsCollectiveExecution() bool { return w.collective }

// Submit records self and reports whether the round is now complete. It is
// false when no manager was injected.
func (w *WaitAction) Submit(self Wait) bool {
	if w.manager == nil {
		return false
	}
	if w.manager.SubmitWait(self) {
		w.collective = true
		return true
	}
	return false
}

// VoteAction is embedded by voting actions. The embedding action calls Cast
// from Apply with the effect to run if its option wins.
type VoteAction struct {
	manager *Manager
	target  core.Domain
	onWin   func(target core.Domain, counts map[string]int)
	won     bool
	counts  map[string]int
}

func (v *VoteAction) SetCollectiveManager(m *Manager) { v.manager = m }

func (v *VoteAction) CollectiveManager() *Manager { return v.manager }

func (v *VoteAction) IsWinningExecution() bool { return v.won }

// FinalCounts is the tally the vote closed with, once this option won.
func (v *VoteAction) FinalCounts() map[string]int { return v.counts }

// Cast submits self and remembers onWin. It reports whether the vote closed
// on this submission.
func (v *VoteAction) Cast(self Vote, target core.Domain, onWin func(core.Domain, map[string]int)) bool {
	if v.manager == nil {
		return false
	}
	v.target = target
	v.onWin = onWin
	return v.manager.SubmitVote(self)
}

// TriggerWinning runs the remembered effect on the remembered target.
func (v *VoteAction) TriggerWinning(counts map[string]int) {
	v.won = true
	v.counts = counts
	if v.onWin != nil && v.target != nil {
		v.onWin(v.target, counts)
	}
}
