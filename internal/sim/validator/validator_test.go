package validator_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/validator"
)

type arena struct {
	network.GameState
	Tally *tally `json:"-"`
}

type tally struct {
	core.Leaf
	Value int `json:"value"`
}

func newArena(id uuid.UUID) network.State {
	a := &arena{}
	network.InitGameState(a, id, network.SeedFor(id), testCodec())
	a.Tally = &tally{}
	core.Init(a.Tally, a)
	return a
}

type bump struct {
	core.On[*tally]
	network.Header
	N int `json:"n"`
}

func (b *bump) Apply(t core.Domain) { t.(*tally).Value += b.N }

// flaky alternates on process-wide state, so two instances fed the same
// action disagree about whether a nested bump runs.
type flaky struct {
	core.On[*tally]
	network.Header
}

var flakyFlip bool

func (*flaky) Apply(t core.Domain) {
	flakyFlip = !flakyFlip
	if flakyFlip {
		core.Execute(t, &bump{N: 1})
	}
}

// drift leaves identical traces but different state.
type drift struct {
	core.On[*tally]
	network.Header
}

var driftCalls int

func (*drift) Apply(t core.Domain) {
	driftCalls++
	t.(*tally).Value += driftCalls
}

type crash struct {
	core.On[*tally]
	network.Header
}

func (*crash) Apply(core.Domain) { panic("boom") }

type brittle struct {
	core.On[*tally]
	network.Header
}

var brittleCalls int

// Apply succeeds on the shadow and panics on the primary.
func (*brittle) Apply(t core.Domain) {
	brittleCalls++
	if brittleCalls%2 == 0 {
		panic("primary only")
	}
	t.(*tally).Value++
}

func testCodec() *network.Codec {
	c := network.NewCodec()
	network.Register[bump](c, "Bump")
	network.Register[flaky](c, "Flaky")
	network.Register[drift](c, "Drift")
	network.Register[crash](c, "Crash")
	network.Register[brittle](c, "Brittle")
	return c
}

func newPair(t *testing.T, opts validator.Options) (*validator.Validator, *network.Executor) {
	t.Helper()
	id := uuid.New()
	primary := newArena(id)
	v := validator.New(primary, newArena(id), opts, nil)
	exec := network.NewExecutor(primary)
	exec.Validate = v.Validate
	return v, exec
}

func TestDeterministicActionsNeverFail(t *testing.T) {
	v, exec := newPair(t, validator.Options{CheckState: true})
	for i := 0; i < 250; i++ {
		require.True(t, exec.Execute(&bump{N: i % 7}, nil, nil))
	}
	require.False(t, v.HasFailed())
	require.Equal(t, 250, v.ActionCount())

	p, err := core.Digest(v.Primary())
	require.NoError(t, err)
	s, err := core.Digest(v.Shadow())
	require.NoError(t, err)
	require.Equal(t, p, s)
}

func TestDetectsTraceDivergence(t *testing.T) {
	for run := 0; run < 5; run++ {
		flakyFlip = false
		v, exec := newPair(t, validator.Options{})

		var got []validator.Failure
		v.OnFailure(func(f validator.Failure) { got = append(got, f) })

		exec.Execute(&bump{N: 1}, nil, nil)
		require.False(t, exec.Execute(&flaky{}, nil, nil), "run %d", run)
		require.True(t, v.HasFailed())
		require.Len(t, got, 1)

		f := got[0]
		require.Equal(t, validator.KindTrace, f.Kind)
		require.Equal(t, "flaky", f.ActionType)
		require.Equal(t, 2, f.ActionCount)
		require.GreaterOrEqual(t, f.Index, 0)
		require.Contains(t, f.ActionJSON, `"type":"Flaky"`)
		require.NotEqual(t, f.Primary, f.Shadow)

		// Once failed, actions run on the primary only.
		require.True(t, exec.Execute(&bump{N: 1}, nil, nil))
		require.Len(t, got, 1)
		require.Equal(t, 2, v.ActionCount())
	}
}

func TestDetectsStateDivergence(t *testing.T) {
	driftCalls = 0
	v, exec := newPair(t, validator.Options{CheckState: true})
	require.False(t, exec.Execute(&drift{}, nil, nil))

	f, ok := v.Failure()
	require.True(t, ok)
	require.Equal(t, validator.KindState, f.Kind)
	require.Greater(t, f.Index, 0)
	require.NotEqual(t, f.Primary, f.Shadow)
	require.True(t, strings.HasPrefix(f.Context, "primary: ..."))
}

func TestFullStateReportsFirstDifferingByte(t *testing.T) {
	driftCalls = 0
	v, exec := newPair(t, validator.Options{CheckState: true, FullState: true})
	exec.Execute(&drift{}, nil, nil)

	f, ok := v.Failure()
	require.True(t, ok)
	require.Equal(t, f.Primary[:f.Index], f.Shadow[:f.Index])
	require.NotEqual(t, f.Primary[f.Index], f.Shadow[f.Index])
}

func TestPrimaryPanicStillReported(t *testing.T) {
	v, exec := newPair(t, validator.Options{})
	var errs []error
	require.False(t, exec.Execute(&crash{}, nil, func(err error) { errs = append(errs, err) }))
	require.Len(t, errs, 1)
	require.False(t, v.HasFailed())
}

func TestPanicOnPrimaryOnlyIsDivergence(t *testing.T) {
	brittleCalls = 0
	v, exec := newPair(t, validator.Options{})
	var failures []validator.Failure
	v.OnFailure(func(f validator.Failure) { failures = append(failures, f) })
	var errs []error
	require.False(t, exec.Execute(&brittle{}, nil, func(err error) { errs = append(errs, err) }))
	require.Len(t, errs, 1)
	require.ErrorContains(t, errs[0], "primary only")
	require.True(t, v.HasFailed())
	require.Len(t, failures, 1)
	require.Equal(t, validator.KindTrace, failures[0].Kind)
}

func TestTraceScopedToMatchUnderServer(t *testing.T) {
	srv := network.NewServer(network.ServerOptions{})
	id := uuid.New()
	primary := newArena(id)
	core.Attach(primary, srv)

	v := validator.New(primary, newArena(id), validator.Options{CheckState: true}, nil)
	exec := network.NewExecutor(primary)
	exec.Validate = v.Validate
	for i := 0; i < 10; i++ {
		a := &bump{N: 1}
		a.SyncToClient = true
		require.True(t, exec.Execute(a, nil, nil))
	}
	require.False(t, v.HasFailed())
	require.Equal(t, 10, srv.Sync.Pending())
}

func TestManagerLifecycle(t *testing.T) {
	m := validator.NewManager(newArena, validator.Options{}, nil)
	var failures []validator.Failure
	m.OnFailure(func(f validator.Failure) { failures = append(failures, f) })

	id := uuid.New()
	primary := newArena(id)
	v := m.OnMatchCreated(primary)
	exec := network.NewExecutor(primary)
	m.Install(exec)

	for i := 0; i < 5; i++ {
		exec.Execute(&bump{N: 1}, nil, nil)
	}
	sync, err := network.NewSyncGameState(primary)
	require.NoError(t, err)
	exec.Execute(sync, nil, nil)
	require.Equal(t, 5, v.ActionCount())

	flakyFlip = false
	exec.Execute(&flaky{}, nil, nil)
	require.Len(t, failures, 1)

	sum := m.Summaries()
	require.Len(t, sum, 1)
	require.True(t, sum[0].Failed)
	require.NotNil(t, sum[0].Failure)

	shadow := v.Shadow()
	m.OnMatchRemoved(id)
	require.True(t, shadow.IsDisposed())
	require.Nil(t, m.Validator(id))
	m.OnMatchRemoved(id)

	require.True(t, exec.Execute(&bump{N: 1}, nil, nil))
}
