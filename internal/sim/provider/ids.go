// Package provider holds the tree-attached sources of identity and randomness
// a match needs to stay reproducible.
package provider

import (
	"sort"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
)

// IDProvider assigns counter-based ids to nodes attached anywhere under its
// target. Attach order alone decides the ids, so two trees built the same way
// get the same ids.
type IDProvider struct {
	core.Leaf
	Counter int `json:"counter"`

	target     core.Domain
	assigned   map[int]struct{}
	onAssigned []func(core.Domain, int)
}

// NewIDProvider attaches a provider under target and assigns ids to the nodes
// already present.
func NewIDProvider(target core.Domain) *IDProvider {
	p := &IDProvider{Counter: 1, target: target, assigned: map[int]struct{}{}}
	core.Init(p, target)
	r := core.NewReaction[core.Domain, *core.AddChild]("AssignIds").
		After(func(_ core.Domain, a *core.AddChild) {
			p.assign(a.Child)
			p.assignChildren(a.Child)
		}).
		AddTo(target)
	p.OnDispose(r.Dispose)
	p.AssignExisting()
	return p
}

// Current is the next id to be handed out. Peers compare it to detect
// diverging structure.
func (p *IDProvider) Current() int { return p.Counter }

// OnAssigned registers a callback fired after every assignment.
func (p *IDProvider) OnAssigned(fn func(d core.Domain, id int)) {
	p.onAssigned = append(p.onAssigned, fn)
}

// AssignExisting assigns ids to every node under the target, ordered by type
// name. The target keeps id 0.
func (p *IDProvider) AssignExisting() {
	var nodes []core.Domain
	core.Walk(p.target, func(d core.Domain) bool {
		if d != p.target {
			nodes = append(nodes, d)
		}
		return true
	})
	sortByTypeName(nodes)
	for _, d := range nodes {
		p.assign(d)
	}
}

func (p *IDProvider) assign(d core.Domain) {
	if _, ok := p.assigned[d.ID()]; ok {
		return
	}
	id := p.Counter
	p.Counter++
	d.SetID(id)
	p.assigned[id] = struct{}{}
	for _, fn := range p.onAssigned {
		fn(d, id)
	}
}

func (p *IDProvider) assignChildren(d core.Domain) {
	children := d.Children()
	sortByTypeName(children)
	for _, c := range children {
		p.assign(c)
		p.assignChildren(c)
	}
}

func sortByTypeName(nodes []core.Domain) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return core.TypeName(nodes[i]) < core.TypeName(nodes[j])
	})
}
