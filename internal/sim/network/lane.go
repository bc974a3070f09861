package network

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrLaneExists = errors.New("network: lane already registered")

// Lane is a logical delivery channel. Clients process one action per lane per
// frame, so chat never waits behind gameplay.
type Lane struct {
	ID   int
	Name string
}

func (l Lane) String() string { return fmt.Sprintf("%s (ID: %d)", l.Name, l.ID) }

var (
	lanesMu sync.RWMutex
	lanes   = map[int]Lane{}
)

// RegisterLane adds a lane to the process-wide registry.
func RegisterLane(id int, name string) (Lane, error) {
	lanesMu.Lock()
	defer lanesMu.Unlock()
	if _, ok := lanes[id]; ok {
		return Lane{}, fmt.Errorf("%w: %d", ErrLaneExists, id)
	}
	l := Lane{ID: id, Name: name}
	lanes[id] = l
	return l, nil
}

func MustRegisterLane(id int, name string) Lane {
	l, err := RegisterLane(id, name)
	if err != nil {
		panic(err)
	}
	return l
}

var (
	Main     = MustRegisterLane(0, "Main")
	PingPong = MustRegisterLane(1, "PingPong")
	Chat     = MustRegisterLane(2, "Chat")
)

func LaneByID(id int) (Lane, bool) {
	lanesMu.RLock()
	defer lanesMu.RUnlock()
	l, ok := lanes[id]
	return l, ok
}

// ResolveLane maps unknown ids to Main.
func ResolveLane(id int) Lane {
	if l, ok := LaneByID(id); ok {
		return l
	}
	return Main
}

// Lanes returns every registered lane ordered by id.
func Lanes() []Lane {
	lanesMu.RLock()
	out := make([]Lane, 0, len(lanes))
	for _, l := range lanes {
		out = append(out, l)
	}
	lanesMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
