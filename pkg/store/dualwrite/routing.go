package dualwrite

import "github.com/surrealdb/surrealshop/pkg/phase"

type side int8

const (
	none side = iota
	sourceSide
	targetSide
)

func (s side) String() string {
	switch s {
	case sourceSide:
		return "source"
	case targetSide:
		return "target"
	}
	return "none"
}

// route is the behaviour of one phase: which backend must accept writes, which one
// gets the best-effort copy, which one serves reads and which one answers when that
// read fails.
type route struct {
	write    side
	shadow   side
	read     side
	fallback side
}

var routes = map[phase.Phase]route{
	phase.SourceOnly:          {write: sourceSide, shadow: none, read: sourceSide, fallback: none},
	phase.DualWriteSourceRead: {write: sourceSide, shadow: targetSide, read: sourceSide, fallback: none},
	phase.DualWriteTargetRead: {write: targetSide, shadow: sourceSide, read: targetSide, fallback: sourceSide},
	phase.TargetOnly:          {write: targetSide, shadow: none, read: targetSide, fallback: none},
}

func routeFor(p phase.Phase) route {
	r, ok := routes[p]
	if !ok {
		return routes[phase.SourceOnly]
	}
	return r
}
