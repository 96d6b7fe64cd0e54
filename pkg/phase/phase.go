// Package phase holds the process-wide migration phase.
//
// The phase decides which backend is authoritative for writes and which one serves
// reads. It moves forward one step at a time:
//
//	source_only -> dual_write_source_read -> dual_write_target_read -> target_only
//
// and backward one step at a time only when rollback is requested explicitly.
package phase

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Phase is one step of the migration.
type Phase int32

const (
	// SourceOnly reads and writes the source backend only.
	SourceOnly Phase = iota
	// DualWriteSourceRead writes the source synchronously and the target best-effort,
	// and reads the source.
	DualWriteSourceRead
	// DualWriteTargetRead writes the target synchronously and the source best-effort,
	// and reads the target with a fallback to the source.
	DualWriteTargetRead
	// TargetOnly reads and writes the target backend only.
	TargetOnly
)

var names = [...]string{
	SourceOnly:          "source_only",
	DualWriteSourceRead: "dual_write_source_read",
	DualWriteTargetRead: "dual_write_target_read",
	TargetOnly:          "target_only",
}

// All lists the phases in order.
var All = []Phase{SourceOnly, DualWriteSourceRead, DualWriteTargetRead, TargetOnly}

func (p Phase) String() string {
	if p.Valid() {
		return names[p]
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// Valid reports whether p is one of the four phases.
func (p Phase) Valid() bool {
	return p >= SourceOnly && p <= TargetOnly
}

// Parse returns the phase named s.
func Parse(s string) (Phase, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range names {
		if name == s {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown migration phase %q", s)
}

func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid migration phase %d", int32(p))
	}
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ErrTransitionRejected is returned for a transition that skips a phase, moves backward
// without rollback, or loses a race against a concurrent transition.
var ErrTransitionRejected = errors.New("phase transition rejected")

// Transition describes an accepted phase change.
type Transition struct {
	From     Phase
	To       Phase
	Rollback bool
	At       time.Time
}

// Registry holds the current phase. Reads are lock-free.
type Registry struct {
	current atomic.Int32
	log     zerolog.Logger

	mu        sync.Mutex
	observers []func(Transition)
}

// NewRegistry returns a registry starting at initial.
func NewRegistry(initial Phase, log zerolog.Logger) (*Registry, error) {
	if !initial.Valid() {
		return nil, fmt.Errorf("invalid initial migration phase %d", int32(initial))
	}
	r := &Registry{log: log.With().Str("component", "phase").Logger()}
	r.current.Store(int32(initial))
	return r, nil
}

// Current returns the active phase.
func (r *Registry) Current() Phase {
	return Phase(r.current.Load())
}

// SetPhase moves to next and returns the phase that was active before.
//
// Moving one step forward is always allowed. Moving one step backward requires rollback.
// Setting the active phase again is a no-op. Anything else fails with
// ErrTransitionRejected and leaves the phase unchanged.
func (r *Registry) SetPhase(next Phase, rollback bool) (Phase, error) {
	if !next.Valid() {
		return r.Current(), fmt.Errorf("%w: unknown phase %d", ErrTransitionRejected, int32(next))
	}

	prev := r.Current()
	switch {
	case next == prev:
		return prev, nil
	case next == prev+1:
	case rollback && next == prev-1:
	case next < prev && !rollback:
		return prev, fmt.Errorf("%w: %s -> %s moves backward without rollback", ErrTransitionRejected, prev, next)
	default:
		return prev, fmt.Errorf("%w: %s -> %s skips a phase", ErrTransitionRejected, prev, next)
	}

	if !r.current.CompareAndSwap(int32(prev), int32(next)) {
		return r.Current(), fmt.Errorf("%w: %s -> %s lost to a concurrent transition", ErrTransitionRejected, prev, next)
	}

	t := Transition{From: prev, To: next, Rollback: rollback, At: time.Now().UTC()}
	r.log.Info().
		Str("previous", prev.String()).
		Str("phase", next.String()).
		Bool("rollback", rollback).
		Msg("migration phase changed")
	r.notify(t)
	return prev, nil
}

// Advance moves one phase forward.
func (r *Registry) Advance() (Phase, error) {
	return r.SetPhase(r.Current()+1, false)
}

// Rollback moves one phase backward.
func (r *Registry) Rollback() (Phase, error) {
	return r.SetPhase(r.Current()-1, true)
}

// OnTransition registers fn to be called after every accepted transition.
func (r *Registry) OnTransition(fn func(Transition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *Registry) notify(t Transition) {
	r.mu.Lock()
	observers := append([]func(Transition){}, r.observers...)
	r.mu.Unlock()
	for _, fn := range observers {
		fn(t)
	}
}
