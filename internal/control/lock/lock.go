// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package lock implements the exclusive control lock. At most one operator
// holds mutating authority over the orchestration core at any time.
package lock

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ManuGH/cogate/internal/control/authz"
	"github.com/ManuGH/cogate/internal/log"
	"github.com/ManuGH/cogate/internal/metrics"
	"github.com/ManuGH/cogate/internal/notify"
)

// Reason distinguishes why a mutating operation was refused.
type Reason string

const (
	NotLocked     Reason = "not_locked"
	LockedByOther Reason = "locked_by_other"
)

// ErrNotOwner is returned by Release when the caller does not hold the lock.
var ErrNotOwner = errors.New("control lock is not held by caller")

// DeniedError is returned when the caller may not mutate.
type DeniedError struct {
	Reason    Reason
	OwnerName string
}

func (e *DeniedError) Error() string {
	if e.Reason == NotLocked {
		return "Control is not locked"
	}
	return fmt.Sprintf("Control is locked by %s", e.OwnerName)
}

// Owner identifies the session holding the lock.
type Owner struct {
	PersonID string
	Name     string
}

// State is the externally visible lock state. Both fields are empty when
// the lock is free.
type State struct {
	LockedBy     string `json:"lockedBy,omitempty"`
	LockedByName string `json:"lockedByName,omitempty"`
}

// Locked reports whether someone holds the lock.
func (s State) Locked() bool {
	return s.LockedBy != ""
}

// Broadcaster receives every lock state change.
type Broadcaster interface {
	Broadcast(msg notify.Message)
}

// Padlock is the process-wide control lock. Construct once and inject.
type Padlock struct {
	mu    sync.Mutex
	owner *Owner
	bc    Broadcaster
}

// New returns a free lock. bc may be nil.
func New(bc Broadcaster) *Padlock {
	return &Padlock{bc: bc}
}

// Check reports whether personID may run operation. Read-only operations are
// always allowed. Check has no side effects.
func (p *Padlock) Check(operation, personID string) error {
	if authz.IsReadOnly(operation) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkLocked(personID)
}

// CheckMutation is Check for operations outside the dispatch table, which
// always require the lock.
func (p *Padlock) CheckMutation(personID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkLocked(personID)
}

func (p *Padlock) checkLocked(personID string) error {
	switch {
	case p.owner == nil:
		metrics.IncLockDenied(string(NotLocked))
		return &DeniedError{Reason: NotLocked}
	case p.owner.PersonID != personID:
		metrics.IncLockDenied(string(LockedByOther))
		return &DeniedError{Reason: LockedByOther, OwnerName: p.owner.Name}
	default:
		return nil
	}
}

// Acquire takes the lock for owner. Acquiring a lock already held by the
// same person succeeds without a broadcast.
func (p *Padlock) Acquire(owner Owner) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.owner != nil {
		if p.owner.PersonID == owner.PersonID {
			return p.stateLocked(), nil
		}
		return p.stateLocked(), &DeniedError{Reason: LockedByOther, OwnerName: p.owner.Name}
	}
	p.owner = &owner
	logger := log.WithComponent("lock")
	logger.Info().
		Str(log.FieldEvent, "lock.acquired").
		Str(log.FieldPersonID, owner.PersonID).
		Str(log.FieldPersonName, owner.Name).
		Msg("control lock acquired")
	return p.changedLocked(), nil
}

// Release frees the lock if personID holds it.
func (p *Padlock) Release(personID string) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.owner == nil || p.owner.PersonID != personID {
		return p.stateLocked(), ErrNotOwner
	}
	p.owner = nil
	logger := log.WithComponent("lock")
	logger.Info().
		Str(log.FieldEvent, "lock.released").
		Str(log.FieldPersonID, personID).
		Msg("control lock released")
	return p.changedLocked(), nil
}

// ForceRelease frees the lock regardless of owner. Freeing a free lock is a
// no-op.
func (p *Padlock) ForceRelease(by Owner) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.owner == nil {
		return p.stateLocked()
	}
	prev := p.owner
	p.owner = nil
	logger := log.WithComponent("lock")
	logger.Warn().
		Str(log.FieldEvent, "lock.force_released").
		Str(log.FieldPersonID, by.PersonID).
		Str("previous_owner", prev.PersonID).
		Msg("control lock force released")
	return p.changedLocked()
}

// State returns a snapshot of the lock.
func (p *Padlock) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Padlock) stateLocked() State {
	if p.owner == nil {
		return State{}
	}
	return State{LockedBy: p.owner.PersonID, LockedByName: p.owner.Name}
}

// changedLocked publishes the new state while still holding the mutex so
// observers see changes in order.
func (p *Padlock) changedLocked() State {
	st := p.stateLocked()
	metrics.SetLockHeld(st.Locked())
	if p.bc != nil {
		p.bc.Broadcast(notify.Padlock(st))
	}
	return st
}
