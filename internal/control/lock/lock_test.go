package lock

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ManuGH/cogate/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recorder) Broadcast(msg notify.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, m := range r.msgs {
		out = append(out, m.Payload.(State))
	}
	return out
}

func TestCheckReadOnlyAlwaysAllowed(t *testing.T) {
	p := New(nil)
	assert.NoError(t, p.Check("GetEnvironments", "anyone"))

	_, err := p.Acquire(Owner{PersonID: "1", Name: "Ada"})
	require.NoError(t, err)
	assert.NoError(t, p.Check("ListRepos", "2"))
}

func TestCheckMutatingOperations(t *testing.T) {
	p := New(nil)

	err := p.Check("NewEnvironment", "1")
	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, NotLocked, denied.Reason)
	assert.Equal(t, "Control is not locked", err.Error())

	_, err = p.Acquire(Owner{PersonID: "1", Name: "Ada"})
	require.NoError(t, err)

	assert.NoError(t, p.Check("NewEnvironment", "1"))

	err = p.Check("DestroyEnvironment", "2")
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, LockedByOther, denied.Reason)
	assert.Equal(t, "Ada", denied.OwnerName)
	assert.Equal(t, "Control is locked by Ada", err.Error())

	// Unknown operation names are never on the allow-list.
	assert.Error(t, p.Check("Whatever", "2"))
	assert.NoError(t, p.CheckMutation("1"))
	assert.Error(t, p.CheckMutation("2"))
}

func TestAcquireRelease(t *testing.T) {
	rec := &recorder{}
	p := New(rec)

	st, err := p.Acquire(Owner{PersonID: "1", Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, State{LockedBy: "1", LockedByName: "Ada"}, st)

	// Idempotent for the owner.
	_, err = p.Acquire(Owner{PersonID: "1", Name: "Ada"})
	require.NoError(t, err)

	_, err = p.Acquire(Owner{PersonID: "2", Name: "Bob"})
	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "Ada", denied.OwnerName)

	_, err = p.Release("2")
	assert.ErrorIs(t, err, ErrNotOwner)

	st, err = p.Release("1")
	require.NoError(t, err)
	assert.False(t, st.Locked())

	_, err = p.Release("1")
	assert.ErrorIs(t, err, ErrNotOwner)

	assert.Equal(t, []State{{LockedBy: "1", LockedByName: "Ada"}, {}}, rec.states())
	assert.Equal(t, notify.CommandPadlock, rec.msgs[0].Command)
}

func TestForceRelease(t *testing.T) {
	rec := &recorder{}
	p := New(rec)

	assert.Equal(t, State{}, p.ForceRelease(Owner{PersonID: "admin"}))
	assert.Empty(t, rec.states())

	_, err := p.Acquire(Owner{PersonID: "1", Name: "Ada"})
	require.NoError(t, err)
	p.ForceRelease(Owner{PersonID: "admin"})
	assert.False(t, p.State().Locked())
	assert.Len(t, rec.states(), 2)
}

func TestAtMostOneOwner(t *testing.T) {
	p := New(nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if _, err := p.Acquire(Owner{PersonID: fmt.Sprintf("p%d", id), Name: "x"}); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
