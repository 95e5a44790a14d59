package call

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warmline/warmline/types"
)

func TestRegistry_CreateAndGet(t *testing.T) {
	reg := NewRegistry(zap.NewNop())

	c := reg.CreateCall("Jane", "agent-a-1")
	assert.NotEmpty(t, c.ID)
	assert.Contains(t, c.Room, "call_")
	assert.Equal(t, "agent-a-1", c.AgentAID)

	got, err := reg.GetCall(c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	// Customer and Agent A are bound at creation.
	_, ok := reg.Binding(c.ID, types.RoleCustomer)
	assert.True(t, ok)
	_, ok = reg.Binding(c.ID, types.RoleAgentA)
	assert.True(t, ok)
	_, ok = reg.Binding(c.ID, types.RoleAgentB)
	assert.False(t, ok)
}

func TestRegistry_GetCall_NotFound(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	_, err := reg.GetCall("missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestRegistry_EndCall_Idempotent(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	c := reg.CreateCall("Jane", "agent-a-1")

	reg.EndCall(c.ID)
	_, err := reg.GetCall(c.ID)
	assert.Error(t, err)

	// Ending again, or ending an unknown call, is a no-op.
	reg.EndCall(c.ID)
	reg.EndCall("never-existed")
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_Bind_RebindReplaces(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	c := reg.CreateCall("Jane", "agent-a-1")

	err := reg.Bind(c.ID, types.ParticipantBinding{Role: types.RoleAgentB, Identity: "agent-b-1", SessionRef: "sess-1"})
	require.NoError(t, err)

	got, _ := reg.GetCall(c.ID)
	assert.Equal(t, "agent-b-1", got.AgentBID)

	// Reconnect with a new session ref replaces, not errors.
	err = reg.Bind(c.ID, types.ParticipantBinding{Role: types.RoleAgentB, Identity: "agent-b-1", SessionRef: "sess-2"})
	require.NoError(t, err)

	b, ok := reg.Binding(c.ID, types.RoleAgentB)
	require.True(t, ok)
	assert.Equal(t, "sess-2", b.SessionRef)
}

func TestRegistry_Bind_Errors(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	c := reg.CreateCall("Jane", "agent-a-1")

	err := reg.Bind(c.ID, types.ParticipantBinding{Role: "supervisor", Identity: "x"})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	err = reg.Bind("missing", types.ParticipantBinding{Role: types.RoleAgentB, Identity: "x"})
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestRegistry_Release(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	c := reg.CreateCall("Jane", "agent-a-1")
	require.NoError(t, reg.Bind(c.ID, types.ParticipantBinding{Role: types.RoleAgentB, Identity: "agent-b-1"}))

	reg.Release(c.ID, types.RoleAgentB)
	_, ok := reg.Binding(c.ID, types.RoleAgentB)
	assert.False(t, ok)

	got, _ := reg.GetCall(c.ID)
	assert.Empty(t, got.AgentBID)

	// Releasing again or on an unknown call is harmless.
	reg.Release(c.ID, types.RoleAgentB)
	reg.Release("missing", types.RoleAgentA)
}

func TestRegistry_ConcurrentCreate(t *testing.T) {
	reg := NewRegistry(zap.NewNop())

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.CreateCall("customer", "agent-a")
		}()
	}
	wg.Wait()

	assert.Equal(t, n, reg.Len())
}
