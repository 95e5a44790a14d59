package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warmline/warmline/call"
	"github.com/warmline/warmline/config"
	"github.com/warmline/warmline/media"
	"github.com/warmline/warmline/notify"
	"github.com/warmline/warmline/types"
)

type countingObserver struct {
	mu          sync.Mutex
	transitions []types.TransferStatus
}

func (o *countingObserver) TransitionApplied(from types.TransferStatus, state *types.TransferState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, state.Status)
}

func (o *countingObserver) seen() []types.TransferStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]types.TransferStatus(nil), o.transitions...)
}

func newTestCoordinator(t *testing.T, summarize SummarizeFunc) (*Coordinator, *countingObserver) {
	t.Helper()
	prov, err := media.NewJWTProvisioner(config.MediaConfig{
		WSURL:     "wss://media.test",
		APIKey:    "key",
		APISecret: "secret",
		TokenTTL:  time.Hour,
	}, zap.NewNop())
	require.NoError(t, err)

	obs := &countingObserver{}
	c := NewCoordinator(Options{
		Registry:           call.NewRegistry(zap.NewNop()),
		Hub:                notify.NewHub(16, zap.NewNop()),
		Provisioner:        prov,
		Summarize:          summarize,
		InviteTimeout:      time.Minute,
		MaxSummaryAttempts: 2,
		Observer:           obs,
		Logger:             zap.NewNop(),
	})
	return c, obs
}

func waitCoordStatus(t *testing.T, c *Coordinator, callID string, want types.TransferStatus) *types.TransferState {
	t.Helper()
	var got *types.TransferState
	require.Eventually(t, func() bool {
		st, err := c.State(callID)
		if err != nil {
			return false
		}
		got = st
		return st.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestCoordinator_CreateAndJoinCall(t *testing.T) {
	c, _ := newTestCoordinator(t, instantSummarizer())
	ctx := context.Background()

	cl, grant, err := c.CreateCall(ctx, "Dana", "agent-1")
	require.NoError(t, err)
	assert.NotEmpty(t, cl.ID)
	require.NotNil(t, grant)
	assert.Equal(t, cl.Room, grant.Room)
	assert.Equal(t, types.RoleCustomer, grant.Role)

	agentGrant, err := c.JoinCall(ctx, cl.ID, "agent-1", types.RoleAgentA)
	require.NoError(t, err)
	assert.Equal(t, cl.Room, agentGrant.Room)

	_, err = c.JoinCall(ctx, "missing", "x", types.RoleCustomer)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))

	_, err = c.JoinCall(ctx, cl.ID, "x", types.Role("supervisor"))
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestCoordinator_InitiateAuthorization(t *testing.T) {
	c, _ := newTestCoordinator(t, instantSummarizer())
	ctx := context.Background()

	cl, _, err := c.CreateCall(ctx, "Dana", "agent-1")
	require.NoError(t, err)

	_, err = c.Initiate(ctx, cl.ID, types.RoleCustomer, "transcript")
	assert.Equal(t, types.ErrUnauthorizedRole, types.GetErrorCode(err))

	_, err = c.Initiate(ctx, cl.ID, types.RoleAgentB, "transcript")
	assert.Equal(t, types.ErrUnauthorizedRole, types.GetErrorCode(err))

	_, err = c.Initiate(ctx, "missing", types.RoleAgentA, "transcript")
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))

	_, err = c.Initiate(ctx, cl.ID, types.RoleAgentA, "")
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	st, err := c.Initiate(ctx, cl.ID, types.RoleAgentA, "transcript")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInitiated, st.Status)
}

func TestCoordinator_FullHandoff(t *testing.T) {
	c, obs := newTestCoordinator(t, instantSummarizer())
	ctx := context.Background()

	cl, _, err := c.CreateCall(ctx, "Dana", "agent-1")
	require.NoError(t, err)

	_, err = c.Initiate(ctx, cl.ID, types.RoleAgentA, "customer: my account is locked")
	require.NoError(t, err)
	st := waitCoordStatus(t, c, cl.ID, types.StatusSummaryReady)

	st, aGrant, err := c.Confirm(ctx, st.TransferID, types.RoleAgentA, st.Version, "locked out, needs reset", "agent-9")
	require.NoError(t, err)
	require.NotNil(t, aGrant)
	assert.Equal(t, st.ConsultRoom, aGrant.Room)
	assert.Equal(t, "agent-1", aGrant.Identity)

	st, bGrant, err := c.Join(ctx, st.TransferID, types.RoleAgentB, st.Version, "agent-9")
	require.NoError(t, err)
	require.NotNil(t, bGrant)
	assert.Equal(t, st.ConsultRoom, bGrant.Room)

	// Agent B is now bound to the call.
	got, err := c.GetCall(cl.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent-9", got.AgentBID)

	st, liveGrant, err := c.Complete(ctx, st.TransferID, types.RoleAgentB, st.Version)
	require.NoError(t, err)
	assert.Equal(t, types.StatusComplete, st.Status)
	require.NotNil(t, liveGrant)
	assert.Equal(t, cl.Room, liveGrant.Room)
	assert.Equal(t, "agent-9", liveGrant.Identity)

	// Agent A is released once the handoff completes.
	_, bound := c.registry.Binding(cl.ID, types.RoleAgentA)
	assert.False(t, bound)

	assert.Equal(t, []types.TransferStatus{
		types.StatusInitiated, types.StatusSummaryReady, types.StatusInvitingAgent,
		types.StatusAgentJoining, types.StatusComplete,
	}, obs.seen())
}

func TestCoordinator_JoinAddressedToTargetAgent(t *testing.T) {
	c, _ := newTestCoordinator(t, instantSummarizer())
	ctx := context.Background()

	cl, _, err := c.CreateCall(ctx, "Dana", "agent-1")
	require.NoError(t, err)
	_, err = c.Initiate(ctx, cl.ID, types.RoleAgentA, "transcript")
	require.NoError(t, err)
	st := waitCoordStatus(t, c, cl.ID, types.StatusSummaryReady)
	st, _, err = c.Confirm(ctx, st.TransferID, types.RoleAgentA, st.Version, "", "agent-9")
	require.NoError(t, err)

	_, _, err = c.Join(ctx, st.TransferID, types.RoleAgentB, st.Version, "agent-13")
	assert.Equal(t, types.ErrUnauthorizedRole, types.GetErrorCode(err))

	_, _, err = c.Join(ctx, st.TransferID, types.RoleCustomer, st.Version, "agent-9")
	assert.Equal(t, types.ErrUnauthorizedRole, types.GetErrorCode(err))

	_, _, err = c.Join(ctx, st.TransferID, types.RoleAgentB, st.Version, "agent-9")
	assert.NoError(t, err)
}

func TestCoordinator_SubscriberSeesSnapshotThenTransitions(t *testing.T) {
	c, _ := newTestCoordinator(t, instantSummarizer())
	ctx := context.Background()

	cl, _, err := c.CreateCall(ctx, "Dana", "agent-1")
	require.NoError(t, err)

	sub, err := c.Subscribe(cl.ID, types.RoleCustomer)
	require.NoError(t, err)
	defer c.Unsubscribe(sub)

	first := <-sub.States()
	assert.Equal(t, types.StatusNone, first.Status)

	_, err = c.Initiate(ctx, cl.ID, types.RoleAgentA, "transcript")
	require.NoError(t, err)

	second := <-sub.States()
	assert.Equal(t, types.StatusInitiated, second.Status)
	third := <-sub.States()
	assert.Equal(t, types.StatusSummaryReady, third.Status)
	assert.Greater(t, third.Version, second.Version)
}

func TestCoordinator_MidTransferSubscriberSeesLiveState(t *testing.T) {
	c, _ := newTestCoordinator(t, instantSummarizer())
	ctx := context.Background()

	cl, _, err := c.CreateCall(ctx, "Dana", "agent-1")
	require.NoError(t, err)
	_, err = c.Initiate(ctx, cl.ID, types.RoleAgentA, "transcript")
	require.NoError(t, err)
	waitCoordStatus(t, c, cl.ID, types.StatusSummaryReady)

	sub, err := c.Subscribe(cl.ID, types.RoleAgentB)
	require.NoError(t, err)
	defer c.Unsubscribe(sub)

	first := <-sub.States()
	assert.Equal(t, types.StatusSummaryReady, first.Status)
}

func TestCoordinator_EndCallCancelsAndCloses(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c, _ := newTestCoordinator(t, blockedSummarizer(release))
	ctx := context.Background()

	cl, _, err := c.CreateCall(ctx, "Dana", "agent-1")
	require.NoError(t, err)
	_, err = c.Initiate(ctx, cl.ID, types.RoleAgentA, "transcript")
	require.NoError(t, err)

	sub, err := c.Subscribe(cl.ID, types.RoleCustomer)
	require.NoError(t, err)

	c.EndCall(ctx, cl.ID)

	// The stream drains the cancel and then closes.
	sawCancelled := false
	for st := range sub.States() {
		if st.Status == types.StatusCancelled {
			sawCancelled = true
		}
	}
	assert.True(t, sawCancelled)

	_, err = c.GetCall(cl.ID)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))

	// Idempotent.
	c.EndCall(ctx, cl.ID)
}

func TestCoordinator_StateUnknownCall(t *testing.T) {
	c, _ := newTestCoordinator(t, instantSummarizer())
	_, err := c.State("missing")
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestCoordinator_ActiveTransfers(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c, _ := newTestCoordinator(t, blockedSummarizer(release))
	ctx := context.Background()

	assert.Equal(t, 0, c.ActiveTransfers())

	cl, _, err := c.CreateCall(ctx, "Dana", "agent-1")
	require.NoError(t, err)
	st, err := c.Initiate(ctx, cl.ID, types.RoleAgentA, "transcript")
	require.NoError(t, err)
	assert.Equal(t, 1, c.ActiveTransfers())

	_, err = c.Cancel(ctx, st.TransferID, types.RoleAgentA, st.Version, "nevermind")
	require.NoError(t, err)
	assert.Equal(t, 0, c.ActiveTransfers())
}
