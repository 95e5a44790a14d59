package transfer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warmline/warmline/call"
	"github.com/warmline/warmline/media"
	"github.com/warmline/warmline/notify"
	"github.com/warmline/warmline/store"
	"github.com/warmline/warmline/types"
)

// Observer receives applied transitions for metrics export. The state is
// the published snapshot and must not be mutated.
type Observer interface {
	TransitionApplied(from types.TransferStatus, state *types.TransferState)
}

// Options wires the coordinator's collaborators. Audit, Provisioner and
// Observer are optional.
type Options struct {
	Registry           *call.Registry
	Hub                *notify.Hub
	Audit              *store.Audit
	Provisioner        media.Provisioner
	Summarize          SummarizeFunc
	InviteTimeout      time.Duration
	MaxSummaryAttempts int
	Observer           Observer
	Logger             *zap.Logger
}

// Coordinator is the single entry point clients interact with. It validates
// requests against the call registry, enforces role authorization, drives
// the state machine, and runs the side effects of each applied transition:
// fan-out publish, audit append, metrics.
type Coordinator struct {
	registry    *call.Registry
	machine     *Machine
	hub         *notify.Hub
	audit       *store.Audit
	provisioner media.Provisioner
	observer    Observer
	logger      *zap.Logger
}

// NewCoordinator builds the coordinator and its state machine.
func NewCoordinator(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		registry:    opts.Registry,
		hub:         opts.Hub,
		audit:       opts.Audit,
		provisioner: opts.Provisioner,
		observer:    opts.Observer,
		logger:      logger.With(zap.String("component", "transfer_coordinator")),
	}
	c.machine = NewMachine(MachineOptions{
		Summarize:          opts.Summarize,
		MaxSummaryAttempts: opts.MaxSummaryAttempts,
		InviteTimeout:      opts.InviteTimeout,
		OnTransition:       c.onTransition,
		Logger:             logger,
	})
	return c
}

// onTransition runs once per applied transition, in version order per call.
func (c *Coordinator) onTransition(prev types.TransferStatus, state *types.TransferState, actor types.Role) {
	if c.hub != nil {
		c.hub.Publish(state.CallID, state)
	}
	c.audit.Append(context.Background(), state, actor)
	if c.observer != nil {
		c.observer.TransitionApplied(prev, state)
	}
}

func requireRole(actor, want types.Role, op string) error {
	if actor != want {
		return types.NewError(types.ErrUnauthorizedRole,
			fmt.Sprintf("%s requires role %s", op, want)).
			WithHTTPStatus(http.StatusForbidden)
	}
	return nil
}

// grant mints a room token when a provisioner is configured.
func (c *Coordinator) grant(room, identity string, role types.Role) *media.RoomGrant {
	if c.provisioner == nil || identity == "" {
		return nil
	}
	g, err := c.provisioner.GrantRoom(room, identity, role)
	if err != nil {
		c.logger.Error("room grant failed",
			zap.String("room", room),
			zap.String("identity", identity),
			zap.Error(err),
		)
		return nil
	}
	return g
}

// CreateCall registers a call and returns it with the customer's room
// credential.
func (c *Coordinator) CreateCall(ctx context.Context, customerName, agentAID string) (*types.Call, *media.RoomGrant, error) {
	if customerName == "" || agentAID == "" {
		return nil, nil, types.NewError(types.ErrInvalidRequest, "customer name and agent are required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	cl := c.registry.CreateCall(customerName, agentAID)
	return cl, c.grant(cl.Room, customerName, types.RoleCustomer), nil
}

// JoinCall binds a participant to an existing call and mints their room
// credential.
func (c *Coordinator) JoinCall(ctx context.Context, callID, identity string, role types.Role) (*media.RoomGrant, error) {
	if !role.Valid() {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown role: %s", role)).
			WithHTTPStatus(http.StatusBadRequest)
	}
	cl, err := c.registry.GetCall(callID)
	if err != nil {
		return nil, err
	}
	if err := c.registry.Bind(callID, types.ParticipantBinding{Role: role, Identity: identity}); err != nil {
		return nil, err
	}
	return c.grant(cl.Room, identity, role), nil
}

// GetCall returns the call record.
func (c *Coordinator) GetCall(callID string) (*types.Call, error) {
	return c.registry.GetCall(callID)
}

// EndCall tears the call down: an in-flight transfer is cancelled, the
// registry entry removed, and every subscriber stream closed. Idempotent.
func (c *Coordinator) EndCall(ctx context.Context, callID string) {
	c.machine.ReleaseCall(callID)
	c.registry.EndCall(callID)
	if c.hub != nil {
		c.hub.CloseCall(callID)
	}
}

// Initiate starts a warm transfer. Only the agent currently handling the
// call may initiate one.
func (c *Coordinator) Initiate(ctx context.Context, callID string, actor types.Role, transcript string) (*types.TransferState, error) {
	if err := requireRole(actor, types.RoleAgentA, "initiate"); err != nil {
		return nil, err
	}
	if transcript == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "transcript is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	if _, err := c.registry.GetCall(callID); err != nil {
		return nil, err
	}
	return c.machine.Initiate(callID, actor, transcript)
}

// Transfer returns the current state of a transfer.
func (c *Coordinator) Transfer(transferID string) (*types.TransferState, error) {
	return c.machine.StateByTransfer(transferID)
}

// Confirm accepts the summary, invites the target agent, and returns the
// transferring agent's consultation room credential so the briefing can
// start.
func (c *Coordinator) Confirm(ctx context.Context, transferID string, actor types.Role, version uint64, editedSummary, targetAgentID string) (*types.TransferState, *media.RoomGrant, error) {
	if err := requireRole(actor, types.RoleAgentA, "confirm"); err != nil {
		return nil, nil, err
	}

	state, err := c.machine.Confirm(transferID, actor, version, editedSummary, targetAgentID)
	if err != nil {
		return nil, nil, err
	}

	identity := ""
	if b, ok := c.registry.Binding(state.CallID, types.RoleAgentA); ok {
		identity = b.Identity
	} else if cl, err := c.registry.GetCall(state.CallID); err == nil {
		identity = cl.AgentAID
	}
	return state, c.grant(state.ConsultRoom, identity, types.RoleAgentA), nil
}

// Join accepts the invitation on behalf of the invited agent, binds them to
// the call, and returns their consultation room credential.
func (c *Coordinator) Join(ctx context.Context, transferID string, actor types.Role, version uint64, agentID string) (*types.TransferState, *media.RoomGrant, error) {
	if err := requireRole(actor, types.RoleAgentB, "join"); err != nil {
		return nil, nil, err
	}
	if agentID == "" {
		return nil, nil, types.NewError(types.ErrInvalidRequest, "agent identity is required").
			WithHTTPStatus(http.StatusBadRequest)
	}

	current, err := c.machine.StateByTransfer(transferID)
	if err != nil {
		return nil, nil, err
	}
	if current.TargetAgentID != "" && current.TargetAgentID != agentID {
		return nil, nil, types.NewError(types.ErrUnauthorizedRole,
			fmt.Sprintf("transfer is addressed to agent %s", current.TargetAgentID)).
			WithHTTPStatus(http.StatusForbidden)
	}

	state, err := c.machine.AgentJoin(transferID, actor, version)
	if err != nil {
		return nil, nil, err
	}

	if err := c.registry.Bind(state.CallID, types.ParticipantBinding{Role: types.RoleAgentB, Identity: agentID}); err != nil {
		c.logger.Error("agent binding failed after join",
			zap.String("call_id", state.CallID),
			zap.Error(err),
		)
	}
	return state, c.grant(state.ConsultRoom, agentID, types.RoleAgentB), nil
}

// Complete finishes the handoff: the transfer goes terminal, the original
// agent's binding is released, and the new agent receives the live room
// credential.
func (c *Coordinator) Complete(ctx context.Context, transferID string, actor types.Role, version uint64) (*types.TransferState, *media.RoomGrant, error) {
	if actor != types.RoleAgentA && actor != types.RoleAgentB {
		return nil, nil, types.NewError(types.ErrUnauthorizedRole,
			fmt.Sprintf("complete requires an agent role, got %s", actor)).
			WithHTTPStatus(http.StatusForbidden)
	}

	state, err := c.machine.Complete(transferID, actor, version)
	if err != nil {
		return nil, nil, err
	}

	var grant *media.RoomGrant
	if cl, err := c.registry.GetCall(state.CallID); err == nil {
		grant = c.grant(cl.Room, cl.AgentBID, types.RoleAgentB)
	}
	c.registry.Release(state.CallID, types.RoleAgentA)
	return state, grant, nil
}

// Cancel terminates a transfer. Role restrictions once the handoff is in
// progress are enforced by the machine.
func (c *Coordinator) Cancel(ctx context.Context, transferID string, actor types.Role, version uint64, reason string) (*types.TransferState, error) {
	if !actor.Valid() && actor != types.RoleSystem {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown role: %s", actor)).
			WithHTTPStatus(http.StatusBadRequest)
	}
	return c.machine.Cancel(transferID, actor, version, reason)
}

// State returns the call's current transfer snapshot.
func (c *Coordinator) State(callID string) (*types.TransferState, error) {
	if _, err := c.registry.GetCall(callID); err != nil {
		return nil, err
	}
	return c.machine.StateByCall(callID), nil
}

// Subscribe attaches a state stream for the call, seeded with the current
// snapshot.
func (c *Coordinator) Subscribe(callID string, role types.Role) (*notify.Subscriber, error) {
	if _, err := c.registry.GetCall(callID); err != nil {
		return nil, err
	}
	return c.machine.Subscribe(c.hub, callID, role), nil
}

// Unsubscribe detaches a state stream.
func (c *Coordinator) Unsubscribe(sub *notify.Subscriber) {
	if c.hub != nil {
		c.hub.Unsubscribe(sub)
	}
}

// ActiveTransfers reports the number of non-terminal transfers, used by the
// metrics gauge.
func (c *Coordinator) ActiveTransfers() int {
	return c.machine.Active()
}
