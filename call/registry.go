// Package call tracks active calls and their participant bindings. It is
// the leaf data store of the transfer coordination service; the transfer
// state machine and coordinator build on top of it.
package call

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warmline/warmline/types"
)

// Registry tracks active calls. All methods are safe for concurrent use;
// per-call state is guarded by the registry lock, which is never held
// across blocking operations.
type Registry struct {
	mu     sync.RWMutex
	calls  map[string]*entry
	logger *zap.Logger
}

type entry struct {
	call     types.Call
	bindings map[types.Role]types.ParticipantBinding
}

// NewRegistry creates a new call registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		calls:  make(map[string]*entry),
		logger: logger.With(zap.String("component", "call_registry")),
	}
}

// CreateCall registers a new call and names its live room. The customer and
// Agent A are bound immediately; Agent B stays unset until a transfer
// assigns one.
func (r *Registry) CreateCall(customerName, agentAID string) *types.Call {
	id := uuid.NewString()
	now := time.Now()

	c := types.Call{
		ID:           id,
		CustomerName: customerName,
		AgentAID:     agentAID,
		Room:         fmt.Sprintf("call_%s", id[:8]),
		CreatedAt:    now,
	}

	r.mu.Lock()
	r.calls[id] = &entry{
		call: c,
		bindings: map[types.Role]types.ParticipantBinding{
			types.RoleCustomer: {Role: types.RoleCustomer, Identity: customerName, BoundAt: now},
			types.RoleAgentA:   {Role: types.RoleAgentA, Identity: agentAID, BoundAt: now},
		},
	}
	r.mu.Unlock()

	r.logger.Info("call created",
		zap.String("call_id", id),
		zap.String("room", c.Room),
		zap.String("agent_a", agentAID),
	)
	return &c
}

// GetCall returns a copy of the call, or a NOT_FOUND error.
func (r *Registry) GetCall(callID string) (*types.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.calls[callID]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("call not found: %s", callID))
	}
	c := e.call
	return &c, nil
}

// EndCall removes the call and all its bindings. Ending an unknown or
// already-ended call is a no-op so duplicate client resets stay harmless.
func (r *Registry) EndCall(callID string) {
	r.mu.Lock()
	_, existed := r.calls[callID]
	delete(r.calls, callID)
	r.mu.Unlock()

	if existed {
		r.logger.Info("call ended", zap.String("call_id", callID))
	}
}

// Bind associates a role with a client session. Rebinding an already-bound
// role replaces the previous binding (reconnect semantics), it does not
// error. Binding agent_b also records the agent on the call itself.
func (r *Registry) Bind(callID string, binding types.ParticipantBinding) error {
	if !binding.Role.Valid() {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown role: %s", binding.Role))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.calls[callID]
	if !ok {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("call not found: %s", callID))
	}

	if binding.BoundAt.IsZero() {
		binding.BoundAt = time.Now()
	}
	e.bindings[binding.Role] = binding
	if binding.Role == types.RoleAgentB {
		e.call.AgentBID = binding.Identity
	}
	return nil
}

// Release drops the binding for a role. Releasing an absent binding or an
// unknown call is a no-op.
func (r *Registry) Release(callID string, role types.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.calls[callID]
	if !ok {
		return
	}
	delete(e.bindings, role)
	if role == types.RoleAgentB {
		e.call.AgentBID = ""
	}
}

// Binding returns the current binding for a role on a call.
func (r *Registry) Binding(callID string, role types.Role) (types.ParticipantBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.calls[callID]
	if !ok {
		return types.ParticipantBinding{}, false
	}
	b, ok := e.bindings[role]
	return b, ok
}

// Len returns the number of active calls.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}
