// Package transfer implements warm transfer coordination: the per-call
// state machine driving NONE through COMPLETE, and the coordinator facade
// that validates requests, enforces role authorization, and wires side
// effects (summary generation, room provisioning, fan-out, audit).
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warmline/warmline/media"
	"github.com/warmline/warmline/notify"
	"github.com/warmline/warmline/types"
)

// SummarizeFunc generates a summary for a transcript. It runs on its own
// goroutine; a context.Canceled return means the transfer was cancelled and
// the result is not wanted.
type SummarizeFunc func(ctx context.Context, transcript string) (*types.Summary, error)

// TransitionHook observes every applied transition. It is invoked under the
// call's serialization, exactly once per transition and in version order.
type TransitionHook func(prev types.TransferStatus, state *types.TransferState, actor types.Role)

// MachineOptions configures the state machine.
type MachineOptions struct {
	Summarize SummarizeFunc
	// MaxSummaryAttempts bounds summary generation per transfer, counting
	// the initial attempt. Minimum 1.
	MaxSummaryAttempts int
	InviteTimeout      time.Duration
	OnTransition       TransitionHook
	Logger             *zap.Logger
}

// Machine owns every transfer and serializes mutations per call. The
// version counter is per call and strictly increasing across transfers, so
// optimistic concurrency checks and subscriber dedup both key off it.
type Machine struct {
	mu         sync.Mutex
	slots      map[string]*slot
	byTransfer map[string]string

	summarize   SummarizeFunc
	maxAttempts int
	inviteTTL   time.Duration
	hook        TransitionHook
	logger      *zap.Logger
}

// slot is one call's transfer state. slot.mu serializes all mutations for
// the call; it is never held while waiting on another slot.
type slot struct {
	mu      sync.Mutex
	callID  string
	current *types.Transfer
	// version is the last version issued for this call. It survives
	// terminal transfers so versions never repeat within a call.
	version uint64

	cancelSummary context.CancelFunc
	inviteTimer   *time.Timer
}

// NewMachine creates the transfer state machine.
func NewMachine(opts MachineOptions) *Machine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := opts.MaxSummaryAttempts
	if maxAttempts < 1 {
		maxAttempts = 2
	}
	inviteTTL := opts.InviteTimeout
	if inviteTTL <= 0 {
		inviteTTL = 2 * time.Minute
	}
	return &Machine{
		slots:       make(map[string]*slot),
		byTransfer:  make(map[string]string),
		summarize:   opts.Summarize,
		maxAttempts: maxAttempts,
		inviteTTL:   inviteTTL,
		hook:        opts.OnTransition,
		logger:      logger.With(zap.String("component", "transfer_machine")),
	}
}

func (m *Machine) slotFor(callID string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[callID]
	if !ok {
		s = &slot{callID: callID}
		m.slots[callID] = s
	}
	return s
}

func (m *Machine) slotByTransfer(transferID string) (*slot, error) {
	m.mu.Lock()
	callID, ok := m.byTransfer[transferID]
	var s *slot
	if ok {
		s = m.slots[callID]
	}
	m.mu.Unlock()

	if s == nil {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("transfer not found: %s", transferID)).
			WithHTTPStatus(http.StatusNotFound)
	}
	return s, nil
}

// advance applies one transition. Caller holds s.mu. The hook fires inside
// the critical section so side effects are ordered and at most once.
func (m *Machine) advance(s *slot, to types.TransferStatus, actor types.Role, mutate func(*types.Transfer)) *types.TransferState {
	tr := s.current
	prev := tr.Status

	s.version++
	now := time.Now()
	tr.Status = to
	tr.Version = s.version
	tr.UpdatedAt = now
	tr.Transitions[to] = now
	if mutate != nil {
		mutate(tr)
	}

	state := tr.State()
	m.logger.Info("transfer transition",
		zap.String("call_id", s.callID),
		zap.String("transfer_id", tr.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(to)),
		zap.Uint64("version", tr.Version),
		zap.String("actor", string(actor)),
	)
	if m.hook != nil {
		m.hook(prev, state, actor)
	}
	return state
}

// stopAsync clears the in-flight summary and the invite timer. Caller holds
// s.mu.
func (s *slot) stopAsync() {
	if s.cancelSummary != nil {
		s.cancelSummary()
		s.cancelSummary = nil
	}
	if s.inviteTimer != nil {
		s.inviteTimer.Stop()
		s.inviteTimer = nil
	}
}

func staleError(tr *types.Transfer, got uint64) *types.Error {
	return types.NewError(types.ErrStaleTransfer,
		fmt.Sprintf("version %d is stale, current is %d", got, tr.Version)).
		WithHTTPStatus(http.StatusConflict).
		WithState(tr.State())
}

func transitionError(tr *types.Transfer, op string) *types.Error {
	return types.NewError(types.ErrInvalidTransition,
		fmt.Sprintf("%s is not legal from %s", op, tr.Status)).
		WithHTTPStatus(http.StatusConflict).
		WithState(tr.State())
}

// checked resolves the transfer, validates identity and version, and runs fn
// under the call's serialization.
func (m *Machine) checked(transferID string, version uint64, fn func(s *slot, tr *types.Transfer) (*types.TransferState, error)) (*types.TransferState, error) {
	s, err := m.slotByTransfer(transferID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tr := s.current
	if tr == nil || tr.ID != transferID {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("transfer not found: %s", transferID)).
			WithHTTPStatus(http.StatusNotFound)
	}
	if tr.Version != version {
		return nil, staleError(tr, version)
	}
	return fn(s, tr)
}

// Initiate starts a new transfer for the call. Exactly one transfer may be
// in flight per call; a second initiate while the first is non-terminal
// fails with CONFLICT. The transcript is snapshotted by value, so later
// edits on the caller's side cannot race the summary call-out.
func (m *Machine) Initiate(callID string, actor types.Role, transcript string) (*types.TransferState, error) {
	s := m.slotFor(callID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && !s.current.Status.Terminal() {
		return nil, types.NewError(types.ErrConflict,
			fmt.Sprintf("transfer %s already in flight", s.current.ID)).
			WithHTTPStatus(http.StatusConflict).
			WithState(s.current.State())
	}

	s.stopAsync()
	if s.current != nil {
		// The superseded terminal transfer is no longer addressable.
		m.mu.Lock()
		delete(m.byTransfer, s.current.ID)
		m.mu.Unlock()
	}
	s.version++
	now := time.Now()
	tr := &types.Transfer{
		ID:              uuid.NewString(),
		CallID:          callID,
		Status:          types.StatusInitiated,
		Version:         s.version,
		Transcript:      transcript,
		SummaryAttempts: 1,
		CreatedAt:       now,
		UpdatedAt:       now,
		Transitions:     map[types.TransferStatus]time.Time{types.StatusInitiated: now},
	}
	s.current = tr

	m.mu.Lock()
	m.byTransfer[tr.ID] = callID
	m.mu.Unlock()

	state := tr.State()
	m.logger.Info("transfer initiated",
		zap.String("call_id", callID),
		zap.String("transfer_id", tr.ID),
		zap.Uint64("version", tr.Version),
	)
	if m.hook != nil {
		m.hook(types.StatusNone, state, actor)
	}

	m.dispatchSummary(s, tr)
	return state, nil
}

// dispatchSummary starts a summary call-out for the transfer. Caller holds
// s.mu. The goroutine captures only (transferID, version); the result is
// discarded if either moved on.
func (m *Machine) dispatchSummary(s *slot, tr *types.Transfer) {
	if m.summarize == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelSummary = cancel

	transferID, version, transcript := tr.ID, tr.Version, tr.Transcript
	go func() {
		summary, err := m.summarize(ctx, transcript)
		if errors.Is(err, context.Canceled) {
			return
		}
		m.summaryDone(s, transferID, version, summary, err)
	}()
}

// summaryDone feeds a summary result back into the machine. Results whose
// captured version no longer matches are discarded: the transfer was
// cancelled or superseded and must not be resurrected.
func (m *Machine) summaryDone(s *slot, transferID string, version uint64, summary *types.Summary, genErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr := s.current
	if tr == nil || tr.ID != transferID || tr.Version != version || tr.Status != types.StatusInitiated {
		m.logger.Debug("late summary result discarded",
			zap.String("transfer_id", transferID),
			zap.Uint64("captured_version", version),
		)
		return
	}
	s.cancelSummary = nil

	if genErr == nil {
		m.advance(s, types.StatusSummaryReady, types.RoleSystem, func(t *types.Transfer) {
			t.Summary = summary
		})
		return
	}

	if tr.SummaryAttempts < m.maxAttempts && types.IsRetryable(genErr) {
		tr.SummaryAttempts++
		m.logger.Warn("summary generation failed, retrying",
			zap.String("transfer_id", transferID),
			zap.Int("attempt", tr.SummaryAttempts),
			zap.Error(genErr),
		)
		m.dispatchSummary(s, tr)
		return
	}

	reason := "summary failed"
	if types.GetErrorCode(genErr) == types.ErrSummaryTimeout {
		reason = "summary timed out"
	}
	m.logger.Error("summary generation exhausted",
		zap.String("transfer_id", transferID),
		zap.Int("attempts", tr.SummaryAttempts),
		zap.Error(genErr),
	)
	m.advance(s, types.StatusCancelled, types.RoleSystem, func(t *types.Transfer) {
		t.Reason = reason
	})
}

// Confirm accepts the summary and moves to INVITING_AGENT, recording the
// target agent and naming the consultation room. An edited summary text
// wins over the generated rendering verbatim. The invitation expiry timer
// is armed here and carries the version it observed.
func (m *Machine) Confirm(transferID string, actor types.Role, version uint64, editedSummary, targetAgentID string) (*types.TransferState, error) {
	return m.checked(transferID, version, func(s *slot, tr *types.Transfer) (*types.TransferState, error) {
		if tr.Status != types.StatusSummaryReady {
			return nil, transitionError(tr, "confirm")
		}
		if targetAgentID == "" {
			return nil, types.NewError(types.ErrInvalidRequest, "target agent is required").
				WithHTTPStatus(http.StatusBadRequest)
		}

		state := m.advance(s, types.StatusInvitingAgent, actor, func(t *types.Transfer) {
			t.TargetAgentID = targetAgentID
			t.ConsultRoom = media.ConsultRoom(t.ID)
			if editedSummary != "" {
				t.Summary.Text = editedSummary
			}
		})

		observed := tr.Version
		s.inviteTimer = time.AfterFunc(m.inviteTTL, func() {
			m.expireInvite(s, transferID, observed)
		})
		return state, nil
	})
}

// expireInvite cancels an invitation nobody answered. The observed version
// makes the race with agentJoin safe: whichever applies first wins and the
// loser no-ops.
func (m *Machine) expireInvite(s *slot, transferID string, observed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr := s.current
	if tr == nil || tr.ID != transferID || tr.Version != observed || tr.Status != types.StatusInvitingAgent {
		return
	}
	s.inviteTimer = nil
	m.advance(s, types.StatusCancelled, types.RoleSystem, func(t *types.Transfer) {
		t.Reason = "invitation timed out"
	})
}

// AgentJoin accepts the invitation and moves to AGENT_JOINING. A cancel or
// expiry that raced in first surfaces as STALE_TRANSFER, never a silent
// overwrite.
func (m *Machine) AgentJoin(transferID string, actor types.Role, version uint64) (*types.TransferState, error) {
	return m.checked(transferID, version, func(s *slot, tr *types.Transfer) (*types.TransferState, error) {
		if tr.Status != types.StatusInvitingAgent {
			return nil, transitionError(tr, "agent join")
		}
		if s.inviteTimer != nil {
			s.inviteTimer.Stop()
			s.inviteTimer = nil
		}
		return m.advance(s, types.StatusAgentJoining, actor, nil), nil
	})
}

// Complete finishes the transfer. Terminal.
func (m *Machine) Complete(transferID string, actor types.Role, version uint64) (*types.TransferState, error) {
	return m.checked(transferID, version, func(s *slot, tr *types.Transfer) (*types.TransferState, error) {
		if tr.Status != types.StatusAgentJoining {
			return nil, transitionError(tr, "complete")
		}
		s.stopAsync()
		return m.advance(s, types.StatusComplete, actor, nil), nil
	})
}

// Cancel terminates a non-terminal transfer. Once the handoff itself is in
// progress (AGENT_JOINING) only the transferring agent or the system may
// cancel; customers and the joining agent can no longer unwind it.
func (m *Machine) Cancel(transferID string, actor types.Role, version uint64, reason string) (*types.TransferState, error) {
	return m.checked(transferID, version, func(s *slot, tr *types.Transfer) (*types.TransferState, error) {
		if tr.Status.Terminal() {
			return nil, transitionError(tr, "cancel")
		}
		if tr.Status == types.StatusAgentJoining && actor != types.RoleAgentA && actor != types.RoleSystem {
			return nil, types.NewError(types.ErrUnauthorizedRole,
				fmt.Sprintf("role %s may not cancel during agent handoff", actor)).
				WithHTTPStatus(http.StatusForbidden).
				WithState(tr.State())
		}

		s.stopAsync()
		if reason == "" {
			reason = "cancelled"
		}
		return m.advance(s, types.StatusCancelled, actor, func(t *types.Transfer) {
			t.Reason = reason
		}), nil
	})
}

// StateByCall returns the current snapshot for a call. A call that never
// had a transfer reports status "none" at version 0.
func (m *Machine) StateByCall(callID string) *types.TransferState {
	m.mu.Lock()
	s, ok := m.slots[callID]
	m.mu.Unlock()
	if !ok {
		return types.NoTransferState(callID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return types.NoTransferState(callID)
	}
	return s.current.State()
}

// StateByTransfer returns the snapshot for a transfer.
func (m *Machine) StateByTransfer(transferID string) (*types.TransferState, error) {
	s, err := m.slotByTransfer(transferID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.ID != transferID {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("transfer not found: %s", transferID)).
			WithHTTPStatus(http.StatusNotFound)
	}
	return s.current.State(), nil
}

// Subscribe attaches a hub subscriber seeded with the call's current
// snapshot. Snapshot and registration happen under the call's
// serialization, so no transition can slip between them; a client that
// connects mid-transfer always sees the live state first.
func (m *Machine) Subscribe(hub *notify.Hub, callID string, role types.Role) *notify.Subscriber {
	s := m.slotFor(callID)

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := types.NoTransferState(callID)
	if s.current != nil {
		snapshot = s.current.State()
	}
	return hub.Subscribe(callID, role, snapshot)
}

// ReleaseCall tears down the call's transfer state when the call ends. An
// in-flight transfer is cancelled first so subscribers see the terminal
// state before their streams close.
func (m *Machine) ReleaseCall(callID string) {
	m.mu.Lock()
	s, ok := m.slots[callID]
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	if s.current != nil && !s.current.Status.Terminal() {
		s.stopAsync()
		m.advance(s, types.StatusCancelled, types.RoleSystem, func(t *types.Transfer) {
			t.Reason = "call ended"
		})
	}
	var transferID string
	if s.current != nil {
		transferID = s.current.ID
	}
	s.mu.Unlock()

	m.mu.Lock()
	delete(m.slots, callID)
	if transferID != "" {
		delete(m.byTransfer, transferID)
	}
	m.mu.Unlock()
}

// Active returns the number of calls with a non-terminal transfer.
func (m *Machine) Active() int {
	m.mu.Lock()
	slots := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	m.mu.Unlock()

	n := 0
	for _, s := range slots {
		s.mu.Lock()
		if s.current != nil && !s.current.Status.Terminal() {
			n++
		}
		s.mu.Unlock()
	}
	return n
}
