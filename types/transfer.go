package types

import (
	"fmt"
	"strings"
	"time"
)

// TransferStatus represents the lifecycle state of a warm transfer.
type TransferStatus string

const (
	StatusNone          TransferStatus = "none"
	StatusInitiated     TransferStatus = "initiated"
	StatusSummaryReady  TransferStatus = "summary_ready"
	StatusInvitingAgent TransferStatus = "inviting_agent"
	StatusAgentJoining  TransferStatus = "agent_joining"
	StatusComplete      TransferStatus = "complete"
	StatusCancelled     TransferStatus = "cancelled"
)

// Terminal reports whether the status ends the transfer instance. A new
// transfer may be initiated for the same call once the previous one is
// terminal.
func (s TransferStatus) Terminal() bool {
	return s == StatusComplete || s == StatusCancelled
}

// Summary is the structured case summary handed to the receiving agent.
// Field layout follows the summarization collaborator's response contract.
type Summary struct {
	IssueType          string   `json:"issue_type"`
	KeyPoints          []string `json:"key_points"`
	CurrentStatus      string   `json:"current_status"`
	CustomerSentiment  string   `json:"customer_sentiment"`
	RecommendedActions []string `json:"recommended_actions"`

	// Text is the free-text rendering shown to agents. When an agent edits
	// the summary before confirming, the edit is stored here verbatim.
	Text string `json:"text,omitempty"`

	ProviderUsed   string  `json:"provider_used,omitempty"`
	GenerationSecs float64 `json:"generation_time_seconds,omitempty"`
}

// Render produces the free-text form of the structured summary. Returns
// Text unchanged when an edited rendering is already present.
func (s *Summary) Render() string {
	if s.Text != "" {
		return s.Text
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Issue: %s\n", s.IssueType)
	fmt.Fprintf(&b, "Status: %s\n", s.CurrentStatus)
	fmt.Fprintf(&b, "Sentiment: %s\n", s.CustomerSentiment)
	if len(s.KeyPoints) > 0 {
		b.WriteString("Key points:\n")
		for _, p := range s.KeyPoints {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
	}
	if len(s.RecommendedActions) > 0 {
		b.WriteString("Recommended actions:\n")
		for _, a := range s.RecommendedActions {
			fmt.Fprintf(&b, "  - %s\n", a)
		}
	}
	return b.String()
}

// Transfer is the handoff process for exactly one call. It is mutated only
// by the state machine; the Version field increases by one on every
// successful transition and drives optimistic concurrency checks.
type Transfer struct {
	ID            string         `json:"id"`
	CallID        string         `json:"call_id"`
	Status        TransferStatus `json:"status"`
	Version       uint64         `json:"version"`
	TargetAgentID string         `json:"target_agent_id,omitempty"`
	Summary       *Summary       `json:"summary,omitempty"`

	// Transcript is the snapshot captured at initiate time. It is kept on
	// the transfer so a retry after summarizer failure is cheap.
	Transcript string `json:"-"`

	SummaryAttempts int    `json:"summary_attempts"`
	Reason          string `json:"reason,omitempty"`
	ConsultRoom     string `json:"consult_room,omitempty"`

	CreatedAt   time.Time                    `json:"created_at"`
	UpdatedAt   time.Time                    `json:"updated_at"`
	Transitions map[TransferStatus]time.Time `json:"transitions,omitempty"`
}

// State returns the published snapshot of the transfer. The snapshot is a
// value copy so subscribers never observe later mutations.
func (t *Transfer) State() *TransferState {
	var summary *Summary
	if t.Summary != nil {
		s := *t.Summary
		summary = &s
	}
	return &TransferState{
		CallID:        t.CallID,
		TransferID:    t.ID,
		Status:        t.Status,
		Version:       t.Version,
		TargetAgentID: t.TargetAgentID,
		Summary:       summary,
		Reason:        t.Reason,
		ConsultRoom:   t.ConsultRoom,
		UpdatedAt:     t.UpdatedAt,
	}
}

// TransferState is the immutable view of a transfer pushed to subscribed
// clients. All clients observe states in version order; a call with no
// transfer in flight is represented by Status "none" and Version 0.
type TransferState struct {
	CallID        string         `json:"call_id"`
	TransferID    string         `json:"transfer_id,omitempty"`
	Status        TransferStatus `json:"status"`
	Version       uint64         `json:"version"`
	TargetAgentID string         `json:"target_agent_id,omitempty"`
	Summary       *Summary       `json:"summary,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	ConsultRoom   string         `json:"consult_room,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NoTransferState returns the snapshot for a call with no transfer in
// flight.
func NoTransferState(callID string) *TransferState {
	return &TransferState{CallID: callID, Status: StatusNone}
}
