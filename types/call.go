package types

import "time"

// Role identifies which side of the conversation a participant is on.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgentA   Role = "agent_a"
	RoleAgentB   Role = "agent_b"

	// RoleSystem marks machine-driven transitions such as invite expiry.
	// It is an actor label only and never valid as a participant binding.
	RoleSystem Role = "system"
)

// Valid reports whether the role is one of the three known roles.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAgentA || r == RoleAgentB
}

// Call identifies one customer-facing conversation. The call exclusively
// owns its transfer record; the live room is owned by the media transport
// and only referenced here.
type Call struct {
	ID           string    `json:"id"`
	CustomerName string    `json:"customer_name"`
	AgentAID     string    `json:"agent_a_id"`
	AgentBID     string    `json:"agent_b_id,omitempty"`
	Room         string    `json:"room"`
	CreatedAt    time.Time `json:"created_at"`
}

// ParticipantBinding associates a role with a client session for a call.
// Rebinding the same role (e.g. after a reconnect) replaces the previous
// binding rather than erroring.
type ParticipantBinding struct {
	Role       Role      `json:"role"`
	Identity   string    `json:"identity"`
	SessionRef string    `json:"session_ref,omitempty"`
	BoundAt    time.Time `json:"bound_at"`
}
