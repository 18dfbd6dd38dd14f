package session

import "time"

// AgentSnapshot is the hot-state record for one agent inside an
// engagement; the Checkpoint Store persists it as its "agents" row.
type AgentSnapshot struct {
	ID              string
	Type            string
	State           map[string]any
	LastActionID    string
	DecisionContext map[string]any
	UpdatedAt       time.Time
}

// Finding is produced by tool-output parsers (an external collaborator);
// the core only stores and fans it out.
type Finding struct {
	ID        string
	AgentID   string // empty when not attributable to a single agent
	Payload   map[string]any
	Timestamp time.Time
}

// StateChangeEvent is published on "engagement:{id}:state" whenever an
// engagement transitions.
type StateChangeEvent struct {
	EngagementID string    `json:"engagement_id"`
	From         State     `json:"from"`
	To           State     `json:"to"`
	At           time.Time `json:"at"`
}
