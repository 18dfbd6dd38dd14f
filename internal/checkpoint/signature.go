package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"cyberredd/internal/session"
)

// canonicalAgent and canonicalFinding are the sorted-keys shapes the
// content signature is computed over — distinct from the DB row shapes so
// that column additions never silently change the signature's meaning.
type canonicalAgent struct {
	DecisionContext map[string]any `json:"decision_context"`
	ID              string         `json:"id"`
	LastActionID    string         `json:"last_action_id"`
	State           map[string]any `json:"state"`
	Type            string         `json:"type"`
}

type canonicalFinding struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	Payload   map[string]any `json:"payload"`
	Timestamp string         `json:"timestamp"`
}

type canonicalRecord struct {
	Agents       []canonicalAgent   `json:"agents"`
	CreatedAt    string             `json:"created_at"`
	EngagementID string             `json:"engagement_id"`
	Findings     []canonicalFinding `json:"findings"`
	ScopeHash    string             `json:"scope_hash"`
}

// contentSignature computes the SHA-256 over the canonicalized record:
// agents sorted by id, findings sorted by id, and JSON keys sorted
// throughout: the canonical structs declare their fields in alphabetical
// order of their JSON keys (encoding/json emits struct fields in
// declaration order), and encoding/json sorts map[string]any keys itself.
func contentSignature(engagementID, scopeHash, createdAt string, agents []session.AgentSnapshot, findings []session.Finding) (string, error) {
	record := canonicalRecord{
		EngagementID: engagementID,
		ScopeHash:    scopeHash,
		CreatedAt:    createdAt,
	}
	for _, a := range agents {
		record.Agents = append(record.Agents, canonicalAgent{
			ID:              a.ID,
			Type:            a.Type,
			State:           a.State,
			DecisionContext: a.DecisionContext,
			LastActionID:    a.LastActionID,
		})
	}
	sort.Slice(record.Agents, func(i, j int) bool { return record.Agents[i].ID < record.Agents[j].ID })

	for _, f := range findings {
		record.Findings = append(record.Findings, canonicalFinding{
			ID:        f.ID,
			AgentID:   f.AgentID,
			Payload:   f.Payload,
			Timestamp: f.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"),
		})
	}
	sort.Slice(record.Findings, func(i, j int) bool { return record.Findings[i].ID < record.Findings[j].ID })

	body, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
