package ipc

import (
	"encoding/json"
	"time"

	"cyberredd/internal/cerr"
	"cyberredd/internal/session"
)

// SessionManager is the subset of *session.Manager the command router
// depends on, kept narrow so the router is easy to test with a fake.
type SessionManager interface {
	List() []session.Engagement
	Get(id string) (session.Engagement, error)
	CreateEngagement(configPath string) (*session.Engagement, error)
	StartEngagement(id string, ignoreWarnings bool) (session.State, error)
	PauseEngagement(id string) (session.State, error)
	ResumeEngagement(id string) (session.State, error)
	StopEngagement(id, scopeHash string) (session.State, string, error)
	SubscribeToEngagement(id string, sink session.Sink) (string, error)
	Unsubscribe(engagementID, subscriptionID string)
}

// ShutdownTrigger is invoked by the daemon.stop command.
type ShutdownTrigger func()

// ConfigReloader is invoked by the daemon.config.reload command.
type ConfigReloader func() error

// NewRouter builds the command table from spec §4.5.
func NewRouter(mgr SessionManager, currentScopeHash func() string, shutdown ShutdownTrigger, reload ConfigReloader) Router {
	return Router{
		"sessions.list": func(conn *Conn, params json.RawMessage) (any, error) {
			engagements := mgr.List()
			out := make([]map[string]any, 0, len(engagements))
			for _, e := range engagements {
				out = append(out, map[string]any{
					"id":            e.ID,
					"state":         e.State,
					"agent_count":   e.AgentCount,
					"finding_count": e.FindingCount,
					"created_at":    e.CreatedAt.UTC().Format(time.RFC3339),
				})
			}
			return map[string]any{"engagements": out}, nil
		},
		"engagement.start": func(conn *Conn, params json.RawMessage) (any, error) {
			var p struct {
				ConfigPath     string `json:"config_path"`
				IgnoreWarnings bool   `json:"ignore_warnings"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, &cerr.IPCProtocolError{Message: "invalid engagement.start params"}
			}
			eng, err := mgr.CreateEngagement(p.ConfigPath)
			if err != nil {
				return nil, err
			}
			state, err := mgr.StartEngagement(eng.ID, p.IgnoreWarnings)
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": eng.ID, "state": state}, nil
		},
		"engagement.attach": func(conn *Conn, params json.RawMessage) (any, error) {
			var p struct {
				EngagementID string `json:"engagement_id"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, &cerr.IPCProtocolError{Message: "invalid engagement.attach params"}
			}
			eng, err := mgr.Get(p.EngagementID)
			if err != nil {
				return nil, err
			}
			subID, err := mgr.SubscribeToEngagement(p.EngagementID, func(event any) {
				_ = conn.WriteEvent(toStreamEvent(event))
			})
			if err != nil {
				return nil, err
			}
			conn.TrackSubscription(subID, func() { mgr.Unsubscribe(p.EngagementID, subID) })
			return map[string]any{
				"engagement_id":   p.EngagementID,
				"state":           eng.State,
				"agent_count":     eng.AgentCount,
				"finding_count":   eng.FindingCount,
				"subscription_id": subID,
				"agents":          []any{},
				"findings":        []any{},
			}, nil
		},
		"engagement.detach": func(conn *Conn, params json.RawMessage) (any, error) {
			var p struct {
				SubscriptionID string `json:"subscription_id"`
				EngagementID   string `json:"engagement_id"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, &cerr.IPCProtocolError{Message: "invalid engagement.detach params"}
			}
			conn.mu.Lock()
			detach := conn.subscriptions[p.SubscriptionID]
			conn.mu.Unlock()
			if detach != nil {
				detach()
			} else {
				mgr.Unsubscribe(p.EngagementID, p.SubscriptionID)
			}
			conn.UntrackSubscription(p.SubscriptionID)
			return map[string]any{"detached": true, "subscription_id": p.SubscriptionID}, nil
		},
		"engagement.pause": func(conn *Conn, params json.RawMessage) (any, error) {
			id, err := requireEngagementID(params)
			if err != nil {
				return nil, err
			}
			state, err := mgr.PauseEngagement(id)
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": id, "state": state}, nil
		},
		"engagement.resume": func(conn *Conn, params json.RawMessage) (any, error) {
			id, err := requireEngagementID(params)
			if err != nil {
				return nil, err
			}
			state, err := mgr.ResumeEngagement(id)
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": id, "state": state}, nil
		},
		"engagement.stop": func(conn *Conn, params json.RawMessage) (any, error) {
			id, err := requireEngagementID(params)
			if err != nil {
				return nil, err
			}
			state, path, err := mgr.StopEngagement(id, currentScopeHash())
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": id, "state": state, "checkpoint_path": path}, nil
		},
		"daemon.stop": func(conn *Conn, params json.RawMessage) (any, error) {
			if shutdown != nil {
				go shutdown()
			}
			return map[string]any{"stopping": true}, nil
		},
		"daemon.config.reload": func(conn *Conn, params json.RawMessage) (any, error) {
			if reload == nil {
				return map[string]any{"reloaded": false}, nil
			}
			if err := reload(); err != nil {
				return nil, err
			}
			return map[string]any{"reloaded": true}, nil
		},
	}
}

func requireEngagementID(params json.RawMessage) (string, error) {
	var p struct {
		EngagementID string `json:"engagement_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.EngagementID == "" {
		return "", &cerr.IPCProtocolError{Message: "missing engagement_id"}
	}
	return p.EngagementID, nil
}

// toStreamEvent adapts a session-layer event value into the wire-level
// StreamEvent shape.
func toStreamEvent(event any) StreamEvent {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	switch e := event.(type) {
	case session.StateChangeEvent:
		return StreamEvent{EventType: EventStateChange, Data: e, Timestamp: e.At.UTC().Format(time.RFC3339Nano)}
	case session.Finding:
		return StreamEvent{EventType: EventFinding, Data: e, Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano)}
	case session.DaemonShutdownEvent:
		return StreamEvent{EventType: EventDaemonShutdown, Data: e, Timestamp: e.At.UTC().Format(time.RFC3339Nano)}
	default:
		return StreamEvent{EventType: EventAgentStatus, Data: e, Timestamp: now}
	}
}
