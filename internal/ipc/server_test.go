package ipc

import (
	"bytes"
	"strings"
	"testing"

	"cyberredd/internal/session"
)

type fakeManager struct{}

func (fakeManager) List() []session.Engagement                        { return nil }
func (fakeManager) Get(id string) (session.Engagement, error)         { return session.Engagement{}, nil }
func (fakeManager) CreateEngagement(configPath string) (*session.Engagement, error) {
	return &session.Engagement{ID: "eng-1"}, nil
}
func (fakeManager) StartEngagement(id string, ignoreWarnings bool) (session.State, error) {
	return session.Running, nil
}
func (fakeManager) PauseEngagement(id string) (session.State, error)  { return session.Paused, nil }
func (fakeManager) ResumeEngagement(id string) (session.State, error) { return session.Running, nil }
func (fakeManager) StopEngagement(id, scopeHash string) (session.State, string, error) {
	return session.Stopped, "/tmp/checkpoint.sqlite", nil
}
func (fakeManager) SubscribeToEngagement(id string, sink session.Sink) (string, error) {
	return "sub-aaaa", nil
}
func (fakeManager) Unsubscribe(engagementID, subscriptionID string) {}

func TestRouterUnknownCommand(t *testing.T) {
	router := NewRouter(fakeManager{}, func() string { return "" }, nil, nil)
	if _, ok := router["not.a.command"]; ok {
		t.Fatalf("did not expect not.a.command to be registered")
	}
}

func TestRouterSessionsListAndStop(t *testing.T) {
	router := NewRouter(fakeManager{}, func() string { return "scopehash" }, nil, nil)
	listData, err := router["sessions.list"](nil, nil)
	if err != nil {
		t.Fatalf("sessions.list: %v", err)
	}
	engagements, ok := listData.(map[string]any)["engagements"].([]map[string]any)
	if !ok || len(engagements) != 0 {
		t.Fatalf("expected an empty engagements list, got %v", listData)
	}
	data, err := router["engagement.stop"](nil, []byte(`{"engagement_id":"eng-1"}`))
	if err != nil {
		t.Fatalf("engagement.stop: %v", err)
	}
	m := data.(map[string]any)
	if m["state"] != session.Stopped {
		t.Fatalf("expected STOPPED, got %v", m["state"])
	}
}

func TestFrameReaderAcceptsAtSoftLimitRejectsOverHard(t *testing.T) {
	soft := 16
	exact := strings.Repeat("a", soft) + "\n"
	reader := NewFrameReader(bytes.NewBufferString(exact), soft)
	line, oversized, err := reader.ReadMessage()
	if err != nil || oversized || len(line) != soft {
		t.Fatalf("expected exact-soft-limit message accepted, got line=%d oversized=%v err=%v", len(line), oversized, err)
	}

	overSoft := strings.Repeat("b", soft+1) + "\n"
	reader2 := NewFrameReader(bytes.NewBufferString(overSoft), soft)
	_, oversized2, err2 := reader2.ReadMessage()
	if err2 != nil || !oversized2 {
		t.Fatalf("expected soft-limit overflow flagged, got oversized=%v err=%v", oversized2, err2)
	}

	overHard := strings.Repeat("c", soft*HardLimitMultiplier+1) + "\n"
	reader3 := NewFrameReader(bytes.NewBufferString(overHard), soft)
	_, _, err3 := reader3.ReadMessage()
	if err3 == nil {
		t.Fatalf("expected hard-limit overflow to error")
	}
}
