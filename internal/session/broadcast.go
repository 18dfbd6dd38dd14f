package session

import "cyberredd/internal/cerr"

// SubscribeToEngagement is allowed only while the engagement is
// RUNNING/PAUSED. It returns a subscription id usable with Unsubscribe.
func (m *Manager) SubscribeToEngagement(id string, sink Sink) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return "", &cerr.EngagementNotFoundError{EngagementID: id}
	}
	if rec.eng.State != Running && rec.eng.State != Paused {
		return "", &cerr.InvalidStateTransition{EngagementID: id, From: string(rec.eng.State), To: "subscribed"}
	}
	subID := newSubscriptionID()
	rec.subs[subID] = subscription{id: subID, sink: sink}
	return subID, nil
}

// Unsubscribe is idempotent: removing an unknown id is a no-op.
func (m *Manager) Unsubscribe(engagementID, subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[engagementID]
	if !ok {
		return
	}
	delete(rec.subs, subscriptionID)
}

// BroadcastEvent invokes every subscriber callback for one engagement.
// Callbacks that panic are evicted and do not stop delivery to the other
// subscribers; callbacks run synchronously, so one that blocks delays the rest.
// Subscribers are invoked from a snapshot taken under lock; evictions are
// applied afterward, also under lock.
func (m *Manager) BroadcastEvent(id string, event any) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	snapshot := make([]subscription, 0, len(rec.subs))
	for _, s := range rec.subs {
		snapshot = append(snapshot, s)
	}
	m.mu.Unlock()

	var dead []string
	for _, s := range snapshot {
		if !invokeSink(s.sink, event) {
			dead = append(dead, s.id)
		}
	}
	if len(dead) == 0 {
		return
	}
	m.mu.Lock()
	if rec, ok := m.records[id]; ok {
		for _, d := range dead {
			delete(rec.subs, d)
		}
	}
	m.mu.Unlock()
}

func invokeSink(sink Sink, event any) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	sink(event)
	return true
}

// NotifyAllClients broadcasts event to every subscriber of every
// engagement. Used only by graceful shutdown.
func (m *Manager) NotifyAllClients(event any) {
	m.mu.Lock()
	ids := append([]string{}, m.order...)
	m.mu.Unlock()
	for _, id := range ids {
		m.BroadcastEvent(id, event)
	}
}

// DisconnectAllClients clears every engagement's subscription table.
func (m *Manager) DisconnectAllClients() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		rec.subs = make(map[string]subscription)
	}
}
