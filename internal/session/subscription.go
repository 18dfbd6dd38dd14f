package session

import (
	"strings"

	"github.com/google/uuid"
)

// Sink is a one-way event sink attached to exactly one engagement,
// created by attach and destroyed by detach, disconnect, or engagement
// shutdown.
type Sink func(event any)

type subscription struct {
	id   string
	sink Sink
}

func newSubscriptionID() string {
	return "sub-" + uuidHex()
}

func uuidHex() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return raw[:16]
}
