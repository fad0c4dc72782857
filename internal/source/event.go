// Package source adapts inbound chat feeds to the parser and ingestion
// queue. Source payloads vary by network; everything is normalized into one
// canonical event shape at this boundary before it reaches the core.
package source

// ChatMessage is one message inside a chat event.
type ChatMessage struct {
	Message string `json:"message"`
	Sender  *struct {
		UUID string `json:"uuid"`
	} `json:"sender"`
}

// ChatEvent is the canonical inbound shape shared by all sources.
type ChatEvent struct {
	EventID  string        `json:"eventId"`
	Messages []ChatMessage `json:"messages"`
}

func (m ChatMessage) senderUUID() *string {
	if m.Sender == nil || m.Sender.UUID == "" {
		return nil
	}
	uuid := m.Sender.UUID
	return &uuid
}
