package models

// Event types webhooks can subscribe to. The vocabulary is closed; anything
// outside it is rejected at registration time.
const (
	EventNoteCreated = "note.created"
	EventNoteUpdated = "note.updated"
	EventNoteDeleted = "note.deleted"

	// EventWebhookTest is reserved for ad-hoc test sends and cannot be
	// subscribed to.
	EventWebhookTest = "webhook.test"
)

var eventVocabulary = map[string]bool{
	EventNoteCreated: true,
	EventNoteUpdated: true,
	EventNoteDeleted: true,
}

func ValidEventType(eventType string) bool {
	return eventVocabulary[eventType]
}

// ValidEventTypes checks a subscription list against the vocabulary and
// returns the first offender, if any.
func ValidEventTypes(events []string) (string, bool) {
	for _, e := range events {
		if !eventVocabulary[e] {
			return e, false
		}
	}
	return "", true
}
