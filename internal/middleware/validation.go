package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capitalize-ai/stream-reconciler/internal/model"
)

// maxEventBatch caps how many fragments one ingest request may carry.
const maxEventBatch = 1000

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateEventBatch validates an ingest batch of raw stream events.
func ValidateEventBatch(events []model.StreamEvent) error {
	if len(events) == 0 {
		return errors.New("events cannot be empty")
	}
	if len(events) > maxEventBatch {
		return errors.New("event batch exceeds maximum size")
	}
	for _, ev := range events {
		if err := ValidateEventContent(ev.Content); err != nil {
			return err
		}
	}
	return nil
}

// ValidateEventContent validates one fragment's textual payload.
func ValidateEventContent(content string) error {
	if len(content) > 100000 { // ~100KB limit
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidatePromptInput validates the user input of a completion request.
func ValidatePromptInput(input string) error {
	if len(input) == 0 {
		return errors.New("input cannot be empty")
	}
	if len(input) > 100000 {
		return errors.New("input exceeds maximum length")
	}
	if !utf8.ValidString(input) {
		return errors.New("input must be valid UTF-8")
	}
	return nil
}

// ValidateTenantID validates a tenant ID.
func ValidateTenantID(id string) error {
	if len(id) == 0 {
		return errors.New("tenant ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("tenant ID exceeds maximum length")
	}
	return nil
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if len(title) > 256 {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}
