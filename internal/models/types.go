package models

import (
	"errors"
	"strings"
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MaxContentLength is the longest accepted message body, in characters.
const MaxContentLength = 4000

var (
	ErrEmptyMessages     = errors.New("message list must not be empty")
	ErrEmptyContent      = errors.New("message content must not be empty")
	ErrContentTooLong    = errors.New("message content exceeds 4000 characters")
	ErrInvalidRole       = errors.New("invalid message role")
	ErrInvalidMemoryType = errors.New("memory type must be one of preference, fact, todo")
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Attachment is an inline image sent with the latest user turn.
type Attachment struct {
	MIMEType string
	Data     string // base64, without data-URL prefix
}

// ChatRequest is one inbound chat call. It is consumed once and never persisted.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Persona     string    `json:"persona"`
	UseMemory   bool      `json:"use_memory"`
	UseSearch   bool      `json:"use_search"`
	ImageBase64 string    `json:"image_base64,omitempty"`
}

// ValidateMessages trims every message in place and rejects empty, oversized or
// unknown-role entries.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return ErrEmptyMessages
	}
	for i := range messages {
		cleaned := strings.TrimSpace(messages[i].Content)
		if cleaned == "" {
			return ErrEmptyContent
		}
		if len([]rune(cleaned)) > MaxContentLength {
			return ErrContentTooLong
		}
		switch messages[i].Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return ErrInvalidRole
		}
		messages[i].Content = cleaned
	}
	return nil
}

// CleanInterrupted drops a short assistant turn that sits right before the final
// user turn. Those are replies the client cut off mid-stream.
func CleanInterrupted(messages []Message) []Message {
	n := len(messages)
	if n < 2 || messages[n-1].Role != RoleUser || messages[n-2].Role != RoleAssistant {
		return messages
	}
	if len([]rune(messages[n-2].Content)) >= 40 {
		return messages
	}
	out := make([]Message, 0, n-1)
	out = append(out, messages[:n-2]...)
	return append(out, messages[n-1])
}

// LastUserMessage returns the most recent user turn, if any.
func LastUserMessage(messages []Message) (Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i], true
		}
	}
	return Message{}, false
}

// ParseAttachment splits an optional data-URL prefix off a base64 image.
func ParseAttachment(raw string) *Attachment {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	mime := "image/jpeg"
	if strings.HasPrefix(raw, "data:") {
		if idx := strings.Index(raw, ","); idx > 0 {
			header := raw[len("data:"):idx]
			if semi := strings.Index(header, ";"); semi > 0 {
				header = header[:semi]
			}
			if header != "" {
				mime = header
			}
			raw = raw[idx+1:]
		}
	}
	return &Attachment{MIMEType: mime, Data: raw}
}

// Memory categories
const (
	MemoryPreference = "preference"
	MemoryFact       = "fact"
	MemoryTodo       = "todo"
)

// ValidMemoryType reports whether t is an accepted memory category.
func ValidMemoryType(t string) bool {
	switch t {
	case MemoryPreference, MemoryFact, MemoryTodo:
		return true
	}
	return false
}

// MemoryRecord is a stored memory row.
type MemoryRecord struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// CacheStats reports response cache usage.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
