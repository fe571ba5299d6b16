package models

import "time"

// ChatMessage represents a persisted direct message between two users.
// The ID is assigned by the CRM gateway at persist time; the timestamp
// is server-assigned UTC. IsRead only ever flips false to true.
type ChatMessage struct {
	ID         string      `json:"id"`
	From       string      `json:"from"`
	To         string      `json:"to"`
	Text       string      `json:"text"`
	Timestamp  time.Time   `json:"timestamp"`
	IsRead     bool        `json:"isRead"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment is optional file metadata carried on a message. The file
// itself lives behind the URL; this service never touches its bytes.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}
