package models

import "time"

// File is metadata for an attachment already uploaded to object storage.
type File struct {
	URL          string `json:"url"`
	OriginalName string `json:"originalName,omitempty"`
	MimeType     string `json:"mimetype,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// Reaction is one emoji left by one user. Repeats accumulate.
type Reaction struct {
	User  string `json:"user"`
	Emoji string `json:"emoji"`
}

// Message is a direct message from Sender to Recipient.
type Message struct {
	ID        string     `json:"_id"`
	Sender    string     `json:"sender"`
	Recipient string     `json:"recipient"`
	Text      string     `json:"text,omitempty"`
	File      *File      `json:"file,omitempty"`
	Delivered bool       `json:"delivered"`
	Seen      bool       `json:"seen"`
	Reactions []Reaction `json:"reactions"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// HasContent reports whether the message carries non-blank text or a file.
func (m *Message) HasContent() bool {
	return hasText(m.Text) || m.File != nil
}

// Involves reports whether userID is the sender or recipient.
func (m *Message) Involves(userID string) bool {
	return m.Sender == userID || m.Recipient == userID
}

func hasText(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			continue
		}
		return true
	}
	return false
}
