package core

import (
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Source is a web page the model grounded its answer on.
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// DisplayTitle falls back to the URI when the page has no title.
func (s Source) DisplayTitle() string {
	if s.Title == "" {
		return s.URI
	}
	return s.Title
}

type MessagePart struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources,omitempty"`
}

// ImageRef describes an attached image without carrying its bytes.
type ImageRef struct {
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
}

type ChatMessage struct {
	ID         string        `json:"id"`
	Role       Role          `json:"role"`
	Parts      []MessagePart `json:"parts"`
	Image      *ImageRef     `json:"image,omitempty"`
	InProgress bool          `json:"in_progress,omitempty"`
	// Loading marks the placeholder shown before the first chunk arrives.
	Loading bool `json:"loading,omitempty"`
}

// Text concatenates all parts.
func (m *ChatMessage) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// Sources flattens the sources of every part.
func (m *ChatMessage) Sources() []Source {
	var out []Source
	for _, p := range m.Parts {
		out = append(out, p.Sources...)
	}
	return out
}

func (m *ChatMessage) clone() ChatMessage {
	c := *m
	c.Parts = make([]MessagePart, len(m.Parts))
	for i, p := range m.Parts {
		c.Parts[i] = MessagePart{Text: p.Text, Sources: append([]Source(nil), p.Sources...)}
	}
	if m.Image != nil {
		img := *m.Image
		c.Image = &img
	}
	return c
}

// Attachment is an image chosen by the user. Its bytes are only encoded
// into the request when the message is sent.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

func (a *Attachment) ref() *ImageRef {
	if a == nil {
		return nil
	}
	return &ImageRef{Name: a.Name, MIMEType: a.MIMEType, Size: len(a.Data)}
}

func newMessage(role Role, parts ...MessagePart) *ChatMessage {
	if parts == nil {
		parts = []MessagePart{}
	}
	return &ChatMessage{ID: uuid.NewString(), Role: role, Parts: parts}
}
