package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kisanmitra.ai/assistant/internal/language"
)

const (
	// ErrorReply replaces a reply whose stream failed.
	ErrorReply = "Sorry, I encountered an error. Please try again."
	// LoadingText is what clients render for the placeholder message.
	LoadingText = "Kisan Mitra is thinking..."
)

var (
	ErrConversationBusy     = errors.New("conversation already has a request in flight")
	ErrConversationClosed   = errors.New("conversation is closed")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEmptyMessage         = errors.New("message needs text or an image")
	ErrImagesNotAllowed     = errors.New("this conversation does not accept images")
	ErrInvalidTransition    = errors.New("invalid conversation transition")
)

type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{StateIdle, StateSending, StateStreaming} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown conversation state %q", b)
}

type Event int

const (
	EventSend Event = iota
	EventFirstChunk
	EventStreamEnd
	EventStreamError
)

func (e Event) String() string {
	switch e {
	case EventSend:
		return "send"
	case EventFirstChunk:
		return "first-chunk"
	case EventStreamEnd:
		return "stream-end"
	case EventStreamError:
		return "stream-error"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// NextState is the conversation state machine. A send is only accepted while
// idle, which makes sending single-flight per conversation.
func NextState(s State, ev Event) (State, error) {
	switch ev {
	case EventSend:
		if s == StateIdle {
			return StateSending, nil
		}
		return s, ErrConversationBusy
	case EventFirstChunk:
		if s == StateSending {
			return StateStreaming, nil
		}
	case EventStreamEnd, EventStreamError:
		if s == StateSending || s == StateStreaming {
			return StateIdle, nil
		}
	}
	return s, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev, s)
}

// ConversationOptions are fixed by the chat view that opens the conversation.
type ConversationOptions struct {
	// Session is the shell session that mounted the view.
	Session     string
	View        string
	UseSearch   bool
	AllowImages bool
}

// SendRequest is what the user submits from the chat input.
type SendRequest struct {
	Prompt   string
	Image    *Attachment
	Language language.Language
}

// Snapshot is a copy of the conversation safe to hand to a renderer.
type Snapshot struct {
	ID       string        `json:"id"`
	View     string        `json:"view"`
	State    State         `json:"state"`
	Messages []ChatMessage `json:"messages"`
}

// Conversation is the message state of one mounted chat view.
type Conversation struct {
	ID   string
	opts ConversationOptions

	streamer ChatStreamer
	log      *zap.Logger

	mu       sync.Mutex
	state    State
	messages []*ChatMessage
	cancel   context.CancelFunc
	closed   bool
}

func NewConversation(streamer ChatStreamer, opts ConversationOptions, logger *zap.Logger) *Conversation {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Conversation{
		ID:       id,
		opts:     opts,
		streamer: streamer,
		log:      logger.With(zap.String("conversation", id), zap.String("view", opts.View)),
	}
}

func (c *Conversation) Options() ConversationOptions { return c.opts }

func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{ID: c.ID, View: c.opts.View, State: c.state, Messages: make([]ChatMessage, len(c.messages))}
	for i, m := range c.messages {
		snap.Messages[i] = m.clone()
	}
	return snap
}

// Send appends the user message and a loading placeholder, streams the reply
// into the placeholder's slot, and returns the final model message. onUpdate
// receives a copy of every message as it changes, in order.
//
// A failed stream leaves exactly one model message carrying ErrorReply; the
// returned error is the stream failure.
func (c *Conversation) Send(ctx context.Context, req SendRequest, onUpdate func(ChatMessage)) (ChatMessage, error) {
	if onUpdate == nil {
		onUpdate = func(ChatMessage) {}
	}
	if strings.TrimSpace(req.Prompt) == "" && req.Image == nil {
		return ChatMessage{}, ErrEmptyMessage
	}
	if req.Image != nil && !c.opts.AllowImages {
		return ChatMessage{}, ErrImagesNotAllowed
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ChatMessage{}, ErrConversationClosed
	}
	next, err := NextState(c.state, EventSend)
	if err != nil {
		c.mu.Unlock()
		return ChatMessage{}, err
	}
	c.state = next

	history := make([]ChatMessage, len(c.messages))
	for i, m := range c.messages {
		history[i] = m.clone()
	}

	user := newMessage(RoleUser, MessagePart{Text: req.Prompt})
	user.Image = req.Image.ref()
	placeholder := newMessage(RoleModel)
	placeholder.InProgress, placeholder.Loading = true, true
	c.messages = append(c.messages, user, placeholder)
	slot := len(c.messages) - 1

	streamCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	userSnap, placeholderSnap := user.clone(), placeholder.clone()
	c.mu.Unlock()
	defer cancel()

	onUpdate(userSnap)
	onUpdate(placeholderSnap)

	stream := c.streamer.StreamChat(streamCtx, StreamRequest{
		Prompt:    req.Prompt,
		Image:     req.Image,
		Language:  req.Language.Name,
		UseSearch: c.opts.UseSearch,
		History:   history,
	})

	var (
		acc     strings.Builder
		sources []Source
		reply   *ChatMessage
	)
	for chunk, err := range stream {
		if err != nil {
			return c.fail(slot, err, onUpdate)
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ChatMessage{}, ErrConversationClosed
		}
		if reply == nil {
			c.state, _ = NextState(c.state, EventFirstChunk)
			reply = newMessage(RoleModel)
			reply.InProgress = true
			c.messages[slot] = reply
		}
		acc.WriteString(chunk.Text)
		if chunk.Grounded {
			sources = chunk.Sources
		}
		reply.Parts = []MessagePart{{Text: acc.String(), Sources: sources}}
		snap := reply.clone()
		c.mu.Unlock()

		onUpdate(snap)
	}
	if err := streamCtx.Err(); err != nil {
		return c.fail(slot, err, onUpdate)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ChatMessage{}, ErrConversationClosed
	}
	if reply == nil {
		reply = newMessage(RoleModel, MessagePart{Text: ""})
		c.messages[slot] = reply
	}
	reply.InProgress = false
	c.state, _ = NextState(c.state, EventStreamEnd)
	c.cancel = nil
	final := reply.clone()
	c.mu.Unlock()

	c.log.Debug("Chat reply complete", zap.Int("chars", len(final.Text())), zap.Int("sources", len(sources)))
	onUpdate(final)
	return final, nil
}

func (c *Conversation) fail(slot int, cause error, onUpdate func(ChatMessage)) (ChatMessage, error) {
	c.log.Error("Error streaming chat", zap.Error(cause))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ChatMessage{}, ErrConversationClosed
	}
	msg := newMessage(RoleModel, MessagePart{Text: ErrorReply})
	c.messages[slot] = msg
	c.state, _ = NextState(c.state, EventStreamError)
	c.cancel = nil
	snap := msg.clone()
	c.mu.Unlock()

	onUpdate(snap)
	return snap, fmt.Errorf("chat stream: %w", cause)
}

// Close cancels any in-flight stream and discards the messages.
func (c *Conversation) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.messages = nil
	c.state = StateIdle
}
