package core

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ChatService keeps the conversations of mounted chat views in memory.
// Nothing survives a close or a restart.
type ChatService struct {
	streamer ChatStreamer
	log      *zap.Logger

	mu            sync.Mutex
	conversations map[string]*Conversation
}

func NewChatService(streamer ChatStreamer, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		streamer:      streamer,
		log:           logger.Named("chat"),
		conversations: make(map[string]*Conversation),
	}
}

// Open creates the conversation of a chat view that has just mounted.
func (s *ChatService) Open(opts ConversationOptions) *Conversation {
	conv := NewConversation(s.streamer, opts, s.log)
	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()
	s.log.Debug("Conversation opened", zap.String("conversation", conv.ID), zap.String("view", opts.View))
	return conv
}

func (s *ChatService) Get(id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

func (s *ChatService) Send(ctx context.Context, id string, req SendRequest, onUpdate func(ChatMessage)) (ChatMessage, error) {
	conv, err := s.Get(id)
	if err != nil {
		return ChatMessage{}, err
	}
	return conv.Send(ctx, req, onUpdate)
}

// Close unmounts a conversation, cancelling its in-flight stream.
func (s *ChatService) Close(id string) error {
	s.mu.Lock()
	conv, ok := s.conversations[id]
	delete(s.conversations, id)
	s.mu.Unlock()
	if !ok {
		return ErrConversationNotFound
	}
	conv.Close()
	s.log.Debug("Conversation closed", zap.String("conversation", id))
	return nil
}

// CloseAll discards every conversation.
func (s *ChatService) CloseAll() {
	s.mu.Lock()
	convs := s.conversations
	s.conversations = make(map[string]*Conversation)
	s.mu.Unlock()
	for _, conv := range convs {
		conv.Close()
	}
}

func (s *ChatService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}
