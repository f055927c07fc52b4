package shell

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"kisanmitra.ai/assistant/internal/core"
)

// Manager is the registry of live sessions.
type Manager struct {
	chats   *core.ChatService
	phrases PhraseTable
	log     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Shell
}

func NewManager(chats *core.ChatService, phrases PhraseTable, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		chats:    chats,
		phrases:  phrases,
		log:      logger.Named("shell"),
		sessions: make(map[string]*Shell),
	}
}

func (m *Manager) Create() *Shell {
	sh := New(m.phrases, m.closeConversation, m.log)
	m.mu.Lock()
	m.sessions[sh.ID] = sh
	m.mu.Unlock()
	m.log.Info("Session created", zap.String("session", sh.ID))
	return sh
}

func (m *Manager) closeConversation(id string) {
	if m.chats == nil {
		return
	}
	if err := m.chats.Close(id); err != nil && !errors.Is(err, core.ErrConversationNotFound) {
		m.log.Warn("Failed to close conversation", zap.String("conversation", id), zap.Error(err))
	}
}

func (m *Manager) Get(id string) (*Shell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sh, nil
}

// Delete ends a session, closing its conversation and voice connections.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	sh, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	sh.close()
	m.log.Info("Session deleted", zap.String("session", id))
	return nil
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Shell)
	m.mu.Unlock()
	for _, sh := range sessions {
		sh.close()
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// OpenConversation mounts a fresh conversation for the session's current chat
// view, replacing the one it had.
func (m *Manager) OpenConversation(sessionID string) (*core.Conversation, error) {
	sh, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	view := sh.View()
	cv, ok := ChatViewFor(view)
	if !ok {
		return nil, ErrNotChatView
	}
	opts := cv.ConversationOptions()
	opts.Session = sessionID
	conv := m.chats.Open(opts)
	if err := sh.attachConversation(view, conv.ID); err != nil {
		m.closeConversation(conv.ID)
		return nil, err
	}
	return conv, nil
}
