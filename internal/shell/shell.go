// Package shell holds the per-client navigation state: which view is mounted,
// which language is selected, and the voice commands that move between views.
package shell

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kisanmitra.ai/assistant/internal/language"
	"kisanmitra.ai/assistant/internal/speech"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUnknownLanguage = errors.New("unknown language")
	ErrNotChatView     = errors.New("current view is not a chat view")
	ErrViewChanged     = errors.New("view changed while opening the conversation")
)

// State is a snapshot of a session for rendering.
type State struct {
	ID           string            `json:"id"`
	View         ViewType          `json:"view"`
	Language     language.Language `json:"language"`
	Conversation string            `json:"conversation,omitempty"`
	GovSubmitted bool              `json:"gov_submitted"`
	Draft        string            `json:"draft"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Shell is one client session.
type Shell struct {
	ID        string
	CreatedAt time.Time
	// Mic arbitrates between voice commands and dictation.
	Mic *speech.Microphone
	// Draft is the chat input that dictation appends to.
	Draft *speech.Accumulator

	phrases           PhraseTable
	closeConversation func(id string)
	log               *zap.Logger

	mu           sync.Mutex
	view         ViewType
	lang         language.Language
	conversation string
	govSubmitted bool
	watchers     map[int]func(ViewType)
	nextWatcher  int
	closers      map[int]func()
	nextCloser   int
	closed       bool
}

func New(phrases PhraseTable, closeConversation func(id string), logger *zap.Logger) *Shell {
	if logger == nil {
		logger = zap.NewNop()
	}
	if closeConversation == nil {
		closeConversation = func(string) {}
	}
	id := uuid.NewString()
	return &Shell{
		ID:                id,
		CreatedAt:         time.Now(),
		Mic:               speech.NewMicrophone(),
		Draft:             &speech.Accumulator{},
		phrases:           phrases,
		closeConversation: closeConversation,
		log:               logger.With(zap.String("session", id)),
		view:              ViewDashboard,
		lang:              language.Default(),
		watchers:          make(map[int]func(ViewType)),
		closers:           make(map[int]func()),
	}
}

func (s *Shell) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:           s.ID,
		View:         s.view,
		Language:     s.lang,
		Conversation: s.conversation,
		GovSubmitted: s.govSubmitted,
		Draft:        s.Draft.String(),
		CreatedAt:    s.CreatedAt,
	}
}

func (s *Shell) View() ViewType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Shell) Language() language.Language {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// SetView mounts v. Leaving a view unmounts it: its conversation is closed,
// the chat draft and the form confirmation are discarded.
func (s *Shell) SetView(v ViewType) error {
	if _, err := ParseView(string(v)); err != nil {
		return err
	}
	s.mu.Lock()
	if s.view == v {
		s.mu.Unlock()
		return nil
	}
	from := s.view
	s.view = v
	s.govSubmitted = false
	conv := s.conversation
	s.conversation = ""
	watchers := make([]func(ViewType), 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	s.Draft.Take()
	if conv != "" {
		s.closeConversation(conv)
	}
	s.log.Info("View changed", zap.String("from", string(from)), zap.String("to", string(v)))
	for _, w := range watchers {
		w(v)
	}
	return nil
}

func (s *Shell) SetLanguage(code string) error {
	lang, ok := language.Lookup(code)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLanguage, code)
	}
	s.mu.Lock()
	s.lang = lang
	s.mu.Unlock()
	return nil
}

// Commands builds the voice commands for the selected language, one per
// navigation item that has phrases, in navigation order.
func (s *Shell) Commands() []speech.Command {
	code := s.Language().Code
	var cmds []speech.Command
	for _, item := range navItems {
		phrases := s.phrases.Phrases(item.ID, code)
		if len(phrases) == 0 {
			continue
		}
		cmds = append(cmds, speech.Command{
			Phrases: phrases,
			Action: func() {
				if err := s.SetView(item.ID); err != nil {
					s.log.Warn("Voice navigation failed", zap.Error(err))
				}
			},
		})
	}
	return cmds
}

// WatchView registers fn for view changes until the returned func is called.
func (s *Shell) WatchView(fn func(ViewType)) (cancel func()) {
	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// attachConversation records the conversation of the mounted chat view,
// closing any earlier one.
func (s *Shell) attachConversation(view ViewType, id string) error {
	s.mu.Lock()
	if s.view != view || s.closed {
		s.mu.Unlock()
		return ErrViewChanged
	}
	prev := s.conversation
	s.conversation = id
	s.mu.Unlock()
	if prev != "" {
		s.closeConversation(prev)
	}
	return nil
}

func (s *Shell) MarkGovSubmitted() {
	s.mu.Lock()
	s.govSubmitted = true
	s.mu.Unlock()
}

// OnClose registers cleanup that runs when the session is deleted. On an
// already closed session fn runs immediately.
func (s *Shell) OnClose(fn func()) (cancel func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return func() {}
	}
	id := s.nextCloser
	s.nextCloser++
	s.closers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.closers, id)
		s.mu.Unlock()
	}
}

func (s *Shell) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conv := s.conversation
	s.conversation = ""
	closers := s.closers
	s.closers = map[int]func(){}
	s.watchers = map[int]func(ViewType){}
	s.mu.Unlock()

	if conv != "" {
		s.closeConversation(conv)
	}
	for _, fn := range closers {
		fn()
	}
}
