package speech

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ownerCommands = "voice-commands"

// Command binds lowercase trigger phrases to an action.
type Command struct {
	Phrases []string
	Action  func()
}

// Match scans commands in registration order and their phrases in phrase
// order, returning the index of the first command whose phrase is contained
// in the normalised utterance.
func Match(commands []Command, utterance string) (int, bool) {
	text := strings.ToLower(strings.TrimSpace(utterance))
	if text == "" {
		return -1, false
	}
	for i, c := range commands {
		for _, p := range c.Phrases {
			p = strings.ToLower(p)
			if p != "" && strings.Contains(text, p) {
				return i, true
			}
		}
	}
	return -1, false
}

// CommandState is what the listening overlay renders.
type CommandState struct {
	Listening  bool   `json:"listening"`
	Transcript string `json:"transcript"`
	Error      string `json:"error,omitempty"`
}

type commandState struct {
	listening  bool
	transcript string
	err        error
}

func (s commandState) public() CommandState {
	return CommandState{
		Listening:  s.listening,
		Transcript: s.transcript,
		Error:      UserMessage(PurposeCommands, s.err),
	}
}

type commandEvent interface{ isCommandEvent() }

type (
	cmdStart struct {
		lang   string
		secure bool
		micErr error
	}
	cmdStop   struct{}
	cmdResult struct{ ev ResultEvent }
	cmdError  struct{ err error }
	cmdEnd    struct{}
)

func (cmdStart) isCommandEvent()  {}
func (cmdStop) isCommandEvent()   {}
func (cmdResult) isCommandEvent() {}
func (cmdError) isCommandEvent()  {}
func (cmdEnd) isCommandEvent()    {}

type effectKind int

const (
	effectStart effectKind = iota
	effectStop
	effectRelease
	effectMatch
	effectNotify
)

type effect struct {
	kind      effectKind
	lang      string
	utterance string
	state     CommandState
}

// stepCommand is the voice command state machine. It never touches the
// recognizer; the returned effects are applied by the engine in order.
func stepCommand(s commandState, ev commandEvent) (commandState, []effect) {
	switch ev := ev.(type) {
	case cmdStart:
		if !ev.secure {
			s.err = ErrInsecureContext
			return s, []effect{notify(s)}
		}
		if s.listening {
			return s, nil
		}
		if ev.micErr != nil {
			s.err = ev.micErr
			return s, []effect{notify(s)}
		}
		s = commandState{listening: true}
		return s, []effect{notify(s), {kind: effectStart, lang: ev.lang}}

	case cmdStop:
		if !s.listening {
			return s, nil
		}
		s.listening, s.transcript = false, ""
		return s, []effect{{kind: effectStop}, {kind: effectRelease}, notify(s)}

	case cmdResult:
		if !s.listening {
			return s, nil
		}
		var interim, final strings.Builder
		for _, r := range ev.ev.changed() {
			if r.Final {
				final.WriteString(strings.ToLower(strings.TrimSpace(r.Transcript)))
			} else {
				interim.WriteString(r.Transcript)
			}
		}
		s.transcript = interim.String()
		if s.transcript == "" {
			s.transcript = final.String()
		}
		effects := []effect{notify(s)}
		if final.Len() > 0 {
			effects = append(effects, effect{kind: effectMatch, utterance: final.String()})
		}
		return s, effects

	case cmdError:
		if !s.listening {
			return s, nil
		}
		s = commandState{err: ev.err}
		return s, []effect{{kind: effectRelease}, notify(s)}

	case cmdEnd:
		if !s.listening && s.transcript == "" {
			return s, nil
		}
		s.listening, s.transcript = false, ""
		return s, []effect{{kind: effectRelease}, notify(s)}
	}
	return s, nil
}

func notify(s commandState) effect {
	return effect{kind: effectNotify, state: s.public()}
}

// CommandEngineConfig wires a CommandEngine.
type CommandEngineConfig struct {
	Recognizer Recognizer
	// Commands is read on every finalized utterance, so the engine always
	// matches against the command set of the view that is active right now.
	Commands   func() []Command
	Microphone *Microphone
	Secure     bool
	OnChange   func(CommandState)
	Logger     *zap.Logger
}

// CommandEngine listens for one utterance and fires the first matching
// navigation command.
type CommandEngine struct {
	cfg CommandEngineConfig
	log *zap.Logger
	// owner identifies this engine to the shared microphone.
	owner string

	mu    sync.Mutex
	state commandState
}

func NewCommandEngine(cfg CommandEngineConfig) *CommandEngine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	e := &CommandEngine{cfg: cfg, log: cfg.Logger.Named("voice-commands"), owner: ownerCommands + ":" + uuid.NewString()}
	cfg.Recognizer.OnTranscriptSegment(func(ev ResultEvent) { e.dispatch(cmdResult{ev: ev}) })
	cfg.Recognizer.OnError(func(code string) {
		e.log.Warn("Speech recognition error", zap.String("code", code))
		e.dispatch(cmdError{err: errorFromCode(code)})
	})
	cfg.Recognizer.OnSessionEnd(func() { e.dispatch(cmdEnd{}) })
	return e
}

// StartListening activates single-utterance recognition in lang.
func (e *CommandEngine) StartListening(lang string) {
	e.mu.Lock()
	var micErr error
	if e.cfg.Secure && !e.state.listening {
		micErr = e.cfg.Microphone.Acquire(e.owner)
	}
	next, effects := stepCommand(e.state, cmdStart{lang: lang, secure: e.cfg.Secure, micErr: micErr})
	e.state = next
	e.mu.Unlock()
	e.apply(effects)
}

// StopListening ends the session early. It is a no-op when idle.
func (e *CommandEngine) StopListening() {
	e.dispatch(cmdStop{})
}

func (e *CommandEngine) State() CommandState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.public()
}

func (e *CommandEngine) dispatch(ev commandEvent) {
	e.mu.Lock()
	next, effects := stepCommand(e.state, ev)
	e.state = next
	e.mu.Unlock()
	e.apply(effects)
}

func (e *CommandEngine) apply(effects []effect) {
	for _, eff := range effects {
		switch eff.kind {
		case effectStart:
			settings := Settings{Lang: eff.lang, Continuous: false, InterimResults: true}
			if err := e.cfg.Recognizer.Start(settings); err != nil {
				e.log.Error("Failed to start recognizer", zap.Error(err))
				e.dispatch(cmdError{err: &RecognitionError{Code: "start-failed", Err: err}})
			}
		case effectStop:
			if err := e.cfg.Recognizer.Stop(); err != nil {
				e.log.Warn("Failed to stop recognizer", zap.Error(err))
			}
		case effectRelease:
			e.cfg.Microphone.Release(e.owner)
		case effectMatch:
			var commands []Command
			if e.cfg.Commands != nil {
				commands = e.cfg.Commands()
			}
			if i, ok := Match(commands, eff.utterance); ok {
				e.log.Debug("Voice command matched", zap.String("utterance", eff.utterance), zap.Int("command", i))
				if commands[i].Action != nil {
					commands[i].Action()
				}
			} else {
				e.log.Debug("No voice command matched", zap.String("utterance", eff.utterance))
			}
		case effectNotify:
			if e.cfg.OnChange != nil {
				e.cfg.OnChange(eff.state)
			}
		}
	}
}
