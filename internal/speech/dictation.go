package speech

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ownerDictation = "dictation"

// DictationState is what the chat input's microphone button renders.
type DictationState struct {
	Listening bool   `json:"listening"`
	Error     string `json:"error,omitempty"`
}

type dictationState struct {
	// shouldListen is the caller's intent; the native session may end on its
	// own while this stays true.
	shouldListen bool
	lang         string
	err          error
}

type dictationEvent int

const (
	dictStart dictationEvent = iota
	dictStop
	dictError
	dictEnd
)

type dictationAction int

const (
	dictNone dictationAction = iota
	dictActionStart
	dictActionStop
	dictActionRestart
	dictActionRelease
)

// stepDictation returns the next state and what to do with the recognizer.
// Errors always end the session; a session end while shouldListen holds is
// answered with an immediate restart.
func stepDictation(s dictationState, ev dictationEvent, lang string, err error) (dictationState, dictationAction) {
	switch ev {
	case dictStart:
		if s.shouldListen {
			return s, dictNone
		}
		if err != nil {
			s.err = err
			return s, dictNone
		}
		return dictationState{shouldListen: true, lang: lang}, dictActionStart
	case dictStop:
		if !s.shouldListen {
			return s, dictNone
		}
		s.shouldListen = false
		return s, dictActionStop
	case dictError:
		s.shouldListen = false
		s.err = err
		return s, dictActionRelease
	case dictEnd:
		if s.shouldListen {
			return s, dictActionRestart
		}
		return s, dictActionRelease
	}
	return s, dictNone
}

// DictationConfig wires a DictationAdapter.
type DictationConfig struct {
	Recognizer Recognizer
	Microphone *Microphone
	Secure     bool
	// OnTranscript receives each finalized chunk of dictated text.
	OnTranscript func(text string)
	OnChange     func(DictationState)
	Logger       *zap.Logger
}

// DictationAdapter turns continuous recognition into text appended to the
// chat input.
type DictationAdapter struct {
	cfg   DictationConfig
	log   *zap.Logger
	owner string
	mu    sync.Mutex
	state dictationState
}

func NewDictationAdapter(cfg DictationConfig) *DictationAdapter {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	d := &DictationAdapter{cfg: cfg, log: cfg.Logger.Named("dictation"), owner: ownerDictation + ":" + uuid.NewString()}
	cfg.Recognizer.OnTranscriptSegment(d.handleResult)
	cfg.Recognizer.OnError(func(code string) {
		d.log.Warn("Speech recognition error", zap.String("code", code))
		d.transition(dictError, "", errorFromCode(code))
	})
	cfg.Recognizer.OnSessionEnd(func() { d.transition(dictEnd, "", nil) })
	return d
}

func (d *DictationAdapter) StartListening(lang string) {
	if !d.cfg.Secure {
		d.mu.Lock()
		d.state.err = ErrInsecureContext
		d.mu.Unlock()
		d.notify()
		return
	}
	d.mu.Lock()
	var micErr error
	if !d.state.shouldListen {
		micErr = d.cfg.Microphone.Acquire(d.owner)
	}
	d.mu.Unlock()
	d.transition(dictStart, lang, micErr)
}

func (d *DictationAdapter) StopListening() {
	d.transition(dictStop, "", nil)
}

// Toggle starts dictation when idle and stops it otherwise.
func (d *DictationAdapter) Toggle(lang string) {
	if d.State().Listening {
		d.StopListening()
		return
	}
	d.StartListening(lang)
}

func (d *DictationAdapter) State() DictationState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.publicLocked()
}

func (d *DictationAdapter) publicLocked() DictationState {
	return DictationState{
		Listening: d.state.shouldListen,
		Error:     UserMessage(PurposeDictation, d.state.err),
	}
}

func (d *DictationAdapter) handleResult(ev ResultEvent) {
	var final strings.Builder
	for _, r := range ev.changed() {
		if r.Final {
			final.WriteString(r.Transcript)
		}
	}
	if final.Len() > 0 && d.cfg.OnTranscript != nil {
		d.cfg.OnTranscript(final.String())
	}
}

func (d *DictationAdapter) transition(ev dictationEvent, lang string, err error) {
	d.mu.Lock()
	next, action := stepDictation(d.state, ev, lang, err)
	d.state = next
	settings := Settings{Lang: next.lang, Continuous: true, InterimResults: true}
	d.mu.Unlock()

	switch action {
	case dictActionStart, dictActionRestart:
		if action == dictActionRestart {
			d.log.Debug("Recognition session ended while dictating, restarting", zap.String("lang", settings.Lang))
		}
		if startErr := d.cfg.Recognizer.Start(settings); startErr != nil {
			d.log.Error("Failed to start recognizer", zap.Error(startErr))
			d.transition(dictError, "", &RecognitionError{Code: "start-failed", Err: startErr})
			return
		}
	case dictActionStop:
		if stopErr := d.cfg.Recognizer.Stop(); stopErr != nil {
			d.log.Warn("Failed to stop recognizer", zap.Error(stopErr))
		}
		d.cfg.Microphone.Release(d.owner)
	case dictActionRelease:
		d.cfg.Microphone.Release(d.owner)
	}
	if action != dictActionRestart {
		d.notify()
	}
}

func (d *DictationAdapter) notify() {
	if d.cfg.OnChange == nil {
		return
	}
	d.cfg.OnChange(d.State())
}
