// Package speech holds the two recognition consumers of the assistant: the
// single-utterance voice command engine and the continuous dictation adapter.
// Both drive an injected Recognizer, which in production is the browser's
// native engine reached over the voice websocket.
package speech

// Settings configures one recognition session.
type Settings struct {
	Lang           string `json:"lang"`
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interimResults"`
}

// Result is the first alternative of one recognition result segment.
type Result struct {
	Final      bool   `json:"final"`
	Transcript string `json:"transcript"`
}

// ResultEvent mirrors a native result event: every segment the recognizer
// currently holds, plus the index of the first one that changed.
type ResultEvent struct {
	ResultIndex int      `json:"resultIndex"`
	Results     []Result `json:"results"`
}

// Recognizer is a single native recognition handle. Handlers are registered
// once by the owning consumer and are invoked sequentially, in delivery order.
type Recognizer interface {
	Start(Settings) error
	Stop() error
	OnTranscriptSegment(func(ResultEvent))
	OnError(func(code string))
	OnSessionEnd(func())
}

// changed returns the segments from ResultIndex on, clamped to the slice.
func (ev ResultEvent) changed() []Result {
	if ev.ResultIndex < 0 || ev.ResultIndex >= len(ev.Results) {
		return nil
	}
	return ev.Results[ev.ResultIndex:]
}
