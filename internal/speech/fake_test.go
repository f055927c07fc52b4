package speech

import "errors"

// fakeRecognizer is a scripted event source standing in for the browser.
type fakeRecognizer struct {
	starts   []Settings
	stops    int
	startErr error

	onResult func(ResultEvent)
	onError  func(string)
	onEnd    func()
}

func (f *fakeRecognizer) Start(s Settings) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.starts = append(f.starts, s)
	return nil
}

func (f *fakeRecognizer) Stop() error {
	f.stops++
	return nil
}

func (f *fakeRecognizer) OnTranscriptSegment(h func(ResultEvent)) { f.onResult = h }
func (f *fakeRecognizer) OnError(h func(string))                  { f.onError = h }
func (f *fakeRecognizer) OnSessionEnd(h func())                   { f.onEnd = h }

func (f *fakeRecognizer) interim(text string) {
	f.onResult(ResultEvent{Results: []Result{{Transcript: text}}})
}

func (f *fakeRecognizer) final(text string) {
	f.onResult(ResultEvent{Results: []Result{{Final: true, Transcript: text}}})
}

func (f *fakeRecognizer) fail(code string) { f.onError(code) }
func (f *fakeRecognizer) end()             { f.onEnd() }

var errTransport = errors.New("socket closed")
