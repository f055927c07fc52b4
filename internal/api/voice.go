package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"kisanmitra.ai/assistant/internal/shell"
	"kisanmitra.ai/assistant/internal/speech"
)

const (
	channelCommand   = "command"
	channelDictation = "dictation"

	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	maxFrameBytes = 64 << 10

	// errorTTL is how long clients keep an error toast on screen.
	errorTTL = 5 * time.Second
)

var errVoiceClosed = errors.New("voice connection closed")

// Frames sent to the browser.
type (
	startFrame struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
		speech.Settings
	}
	stopFrame struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
	}
	stateFrame struct {
		Type       string `json:"type"`
		Channel    string `json:"channel"`
		Listening  bool   `json:"listening"`
		Transcript string `json:"transcript,omitempty"`
		Error      string `json:"error,omitempty"`
		ErrorTTLMs int64  `json:"errorTtlMs,omitempty"`
	}
	dictationFrame struct {
		Type  string `json:"type"`
		Text  string `json:"text"`
		Draft string `json:"draft"`
	}
	navigateFrame struct {
		Type string         `json:"type"`
		View shell.ViewType `json:"view"`
	}
)

// inboundFrame is any frame the browser sends.
type inboundFrame struct {
	Type        string          `json:"type"`
	Channel     string          `json:"channel"`
	ResultIndex int             `json:"resultIndex"`
	Results     []speech.Result `json:"results"`
	Error       string          `json:"error"`
}

func newStateFrame(channel string, listening bool, transcript, errMsg string) stateFrame {
	f := stateFrame{Type: "state", Channel: channel, Listening: listening, Transcript: transcript, Error: errMsg}
	if errMsg != "" {
		f.ErrorTTLMs = errorTTL.Milliseconds()
	}
	return f
}

// voiceConn serialises writes to one websocket through a single writer.
type voiceConn struct {
	ws   *websocket.Conn
	out  chan any
	done chan struct{}
	once sync.Once
	log  *zap.Logger
}

func newVoiceConn(ws *websocket.Conn, logger *zap.Logger) *voiceConn {
	return &voiceConn{ws: ws, out: make(chan any, 64), done: make(chan struct{}), log: logger}
}

func (c *voiceConn) send(v any) error {
	select {
	case <-c.done:
		return errVoiceClosed
	default:
	}
	select {
	case c.out <- v:
		return nil
	case <-c.done:
		return errVoiceClosed
	}
}

func (c *voiceConn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *voiceConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case v := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(v); err != nil {
				c.log.Debug("Voice write failed", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *voiceConn) readPump(handle func(inboundFrame)) {
	defer c.close()
	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("Voice connection dropped", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("Malformed voice frame", zap.Error(err))
			continue
		}
		handle(f)
	}
}

// remoteRecognizer is the browser's native recognizer for one channel,
// driven with start/stop frames and reporting back through inbound frames.
type remoteRecognizer struct {
	channel  string
	conn     *voiceConn
	onResult func(speech.ResultEvent)
	onError  func(string)
	onEnd    func()
}

func (r *remoteRecognizer) Start(s speech.Settings) error {
	return r.conn.send(startFrame{Type: "start", Channel: r.channel, Settings: s})
}

func (r *remoteRecognizer) Stop() error {
	return r.conn.send(stopFrame{Type: "stop", Channel: r.channel})
}

func (r *remoteRecognizer) OnTranscriptSegment(fn func(speech.ResultEvent)) { r.onResult = fn }
func (r *remoteRecognizer) OnError(fn func(string))                         { r.onError = fn }
func (r *remoteRecognizer) OnSessionEnd(fn func())                          { r.onEnd = fn }

func (r *remoteRecognizer) deliver(f inboundFrame) bool {
	switch f.Type {
	case "result":
		if r.onResult != nil {
			r.onResult(speech.ResultEvent{ResultIndex: f.ResultIndex, Results: f.Results})
		}
	case "error":
		if r.onError != nil {
			r.onError(f.Error)
		}
	case "end":
		if r.onEnd != nil {
			r.onEnd()
		}
	default:
		return false
	}
	return true
}

// voiceSession binds both recognition consumers of a shell session to one
// websocket.
type voiceSession struct {
	sh          *shell.Shell
	conn        *voiceConn
	commands    *speech.CommandEngine
	dictation   *speech.DictationAdapter
	recognizers map[string]*remoteRecognizer
	log         *zap.Logger
}

func newVoiceSession(sh *shell.Shell, conn *voiceConn, secure bool, logger *zap.Logger) *voiceSession {
	v := &voiceSession{
		sh:   sh,
		conn: conn,
		recognizers: map[string]*remoteRecognizer{
			channelCommand:   {channel: channelCommand, conn: conn},
			channelDictation: {channel: channelDictation, conn: conn},
		},
		log: logger,
	}
	v.commands = speech.NewCommandEngine(speech.CommandEngineConfig{
		Recognizer: v.recognizers[channelCommand],
		Commands:   sh.Commands,
		Microphone: sh.Mic,
		Secure:     secure,
		OnChange: func(st speech.CommandState) {
			_ = conn.send(newStateFrame(channelCommand, st.Listening, st.Transcript, st.Error))
		},
		Logger: logger,
	})
	v.dictation = speech.NewDictationAdapter(speech.DictationConfig{
		Recognizer: v.recognizers[channelDictation],
		Microphone: sh.Mic,
		Secure:     secure,
		OnTranscript: func(text string) {
			draft := sh.Draft.Append(text)
			_ = conn.send(dictationFrame{Type: "dictation", Text: text, Draft: draft})
		},
		OnChange: func(st speech.DictationState) {
			_ = conn.send(newStateFrame(channelDictation, st.Listening, "", st.Error))
		},
		Logger: logger,
	})
	return v
}

func (v *voiceSession) sendInitialState() {
	cmd := v.commands.State()
	_ = v.conn.send(newStateFrame(channelCommand, cmd.Listening, cmd.Transcript, cmd.Error))
	dict := v.dictation.State()
	_ = v.conn.send(newStateFrame(channelDictation, dict.Listening, "", dict.Error))
}

func (v *voiceSession) handle(f inboundFrame) {
	rec, ok := v.recognizers[f.Channel]
	if !ok {
		v.log.Warn("Unknown voice channel", zap.String("channel", f.Channel), zap.String("type", f.Type))
		return
	}
	if rec.deliver(f) {
		return
	}
	lang := v.sh.Language().Code
	switch {
	case f.Type == "listen" && f.Channel == channelCommand:
		v.commands.StartListening(lang)
	case f.Type == "listen":
		v.dictation.StartListening(lang)
	case f.Type == "cancel" && f.Channel == channelCommand:
		v.commands.StopListening()
	case f.Type == "cancel":
		v.dictation.StopListening()
	case f.Type == "toggle" && f.Channel == channelCommand:
		if v.commands.State().Listening {
			v.commands.StopListening()
		} else {
			v.commands.StartListening(lang)
		}
	case f.Type == "toggle":
		v.dictation.Toggle(lang)
	default:
		v.log.Warn("Unknown voice frame", zap.String("type", f.Type))
	}
}

// navigate follows view changes. The chat input unmounts with its view, so
// dictation stops too.
func (v *voiceSession) navigate(view shell.ViewType) {
	if v.dictation.State().Listening {
		v.dictation.StopListening()
	}
	_ = v.conn.send(navigateFrame{Type: "navigate", View: view})
}

func (v *voiceSession) stop() {
	v.commands.StopListening()
	v.dictation.StopListening()
}

// VoiceHandler upgrades to the websocket that bridges the browser's speech
// engine to the session's voice command engine and dictation adapter.
func (h *APIHandler) VoiceHandler(w http.ResponseWriter, r *http.Request) {
	sh, ok := h.session(w, r)
	if !ok {
		return
	}
	secure := isSecureRequest(r, h.trustProxy)
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Voice upgrade failed", zap.Error(err))
		return
	}

	log := h.log.With(zap.String("session", sh.ID))
	conn := newVoiceConn(ws, log)
	vs := newVoiceSession(sh, conn, secure, log)
	unregister := sh.OnClose(conn.close)
	unwatch := sh.WatchView(vs.navigate)
	log.Info("Voice connected", zap.Bool("secure", secure))

	vs.sendInitialState()
	wg := conc.NewWaitGroup()
	wg.Go(conn.writePump)
	wg.Go(func() { conn.readPump(vs.handle) })
	wg.Wait()

	unwatch()
	unregister()
	vs.stop()
	log.Info("Voice disconnected")
}

// isSecureRequest reports whether the page talking to us runs in a secure
// context: TLS, TLS terminated by a trusted proxy, or a loopback host.
// X-Forwarded-Proto is client-controlled unless a proxy rewrites it, so it
// only counts when trustProxy is set.
func isSecureRequest(r *http.Request, trustProxy bool) bool {
	if r.TLS != nil {
		return true
	}
	if trustProxy && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (h *APIHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.origins[strings.TrimRight(origin, "/")] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
