package api

import (
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kisanmitra.ai/assistant/internal/shell"
)

type voiceClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func (e *testEnv) dialVoice(t *testing.T, sessionID string, header http.Header) *voiceClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/api/sessions/" + sessionID + "/voice"
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return &voiceClient{t: t, ws: ws}
}

func (c *voiceClient) send(frame map[string]any) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(frame))
}

// next returns the first frame of the given type on channel, skipping others.
// An empty channel matches any.
func (c *voiceClient) next(typ, channel string) map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var frame map[string]any
		require.NoError(c.t, c.ws.ReadJSON(&frame))
		if frame["type"] != typ {
			continue
		}
		if channel != "" && frame["channel"] != channel {
			continue
		}
		return frame
	}
}

func TestVoiceCommandNavigates(t *testing.T) {
	env := newTestEnv(t, Options{})
	sess := env.createSession(t)
	vc := env.dialVoice(t, sess.ID, nil)

	initial := vc.next("state", channelCommand)
	assert.Equal(t, false, initial["listening"])

	vc.send(map[string]any{"type": "listen", "channel": channelCommand})
	start := vc.next("start", channelCommand)
	assert.Equal(t, "en-IN", start["lang"])
	assert.Equal(t, false, start["continuous"])
	assert.Equal(t, true, start["interimResults"])

	vc.send(map[string]any{
		"type": "result", "channel": channelCommand, "resultIndex": 0,
		"results": []map[string]any{{"final": true, "transcript": "Show me Market prices"}},
	})
	nav := vc.next("navigate", "")
	assert.Equal(t, string(shell.ViewMarketWeather), nav["view"])

	sh, err := env.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, shell.ViewMarketWeather, sh.View())

	vc.send(map[string]any{"type": "end", "channel": channelCommand})
	st := vc.next("state", channelCommand)
	assert.Equal(t, false, st["listening"])
	assert.Eventually(t, func() bool { return sh.Mic.Owner() == "" }, time.Second, 10*time.Millisecond)
}

func TestVoiceDictationFillsDraft(t *testing.T) {
	env := newTestEnv(t, Options{})
	sess := env.createSession(t)
	vc := env.dialVoice(t, sess.ID, nil)

	vc.send(map[string]any{"type": "toggle", "channel": channelDictation})
	start := vc.next("start", channelDictation)
	assert.Equal(t, true, start["continuous"])

	vc.send(map[string]any{
		"type": "result", "channel": channelDictation, "resultIndex": 0,
		"results": []map[string]any{{"final": true, "transcript": "need urea"}},
	})
	d := vc.next("dictation", "")
	assert.Equal(t, "need urea", d["text"])
	assert.Equal(t, "need urea", d["draft"])

	// A native session ending mid-dictation is restarted.
	vc.send(map[string]any{"type": "end", "channel": channelDictation})
	vc.next("start", channelDictation)

	vc.send(map[string]any{"type": "toggle", "channel": channelDictation})
	vc.next("stop", channelDictation)

	sh, err := env.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "need urea", sh.Draft.String())
}

func TestVoiceInsecureContextReportsError(t *testing.T) {
	env := newTestEnv(t, Options{})
	sess := env.createSession(t)
	vc := env.dialVoice(t, sess.ID, http.Header{"Host": {"farm.example"}})

	vc.next("state", channelCommand)
	vc.send(map[string]any{"type": "listen", "channel": channelCommand})
	for {
		st := vc.next("state", channelCommand)
		if st["error"] == nil {
			continue
		}
		assert.Equal(t, "Voice commands require a secure connection (HTTPS).", st["error"])
		assert.EqualValues(t, errorTTL.Milliseconds(), st["errorTtlMs"])
		break
	}
}

func TestVoiceClosedWithSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	sess := env.createSession(t)
	vc := env.dialVoice(t, sess.ID, nil)
	vc.next("state", channelDictation)

	resp := env.do(t, http.MethodDelete, "/api/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.NoError(t, vc.ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := vc.ws.ReadMessage(); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) {
				assert.False(t, netErr.Timeout(), "connection should close before the deadline")
			}
			break
		}
	}
}

func TestVoiceIgnoresForwardedProtoWithoutTrustedProxy(t *testing.T) {
	env := newTestEnv(t, Options{})
	sess := env.createSession(t)
	vc := env.dialVoice(t, sess.ID, http.Header{
		"Host":              {"farm.example"},
		"X-Forwarded-Proto": {"https"},
	})

	vc.send(map[string]any{"type": "listen", "channel": channelDictation})
	for {
		st := vc.next("state", channelDictation)
		if st["error"] == nil {
			continue
		}
		assert.Equal(t, "Speech recognition requires a secure connection (HTTPS).", st["error"])
		break
	}
}

func TestVoiceTrustsForwardedProtoBehindProxy(t *testing.T) {
	env := newTestEnv(t, Options{TrustProxy: true})
	sess := env.createSession(t)
	vc := env.dialVoice(t, sess.ID, http.Header{
		"Host":              {"farm.example"},
		"X-Forwarded-Proto": {"https"},
	})

	vc.send(map[string]any{"type": "listen", "channel": channelDictation})
	start := vc.next("start", channelDictation)
	assert.Equal(t, "start", start["type"])
}

func TestVoiceUnknownSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/sessions/missing/voice"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIsSecureRequest(t *testing.T) {
	tests := []struct {
		name       string
		host       string
		header     string
		trustProxy bool
		tls        bool
		want       bool
	}{
		{name: "localhost", host: "localhost:8080", want: true},
		{name: "loopback ipv4", host: "127.0.0.1:8080", want: true},
		{name: "loopback ipv6", host: "[::1]:8080", want: true},
		{name: "plain remote", host: "farm.example", want: false},
		{name: "trusted proxy tls", host: "farm.example", header: "https", trustProxy: true, want: true},
		{name: "forwarded header without proxy", host: "farm.example", header: "https", want: false},
		{name: "direct tls", host: "farm.example", tls: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Host = tt.host
			if tt.header != "" {
				r.Header.Set("X-Forwarded-Proto", tt.header)
			}
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			assert.Equal(t, tt.want, isSecureRequest(r, tt.trustProxy))
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	h := NewAPIHandler(nil, nil, nil, nil, Options{AllowedOrigins: []string{"https://app.kisanmitra.in/"}})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Host = "api.kisanmitra.in"
	assert.True(t, h.checkOrigin(r), "no origin")

	r.Header.Set("Origin", "https://app.kisanmitra.in")
	assert.True(t, h.checkOrigin(r), "allowed origin")

	r.Header.Set("Origin", "https://api.kisanmitra.in")
	assert.True(t, h.checkOrigin(r), "same host")

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(r))
}
