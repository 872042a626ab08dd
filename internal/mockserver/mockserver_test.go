package mockserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saker-ai/asr-sdk-go/internal/transport/asr/codec"
	"github.com/saker-ai/asr-sdk-go/pkg/audio"
)

const testScript = `
silence_threshold: 100
default:
  text: hello
  score: 80
replies:
  builtin:slm/phone:
    text: "6 6 6"
    score: 95
  session:menu:
    segments: [one, two]
    score: 70
`

func speech(samples int) []byte {
	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = int16((i%40)*300 - 6000)
	}
	return audio.Int16SliceToBytesInto(nil, pcm)
}

func TestParseScript(t *testing.T) {
	script, err := ParseScript([]byte(testScript))
	if err != nil {
		t.Fatalf("ParseScript returned error: %v", err)
	}
	if script.SilenceThreshold != 100 || script.Default == nil || script.Default.Text != "hello" {
		t.Fatalf("script=%+v", script)
	}
	if got := script.Replies["builtin:slm/phone"].Score; got != 95 {
		t.Fatalf("phone score=%v, want 95", got)
	}
	if _, err := ParseScript([]byte("replies: [")); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestScriptEngine(t *testing.T) {
	script, err := ParseScript([]byte(testScript))
	if err != nil {
		t.Fatalf("ParseScript returned error: %v", err)
	}
	engine := NewScriptEngine(script)
	pcm := speech(8000)

	tests := []struct {
		name     string
		uris     []string
		audio    []byte
		status   string
		texts    []string
		segments int
	}{
		{name: "scripted uri", uris: []string{"builtin:slm/phone"}, audio: pcm, status: StatusRecognized, texts: []string{"6 6 6"}, segments: 1},
		{name: "default reply", uris: []string{"builtin:slm/other"}, audio: pcm, status: StatusRecognized, texts: []string{"hello"}, segments: 1},
		{name: "multi segment", uris: []string{"session:menu"}, audio: pcm, status: StatusRecognized, texts: []string{"one", "two"}, segments: 2},
		{name: "silence", uris: []string{"builtin:slm/phone"}, audio: make([]byte, 1600), status: StatusNoMatch, segments: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Recognize(Request{URIs: tt.uris, Audio: tt.audio, SampleRate: 8000})
			if len(got) != tt.segments {
				t.Fatalf("segments=%d, want %d", len(got), tt.segments)
			}
			for i, seg := range got {
				if seg.Status != tt.status {
					t.Fatalf("status=%s, want %s", seg.Status, tt.status)
				}
				if tt.texts == nil {
					if len(seg.Alternatives) != 0 {
						t.Fatalf("alternatives=%v, want none", seg.Alternatives)
					}
					continue
				}
				if seg.Alternatives[0].Text != tt.texts[i] {
					t.Fatalf("text=%q, want %q", seg.Alternatives[0].Text, tt.texts[i])
				}
			}
			if last := got[len(got)-1]; tt.status == StatusRecognized && last.EndTime != 1 {
				t.Fatalf("end time=%v, want 1", last.EndTime)
			}
		})
	}
}

func TestScriptEngineWithoutDefault(t *testing.T) {
	engine := NewScriptEngine(Script{})
	got := engine.Recognize(Request{URIs: []string{"builtin:x"}, Audio: speech(100), SampleRate: 8000})
	if len(got) != 1 || got[0].Status != StatusNoMatch {
		t.Fatalf("segments=%+v, want one NO_MATCH", got)
	}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) (*wsClient, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, resp, err
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}, resp, nil
}

func (c *wsClient) send(frame []byte) {
	c.t.Helper()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *wsClient) recv() codec.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	msg, err := codec.Decode(data)
	if err != nil {
		c.t.Fatalf("decode: %v", err)
	}
	return msg
}

func newTestServer(t *testing.T, opts Options) (*Handler, *httptest.Server) {
	t.Helper()
	h := NewHandler(opts)
	srv := httptest.NewServer(http.HandlerFunc(h.Handle))
	t.Cleanup(srv.Close)
	return h, srv
}

func TestHandlerRejectsBadCredentials(t *testing.T) {
	_, srv := newTestServer(t, Options{Credentials: &Credentials{User: "u", Password: "p"}})
	_, resp, err := dial(t, srv, nil)
	if err == nil {
		t.Fatal("expected dial error without credentials")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp=%v, want 401", resp)
	}

	header := http.Header{}
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.SetBasicAuth("u", "p")
	header.Set("Authorization", req.Header.Get("Authorization"))
	if _, _, err := dial(t, srv, header); err != nil {
		t.Fatalf("dial with credentials: %v", err)
	}
}

func TestHandlerRecognitionFlow(t *testing.T) {
	script, _ := ParseScript([]byte(testScript))
	h, srv := newTestServer(t, Options{Engine: NewScriptEngine(script), SpeechThreshold: 100})
	c, _, err := dial(t, srv, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	c.send(codec.CreateSession("test", "chan-1"))
	resp := c.recv()
	if resp.Headers.Get(codec.HeaderSessionStatus) != "IDLE" || resp.Headers.Get(codec.HeaderHandle) == "" {
		t.Fatalf("create response=%+v", resp.Headers)
	}

	c.send(codec.StartRecognition([]string{"builtin:slm/phone"}, nil))
	if got := c.recv().Headers.Get(codec.HeaderSessionStatus); got != "LISTENING" {
		t.Fatalf("status=%s, want LISTENING", got)
	}

	c.send(codec.SendAudio(speech(800), false, codec.ContentTypeRaw))
	if got := c.recv().Command; got != codec.StartOfSpeechCmd {
		t.Fatalf("command=%s, want START_OF_SPEECH", got)
	}
	c.send(codec.SendAudio(nil, true, codec.ContentTypeRaw))
	if got := c.recv().Command; got != codec.EndOfSpeechCmd {
		t.Fatalf("command=%s, want END_OF_SPEECH", got)
	}
	result := c.recv()
	if result.Command != codec.RecognitionResultCmd || result.Headers.Get(codec.HeaderResultStatus) != StatusRecognized {
		t.Fatalf("result=%+v", result.Headers)
	}
	body, err := result.BodyMap()
	if err != nil {
		t.Fatalf("BodyMap: %v", err)
	}
	alts := body["alternatives"].([]any)
	if text := alts[0].(map[string]any)["text"]; text != "6 6 6" {
		t.Fatalf("text=%v, want 6 6 6", text)
	}

	if n := len(h.FramesOf(codec.SendAudioCmd)); n != 2 {
		t.Fatalf("SEND_AUDIO frames=%d, want 2", n)
	}
	if h.Sessions() != 1 {
		t.Fatalf("sessions=%d, want 1", h.Sessions())
	}
}

func TestHandlerRejectsUnknownGrammar(t *testing.T) {
	_, srv := newTestServer(t, Options{})
	c, _, err := dial(t, srv, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c.send(codec.CreateSession("", ""))
	c.recv()

	c.send(codec.StartRecognition([]string{"session:missing"}, nil))
	resp := c.recv()
	if resp.Headers.Get(codec.HeaderErrorCode) != ErrorInvalidURI {
		t.Fatalf("error code=%q, want %s", resp.Headers.Get(codec.HeaderErrorCode), ErrorInvalidURI)
	}

	c.send(codec.DefineGrammar("missing", ""))
	if got := c.recv().Headers.Get(codec.HeaderErrorCode); got != ErrorInvalidGrammar {
		t.Fatalf("error code=%q, want %s", got, ErrorInvalidGrammar)
	}
}

func TestHandlerNoInputTimeout(t *testing.T) {
	_, srv := newTestServer(t, Options{})
	c, _, err := dial(t, srv, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c.send(codec.CreateSession("", ""))
	c.recv()

	c.send(codec.StartRecognition([]string{"builtin:x"}, codec.Headers{
		{Key: "noInputTimeout.enabled", Value: "true"},
		{Key: "noInputTimeout.value", Value: "50"},
	}))
	c.recv()
	result := c.recv()
	if got := result.Headers.Get(codec.HeaderResultStatus); got != StatusNoInputTimeout {
		t.Fatalf("result status=%s, want NO_INPUT_TIMEOUT", got)
	}
	if got := result.Headers.Get(codec.HeaderSessionStatus); got != "IDLE" {
		t.Fatalf("session status=%s, want IDLE", got)
	}
}
