package asr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saker-ai/asr-sdk-go/internal/mockserver"
	"github.com/saker-ai/asr-sdk-go/pkg/audio"
)

const testScript = `
silence_threshold: 300
default:
  text: hello world
  score: 80
replies:
  builtin:grammar/phone:
    text: "5 5 5 1 2 3 4"
    score: 95
  session:menu:
    segments: [first item, second item]
    score: 70
`

type fixture struct {
	t       *testing.T
	handler *mockserver.Handler
	server  *httptest.Server
}

func newFixture(t *testing.T, opts mockserver.Options) *fixture {
	t.Helper()
	if opts.Engine == nil {
		script, err := mockserver.ParseScript([]byte(testScript))
		if err != nil {
			t.Fatalf("ParseScript returned error: %v", err)
		}
		opts.Engine = mockserver.NewScriptEngine(script)
	}
	if opts.SpeechThreshold == 0 {
		opts.SpeechThreshold = 300
	}
	h := mockserver.NewHandler(opts)
	srv := httptest.NewServer(http.HandlerFunc(h.Handle))
	t.Cleanup(srv.Close)
	return &fixture{t: t, handler: h, server: srv}
}

func (f *fixture) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fixture) config() Config {
	return Config{ServerURL: f.url(), MaxWait: 5 * time.Second}
}

func (f *fixture) recognizer(cfg Config) *Recognizer {
	f.t.Helper()
	rec, err := NewRecognizer(context.Background(), cfg)
	if err != nil {
		f.t.Fatalf("NewRecognizer returned error: %v", err)
	}
	f.t.Cleanup(func() { _ = rec.Close() })
	return rec
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func speech(samples int) []byte {
	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = int16((i%64)*250 - 8000)
	}
	return audio.Int16SliceToBytesInto(nil, pcm)
}

func silence(samples int) []byte {
	return make([]byte, samples*2)
}

func general() LanguageModelList {
	return MustLanguageModelList(URI("builtin:slm/general"))
}

// recorder collects listener events from the receive goroutine.
type recorder struct {
	mu       sync.Mutex
	events   []string
	partials []PartialRecognitionResult
	results  []RecognitionResult
	errs     []error
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) listener() Listener {
	return Callbacks{
		OnListening:   func() { r.add("listening") },
		OnSpeechStart: func(int64) { r.add("speech_start") },
		OnSpeechStop:  func(int64) { r.add("speech_stop") },
		OnPartialRecognition: func(p PartialRecognitionResult) {
			r.mu.Lock()
			r.partials = append(r.partials, p)
			r.mu.Unlock()
		},
		OnRecognitionResult: func(res RecognitionResult) {
			r.mu.Lock()
			r.results = append(r.results, res)
			r.events = append(r.events, "result")
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}.Listener()
}

func (r *recorder) snapshot() ([]string, []PartialRecognitionResult, []RecognitionResult, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...),
		append([]PartialRecognitionResult(nil), r.partials...),
		append([]RecognitionResult(nil), r.results...),
		append([]error(nil), r.errs...)
}
