package mockserver

import (
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/asr-sdk-go/internal/transport/asr/codec"
)

// Credentials enables HTTP basic auth on the upgrade request.
type Credentials struct {
	User     string
	Password string
}

// Options configures a Handler.
type Options struct {
	Engine      Engine
	Logger      *zap.Logger
	Credentials *Credentials
	// SampleRate is used for segment timing.
	SampleRate int
	// SpeechThreshold is the peak sample above which a chunk counts as speech.
	SpeechThreshold int
	// PartialResults sends a PROCESSING result after every chunk with speech.
	PartialResults bool
	// HangOnAudio never answers the last audio packet.
	HangOnAudio bool
	// FailStart rejects every START_RECOGNITION.
	FailStart bool
}

// Frame is one decoded client frame as received by the server.
type Frame struct {
	Session string
	Message codec.Message
}

// Handler serves the ASR protocol over websocket.
type Handler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	opts     Options

	mu       sync.Mutex
	sessions map[string]*session
	frames   []Frame
}

// NewHandler builds a handler. A nil engine answers NO_MATCH to everything.
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Engine == nil {
		opts.Engine = NewScriptEngine(Script{})
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 8000
	}
	return &Handler{
		logger:   opts.Logger,
		opts:     opts,
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle upgrades the request and serves one session until the client leaves.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.Warn("asr mock unauthorized", zap.String("remote", r.RemoteAddr))
		w.Header().Set("WWW-Authenticate", `Basic realm="asr"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sess := newSession(h, conn)
	h.registerSession(sess)
	defer h.unregisterSession(sess)
	defer sess.stopTimers()

	sess.logger.Info("asr session opened", zap.String("remote", r.RemoteAddr))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			sess.logger.Debug("ws connection closed", zap.Error(err))
			break
		}
		msg, err := codec.Decode(data)
		if err != nil {
			sess.logger.Warn("asr mock bad frame", zap.Error(err))
			continue
		}
		h.record(sess.id, msg)
		sess.dispatch(msg)
	}
	sess.logger.Info("asr session closed")
}

// Frames returns a copy of every frame received so far.
func (h *Handler) Frames() []Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.frames)
}

// FramesOf returns the received frames carrying cmd.
func (h *Handler) FramesOf(cmd codec.Command) []codec.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []codec.Message
	for _, f := range h.frames {
		if f.Message.Command == cmd {
			out = append(out, f.Message)
		}
	}
	return out
}

// Sessions returns the number of open sessions.
func (h *Handler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.opts.Credentials == nil {
		return true
	}
	user, password, ok := r.BasicAuth()
	return ok && user == h.opts.Credentials.User && password == h.opts.Credentials.Password
}

func (h *Handler) record(sessionID string, msg codec.Message) {
	h.mu.Lock()
	h.frames = append(h.frames, Frame{Session: sessionID, Message: msg})
	h.mu.Unlock()
}

func (h *Handler) registerSession(s *session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
}

func (h *Handler) unregisterSession(s *session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
}
