package mockserver

import (
	"encoding/json"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/asr-sdk-go/internal/transport/asr/codec"
	"github.com/saker-ai/asr-sdk-go/pkg/audio"
)

const (
	statusIdle      = "IDLE"
	statusListening = "LISTENING"

	resultSuccess = "SUCCESS"
	resultFailure = "FAILURE"

	defaultNoInputTimeout = 5 * time.Second
	defaultRecTimeout     = 60 * time.Second
)

// Error codes returned in the Error-Code header.
const (
	ErrorInvalidState   = "INVALID_STATE"
	ErrorInvalidGrammar = "INVALID_GRAMMAR"
	ErrorInvalidURI     = "INVALID_URI"
	ErrorStartRejected  = "START_REJECTED"
)

var allowedSchemes = []string{"builtin:", "file:", "http:", "https:"}

type session struct {
	conn    *websocket.Conn
	sendMu  sync.Mutex
	logger  *zap.Logger
	handler *Handler
	id      string

	mu        sync.Mutex
	status    string
	params    map[string]string
	grammars  map[string]string
	recParams map[string]string
	uris      []string
	audio     []byte
	speech    bool
	epoch     int
	noInput   *time.Timer
	recTimer  *time.Timer
}

func newSession(h *Handler, conn *websocket.Conn) *session {
	id := uuid.NewString()
	return &session{
		conn:     conn,
		logger:   h.logger.With(zap.String("session_id", id)),
		handler:  h,
		id:       id,
		status:   statusIdle,
		params:   make(map[string]string),
		grammars: make(map[string]string),
	}
}

type frameHandler func(codec.Message)

func (s *session) dispatch(msg codec.Message) {
	handlers := map[codec.Command]frameHandler{
		codec.CreateSessionCmd:     s.onCreateSession,
		codec.SetParametersCmd:     s.onSetParameters,
		codec.DefineGrammarCmd:     s.onDefineGrammar,
		codec.StartRecognitionCmd:  s.onStartRecognition,
		codec.StartInputTimersCmd:  s.onStartInputTimers,
		codec.SendAudioCmd:         s.onSendAudio,
		codec.CancelRecognitionCmd: s.onCancelRecognition,
		codec.ReleaseSessionCmd:    s.onReleaseSession,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if handler, ok := handlers[msg.Command]; ok {
		handler(msg)
		return
	}
	s.logger.Debug("asr mock unexpected command", zap.String("command", string(msg.Command)))
}

func (s *session) onCreateSession(msg codec.Message) {
	s.logger.Debug("asr mock create session",
		zap.String("user_agent", msg.Headers.Get(codec.HeaderUserAgent)),
		zap.String("channel_id", msg.Headers.Get(codec.HeaderChannelIdentifier)),
	)
	s.status = statusIdle
	s.respond(codec.CreateSessionCmd, resultSuccess, codec.Headers{{Key: codec.HeaderHandle, Value: s.id}})
}

func (s *session) onSetParameters(msg codec.Message) {
	maps.Copy(s.params, parameters(msg.Headers))
	s.respond(codec.SetParametersCmd, resultSuccess, nil)
}

func (s *session) onDefineGrammar(msg codec.Message) {
	alias := msg.Headers.Get(codec.HeaderContentID)
	if alias == "" || len(msg.Body) == 0 {
		s.reject(codec.DefineGrammarCmd, ErrorInvalidGrammar, "grammar alias and body are required")
		return
	}
	s.grammars[alias] = string(msg.Body)
	s.respond(codec.DefineGrammarCmd, resultSuccess, nil)
}

func (s *session) onStartRecognition(msg codec.Message) {
	if s.status != statusIdle {
		s.reject(codec.StartRecognitionCmd, ErrorInvalidState, "session is "+s.status)
		return
	}
	if s.handler.opts.FailStart {
		s.reject(codec.StartRecognitionCmd, ErrorStartRejected, "recognition rejected")
		return
	}

	var uris []string
	for _, line := range strings.Split(string(msg.Body), "\n") {
		if uri := strings.TrimSpace(line); uri != "" {
			uris = append(uris, uri)
		}
	}
	if len(uris) == 0 {
		s.reject(codec.StartRecognitionCmd, ErrorInvalidURI, "no language model")
		return
	}
	for _, uri := range uris {
		if !s.knownURI(uri) {
			s.reject(codec.StartRecognitionCmd, ErrorInvalidURI, "unknown language model "+uri)
			return
		}
	}

	s.recParams = maps.Clone(s.params)
	maps.Copy(s.recParams, parameters(msg.Headers))
	s.uris = uris
	s.audio = nil
	s.speech = false
	s.epoch++
	s.status = statusListening
	s.respond(codec.StartRecognitionCmd, resultSuccess, nil)

	if s.flag("noInputTimeout.enabled") && s.recParams["decoder.startInputTimers"] != "false" {
		s.armNoInput()
	}
	if s.flag("recognitionTimeout.enabled") {
		epoch := s.epoch
		wait := s.millis("recognitionTimeout.value", defaultRecTimeout)
		s.recTimer = time.AfterFunc(wait, func() { s.timeout(epoch, StatusRecognitionTimeout, false) })
	}
}

func (s *session) onStartInputTimers(codec.Message) {
	if s.status == statusListening && s.noInput == nil && !s.speech && s.flag("noInputTimeout.enabled") {
		s.armNoInput()
	}
	s.respond(codec.StartInputTimersCmd, resultSuccess, nil)
}

func (s *session) onSendAudio(msg codec.Message) {
	if s.status != statusListening {
		s.respond(codec.SendAudioCmd, resultFailure, nil)
		return
	}
	body := msg.Body
	if len(s.audio) == 0 && msg.Headers.Get(codec.HeaderContentType) == codec.ContentTypeWAV && audio.IsWAV(body) {
		_, pcm, err := audio.ParseWAV(body)
		if err != nil {
			s.logger.Warn("asr mock bad wav header", zap.Error(err))
		}
		body = pcm
	}
	s.audio = append(s.audio, body...)
	if !s.speech && !audio.IsSilent(body, s.handler.opts.SpeechThreshold) {
		s.speech = true
		s.stopNoInput()
		s.write(codec.SpeechEvent(codec.StartOfSpeechCmd, statusListening))
	}
	if s.speech && s.handler.opts.PartialResults && len(body) > 0 {
		s.sendPartial()
	}
	if !codec.IsLastPacket(msg) {
		return
	}

	if s.speech {
		s.write(codec.SpeechEvent(codec.EndOfSpeechCmd, statusListening))
	}
	if s.handler.opts.HangOnAudio {
		s.logger.Debug("asr mock holding result")
		return
	}
	s.stopTimers()
	s.sendSegments(s.handler.opts.Engine.Recognize(s.request()))
	s.status = statusIdle
}

func (s *session) onCancelRecognition(codec.Message) {
	s.stopTimers()
	s.epoch++
	s.status = statusIdle
	s.respond(codec.CancelRecognitionCmd, resultSuccess, nil)
}

func (s *session) onReleaseSession(codec.Message) {
	s.stopTimers()
	s.epoch++
	s.status = "DISCONNECTED"
	s.respond(codec.ReleaseSessionCmd, resultSuccess, nil)
}

func (s *session) request() Request {
	return Request{
		URIs:       s.uris,
		Grammars:   maps.Clone(s.grammars),
		Params:     maps.Clone(s.recParams),
		Audio:      s.audio,
		SampleRate: s.handler.opts.SampleRate,
	}
}

func (s *session) sendPartial() {
	segments := s.handler.opts.Engine.Recognize(s.request())
	text := ""
	if len(segments) > 0 && len(segments[0].Alternatives) > 0 {
		text = segments[0].Alternatives[0].Text
	}
	body, _ := json.Marshal(map[string]any{
		"segment_index": 0,
		"last_segment":  false,
		"alternatives":  []Alternative{{Text: text}},
	})
	s.write(codec.RecognitionResult(StatusProcessing, statusListening, body))
}

func (s *session) sendSegments(segments []Segment) {
	if len(segments) == 0 {
		segments = []Segment{{Status: StatusNoMatch}}
	}
	for i, seg := range segments {
		last := i == len(segments)-1
		sessionStatus := statusListening
		if last {
			sessionStatus = statusIdle
		}
		s.write(codec.RecognitionResult(seg.Status, sessionStatus, s.resultBody(i, last, seg)))
	}
}

type resultBody struct {
	SegmentIndex  int            `json:"segment_index"`
	LastSegment   bool           `json:"last_segment"`
	StartTime     float64        `json:"start_time"`
	EndTime       float64        `json:"end_time"`
	Alternatives  []Alternative  `json:"alternatives"`
	AgeScores     map[string]any `json:"age_scores,omitempty"`
	GenderScores  map[string]any `json:"gender_scores,omitempty"`
	EmotionScores map[string]any `json:"emotion_scores,omitempty"`
}

func (s *session) resultBody(index int, last bool, seg Segment) []byte {
	body := resultBody{
		SegmentIndex: index,
		LastSegment:  last,
		StartTime:    seg.StartTime,
		EndTime:      seg.EndTime,
		Alternatives: seg.Alternatives,
	}
	if body.Alternatives == nil {
		body.Alternatives = []Alternative{}
	}
	if seg.Status == StatusRecognized {
		if s.flag("Infer-age-enabled") {
			body.AgeScores = map[string]any{"event": "AGE_RESULT", "age": 32, "confidence": 0.71}
		}
		if s.flag("Infer-gender-enabled") {
			body.GenderScores = map[string]any{"event": "GENDER_RESULT", "gender": "F", "p": map[string]float64{"F": 0.83, "M": 0.17}}
		}
		if s.flag("Infer-emotion-enabled") {
			body.EmotionScores = map[string]any{"event": "EMOTION_RESULT", "emotion": "neutral", "p": map[string]float64{"neutral": 0.9, "angry": 0.1}}
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Warn("asr mock encode result failed", zap.Error(err))
		return []byte(`{"alternatives":[]}`)
	}
	return data
}

func (s *session) armNoInput() {
	epoch := s.epoch
	wait := s.millis("noInputTimeout.value", defaultNoInputTimeout)
	s.noInput = time.AfterFunc(wait, func() { s.timeout(epoch, StatusNoInputTimeout, true) })
}

// timeout ends the recognition started at epoch with status. Timers racing a
// newer recognition or an already detected speech are ignored.
func (s *session) timeout(epoch int, status string, needSilence bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || s.status != statusListening || (needSilence && s.speech) {
		return
	}
	s.logger.Debug("asr mock timeout", zap.String("status", status))
	s.stopTimers()
	s.epoch++
	s.sendSegments([]Segment{{Status: status}})
	s.status = statusIdle
}

func (s *session) stopNoInput() {
	if s.noInput != nil {
		s.noInput.Stop()
		s.noInput = nil
	}
}

func (s *session) stopTimers() {
	s.stopNoInput()
	if s.recTimer != nil {
		s.recTimer.Stop()
		s.recTimer = nil
	}
}

func (s *session) knownURI(uri string) bool {
	if alias, ok := strings.CutPrefix(uri, "session:"); ok {
		_, defined := s.grammars[alias]
		return defined
	}
	for _, scheme := range allowedSchemes {
		if strings.HasPrefix(uri, scheme) && len(uri) > len(scheme) {
			return true
		}
	}
	return false
}

func (s *session) flag(name string) bool {
	v, _ := strconv.ParseBool(s.recParams[name])
	return v
}

func (s *session) millis(name string, fallback time.Duration) time.Duration {
	v, err := strconv.Atoi(s.recParams[name])
	if err != nil || v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Millisecond
}

func (s *session) respond(method codec.Command, result string, extra codec.Headers) {
	s.write(codec.Response(method, result, s.status, extra))
}

func (s *session) reject(method codec.Command, code string, message string) {
	s.logger.Debug("asr mock reject", zap.String("method", string(method)), zap.String("error_code", code))
	s.write(codec.Response(method, resultFailure, s.status, codec.Headers{
		{Key: codec.HeaderErrorCode, Value: code},
		{Key: codec.HeaderMessage, Value: message},
	}))
}

func (s *session) write(frame []byte) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		s.logger.Debug("asr mock write failed", zap.Error(err))
	}
}

// parameters drops the framing headers and keeps recognition parameters.
func parameters(headers codec.Headers) map[string]string {
	out := make(map[string]string)
	for _, h := range headers {
		switch h.Key {
		case codec.HeaderAccept, codec.HeaderContentType, codec.HeaderContentLength:
			continue
		}
		out[h.Key] = h.Value
	}
	return out
}
