package asr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/asr-sdk-go/internal/session/fsm"
	"github.com/saker-ai/asr-sdk-go/internal/transport/asr/codec"
)

const resultSuccess = "SUCCESS"

// transport owns the websocket of one session. Session status and the result
// buffer are only mutated from here.
type transport struct {
	cfg      Config
	logger   *zap.Logger
	listener Listener
	machine  *fsm.Machine

	mu          sync.Mutex
	conn        *websocket.Conn
	done        chan struct{}
	active      bool
	results     []RecognitionResult
	listeningAt time.Time

	writeMu sync.Mutex
}

func newTransport(cfg Config) *transport {
	return &transport{
		cfg:      cfg,
		logger:   cfg.Logger.With(zap.String("channel_id", cfg.ChannelID)),
		listener: cfg.Listener,
		machine:  fsm.New(),
	}
}

func (t *transport) connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// terminated reports whether no request can be served on the current socket.
func (t *transport) terminated() bool {
	return !t.connected() || t.machine.Snapshot().Terminated()
}

func (t *transport) connect(ctx context.Context) error {
	if t.connected() {
		return nil
	}

	headers := http.Header{}
	for k, v := range t.cfg.Header {
		headers[k] = append([]string(nil), v...)
	}
	if t.cfg.Credentials.User != "" || t.cfg.Credentials.Password != "" {
		token := base64.StdEncoding.EncodeToString([]byte(t.cfg.Credentials.User + ":" + t.cfg.Credentials.Password))
		headers.Set("Authorization", "Basic "+token)
	}

	t.logger.Info("asr connecting", zap.String("server_url", t.cfg.ServerURL))
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.cfg.MaxWait,
		TLSClientConfig:  t.cfg.TLSConfig,
	}
	conn, resp, err := dialer.DialContext(ctx, t.cfg.ServerURL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (http status %d)", t.cfg.ServerURL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", t.cfg.ServerURL, err)
	}
	conn.SetPingHandler(func(appData string) error {
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	t.conn = conn
	t.done = done
	t.active = false
	t.results = nil
	t.mu.Unlock()

	t.machine.Open()
	go t.readLoop(conn, done)

	if err := t.send(codec.CreateSession(t.cfg.UserAgent, t.cfg.ChannelID)); err != nil {
		t.shutdown()
		return fmt.Errorf("send CREATE_SESSION: %w", err)
	}
	t.logger.Info("asr connected", zap.String("server_url", t.cfg.ServerURL))
	return nil
}

func (t *transport) send(frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return err
	}
	if ce := t.logger.Check(zap.DebugLevel, "asr send"); ce != nil {
		ce.Write(zap.ByteString("head", frameHead(frame)), zap.Int("bytes", len(frame)))
	}
	return nil
}

// release asks the server to end the session, then closes the socket whether or
// not the server answered.
func (t *transport) release(ctx context.Context) error {
	if !t.connected() {
		return nil
	}
	var sendErr error
	if !t.machine.Snapshot().Terminated() {
		sendErr = t.send(codec.ReleaseSession())
		if sendErr == nil {
			waitCtx, cancel := context.WithTimeout(ctx, t.cfg.MaxWait)
			_, err := t.machine.Wait(waitCtx, func(s fsm.Snapshot) bool { return s.Closed })
			cancel()
			if err != nil {
				t.logger.Warn("asr release not acknowledged", zap.Error(err))
			}
		}
	}
	t.shutdown()
	return sendErr
}

// shutdown closes the socket and waits for the read loop to exit.
func (t *transport) shutdown() {
	t.mu.Lock()
	conn, done := t.conn, t.done
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		_ = conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(t.cfg.MaxWait):
			t.logger.Warn("asr read loop did not stop")
		}
	}
	t.machine.Close()
}

func (t *transport) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleClosed(conn, err)
			return
		}
		msg, err := codec.Decode(data)
		if err != nil {
			t.abort(&ProtocolError{Message: err.Error()})
			continue
		}
		if ce := t.logger.Check(zap.DebugLevel, "asr recv"); ce != nil {
			ce.Write(zap.String("command", string(msg.Command)), zap.Int("bytes", len(data)))
		}
		t.dispatch(conn, msg)
	}
}

func (t *transport) handleClosed(conn *websocket.Conn, err error) {
	t.mu.Lock()
	expected := t.conn != conn
	if !expected {
		t.conn = nil
	}
	t.mu.Unlock()
	_ = conn.Close()

	snap := t.machine.Snapshot()
	t.machine.Close()
	if expected || snap.Closed || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.logger.Debug("asr connection closed", zap.Error(err))
		return
	}
	t.logger.Warn("asr connection lost", zap.Error(err))
	t.listener.OnError(fmt.Errorf("asr connection lost: %w", err))
}

func (t *transport) dispatch(conn *websocket.Conn, msg codec.Message) {
	switch msg.Command {
	case codec.ResponseCmd:
		t.handleResponse(conn, msg)
	case codec.StartOfSpeechCmd:
		t.listener.OnSpeechStart(t.sinceListening())
	case codec.EndOfSpeechCmd:
		t.listener.OnSpeechStop(t.sinceListening())
	case codec.RecognitionResultCmd:
		t.handleResult(msg)
	default:
		t.logger.Warn("asr unexpected command", zap.String("command", string(msg.Command)))
	}
}

func (t *transport) handleResponse(conn *websocket.Conn, msg codec.Message) {
	method := msg.Headers.Get(codec.HeaderMethod)
	result := msg.Headers.Get(codec.HeaderResult)
	status, ok := msg.Headers.Lookup(codec.HeaderSessionStatus)
	if !ok {
		status = result
	}
	errorCode := msg.Headers.Get(codec.HeaderErrorCode)
	protoErr := func() *ProtocolError {
		return &ProtocolError{
			Method:    method,
			Result:    result,
			Status:    status,
			ErrorCode: errorCode,
			Message:   msg.Headers.Get(codec.HeaderMessage),
		}
	}

	switch codec.Command(method) {
	case codec.ReleaseSessionCmd:
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		t.machine.Close()
		_ = conn.Close()
		return
	case codec.DefineGrammarCmd:
		if result == resultSuccess && errorCode == "" {
			t.machine.AckGrammar()
			return
		}
		t.abort(protoErr())
		return
	case codec.StartRecognitionCmd:
		if result == resultSuccess && errorCode == "" {
			t.mu.Lock()
			t.listeningAt = time.Now()
			t.mu.Unlock()
			t.machine.Transition(fsm.StatusListening)
			t.listener.OnListening()
			return
		}
		t.abort(protoErr())
		return
	}

	snap := t.machine.Snapshot()
	if snap.Status == fsm.StatusDisconnected && !snap.Closed {
		if errorCode != "" || status != string(fsm.StatusIdle) {
			t.abort(protoErr())
			return
		}
		t.logger.Info("asr session created", zap.String("handle", msg.Headers.Get(codec.HeaderHandle)))
		if params := t.cfg.SessionParameters.headers(); len(params) > 0 {
			t.machine.Transition(fsm.StatusWaitingConfig)
			if err := t.send(codec.SetParameters(params)); err != nil {
				t.logger.Warn("asr send SET_PARAMETERS failed", zap.Error(err))
				t.abort(&ProtocolError{Method: string(codec.SetParametersCmd), Message: err.Error()})
			}
			return
		}
		t.machine.Transition(fsm.StatusIdle)
		return
	}

	if errorCode != "" {
		t.abort(protoErr())
		return
	}
	if snap.Status == fsm.StatusWaitingConfig {
		t.machine.Transition(fsm.StatusIdle)
		return
	}
	if codec.Command(method) == codec.CancelRecognitionCmd {
		t.machine.AckCancel()
		return
	}
	t.logger.Debug("asr ignored response", zap.String("method", method), zap.String("result", result))
}

func (t *transport) handleResult(msg codec.Message) {
	status := msg.Headers.Get(codec.HeaderResultStatus)
	if ResultCode(status) == ResultProcessing {
		partial, err := parsePartialResult(msg.Body)
		if err != nil {
			t.logger.Warn("asr bad partial result", zap.Error(err))
			return
		}
		t.listener.OnPartialRecognition(partial)
		return
	}

	res, warnings, err := parseRecognitionResult(ResultCode(status), msg.Body)
	if err != nil {
		t.abort(&ProtocolError{Method: string(codec.RecognitionResultCmd), Status: status, Message: err.Error()})
		return
	}
	for _, w := range warnings {
		t.logger.Warn("asr result field dropped", zap.Error(w))
	}

	t.mu.Lock()
	active := t.active
	if active {
		t.results = append(t.results, res)
	}
	t.mu.Unlock()
	if !active {
		t.logger.Debug("asr result without recognition dropped", zap.String("result_status", status))
		return
	}

	t.listener.OnRecognitionResult(res)
	if !res.LastSegment {
		return
	}
	next, ok := fsm.ParseStatus(status)
	if !ok || !next.Terminal() {
		t.logger.Warn("asr unknown result status", zap.String("result_status", status))
		next = fsm.StatusFailure
	}
	t.machine.Transition(next)
}

func (t *transport) abort(err *ProtocolError) {
	t.logger.Warn("asr session aborted", zap.Error(err))
	t.machine.Abort()
	t.listener.OnError(err)
}

func (t *transport) sinceListening() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listeningAt.IsZero() {
		return 0
	}
	return time.Since(t.listeningAt).Milliseconds()
}

// beginRecognition clears leftovers and starts accepting results.
func (t *transport) beginRecognition() {
	t.mu.Lock()
	t.active = true
	t.results = nil
	t.listeningAt = time.Time{}
	t.mu.Unlock()
}

// takeResults hands the buffered results over, leaving the buffer empty.
func (t *transport) takeResults() []RecognitionResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.results
	t.results = nil
	if out == nil {
		out = []RecognitionResult{}
	}
	return out
}

// endRecognition stops accepting results and drops what is buffered. A session
// holding a final status goes back to IDLE.
func (t *transport) endRecognition() {
	t.mu.Lock()
	t.active = false
	t.results = nil
	t.mu.Unlock()
	if t.machine.Status().Terminal() {
		t.machine.Transition(fsm.StatusIdle)
	}
}

func frameHead(frame []byte) []byte {
	for i := 0; i+1 < len(frame); i++ {
		if frame[i] == '\n' && frame[i+1] == '\n' {
			return frame[:i]
		}
	}
	if len(frame) > 256 {
		return frame[:256]
	}
	return frame
}

var errAborted = errors.New("asr session aborted")
