package asr

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/saker-ai/asr-sdk-go/internal/session/fsm"
	"github.com/saker-ai/asr-sdk-go/internal/transport/asr/codec"
)

// AudioSource yields chunks of little-endian 16-bit mono PCM. Next returns io.EOF
// after the last chunk. The returned slice is owned by the caller. Sources that
// also implement io.Closer are closed once streaming ends.
type AudioSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// AudioSourceFunc adapts a function to AudioSource.
type AudioSourceFunc func(ctx context.Context) ([]byte, error)

func (f AudioSourceFunc) Next(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// audioStream is the handle of one running streaming goroutine.
type audioStream struct {
	stop context.CancelFunc
	done chan struct{}
}

func startAudioStream(t *transport, src AudioSource, logger *zap.Logger) *audioStream {
	ctx, stop := context.WithCancel(context.Background())
	s := &audioStream{stop: stop, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		defer stop()
		streamAudio(ctx, t, src, logger)
	}()
	return s
}

// streamAudio waits for LISTENING, then sends every chunk of src. The chunk known
// to be last goes out with LastPacket set. Cancelling ctx is the join request: the
// chunk in hand is sent as the last packet before returning.
func streamAudio(ctx context.Context, t *transport, src AudioSource, logger *zap.Logger) {
	if c, ok := src.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				logger.Warn("asr audio source close failed", zap.Error(err))
			}
		}()
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, t.cfg.MaxWait)
	snap, err := t.machine.Wait(waitCtx, func(s fsm.Snapshot) bool {
		return s.Status == fsm.StatusListening || s.Status.Terminal() || s.Terminated()
	})
	cancelWait()
	if err != nil {
		logger.Warn("asr audio not started", zap.Error(err), zap.String("status", string(snap.Status)))
		return
	}
	if snap.Status != fsm.StatusListening {
		logger.Debug("asr audio skipped", zap.String("status", string(snap.Status)))
		return
	}

	// Leaving LISTENING unblocks a source waiting for more audio.
	srcCtx, cancelSrc := context.WithCancel(ctx)
	defer cancelSrc()
	go func() {
		_, _ = t.machine.Wait(srcCtx, func(s fsm.Snapshot) bool { return s.Status != fsm.StatusListening })
		cancelSrc()
	}()

	out := &chunkSender{t: t, header: t.cfg.streamHeader(), logger: logger}
	p := &peekSource{src: src}
	cur, err := p.Next(srcCtx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			logger.Warn("asr empty audio source")
		} else {
			logger.Warn("asr audio source failed", zap.Error(err))
		}
		out.send(nil, true)
		return
	}

	for {
		if !p.HasNext(srcCtx) {
			break
		}
		if srcCtx.Err() != nil {
			break
		}
		if !out.send(cur, false) {
			return
		}
		cur, _ = p.Next(srcCtx)
	}
	if err := p.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		logger.Warn("asr audio source failed", zap.Error(err))
	}
	out.send(cur, true)
}

// chunkSender writes SEND_AUDIO frames. A pending header goes out in front of
// the first payload.
type chunkSender struct {
	t      *transport
	header []byte
	logger *zap.Logger
}

// send splits payload to the configured frame size. Only the final piece
// carries last. It reports whether the socket accepted every piece.
func (s *chunkSender) send(payload []byte, last bool) bool {
	t, logger := s.t, s.logger
	if s.header != nil {
		payload = append(s.header, payload...)
		s.header = nil
	}
	if t.terminated() {
		logger.Debug("asr audio dropped on terminated session", zap.Bool("last", last))
		return false
	}
	limit := t.cfg.MaxPayloadSize
	contentType := t.cfg.contentType()
	for len(payload) > limit {
		if err := t.send(codec.SendAudio(payload[:limit], false, contentType)); err != nil {
			logger.Warn("asr send audio failed", zap.Error(err))
			return false
		}
		payload = payload[limit:]
	}
	if err := t.send(codec.SendAudio(payload, last, contentType)); err != nil {
		logger.Warn("asr send audio failed", zap.Error(err), zap.Bool("last", last))
		return false
	}
	return true
}

// peekSource reads one chunk ahead so the caller can tell the last chunk apart.
type peekSource struct {
	src    AudioSource
	next   []byte
	err    error
	peeked bool
}

// HasNext fetches the next chunk if needed and reports whether one is available.
func (p *peekSource) HasNext(ctx context.Context) bool {
	if !p.peeked {
		p.next, p.err = p.src.Next(ctx)
		p.peeked = true
	}
	return p.err == nil
}

// Next returns the peeked chunk or reads a new one.
func (p *peekSource) Next(ctx context.Context) ([]byte, error) {
	if !p.HasNext(ctx) {
		return nil, p.err
	}
	p.peeked = false
	chunk := p.next
	p.next = nil
	return chunk, nil
}

// Err returns the error that ended the source.
func (p *peekSource) Err() error {
	return p.err
}
