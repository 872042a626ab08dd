package asr

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/asr-sdk-go/internal/session/fsm"
	"github.com/saker-ai/asr-sdk-go/internal/transport/asr/codec"
)

// Recognizer is one recognition session on the server.
type Recognizer struct {
	cfg       Config
	logger    *zap.Logger
	transport *transport

	mu      sync.Mutex
	pending bool
	stream  *audioStream
}

// NewRecognizer validates cfg and, unless ConnectOnRecognize is set, opens the
// session right away.
func NewRecognizer(ctx context.Context, cfg Config) (*Recognizer, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	r := &Recognizer{
		cfg:       cfg,
		logger:    cfg.Logger.With(zap.String("channel_id", cfg.ChannelID)),
		transport: newTransport(cfg),
	}
	if !cfg.ConnectOnRecognize {
		if err := r.transport.connect(ctx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Status returns the current session status, e.g. "IDLE" or "LISTENING".
func (r *Recognizer) Status() string {
	return string(r.transport.machine.Status())
}

// ChannelID returns the Channel-Identifier sent to the server.
func (r *Recognizer) ChannelID() string {
	return r.cfg.ChannelID
}

// Recognize starts a recognition of src against lms and returns once audio
// streaming has been handed to a background goroutine. Results are collected
// with WaitRecognitionResult. Starting a second recognition before the first was
// waited for or cancelled fails with FAILURE.
func (r *Recognizer) Recognize(ctx context.Context, src AudioSource, lms LanguageModelList, opts *RecognitionConfig) error {
	if src == nil {
		return failure("audio source is nil", nil)
	}
	if lms.Len() == 0 {
		return failure("language model list is empty", nil)
	}

	r.mu.Lock()
	if r.pending {
		r.mu.Unlock()
		r.logger.Error("asr last recognition is still pending")
		return failure("last recognition is still pending", nil)
	}
	r.pending = true
	r.mu.Unlock()

	fail := func(msg string, err error) error {
		r.transport.endRecognition()
		r.mu.Lock()
		r.pending = false
		r.mu.Unlock()
		r.logger.Warn("asr recognize failed", zap.String("reason", msg), zap.Error(err))
		return failure(msg, err)
	}

	if !r.transport.connected() {
		if err := r.transport.connect(ctx); err != nil {
			return fail("connect", err)
		}
	}

	snap, err := r.wait(ctx, func(s fsm.Snapshot) bool {
		return s.Status == fsm.StatusIdle || s.Terminated()
	})
	if err != nil {
		return fail("session not ready", err)
	}
	if snap.Status != fsm.StatusIdle {
		return fail("session not ready", errors.New("session status "+string(snap.Status)))
	}

	r.transport.beginRecognition()
	for _, lm := range lms.models {
		if !lm.Inline() {
			continue
		}
		before := r.transport.machine.Snapshot().GrammarAcks
		if err := r.transport.send(codec.DefineGrammar(lm.Alias(), lm.Body())); err != nil {
			return fail("send DEFINE_GRAMMAR", err)
		}
		start := time.Now()
		snap, err := r.wait(ctx, func(s fsm.Snapshot) bool {
			return s.GrammarAcks > before || s.Terminated()
		})
		if err != nil {
			return fail("grammar "+lm.Alias()+" not acknowledged", err)
		}
		if snap.GrammarAcks <= before {
			return fail("grammar "+lm.Alias()+" rejected", errAborted)
		}
		r.logger.Debug("asr grammar defined", zap.String("alias", lm.Alias()), zap.Duration("elapsed", time.Since(start)))
	}

	if err := r.transport.send(codec.StartRecognition(lms.URIs(), opts.headers())); err != nil {
		return fail("send START_RECOGNITION", err)
	}

	stream := startAudioStream(r.transport, src, r.logger)
	r.mu.Lock()
	r.stream = stream
	r.mu.Unlock()
	return nil
}

// WaitRecognitionResult blocks until the pending recognition ends and returns its
// results. Each result is returned once. An aborted session yields an empty list.
// Without a pending recognition it logs a warning and returns an empty list.
// If no final status arrives within MaxWait the recognition is cancelled and a
// FAILURE error is returned.
func (r *Recognizer) WaitRecognitionResult(ctx context.Context) ([]RecognitionResult, error) {
	defer r.autoClose()

	r.mu.Lock()
	pending := r.pending
	r.mu.Unlock()
	if !r.transport.connected() && !pending {
		r.logger.Warn("asr wait recognition with closed recognizer")
		return []RecognitionResult{}, nil
	}
	if !pending {
		r.logger.Warn("asr wait recognition without having one started")
		return []RecognitionResult{}, nil
	}

	start := time.Now()
	snap, err := r.wait(ctx, func(s fsm.Snapshot) bool {
		return s.Status.Terminal() || s.Terminated()
	})
	switch {
	case snap.Terminated():
		r.logger.Warn("asr recognition aborted", zap.String("status", string(snap.Status)))
		r.finishRecognition()
		return []RecognitionResult{}, nil
	case err != nil:
		r.logger.Warn("asr wait recognition timeout", zap.Duration("max_wait", r.cfg.MaxWait), zap.Error(err))
		if cancelErr := r.CancelRecognition(context.Background()); cancelErr != nil {
			r.logger.Warn("asr cancel after timeout failed", zap.Error(cancelErr))
		}
		return nil, failure("wait recognition timeout", err)
	}

	results := r.transport.takeResults()
	r.finishRecognition()
	r.logger.Info("asr recognition finished",
		zap.String("result_code", string(snap.Status)),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}

// CancelRecognition aborts the pending recognition. It fails with FAILURE when
// nothing is pending.
func (r *Recognizer) CancelRecognition(ctx context.Context) error {
	r.mu.Lock()
	pending := r.pending
	r.mu.Unlock()
	if !pending {
		return failure("no recognition is being performed to be cancelled", nil)
	}

	if !r.transport.terminated() {
		before := r.transport.machine.Snapshot().CancelAcks
		if err := r.transport.send(codec.CancelRecognition()); err != nil {
			r.logger.Warn("asr send CANCEL_RECOGNITION failed", zap.Error(err))
		} else if _, err := r.wait(ctx, func(s fsm.Snapshot) bool {
			return s.CancelAcks > before || s.Terminated()
		}); err != nil {
			r.logger.Warn("asr cancel not acknowledged", zap.Error(err))
		}
	}
	r.finishRecognition()
	return nil
}

// StartInputTimers starts the no-input timers of a recognition created with
// decoder.startInputTimers=false.
func (r *Recognizer) StartInputTimers(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.transport.terminated() {
		return errNotConnected
	}
	return r.transport.send(codec.StartInputTimers())
}

// Close cancels any pending recognition and releases the session. Disconnect
// problems are logged and never returned.
func (r *Recognizer) Close() error {
	if err := r.CancelRecognition(context.Background()); err == nil {
		r.logger.Warn("asr cancelled active recognition on close")
	}
	if err := r.transport.release(context.Background()); err != nil {
		r.logger.Warn("asr non-critical error on disconnect", zap.Error(err))
	}
	return nil
}

// finishRecognition joins the streaming goroutine, drops buffered results and
// clears the pending flag.
func (r *Recognizer) finishRecognition() {
	r.mu.Lock()
	stream := r.stream
	r.stream = nil
	r.mu.Unlock()

	if stream != nil {
		stream.stop()
		select {
		case <-stream.done:
		case <-time.After(r.cfg.MaxWait):
			r.logger.Warn("asr audio stream join timeout", zap.Duration("max_wait", r.cfg.MaxWait))
		}
	}
	r.transport.endRecognition()

	r.mu.Lock()
	r.pending = false
	r.mu.Unlock()
}

func (r *Recognizer) autoClose() {
	if r.cfg.AutoClose {
		_ = r.Close()
	}
}

func (r *Recognizer) wait(ctx context.Context, pred func(fsm.Snapshot) bool) (fsm.Snapshot, error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.MaxWait)
	defer cancel()
	return r.transport.machine.Wait(waitCtx, pred)
}
