package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"
	"time"
)

// DefaultChunkSamples is the chunk length used when a source is built with 0.
const DefaultChunkSamples = 4096

func chunkBytes(samples int) int {
	if samples <= 0 {
		samples = DefaultChunkSamples
	}
	return samples * 2
}

// BytesSource yields an in-memory PCM buffer in fixed-size chunks.
type BytesSource struct {
	pcm   []byte
	chunk int
}

// NewBytesSource splits pcm into chunks of chunkSamples samples.
func NewBytesSource(pcm []byte, chunkSamples int) *BytesSource {
	return &BytesSource{pcm: pcm, chunk: chunkBytes(chunkSamples)}
}

// Next returns the next chunk or io.EOF.
func (s *BytesSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.pcm) == 0 {
		return nil, io.EOF
	}
	n := min(s.chunk, len(s.pcm))
	out := make([]byte, n)
	copy(out, s.pcm[:n])
	s.pcm = s.pcm[n:]
	return out, nil
}

// ReaderSource reads raw PCM from an io.Reader.
type ReaderSource struct {
	r     io.Reader
	chunk int
}

// NewReaderSource reads chunks of chunkSamples samples from r. If r is an
// io.Closer it is closed by Close.
func NewReaderSource(r io.Reader, chunkSamples int) *ReaderSource {
	return &ReaderSource{r: r, chunk: chunkBytes(chunkSamples)}
}

// Next returns the next chunk. A short final read yields a short chunk.
func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, s.chunk)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case n > 0 && (err == nil || errors.Is(err, io.ErrUnexpectedEOF)):
		return buf[:n&^1], nil
	case err == nil, errors.Is(err, io.ErrUnexpectedEOF):
		return nil, io.EOF
	default:
		return nil, err
	}
}

// Close closes the underlying reader when it supports it.
func (s *ReaderSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// LoadPCM reads a wav or raw PCM file and returns mono PCM16 at sampleRate.
// Raw files are assumed to be mono at sampleRate already.
func LoadPCM(path string, sampleRate int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !IsWAV(data) {
		return data[:len(data)&^1], nil
	}

	format, pcm, err := ParseWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if format.Channels > 1 {
		samples := BytesToInt16SliceInto(nil, pcm)
		pcm = Int16SliceToBytesInto(nil, DownmixInt16(samples, format.Channels))
	}
	if sampleRate > 0 && format.SampleRate != sampleRate {
		pcm, err = ResamplePCM(pcm, format.SampleRate, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("resample %s: %w", path, err)
		}
	}
	return pcm, nil
}

// NewFileSource loads a wav or raw file for streaming at sampleRate.
func NewFileSource(path string, sampleRate int, chunkSamples int) (*BytesSource, error) {
	pcm, err := LoadPCM(path, sampleRate)
	if err != nil {
		return nil, err
	}
	return NewBytesSource(pcm, chunkSamples), nil
}

// BufferSource is fed by Write while a recognition is running. Next blocks until
// a full chunk is buffered or Finish was called; after Finish the remainder is
// returned and then io.EOF.
type BufferSource struct {
	notify chan struct{}
	chunk  int

	mu       sync.Mutex
	buf      []byte
	finished bool
}

// NewBufferSource creates an empty buffer yielding chunkSamples samples per chunk.
func NewBufferSource(chunkSamples int) *BufferSource {
	return &BufferSource{
		notify: make(chan struct{}, 1),
		chunk:  chunkBytes(chunkSamples),
	}
}

// Write appends PCM. It fails after Finish.
func (b *BufferSource) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return 0, fmt.Errorf("buffer source: write after finish: %w", io.ErrClosedPipe)
	}
	b.buf = append(b.buf, p...)
	b.signal()
	return len(p), nil
}

// Finish marks the end of the utterance.
func (b *BufferSource) Finish() {
	b.mu.Lock()
	b.finished = true
	b.signal()
	b.mu.Unlock()
}

// Close is Finish; it lets the streaming loop release a writer-less buffer.
func (b *BufferSource) Close() error {
	b.Finish()
	return nil
}

// Next blocks for the next chunk.
func (b *BufferSource) Next(ctx context.Context) ([]byte, error) {
	for {
		b.mu.Lock()
		if len(b.buf) >= b.chunk || (b.finished && len(b.buf) > 0) {
			n := min(b.chunk, len(b.buf))
			out := make([]byte, n)
			copy(out, b.buf[:n])
			b.buf = b.buf[n:]
			b.mu.Unlock()
			return out, nil
		}
		if b.finished {
			b.mu.Unlock()
			return nil, io.EOF
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *BufferSource) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// SeqSource pulls chunks from an iterator.
type SeqSource struct {
	next func() ([]byte, bool)
	stop func()
}

// NewSeqSource adapts seq. Close stops the iterator.
func NewSeqSource(seq iter.Seq[[]byte]) *SeqSource {
	next, stop := iter.Pull(seq)
	return &SeqSource{next: next, stop: stop}
}

// Next returns the next element of the iterator.
func (s *SeqSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chunk, ok := s.next()
	if !ok {
		return nil, io.EOF
	}
	return chunk, nil
}

// Close stops the iterator.
func (s *SeqSource) Close() error {
	s.stop()
	return nil
}

// Source is the pull contract shared by every source in this package.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// PacedSource delays each chunk by its play time, simulating a live capture.
type PacedSource struct {
	src        Source
	sampleRate int
	start      time.Time
	sent       int64
}

// NewPacedSource paces src at sampleRate.
func NewPacedSource(src Source, sampleRate int) *PacedSource {
	return &PacedSource{src: src, sampleRate: sampleRate}
}

// Next waits until the previous chunks would have finished playing.
func (p *PacedSource) Next(ctx context.Context) ([]byte, error) {
	if p.start.IsZero() {
		p.start = time.Now()
	}
	due := p.start.Add(time.Duration(DurationMillis(int(p.sent), p.sampleRate)) * time.Millisecond)
	if wait := time.Until(due); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	chunk, err := p.src.Next(ctx)
	if err != nil {
		return nil, err
	}
	p.sent += int64(len(chunk))
	return chunk, nil
}

// Close closes the wrapped source when it supports it.
func (p *PacedSource) Close() error {
	if c, ok := p.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
