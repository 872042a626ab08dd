package audio

// Resampler converts a stream of mono PCM16 bytes between sample rates,
// keeping filter state across calls.
type Resampler struct {
	engine *soxrEngine
}

// NewResampler creates a streaming resampler from inRate to outRate.
func NewResampler(inRate, outRate int) (*Resampler, error) {
	engine, err := acquireSoxr(inRate, outRate)
	if err != nil {
		return nil, err
	}
	return &Resampler{engine: engine}, nil
}

// Process resamples one chunk of PCM16 bytes. The output may be shorter than
// expected until Flush is called.
func (r *Resampler) Process(pcm []byte) ([]byte, error) {
	if len(pcm) < 2 {
		return nil, nil
	}
	samples := AcquireInt16(len(pcm) / 2)
	samples = BytesToInt16SliceInto(samples, pcm)
	in := AcquireFloat32(len(samples))
	in = Int16SliceToFloat32Into(in, samples)
	ReleaseInt16(samples)

	out, err := r.engine.process(in)
	ReleaseFloat32(in)
	if err != nil {
		return nil, err
	}
	return floatToPCM(out), nil
}

// Flush drains the samples held by the filter.
func (r *Resampler) Flush() ([]byte, error) {
	out, err := r.engine.flush()
	if err != nil {
		return nil, err
	}
	return floatToPCM(out), nil
}

// Close returns the engine to its pool.
func (r *Resampler) Close() {
	if r == nil {
		return
	}
	r.engine.release()
}

// ResamplePCM converts a whole mono PCM16 buffer. Equal rates return pcm as is.
func ResamplePCM(pcm []byte, inRate, outRate int) ([]byte, error) {
	if inRate == outRate {
		return pcm, nil
	}
	r, err := NewResampler(inRate, outRate)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := r.Process(pcm)
	if err != nil {
		return nil, err
	}
	tail, err := r.Flush()
	if err != nil {
		return nil, err
	}
	return append(out, tail...), nil
}

func floatToPCM(samples []float32) []byte {
	if len(samples) == 0 {
		return nil
	}
	tmp := AcquireInt16(len(samples))
	tmp = Float32SliceToInt16SliceInto(tmp, samples)
	out := Int16SliceToBytesInto(nil, tmp)
	ReleaseInt16(tmp)
	return out
}
