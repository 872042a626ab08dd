package audio

import (
	"errors"
	"sync"

	resampler "github.com/godeps/go-audio-soxr"
)

type soxrKey struct {
	inRate  int
	outRate int
	quality resampler.QualityPreset
}

// soxrEngine wraps one pooled soxr instance.
type soxrEngine struct {
	key soxrKey
	r   *resampler.SimpleResamplerFloat32
}

var soxrPools sync.Map

func soxrPool(key soxrKey) *sync.Pool {
	if pool, ok := soxrPools.Load(key); ok {
		return pool.(*sync.Pool)
	}
	actual, _ := soxrPools.LoadOrStore(key, &sync.Pool{})
	return actual.(*sync.Pool)
}

func acquireSoxr(inRate, outRate int) (*soxrEngine, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, errors.New("soxr: sample rates must be positive")
	}
	key := soxrKey{inRate: inRate, outRate: outRate, quality: resampler.QualityHigh}
	if v := soxrPool(key).Get(); v != nil {
		if r, ok := v.(*resampler.SimpleResamplerFloat32); ok && r != nil {
			return &soxrEngine{key: key, r: r}, nil
		}
	}
	r, err := resampler.NewEngineFloat32(float64(inRate), float64(outRate), key.quality)
	if err != nil {
		return nil, err
	}
	return &soxrEngine{key: key, r: r}, nil
}

func (e *soxrEngine) process(input []float32) ([]float32, error) {
	if e == nil || e.r == nil {
		return nil, errors.New("soxr: engine released")
	}
	return e.r.Process(input)
}

func (e *soxrEngine) flush() ([]float32, error) {
	if e == nil || e.r == nil {
		return nil, errors.New("soxr: engine released")
	}
	return e.r.Flush()
}

func (e *soxrEngine) release() {
	if e == nil || e.r == nil {
		return
	}
	e.r.Reset()
	soxrPool(e.key).Put(e.r)
	e.r = nil
}
