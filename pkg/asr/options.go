package asr

import (
	"sort"
	"strconv"
	"time"

	"github.com/saker-ai/asr-sdk-go/internal/transport/asr/codec"
)

// Parameter names understood by the server.
const (
	ParamStartInputTimers          = "decoder.startInputTimers"
	ParamNoInputTimeoutValue       = "noInputTimeout.value"
	ParamNoInputTimeoutEnabled     = "noInputTimeout.enabled"
	ParamRecognitionTimeoutValue   = "recognitionTimeout.value"
	ParamRecognitionTimeoutEnabled = "recognitionTimeout.enabled"
	ParamMaxSentences              = "decoder.maxSentences"
	ParamContinuousMode            = "decoder.continuousMode"
	ParamConfidenceThreshold       = "decoder.confidenceThreshold"
	ParamHeadMargin                = "endpointer.headMargin"
	ParamTailMargin                = "endpointer.tailMargin"
	ParamWaitEnd                   = "endpointer.waitEnd"
	ParamInferAge                  = "Infer-age-enabled"
	ParamInferGender               = "Infer-gender-enabled"
	ParamInferEmotion              = "Infer-emotion-enabled"
)

// RecognitionConfig holds recognition parameters. Zero values are not sent, so the
// server defaults apply. Durations are sent in milliseconds.
type RecognitionConfig struct {
	StartInputTimers          *bool
	NoInputTimeout            time.Duration
	NoInputTimeoutEnabled     *bool
	RecognitionTimeout        time.Duration
	RecognitionTimeoutEnabled *bool
	MaxSentences              int
	ContinuousMode            *bool
	ConfidenceThreshold       int
	HeadMargin                time.Duration
	TailMargin                time.Duration
	WaitEnd                   time.Duration
	InferAge                  *bool
	InferGender               *bool
	InferEmotion              *bool

	// Extra is sent verbatim after the typed fields, in key order.
	Extra map[string]string
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}

// Empty reports whether c would send no parameter.
func (c *RecognitionConfig) Empty() bool {
	return len(c.headers()) == 0
}

func (c *RecognitionConfig) headers() codec.Headers {
	if c == nil {
		return nil
	}
	var h codec.Headers
	addBool := func(key string, v *bool) {
		if v != nil {
			h = append(h, codec.Header{Key: key, Value: strconv.FormatBool(*v)})
		}
	}
	addMillis := func(key string, d time.Duration) {
		if d > 0 {
			h = append(h, codec.Header{Key: key, Value: strconv.FormatInt(d.Milliseconds(), 10)})
		}
	}
	addInt := func(key string, v int) {
		if v > 0 {
			h = append(h, codec.Header{Key: key, Value: strconv.Itoa(v)})
		}
	}

	addBool(ParamStartInputTimers, c.StartInputTimers)
	addMillis(ParamNoInputTimeoutValue, c.NoInputTimeout)
	addBool(ParamNoInputTimeoutEnabled, c.NoInputTimeoutEnabled)
	addMillis(ParamRecognitionTimeoutValue, c.RecognitionTimeout)
	addBool(ParamRecognitionTimeoutEnabled, c.RecognitionTimeoutEnabled)
	addInt(ParamMaxSentences, c.MaxSentences)
	addBool(ParamContinuousMode, c.ContinuousMode)
	addInt(ParamConfidenceThreshold, c.ConfidenceThreshold)
	addMillis(ParamHeadMargin, c.HeadMargin)
	addMillis(ParamTailMargin, c.TailMargin)
	addMillis(ParamWaitEnd, c.WaitEnd)
	addBool(ParamInferAge, c.InferAge)
	addBool(ParamInferGender, c.InferGender)
	addBool(ParamInferEmotion, c.InferEmotion)

	keys := make([]string, 0, len(c.Extra))
	for k := range c.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Set(k, c.Extra[k])
	}
	return h
}
