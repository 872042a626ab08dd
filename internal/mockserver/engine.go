package mockserver

import (
	"fmt"
	"hash/crc32"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/saker-ai/asr-sdk-go/pkg/audio"
)

// Result status values written to RECOGNITION_RESULT frames.
const (
	StatusRecognized         = "RECOGNIZED"
	StatusNoMatch            = "NO_MATCH"
	StatusNoInputTimeout     = "NO_INPUT_TIMEOUT"
	StatusRecognitionTimeout = "RECOGNITION_TIMEOUT"
	StatusProcessing         = "PROCESSING"
)

// Request is one finished utterance handed to an Engine.
type Request struct {
	URIs       []string
	Grammars   map[string]string
	Params     map[string]string
	Audio      []byte
	SampleRate int
}

// Alternative is one hypothesis of a segment.
type Alternative struct {
	Text                 string    `json:"text" yaml:"text"`
	Score                float64   `json:"score" yaml:"score"`
	LanguageModel        string    `json:"lm,omitempty" yaml:"lm"`
	Interpretations      []any     `json:"interpretations,omitempty" yaml:"interpretations"`
	InterpretationScores []float64 `json:"interpretation_scores,omitempty" yaml:"interpretation_scores"`
}

// Segment becomes one RECOGNITION_RESULT frame. Times are in seconds.
type Segment struct {
	Status       string
	Alternatives []Alternative
	StartTime    float64
	EndTime      float64
}

// Engine turns audio into segments. An empty answer is sent as NO_MATCH.
type Engine interface {
	Recognize(req Request) []Segment
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(req Request) []Segment

func (f EngineFunc) Recognize(req Request) []Segment {
	return f(req)
}

// Reply is the scripted answer for one language model.
type Reply struct {
	Status   string   `yaml:"status"`
	Text     string   `yaml:"text"`
	Score    float64  `yaml:"score"`
	Segments []string `yaml:"segments"`
}

// Script drives a ScriptEngine. Replies are keyed by language model URI,
// including session:<alias> for inline grammars.
type Script struct {
	SilenceThreshold int              `yaml:"silence_threshold"`
	Default          *Reply           `yaml:"default"`
	Replies          map[string]Reply `yaml:"replies"`
}

// ParseScript decodes a YAML script.
func ParseScript(data []byte) (Script, error) {
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return Script{}, fmt.Errorf("parse mock script: %w", err)
	}
	return script, nil
}

// LoadScript reads a YAML script from path.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, err
	}
	return ParseScript(data)
}

// ScriptEngine answers with canned text per language model. Silent audio
// yields NO_MATCH without alternatives. Each alternative carries an
// interpretation fingerprinting the audio it was computed from.
type ScriptEngine struct {
	script Script
}

// NewScriptEngine builds an engine from script.
func NewScriptEngine(script Script) *ScriptEngine {
	return &ScriptEngine{script: script}
}

// Recognize implements Engine.
func (e *ScriptEngine) Recognize(req Request) []Segment {
	end := float64(audio.DurationMillis(len(req.Audio), req.SampleRate)) / 1000
	if audio.IsSilent(req.Audio, e.script.SilenceThreshold) {
		return []Segment{{Status: StatusNoMatch, EndTime: end}}
	}

	reply, uri, ok := e.lookup(req.URIs)
	if !ok {
		return []Segment{{Status: StatusNoMatch, EndTime: end}}
	}
	status := reply.Status
	if status == "" {
		status = StatusRecognized
	}
	texts := reply.Segments
	if len(texts) == 0 {
		texts = []string{reply.Text}
	}

	fingerprint := map[string]any{
		"samples": len(req.Audio) / 2,
		"crc32":   crc32.ChecksumIEEE(req.Audio),
	}
	step := end / float64(len(texts))
	segments := make([]Segment, 0, len(texts))
	for i, text := range texts {
		seg := Segment{
			Status:    status,
			StartTime: step * float64(i),
			EndTime:   step * float64(i+1),
		}
		if status == StatusRecognized {
			seg.Alternatives = []Alternative{{
				Text:                 text,
				Score:                reply.Score,
				LanguageModel:        uri,
				Interpretations:      []any{fingerprint},
				InterpretationScores: []float64{reply.Score},
			}}
		}
		segments = append(segments, seg)
	}
	return segments
}

func (e *ScriptEngine) lookup(uris []string) (Reply, string, bool) {
	for _, uri := range uris {
		if reply, ok := e.script.Replies[uri]; ok {
			return reply, uri, true
		}
	}
	if e.script.Default != nil {
		uri := ""
		if len(uris) > 0 {
			uri = uris[0]
		}
		return *e.script.Default, uri, true
	}
	return Reply{}, "", false
}
