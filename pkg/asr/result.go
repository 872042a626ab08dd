package asr

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ResultCode is the final status of a recognition segment.
type ResultCode string

const (
	ResultRecognized         ResultCode = "RECOGNIZED"
	ResultNoMatch            ResultCode = "NO_MATCH"
	ResultNoSpeech           ResultCode = "NO_SPEECH"
	ResultNoInputTimeout     ResultCode = "NO_INPUT_TIMEOUT"
	ResultRecognitionTimeout ResultCode = "RECOGNITION_TIMEOUT"
	ResultMaxSpeech          ResultCode = "MAX_SPEECH"
	ResultEarlySpeech        ResultCode = "EARLY_SPEECH"
	ResultFailure            ResultCode = "FAILURE"
	ResultCanceled           ResultCode = "CANCELED"

	// ResultProcessing marks a partial result. It never ends a recognition.
	ResultProcessing ResultCode = "PROCESSING"
)

// Score is a confidence value. Servers send it either as a number or a numeric string.
type Score float64

func (s *Score) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*s = 0
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
		if raw == "" {
			*s = 0
			return nil
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid score %s: %w", data, err)
	}
	*s = Score(v)
	return nil
}

// Word is one word of an alternative with its timing in seconds.
type Word struct {
	Text      string  `json:"text"`
	Score     Score   `json:"score"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// Alternative is one recognition hypothesis. Raw keeps the server payload so
// fields this package does not model are still reachable.
type Alternative struct {
	Text                 string            `json:"text"`
	Score                Score             `json:"score"`
	LanguageModel        string            `json:"lm,omitempty"`
	Interpretations      []json.RawMessage `json:"interpretations,omitempty"`
	InterpretationScores []Score           `json:"interpretation_scores,omitempty"`
	Words                []Word            `json:"words,omitempty"`
	Raw                  json.RawMessage   `json:"-"`
}

func (a *Alternative) UnmarshalJSON(data []byte) error {
	type plain Alternative
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Alternative(p)
	a.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// AgeScores is the age inference attached to a result.
type AgeScores struct {
	Event      string          `json:"event"`
	Age        float64         `json:"age"`
	Confidence float64         `json:"confidence"`
	P          json.RawMessage `json:"p,omitempty"`
	Age50      json.RawMessage `json:"age_50,omitempty"`
	Age80      json.RawMessage `json:"age_80,omitempty"`
	Age99      json.RawMessage `json:"age_99,omitempty"`
}

// GenderScores is the gender inference attached to a result.
type GenderScores struct {
	Event  string          `json:"event"`
	Gender string          `json:"gender"`
	P      json.RawMessage `json:"p,omitempty"`
}

// EmotionScores is the emotion inference attached to a result.
type EmotionScores struct {
	Event   string          `json:"event"`
	Emotion string          `json:"emotion"`
	P       json.RawMessage `json:"p,omitempty"`
	PGroups json.RawMessage `json:"p_groups,omitempty"`
}

// RecognitionResult is the outcome of one speech segment.
type RecognitionResult struct {
	ResultCode      ResultCode
	SegmentIndex    int
	LastSegment     bool
	StartTimeMillis int64
	EndTimeMillis   int64
	Alternatives    []Alternative
	Age             *AgeScores
	Gender          *GenderScores
	Emotion         *EmotionScores
}

// PartialRecognitionResult is an intermediate hypothesis. It is only delivered
// to the Listener.
type PartialRecognitionResult struct {
	SegmentIndex int
	Text         string
}

type resultBody struct {
	Alternatives  []Alternative   `json:"alternatives"`
	SegmentIndex  int             `json:"segment_index"`
	LastSegment   *bool           `json:"last_segment"`
	StartTime     float64         `json:"start_time"`
	EndTime       float64         `json:"end_time"`
	AgeScores     json.RawMessage `json:"age_scores"`
	GenderScores  json.RawMessage `json:"gender_scores"`
	EmotionScores json.RawMessage `json:"emotion_scores"`
}

// parseRecognitionResult builds a result from a RECOGNITION_RESULT body. A missing
// last_segment counts as true. Inference scores that fail to decode are dropped
// and returned as warnings.
func parseRecognitionResult(code ResultCode, body []byte) (RecognitionResult, []error, error) {
	var wire resultBody
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &wire); err != nil {
			return RecognitionResult{}, nil, fmt.Errorf("decode recognition result: %w", err)
		}
	}

	res := RecognitionResult{
		ResultCode:      code,
		SegmentIndex:    wire.SegmentIndex,
		LastSegment:     wire.LastSegment == nil || *wire.LastSegment,
		StartTimeMillis: secondsToMillis(wire.StartTime),
		EndTimeMillis:   secondsToMillis(wire.EndTime),
		Alternatives:    wire.Alternatives,
	}
	if res.Alternatives == nil {
		res.Alternatives = []Alternative{}
	}

	var warnings []error
	if len(wire.AgeScores) > 0 && string(wire.AgeScores) != "null" {
		res.Age = &AgeScores{}
		if err := json.Unmarshal(wire.AgeScores, res.Age); err != nil {
			res.Age = nil
			warnings = append(warnings, fmt.Errorf("decode age_scores: %w", err))
		}
	}
	if len(wire.GenderScores) > 0 && string(wire.GenderScores) != "null" {
		res.Gender = &GenderScores{}
		if err := json.Unmarshal(wire.GenderScores, res.Gender); err != nil {
			res.Gender = nil
			warnings = append(warnings, fmt.Errorf("decode gender_scores: %w", err))
		}
	}
	if len(wire.EmotionScores) > 0 && string(wire.EmotionScores) != "null" {
		res.Emotion = &EmotionScores{}
		if err := json.Unmarshal(wire.EmotionScores, res.Emotion); err != nil {
			res.Emotion = nil
			warnings = append(warnings, fmt.Errorf("decode emotion_scores: %w", err))
		}
	}
	return res, warnings, nil
}

func parsePartialResult(body []byte) (PartialRecognitionResult, error) {
	var wire resultBody
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &wire); err != nil {
			return PartialRecognitionResult{}, fmt.Errorf("decode partial result: %w", err)
		}
	}
	partial := PartialRecognitionResult{SegmentIndex: wire.SegmentIndex}
	if len(wire.Alternatives) > 0 {
		partial.Text = strings.TrimSpace(wire.Alternatives[0].Text)
	}
	return partial, nil
}

func secondsToMillis(v float64) int64 {
	return int64(math.Round(v * 1000))
}
