package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/saker-ai/asr-sdk-go/pkg/asr"
)

// fileResult is the JSON shape of one recognized file.
type fileResult struct {
	File    string                  `json:"file"`
	Results []asr.RecognitionResult `json:"results"`
	Error   string                  `json:"error,omitempty"`
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResults(w io.Writer, res fileResult) {
	if res.Error != "" {
		fmt.Fprintf(w, "%s: error: %s\n", res.File, res.Error)
		return
	}
	if len(res.Results) == 0 {
		fmt.Fprintf(w, "%s: empty result\n", res.File)
		return
	}
	for _, r := range res.Results {
		fmt.Fprintf(w, "%s: segment %d %s [%d-%d ms]\n",
			res.File, r.SegmentIndex, r.ResultCode, r.StartTimeMillis, r.EndTimeMillis)
		for i, alt := range r.Alternatives {
			fmt.Fprintf(w, "  %d. %q score=%g", i+1, alt.Text, float64(alt.Score))
			if alt.LanguageModel != "" {
				fmt.Fprintf(w, " lm=%s", alt.LanguageModel)
			}
			fmt.Fprintln(w)
		}
		if r.Age != nil {
			fmt.Fprintf(w, "  age=%g confidence=%g\n", r.Age.Age, r.Age.Confidence)
		}
		if r.Gender != nil {
			fmt.Fprintf(w, "  gender=%s\n", r.Gender.Gender)
		}
		if r.Emotion != nil {
			fmt.Fprintf(w, "  emotion=%s\n", r.Emotion.Emotion)
		}
	}
}

// eventListener prints listener callbacks to w.
func eventListener(w io.Writer) asr.Listener {
	return asr.Callbacks{
		OnListening:   func() { fmt.Fprintln(w, "> listening") },
		OnSpeechStart: func(ms int64) { fmt.Fprintf(w, "> speech start at %d ms\n", ms) },
		OnSpeechStop:  func(ms int64) { fmt.Fprintf(w, "> speech stop at %d ms\n", ms) },
		OnPartialRecognition: func(p asr.PartialRecognitionResult) {
			fmt.Fprintf(w, "> partial [%d] %s\n", p.SegmentIndex, p.Text)
		},
		OnError: func(err error) { fmt.Fprintf(w, "> error: %v\n", err) },
	}.Listener()
}
