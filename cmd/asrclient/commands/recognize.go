package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	applogger "github.com/saker-ai/asr-sdk-go/internal/logger"
	"github.com/saker-ai/asr-sdk-go/internal/storage"
	"github.com/saker-ai/asr-sdk-go/pkg/asr"
	"github.com/saker-ai/asr-sdk-go/pkg/audio"
)

type recognizeOptions struct {
	realtime bool
	params   []string
}

func newRecognizeCommand(global *globalOptions) *cobra.Command {
	opts := &recognizeOptions{}
	cmd := &cobra.Command{
		Use:   "recognize <audio-file>...",
		Short: "Recognize wav or raw PCM files",
		Long: `Recognize one or more audio files on a single session.

WAV files are downmixed and resampled to the configured sample rate. Raw files
must already be 16-bit mono PCM at that rate.

Examples:
  asrclient recognize --lm builtin:slm/general audio/hello.wav
  asrclient recognize --realtime --param decoder.maxSentences=3 audio/long.raw`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecognize(cmd, global, opts, args)
		},
	}
	cmd.Flags().BoolVar(&opts.realtime, "realtime", false, "stream audio at playback speed")
	cmd.Flags().StringArrayVar(&opts.params, "param", nil, "extra recognition parameter key=value, repeatable")
	return cmd
}

func runRecognize(cmd *cobra.Command, global *globalOptions, opts *recognizeOptions, files []string) error {
	cfg, logger, err := global.load(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	lms, err := global.languageModels(cfg.Client)
	if err != nil {
		return err
	}
	params, err := recognitionParams(cfg.Client.Recognition.Options(), opts.params)
	if err != nil {
		return err
	}

	var listener asr.Listener
	if global.verbose {
		listener = eventListener(cmd.ErrOrStderr())
	}
	ctx := cmd.Context()
	rec, err := asr.NewRecognizer(ctx, cfg.Client.SDKConfig(logger, listener))
	if err != nil {
		return err
	}
	defer rec.Close()

	history := newTranscriptWriter(cfg.Client.HistoryDir, cfg.Client.ServerURL, rec.ChannelID(), logger)

	out := make([]fileResult, 0, len(files))
	failed := 0
	for _, file := range files {
		res := fileResult{File: file}
		began := time.Now()
		res.Results, err = recognizeFile(cmd, rec, file, cfg.Client.SampleRate, cfg.Client.ChunkSamples, opts.realtime, lms, params)
		if err != nil {
			failed++
			res.Error = err.Error()
			logger.Warn("recognition failed", zap.String("file", file), zap.Error(err))
		} else {
			logger.Debug("recognition finished", zap.String("file", file),
				zap.Int("segments", len(res.Results)), applogger.Since("elapsed_ms", began))
		}
		history.add(res)
		if global.jsonOutput {
			out = append(out, res)
		} else {
			printResults(cmd.OutOrStdout(), res)
		}
	}
	if global.jsonOutput {
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d recognitions failed", failed, len(files))
	}
	return nil
}

func recognizeFile(cmd *cobra.Command, rec *asr.Recognizer, file string, sampleRate, chunkSamples int, realtime bool, lms asr.LanguageModelList, params *asr.RecognitionConfig) ([]asr.RecognitionResult, error) {
	src, err := audio.NewFileSource(file, sampleRate, chunkSamples)
	if err != nil {
		return nil, err
	}
	var source asr.AudioSource = src
	if realtime {
		source = audio.NewPacedSource(src, sampleRate)
	}

	ctx := cmd.Context()
	if err := rec.Recognize(ctx, source, lms, params); err != nil {
		return nil, err
	}
	return rec.WaitRecognitionResult(ctx)
}

// recognitionParams adds key=value pairs to the configured parameters.
func recognitionParams(base *asr.RecognitionConfig, pairs []string) (*asr.RecognitionConfig, error) {
	if len(pairs) == 0 {
		return base, nil
	}
	params := &asr.RecognitionConfig{}
	if base != nil {
		*params = *base
	}
	extra := make(map[string]string, len(params.Extra)+len(pairs))
	for k, v := range params.Extra {
		extra[k] = v
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", pair)
		}
		extra[key] = strings.TrimSpace(value)
	}
	params.Extra = extra
	return params, nil
}

// transcriptWriter saves recognize runs. Save errors are logged only.
type transcriptWriter struct {
	baseDir string
	group   string
	uid     string
	logger  *zap.Logger
}

func newTranscriptWriter(baseDir, serverURL, channel string, logger *zap.Logger) *transcriptWriter {
	w := &transcriptWriter{baseDir: baseDir, group: storage.GroupName(serverURL), logger: logger}
	if baseDir == "" {
		return w
	}
	uid, err := storage.CreateTranscript(baseDir, w.group, storage.TranscriptEntry{Channel: channel, Server: serverURL})
	if err != nil {
		logger.Warn("create transcript failed", zap.String("dir", baseDir), zap.Error(err))
		return w
	}
	w.uid = uid
	return w
}

func (w *transcriptWriter) add(res fileResult) {
	if w.uid == "" {
		return
	}
	var entries []storage.TranscriptEntry
	if res.Error != "" || len(res.Results) == 0 {
		entries = append(entries, storage.TranscriptEntry{File: res.File, Error: res.Error})
	}
	for _, r := range res.Results {
		entry := storage.TranscriptEntry{File: res.File, ResultCode: string(r.ResultCode)}
		if len(r.Alternatives) > 0 {
			entry.Text = r.Alternatives[0].Text
			entry.Score = float64(r.Alternatives[0].Score)
		}
		entries = append(entries, entry)
	}
	if err := storage.AppendTranscript(w.baseDir, w.group, w.uid, entries...); err != nil {
		w.logger.Warn("save transcript failed", zap.String("uid", w.uid), zap.Error(err))
	}
}
