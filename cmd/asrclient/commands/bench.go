package commands

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saker-ai/asr-sdk-go/pkg/asr"
	"github.com/saker-ai/asr-sdk-go/pkg/audio"
)

type benchOptions struct {
	sessions    int
	rounds      int
	concurrency int
	expect      string
	realtime    bool
}

// benchReport summarizes a bench run.
type benchReport struct {
	Sessions     int           `json:"sessions"`
	Recognitions int64         `json:"recognitions"`
	Recognized   int64         `json:"recognized"`
	Mismatched   int64         `json:"mismatched"`
	Failed       int64         `json:"failed"`
	Elapsed      time.Duration `json:"elapsed_ns"`
	AvgLatency   time.Duration `json:"avg_latency_ns"`
	MaxLatency   time.Duration `json:"max_latency_ns"`
}

func newBenchCommand(global *globalOptions) *cobra.Command {
	opts := &benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench <audio-file>",
		Short: "Run concurrent recognition sessions",
		Long: `Open several sessions at once and recognize the same file repeatedly on
each of them. Every session keeps its connection across rounds.

Examples:
  asrclient bench --sessions 10 --rounds 3 audio/phone.wav
  asrclient bench --sessions 50 --concurrency 10 --expect "5 5 5 1 2 3 4" audio/phone.wav`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, global, opts, args[0])
		},
	}
	cmd.Flags().IntVar(&opts.sessions, "sessions", 4, "number of sessions")
	cmd.Flags().IntVar(&opts.rounds, "rounds", 1, "recognitions per session")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "sessions running at once (0: all)")
	cmd.Flags().StringVar(&opts.expect, "expect", "", "expected text of the best alternative")
	cmd.Flags().BoolVar(&opts.realtime, "realtime", false, "stream audio at playback speed")
	return cmd
}

func runBench(cmd *cobra.Command, global *globalOptions, opts *benchOptions, file string) error {
	if opts.sessions <= 0 || opts.rounds <= 0 {
		return fmt.Errorf("--sessions and --rounds must be positive")
	}
	cfg, logger, err := global.load(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	lms, err := global.languageModels(cfg.Client)
	if err != nil {
		return err
	}
	pcm, err := audio.LoadPCM(file, cfg.Client.SampleRate)
	if err != nil {
		return err
	}
	params := cfg.Client.Recognition.Options()

	var (
		report   = benchReport{Sessions: opts.sessions}
		total    atomic.Int64
		latMu    sync.Mutex
		latTotal time.Duration
	)
	record := func(d time.Duration) {
		latMu.Lock()
		latTotal += d
		if d > report.MaxLatency {
			report.MaxLatency = d
		}
		latMu.Unlock()
	}

	var recognized, mismatched, failed atomic.Int64
	g, ctx := errgroup.WithContext(cmd.Context())
	if opts.concurrency > 0 {
		g.SetLimit(opts.concurrency)
	}

	start := time.Now()
	for i := 0; i < opts.sessions; i++ {
		session := i
		g.Go(func() error {
			sdkCfg := cfg.Client.SDKConfig(logger.With(zap.Int("bench_session", session)), nil)
			rec, err := asr.NewRecognizer(ctx, sdkCfg)
			if err != nil {
				failed.Add(int64(opts.rounds))
				return fmt.Errorf("session %d: %w", session, err)
			}
			defer rec.Close()

			for round := 0; round < opts.rounds; round++ {
				var src asr.AudioSource = audio.NewBytesSource(pcm, cfg.Client.ChunkSamples)
				if opts.realtime {
					src = audio.NewPacedSource(audio.NewBytesSource(pcm, cfg.Client.ChunkSamples), cfg.Client.SampleRate)
				}
				began := time.Now()
				results, err := recognizeOnce(ctx, rec, src, lms, params)
				total.Add(1)
				if err != nil {
					failed.Add(1)
					logger.Warn("bench recognition failed",
						zap.Int("bench_session", session), zap.Int("round", round), zap.Error(err))
					continue
				}
				record(time.Since(began))
				if len(results) == 0 || results[0].ResultCode != asr.ResultRecognized {
					continue
				}
				recognized.Add(1)
				if opts.expect != "" && bestText(results) != opts.expect {
					mismatched.Add(1)
				}
			}
			return nil
		})
	}
	err = g.Wait()
	report.Elapsed = time.Since(start)
	report.Recognitions = total.Load()
	report.Recognized = recognized.Load()
	report.Mismatched = mismatched.Load()
	report.Failed = failed.Load()
	if ok := report.Recognitions - report.Failed; ok > 0 {
		report.AvgLatency = latTotal / time.Duration(ok)
	}

	if global.jsonOutput {
		if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
			return perr
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(),
			"sessions=%d recognitions=%d recognized=%d mismatched=%d failed=%d elapsed=%s avg=%s max=%s\n",
			report.Sessions, report.Recognitions, report.Recognized, report.Mismatched, report.Failed,
			report.Elapsed.Round(time.Millisecond), report.AvgLatency.Round(time.Millisecond), report.MaxLatency.Round(time.Millisecond))
	}
	if err != nil {
		return err
	}
	if report.Failed > 0 || report.Mismatched > 0 {
		return fmt.Errorf("bench: %d failed, %d mismatched", report.Failed, report.Mismatched)
	}
	return nil
}

func recognizeOnce(ctx context.Context, rec *asr.Recognizer, src asr.AudioSource, lms asr.LanguageModelList, params *asr.RecognitionConfig) ([]asr.RecognitionResult, error) {
	if err := rec.Recognize(ctx, src, lms, params); err != nil {
		return nil, err
	}
	return rec.WaitRecognitionResult(ctx)
}

// bestText joins the first alternative of every segment.
func bestText(results []asr.RecognitionResult) string {
	text := ""
	for _, r := range results {
		if len(r.Alternatives) == 0 {
			continue
		}
		if text != "" {
			text += " "
		}
		text += r.Alternatives[0].Text
	}
	return text
}
