package asr

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/saker-ai/asr-sdk-go/internal/mockserver"
	"github.com/saker-ai/asr-sdk-go/internal/transport/asr/codec"
	"github.com/saker-ai/asr-sdk-go/pkg/audio"
)

func recognize(t *testing.T, rec *Recognizer, src AudioSource, lms LanguageModelList, opts *RecognitionConfig) []RecognitionResult {
	t.Helper()
	ctx := context.Background()
	if err := rec.Recognize(ctx, src, lms, opts); err != nil {
		t.Fatalf("Recognize returned error: %v", err)
	}
	results, err := rec.WaitRecognitionResult(ctx)
	if err != nil {
		t.Fatalf("WaitRecognitionResult returned error: %v", err)
	}
	return results
}

func TestRecognizeForwardsLanguageModels(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())

	lms := MustLanguageModelList(URI("builtin:slm/general"), URI("builtin:grammar/phone"))
	recognize(t, rec, audio.NewBytesSource(speech(4000), 0), lms, nil)

	starts := f.handler.FramesOf(codec.StartRecognitionCmd)
	if len(starts) != 1 {
		t.Fatalf("START_RECOGNITION frames=%d, want 1", len(starts))
	}
	uris := strings.Split(string(starts[0].Body), "\n")
	if len(uris) != 2 || uris[0] != "builtin:slm/general" || uris[1] != "builtin:grammar/phone" {
		t.Fatalf("uris=%q", uris)
	}
	if got := starts[0].Headers.Get(codec.HeaderContentType); got != codec.ContentTypeURIList {
		t.Fatalf("content type=%q, want %s", got, codec.ContentTypeURIList)
	}
}

func TestCreateSessionCarriesIdentity(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	cfg := f.config()
	cfg.UserAgent = "unit-test"
	cfg.ChannelID = "chan-42"
	rec := f.recognizer(cfg)
	if rec.ChannelID() != "chan-42" {
		t.Fatalf("ChannelID=%q, want chan-42", rec.ChannelID())
	}

	waitFor(t, "CREATE_SESSION", func() bool { return len(f.handler.FramesOf(codec.CreateSessionCmd)) == 1 })
	create := f.handler.FramesOf(codec.CreateSessionCmd)[0]
	if create.Headers.Get(codec.HeaderUserAgent) != "unit-test" || create.Headers.Get(codec.HeaderChannelIdentifier) != "chan-42" {
		t.Fatalf("create headers=%+v", create.Headers)
	}
	waitFor(t, "IDLE", func() bool { return rec.Status() == "IDLE" })
}

func TestSourcesGiveIdenticalResults(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())
	pcm := speech(12000)

	path := filepath.Join(t.TempDir(), "utterance.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(pcm, 8000), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	fileSrc, err := audio.NewFileSource(path, 8000, 1600)
	if err != nil {
		t.Fatalf("NewFileSource returned error: %v", err)
	}

	buf := audio.NewBufferSource(1000)
	go func() {
		for rest := pcm; len(rest) > 0; {
			n := min(700, len(rest))
			_, _ = buf.Write(rest[:n])
			rest = rest[n:]
			time.Sleep(time.Millisecond)
		}
		buf.Finish()
	}()

	sources := map[string]AudioSource{
		"file":   fileSrc,
		"buffer": buf,
		"bytes":  audio.NewBytesSource(pcm, 0),
	}
	var want *RecognitionResult
	for _, name := range []string{"file", "buffer", "bytes"} {
		results := recognize(t, rec, sources[name], general(), nil)
		if len(results) != 1 || len(results[0].Alternatives) == 0 {
			t.Fatalf("%s: results=%+v", name, results)
		}
		got := results[0]
		if want == nil {
			want = &got
			continue
		}
		if got.Alternatives[0].Text != want.Alternatives[0].Text {
			t.Fatalf("%s: text=%q, want %q", name, got.Alternatives[0].Text, want.Alternatives[0].Text)
		}
		if !bytes.Equal(got.Alternatives[0].Interpretations[0], want.Alternatives[0].Interpretations[0]) {
			t.Fatalf("%s: interpretation=%s, want %s", name, got.Alternatives[0].Interpretations[0], want.Alternatives[0].Interpretations[0])
		}
	}
	if want.Alternatives[0].Text != "hello world" {
		t.Fatalf("text=%q, want hello world", want.Alternatives[0].Text)
	}
}

func TestSilenceIsNotRecognized(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())

	results := recognize(t, rec, audio.NewBytesSource(silence(8000), 0), general(), nil)
	if len(results) != 1 {
		t.Fatalf("results=%d, want 1", len(results))
	}
	if results[0].ResultCode == ResultRecognized {
		t.Fatal("silence was recognized")
	}
	if results[0].Alternatives == nil || len(results[0].Alternatives) != 0 {
		t.Fatalf("alternatives=%v, want empty", results[0].Alternatives)
	}
}

func TestWaitTwiceReturnsEmptySecondTime(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())

	first := recognize(t, rec, audio.NewBytesSource(speech(4000), 0), general(), nil)
	if len(first) != 1 {
		t.Fatalf("first wait=%d results, want 1", len(first))
	}
	second, err := rec.WaitRecognitionResult(context.Background())
	if err != nil {
		t.Fatalf("second wait returned error: %v", err)
	}
	if second == nil || len(second) != 0 {
		t.Fatalf("second wait=%v, want empty", second)
	}
}

func TestSecondRecognizeFailsWhilePending(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())
	ctx := context.Background()

	if err := rec.Recognize(ctx, audio.NewBytesSource(speech(4000), 0), general(), nil); err != nil {
		t.Fatalf("first Recognize returned error: %v", err)
	}
	err := rec.Recognize(ctx, audio.NewBytesSource(speech(4000), 0), general(), nil)
	if !IsFailure(err) {
		t.Fatalf("second Recognize err=%v, want FAILURE", err)
	}

	results, err := rec.WaitRecognitionResult(ctx)
	if err != nil {
		t.Fatalf("WaitRecognitionResult returned error: %v", err)
	}
	if len(results) != 1 || results[0].ResultCode != ResultRecognized {
		t.Fatalf("results=%+v", results)
	}
}

func TestCancelWithoutRecognitionFails(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())

	err := rec.CancelRecognition(context.Background())
	if !IsFailure(err) {
		t.Fatalf("err=%v, want FAILURE", err)
	}
	var recErr *RecognitionError
	if !errors.As(err, &recErr) || recErr.Code != CodeFailure {
		t.Fatalf("err=%#v, want RecognitionError", err)
	}
}

func TestCancelPendingRecognition(t *testing.T) {
	f := newFixture(t, mockserver.Options{HangOnAudio: true})
	rec := f.recognizer(f.config())
	ctx := context.Background()

	if err := rec.Recognize(ctx, audio.NewBytesSource(speech(4000), 0), general(), nil); err != nil {
		t.Fatalf("Recognize returned error: %v", err)
	}
	waitFor(t, "last audio packet", func() bool {
		for _, msg := range f.handler.FramesOf(codec.SendAudioCmd) {
			if codec.IsLastPacket(msg) {
				return true
			}
		}
		return false
	})

	if err := rec.CancelRecognition(ctx); err != nil {
		t.Fatalf("CancelRecognition returned error: %v", err)
	}
	if n := len(f.handler.FramesOf(codec.CancelRecognitionCmd)); n != 1 {
		t.Fatalf("CANCEL_RECOGNITION frames=%d, want 1", n)
	}
	if rec.Status() != "IDLE" {
		t.Fatalf("status=%s, want IDLE", rec.Status())
	}
	results, err := rec.WaitRecognitionResult(ctx)
	if err != nil || len(results) != 0 {
		t.Fatalf("wait after cancel=%v err=%v, want empty", results, err)
	}
	if err := rec.CancelRecognition(ctx); !IsFailure(err) {
		t.Fatalf("second cancel err=%v, want FAILURE", err)
	}
}

func TestCancelWhileStreamingSendsLastPacket(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())
	ctx := context.Background()

	buf := audio.NewBufferSource(800)
	if _, err := buf.Write(speech(4000)); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if err := rec.Recognize(ctx, buf, general(), nil); err != nil {
		t.Fatalf("Recognize returned error: %v", err)
	}
	waitFor(t, "streamed audio", func() bool { return len(f.handler.FramesOf(codec.SendAudioCmd)) >= 4 })
	for _, msg := range f.handler.FramesOf(codec.SendAudioCmd) {
		if codec.IsLastPacket(msg) {
			t.Fatal("last packet sent before the source ended")
		}
	}

	if err := rec.CancelRecognition(ctx); err != nil {
		t.Fatalf("CancelRecognition returned error: %v", err)
	}
	waitFor(t, "last audio packet", func() bool {
		frames := f.handler.FramesOf(codec.SendAudioCmd)
		return len(frames) > 0 && codec.IsLastPacket(frames[len(frames)-1])
	})
	frames := f.handler.FramesOf(codec.SendAudioCmd)
	if n := len(frames); n != 5 {
		t.Fatalf("SEND_AUDIO frames=%d, want 5", n)
	}
	if rec.Status() != "IDLE" {
		t.Fatalf("status=%s, want IDLE", rec.Status())
	}
	if _, err := buf.Write(speech(10)); err == nil {
		t.Fatal("buffer source still open after cancel")
	}
}

func TestPhoneGrammarScenario(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())

	results := recognize(t, rec, audio.NewBytesSource(speech(16000), 0), MustLanguageModelList(URI("builtin:grammar/phone")), nil)
	if len(results) != 1 {
		t.Fatalf("results=%d, want 1", len(results))
	}
	res := results[0]
	if res.ResultCode != ResultRecognized {
		t.Fatalf("result code=%s, want RECOGNIZED", res.ResultCode)
	}
	if len(res.Alternatives) == 0 || res.Alternatives[0].Score <= 90 {
		t.Fatalf("alternatives=%+v, want score above 90", res.Alternatives)
	}
	if res.Alternatives[0].LanguageModel != "builtin:grammar/phone" {
		t.Fatalf("lm=%q", res.Alternatives[0].LanguageModel)
	}
	if !res.LastSegment || res.EndTimeMillis != 2000 {
		t.Fatalf("last=%v end=%d, want final segment ending at 2000ms", res.LastSegment, res.EndTimeMillis)
	}
}

func TestNoInputTimeoutScenario(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())

	opts := &RecognitionConfig{
		NoInputTimeoutEnabled: Bool(true),
		NoInputTimeout:        100 * time.Millisecond,
	}
	src := audio.NewBufferSource(0)
	results := recognize(t, rec, src, general(), opts)
	if len(results) != 1 {
		t.Fatalf("results=%d, want 1", len(results))
	}
	switch results[0].ResultCode {
	case ResultNoInputTimeout, ResultNoMatch:
	default:
		t.Fatalf("result code=%s, want NO_INPUT_TIMEOUT or NO_MATCH", results[0].ResultCode)
	}

	start := f.handler.FramesOf(codec.StartRecognitionCmd)[0]
	if start.Headers.Get(ParamNoInputTimeoutValue) != "100" || start.Headers.Get(ParamNoInputTimeoutEnabled) != "true" {
		t.Fatalf("start headers=%+v", start.Headers)
	}
}

func TestStartInputTimers(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())
	ctx := context.Background()

	opts := &RecognitionConfig{
		StartInputTimers:      Bool(false),
		NoInputTimeoutEnabled: Bool(true),
		NoInputTimeout:        50 * time.Millisecond,
	}
	if err := rec.Recognize(ctx, audio.NewBufferSource(0), general(), opts); err != nil {
		t.Fatalf("Recognize returned error: %v", err)
	}
	waitFor(t, "LISTENING", func() bool { return rec.Status() == "LISTENING" })
	time.Sleep(150 * time.Millisecond)
	if rec.Status() != "LISTENING" {
		t.Fatalf("status=%s before StartInputTimers, want LISTENING", rec.Status())
	}

	if err := rec.StartInputTimers(ctx); err != nil {
		t.Fatalf("StartInputTimers returned error: %v", err)
	}
	results, err := rec.WaitRecognitionResult(ctx)
	if err != nil {
		t.Fatalf("WaitRecognitionResult returned error: %v", err)
	}
	if len(results) != 1 || results[0].ResultCode != ResultNoInputTimeout {
		t.Fatalf("results=%+v, want NO_INPUT_TIMEOUT", results)
	}
}

func TestInlineGrammarSegments(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())

	grammar := `<grammar root="menu"><rule id="menu"><one-of><item>first item</item><item>second item</item></one-of></rule></grammar>`
	lms := MustLanguageModelList(InlineGrammar("menu", grammar))
	results := recognize(t, rec, audio.NewBytesSource(speech(8000), 0), lms, nil)

	defines := f.handler.FramesOf(codec.DefineGrammarCmd)
	if len(defines) != 1 || defines[0].Headers.Get(codec.HeaderContentID) != "menu" || string(defines[0].Body) != grammar {
		t.Fatalf("DEFINE_GRAMMAR frames=%+v", defines)
	}
	if len(results) != 2 {
		t.Fatalf("results=%d, want 2", len(results))
	}
	for i, want := range []string{"first item", "second item"} {
		if results[i].SegmentIndex != i || results[i].Alternatives[0].Text != want {
			t.Fatalf("segment %d=%+v", i, results[i])
		}
	}
	if results[0].LastSegment || !results[1].LastSegment {
		t.Fatalf("last flags=%v,%v, want false,true", results[0].LastSegment, results[1].LastSegment)
	}
}

func TestRejectedGrammarFailsRecognize(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())

	// Bypasses NewLanguageModelList so the server is the one rejecting the grammar.
	lms := LanguageModelList{models: []LanguageModel{{alias: "empty"}}}
	err := rec.Recognize(context.Background(), audio.NewBytesSource(speech(100), 0), lms, nil)
	if !IsFailure(err) {
		t.Fatalf("err=%v, want FAILURE", err)
	}
	if rec.Status() != "ABORTED" {
		t.Fatalf("status=%s, want ABORTED", rec.Status())
	}
	if n := len(f.handler.FramesOf(codec.StartRecognitionCmd)); n != 0 {
		t.Fatalf("START_RECOGNITION frames=%d, want 0", n)
	}
}

func TestStartFailureAbortsSession(t *testing.T) {
	f := newFixture(t, mockserver.Options{FailStart: true})
	events := &recorder{}
	cfg := f.config()
	cfg.Listener = events.listener()
	rec := f.recognizer(cfg)
	ctx := context.Background()

	if err := rec.Recognize(ctx, audio.NewBytesSource(speech(4000), 0), general(), nil); err != nil {
		t.Fatalf("Recognize returned error: %v", err)
	}
	results, err := rec.WaitRecognitionResult(ctx)
	if err != nil || results == nil || len(results) != 0 {
		t.Fatalf("wait=%v err=%v, want empty", results, err)
	}
	if rec.Status() != "ABORTED" {
		t.Fatalf("status=%s, want ABORTED", rec.Status())
	}

	_, _, _, errs := events.snapshot()
	var protoErr *ProtocolError
	if len(errs) != 1 || !errors.As(errs[0], &protoErr) || protoErr.ErrorCode != mockserver.ErrorStartRejected {
		t.Fatalf("listener errors=%v", errs)
	}
	if n := len(f.handler.FramesOf(codec.SendAudioCmd)); n != 0 {
		t.Fatalf("SEND_AUDIO frames=%d after rejected start, want 0", n)
	}

	if err := rec.Recognize(ctx, audio.NewBytesSource(speech(100), 0), general(), nil); !IsFailure(err) {
		t.Fatalf("Recognize on aborted session err=%v, want FAILURE", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestWaitTimeoutCancels(t *testing.T) {
	f := newFixture(t, mockserver.Options{HangOnAudio: true})
	cfg := f.config()
	cfg.MaxWait = 200 * time.Millisecond
	rec := f.recognizer(cfg)
	ctx := context.Background()

	if err := rec.Recognize(ctx, audio.NewBytesSource(speech(4000), 0), general(), nil); err != nil {
		t.Fatalf("Recognize returned error: %v", err)
	}
	_, err := rec.WaitRecognitionResult(ctx)
	if !IsFailure(err) {
		t.Fatalf("err=%v, want FAILURE", err)
	}
	if n := len(f.handler.FramesOf(codec.CancelRecognitionCmd)); n != 1 {
		t.Fatalf("CANCEL_RECOGNITION frames=%d, want 1", n)
	}
	if rec.Status() != "IDLE" {
		t.Fatalf("status=%s, want IDLE", rec.Status())
	}
}

func TestWaitWithoutRecognition(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())

	results, err := rec.WaitRecognitionResult(context.Background())
	if err != nil || results == nil || len(results) != 0 {
		t.Fatalf("wait=%v err=%v, want empty", results, err)
	}
}

func TestSessionParametersAndInference(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	cfg := f.config()
	cfg.SessionParameters = &RecognitionConfig{
		InferAge:     Bool(true),
		InferGender:  Bool(true),
		InferEmotion: Bool(true),
		Extra:        map[string]string{"decoder.custom": "x"},
	}
	rec := f.recognizer(cfg)

	results := recognize(t, rec, audio.NewBytesSource(speech(4000), 0), general(), nil)
	params := f.handler.FramesOf(codec.SetParametersCmd)
	if len(params) != 1 || params[0].Headers.Get(ParamInferAge) != "true" || params[0].Headers.Get("decoder.custom") != "x" {
		t.Fatalf("SET_PARAMETERS frames=%+v", params)
	}
	res := results[0]
	if res.Age == nil || res.Age.Age != 32 {
		t.Fatalf("age=%+v", res.Age)
	}
	if res.Gender == nil || res.Gender.Gender != "F" {
		t.Fatalf("gender=%+v", res.Gender)
	}
	if res.Emotion == nil || res.Emotion.Emotion != "neutral" {
		t.Fatalf("emotion=%+v", res.Emotion)
	}
}

func TestListenerEvents(t *testing.T) {
	f := newFixture(t, mockserver.Options{PartialResults: true})
	events := &recorder{}
	cfg := f.config()
	cfg.Listener = events.listener()
	rec := f.recognizer(cfg)

	recognize(t, rec, audio.NewBytesSource(speech(8192), 2048), general(), nil)

	got, partials, results, errs := events.snapshot()
	want := []string{"listening", "speech_start", "speech_stop", "result"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events=%v, want %v", got, want)
	}
	if len(partials) == 0 || partials[0].Text != "hello world" {
		t.Fatalf("partials=%+v", partials)
	}
	if len(results) != 1 || len(errs) != 0 {
		t.Fatalf("results=%d errors=%v", len(results), errs)
	}
}

func TestAudioIsSplitToPayloadSize(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	cfg := f.config()
	cfg.MaxPayloadSize = 1000
	rec := f.recognizer(cfg)

	pcm := speech(8000)
	recognize(t, rec, audio.NewBytesSource(pcm, 0), general(), nil)

	frames := f.handler.FramesOf(codec.SendAudioCmd)
	var sent []byte
	for i, msg := range frames {
		if len(msg.Body) > 1000 {
			t.Fatalf("frame %d body=%d bytes, want at most 1000", i, len(msg.Body))
		}
		if last := codec.IsLastPacket(msg); last != (i == len(frames)-1) {
			t.Fatalf("frame %d LastPacket=%v", i, last)
		}
		if got := msg.Headers.Get(codec.HeaderContentType); got != codec.ContentTypeRaw {
			t.Fatalf("content type=%q, want %s", got, codec.ContentTypeRaw)
		}
		sent = append(sent, msg.Body...)
	}
	if !bytes.Equal(sent, pcm) {
		t.Fatal("audio received by the server differs from the source")
	}
}

func TestWAVStreamStartsWithHeader(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	cfg := f.config()
	cfg.MaxPayloadSize = 1000
	cfg.AudioEncoding = EncodingWAV
	rec := f.recognizer(cfg)

	pcm := speech(8000)
	results := recognize(t, rec, audio.NewBytesSource(pcm, 0), general(), nil)
	if len(results) != 1 || results[0].Alternatives[0].Text != "hello world" {
		t.Fatalf("results=%+v", results)
	}

	frames := f.handler.FramesOf(codec.SendAudioCmd)
	if len(frames) < 2 {
		t.Fatalf("SEND_AUDIO frames=%d, want several", len(frames))
	}
	var sent []byte
	for i, msg := range frames {
		if got := msg.Headers.Get(codec.HeaderContentType); got != codec.ContentTypeWAV {
			t.Fatalf("frame %d content type=%q, want %s", i, got, codec.ContentTypeWAV)
		}
		if riff := bytes.HasPrefix(msg.Body, []byte("RIFF")); riff != (i == 0) {
			t.Fatalf("frame %d starts with RIFF=%v", i, riff)
		}
		sent = append(sent, msg.Body...)
	}
	format, data, err := audio.ParseWAV(sent)
	if err != nil {
		t.Fatalf("ParseWAV returned error: %v", err)
	}
	if format.SampleRate != DefaultSampleRate || format.Channels != 1 {
		t.Fatalf("format=%+v", format)
	}
	if !bytes.Equal(data, pcm) {
		t.Fatal("wav data received by the server differs from the source")
	}
}

func TestWAVEmptySourceSendsHeaderOnly(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	cfg := f.config()
	cfg.AudioEncoding = EncodingWAV
	rec := f.recognizer(cfg)

	recognize(t, rec, audio.NewBytesSource(nil, 0), general(), nil)
	frames := f.handler.FramesOf(codec.SendAudioCmd)
	if len(frames) != 1 || !codec.IsLastPacket(frames[0]) || len(frames[0].Body) != 44 || !audio.IsWAV(frames[0].Body) {
		t.Fatalf("SEND_AUDIO frames=%+v, want one last packet holding the wav header", frames)
	}
}

func TestEmptySourceSendsLastPacket(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())

	results := recognize(t, rec, audio.NewBytesSource(nil, 0), general(), nil)
	frames := f.handler.FramesOf(codec.SendAudioCmd)
	if len(frames) != 1 || !codec.IsLastPacket(frames[0]) || len(frames[0].Body) != 0 {
		t.Fatalf("SEND_AUDIO frames=%+v, want one empty last packet", frames)
	}
	if len(results) != 1 || results[0].ResultCode != ResultNoMatch {
		t.Fatalf("results=%+v", results)
	}
}

func TestAutoCloseAndReconnect(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	cfg := f.config()
	cfg.AutoClose = true
	rec := f.recognizer(cfg)

	recognize(t, rec, audio.NewBytesSource(speech(4000), 0), general(), nil)
	if n := len(f.handler.FramesOf(codec.ReleaseSessionCmd)); n != 1 {
		t.Fatalf("RELEASE_SESSION frames=%d, want 1", n)
	}
	if rec.Status() != "DISCONNECTED" {
		t.Fatalf("status=%s, want DISCONNECTED", rec.Status())
	}
	waitFor(t, "server session close", func() bool { return f.handler.Sessions() == 0 })

	results := recognize(t, rec, audio.NewBytesSource(speech(4000), 0), general(), nil)
	if len(results) != 1 || results[0].ResultCode != ResultRecognized {
		t.Fatalf("results after reconnect=%+v", results)
	}
	if n := len(f.handler.FramesOf(codec.CreateSessionCmd)); n != 2 {
		t.Fatalf("CREATE_SESSION frames=%d, want 2", n)
	}
}

func TestConnectOnRecognize(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	cfg := f.config()
	cfg.ConnectOnRecognize = true
	rec := f.recognizer(cfg)

	if rec.Status() != "DISCONNECTED" || len(f.handler.Frames()) != 0 {
		t.Fatalf("status=%s frames=%d before Recognize", rec.Status(), len(f.handler.Frames()))
	}
	results := recognize(t, rec, audio.NewBytesSource(speech(4000), 0), general(), nil)
	if len(results) != 1 {
		t.Fatalf("results=%d, want 1", len(results))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())

	for i := 0; i < 2; i++ {
		if err := rec.Close(); err != nil {
			t.Fatalf("Close #%d returned error: %v", i+1, err)
		}
	}
	if n := len(f.handler.FramesOf(codec.ReleaseSessionCmd)); n != 1 {
		t.Fatalf("RELEASE_SESSION frames=%d, want 1", n)
	}
}

func TestRecognizeValidatesArguments(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	rec := f.recognizer(f.config())
	ctx := context.Background()

	if err := rec.Recognize(ctx, nil, general(), nil); !IsFailure(err) {
		t.Fatalf("nil source err=%v, want FAILURE", err)
	}
	if err := rec.Recognize(ctx, audio.NewBytesSource(speech(10), 0), LanguageModelList{}, nil); !IsFailure(err) {
		t.Fatalf("empty list err=%v, want FAILURE", err)
	}
	// Argument errors leave no pending recognition behind.
	recognize(t, rec, audio.NewBytesSource(speech(4000), 0), general(), nil)
}

func TestNewRecognizerRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "empty url", cfg: Config{}},
		{name: "http scheme", cfg: Config{ServerURL: "http://localhost/asr"}},
		{name: "sample rate", cfg: Config{ServerURL: "ws://localhost/asr", SampleRate: 44100}},
		{name: "encoding", cfg: Config{ServerURL: "ws://localhost/asr", AudioEncoding: "opus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRecognizer(context.Background(), tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewRecognizerDialFailure(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	url := f.url()
	f.server.Close()

	if _, err := NewRecognizer(context.Background(), Config{ServerURL: url, MaxWait: time.Second}); err == nil {
		t.Fatal("expected dial error")
	}
}
