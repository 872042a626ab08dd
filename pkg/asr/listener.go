package asr

// Listener receives asynchronous recognition events. Hooks run on the receive
// goroutine and must return quickly.
type Listener interface {
	// OnListening fires when the server accepts START_RECOGNITION.
	OnListening()
	// OnSpeechStart reports detected speech, in milliseconds since OnListening.
	OnSpeechStart(ms int64)
	// OnSpeechStop reports the end of speech, in milliseconds since OnListening.
	OnSpeechStop(ms int64)
	OnPartialRecognition(partial PartialRecognitionResult)
	OnRecognitionResult(result RecognitionResult)
	OnError(err error)
}

// NopListener ignores every event. Embed it to override a subset of hooks.
type NopListener struct{}

func (NopListener) OnListening()                                  {}
func (NopListener) OnSpeechStart(int64)                           {}
func (NopListener) OnSpeechStop(int64)                            {}
func (NopListener) OnPartialRecognition(PartialRecognitionResult) {}
func (NopListener) OnRecognitionResult(RecognitionResult)         {}
func (NopListener) OnError(error)                                 {}

// Callbacks adapts plain functions to a Listener. Nil fields are skipped.
type Callbacks struct {
	OnListening          func()
	OnSpeechStart        func(ms int64)
	OnSpeechStop         func(ms int64)
	OnPartialRecognition func(partial PartialRecognitionResult)
	OnRecognitionResult  func(result RecognitionResult)
	OnError              func(err error)
}

// Listener returns a Listener calling the configured functions.
func (c Callbacks) Listener() Listener {
	return callbackListener{cb: c}
}

type callbackListener struct {
	cb Callbacks
}

func (l callbackListener) OnListening() {
	if l.cb.OnListening != nil {
		l.cb.OnListening()
	}
}

func (l callbackListener) OnSpeechStart(ms int64) {
	if l.cb.OnSpeechStart != nil {
		l.cb.OnSpeechStart(ms)
	}
}

func (l callbackListener) OnSpeechStop(ms int64) {
	if l.cb.OnSpeechStop != nil {
		l.cb.OnSpeechStop(ms)
	}
}

func (l callbackListener) OnPartialRecognition(partial PartialRecognitionResult) {
	if l.cb.OnPartialRecognition != nil {
		l.cb.OnPartialRecognition(partial)
	}
}

func (l callbackListener) OnRecognitionResult(result RecognitionResult) {
	if l.cb.OnRecognitionResult != nil {
		l.cb.OnRecognitionResult(result)
	}
}

func (l callbackListener) OnError(err error) {
	if l.cb.OnError != nil {
		l.cb.OnError(err)
	}
}
