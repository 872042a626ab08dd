package codec

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// CreateSession opens the server-side session.
func CreateSession(userAgent string, channelID string) []byte {
	msg := Message{Command: CreateSessionCmd}
	if userAgent != "" {
		msg.Headers = append(msg.Headers, Header{HeaderUserAgent, userAgent})
	}
	if channelID != "" {
		msg.Headers = append(msg.Headers, Header{HeaderChannelIdentifier, channelID})
	}
	return Encode(msg)
}

// SetParameters sends session level recognition parameters as headers.
func SetParameters(params Headers) []byte {
	return Encode(Message{Command: SetParametersCmd, Headers: params})
}

// DefineGrammar registers an inline SRGS grammar under alias.
func DefineGrammar(alias string, body string) []byte {
	return Encode(Message{
		Command: DefineGrammarCmd,
		Headers: Headers{
			{HeaderContentType, ContentTypeSRGS},
			{HeaderContentID, alias},
			{HeaderContentLength, ""},
		},
		Body: []byte(body),
	})
}

// StartRecognition starts a recognition against the given language model URIs.
func StartRecognition(uris []string, params Headers) []byte {
	headers := Headers{{HeaderAccept, ContentTypeJSON}}
	headers = append(headers, params...)
	headers = append(headers,
		Header{HeaderContentType, ContentTypeURIList},
		Header{HeaderContentLength, ""},
	)
	return Encode(Message{
		Command: StartRecognitionCmd,
		Headers: headers,
		Body:    []byte(strings.Join(uris, "\n")),
	})
}

// StartInputTimers asks the server to start the no-input timers now.
func StartInputTimers() []byte {
	return Encode(Message{Command: StartInputTimersCmd})
}

// SendAudio carries one PCM chunk. The last chunk of an utterance must set last,
// even when payload is empty.
func SendAudio(payload []byte, last bool, contentType string) []byte {
	if contentType == "" {
		contentType = ContentTypeRaw
	}
	return Encode(Message{
		Command: SendAudioCmd,
		Headers: Headers{
			{HeaderLastPacket, strconv.FormatBool(last)},
			{HeaderContentLength, ""},
			{HeaderContentType, contentType},
		},
		Body: payload,
	})
}

// WAVHeader is the header that opens an audio/wav stream of mono PCM16. The
// length is not known up front, so the RIFF and data sizes are 0xFFFFFFFF.
func WAVHeader(sampleRate int) []byte {
	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 0xFFFFFFFF)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1)
	binary.LittleEndian.PutUint16(h[22:24], 1)
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(h[32:34], 2)
	binary.LittleEndian.PutUint16(h[34:36], 16)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], 0xFFFFFFFF)
	return h
}

// CancelRecognition aborts the running recognition.
func CancelRecognition() []byte {
	return Encode(Message{Command: CancelRecognitionCmd})
}

// ReleaseSession ends the server-side session.
func ReleaseSession() []byte {
	return Encode(Message{Command: ReleaseSessionCmd})
}

// IsLastPacket reads the LastPacket header of a SEND_AUDIO frame.
func IsLastPacket(msg Message) bool {
	last, _ := strconv.ParseBool(msg.Headers.Get(HeaderLastPacket))
	return last
}

// Response builds a server RESPONSE frame. Empty values are omitted.
func Response(method Command, result string, sessionStatus string, extra Headers) []byte {
	headers := Headers{{HeaderMethod, string(method)}}
	if result != "" {
		headers = append(headers, Header{HeaderResult, result})
	}
	if sessionStatus != "" {
		headers = append(headers, Header{HeaderSessionStatus, sessionStatus})
	}
	headers = append(headers, extra...)
	return Encode(Message{Command: ResponseCmd, Headers: headers})
}

// RecognitionResult builds a server RECOGNITION_RESULT frame with a JSON body.
func RecognitionResult(resultStatus string, sessionStatus string, body []byte) []byte {
	headers := Headers{{HeaderResultStatus, resultStatus}}
	if sessionStatus != "" {
		headers = append(headers, Header{HeaderSessionStatus, sessionStatus})
	}
	headers = append(headers,
		Header{HeaderContentType, ContentTypeJSON},
		Header{HeaderContentLength, ""},
	)
	return Encode(Message{Command: RecognitionResultCmd, Headers: headers, Body: body})
}

// SpeechEvent builds START_OF_SPEECH or END_OF_SPEECH.
func SpeechEvent(cmd Command, sessionStatus string) []byte {
	msg := Message{Command: cmd}
	if sessionStatus != "" {
		msg.Headers = Headers{{HeaderSessionStatus, sessionStatus}}
	}
	return Encode(msg)
}
