package asr

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saker-ai/asr-sdk-go/internal/transport/asr/codec"
)

const (
	DefaultUserAgent      = "asr-sdk-go"
	DefaultSampleRate     = 8000
	DefaultMaxWait        = 30 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultMaxPayloadSize = 64 * 1024
)

// AudioEncoding selects the SEND_AUDIO content type.
type AudioEncoding string

const (
	EncodingRaw AudioEncoding = "raw"
	EncodingWAV AudioEncoding = "wav"
)

// Credentials are sent as HTTP basic auth when the user is not empty.
type Credentials struct {
	User     string
	Password string
}

// Config describes one recognition session.
type Config struct {
	ServerURL   string
	Credentials Credentials
	UserAgent   string
	// ChannelID is sent as Channel-Identifier. A random UUID is used when empty.
	ChannelID string
	// SessionParameters are sent once with SET_PARAMETERS after CREATE_SESSION.
	SessionParameters *RecognitionConfig
	Listener          Listener

	// SampleRate must be 8000 or 16000.
	SampleRate    int
	AudioEncoding AudioEncoding

	// MaxWait bounds every blocking wait on the server.
	MaxWait time.Duration
	// WriteTimeout is the deadline of a single websocket write.
	WriteTimeout time.Duration
	// MaxPayloadSize splits audio chunks larger than this many bytes.
	MaxPayloadSize int

	ConnectOnRecognize bool
	AutoClose          bool

	// Header is added to the websocket handshake.
	Header http.Header
	// TLSConfig is used for wss URLs. Nil uses the system roots.
	TLSConfig *tls.Config
	Logger    *zap.Logger
}

func (c Config) withDefaults() (Config, error) {
	c.ServerURL = strings.TrimSpace(c.ServerURL)
	if c.ServerURL == "" {
		return c, errEmptyURL
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return c, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return c, fmt.Errorf("server url %q: scheme must be ws or wss", c.ServerURL)
	}

	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.SampleRate != 8000 && c.SampleRate != 16000 {
		return c, fmt.Errorf("unsupported sample rate %d", c.SampleRate)
	}
	switch strings.ToLower(string(c.AudioEncoding)) {
	case "", "raw", "pcm":
		c.AudioEncoding = EncodingRaw
	case "wav":
		c.AudioEncoding = EncodingWAV
	default:
		return c, fmt.Errorf("unsupported audio encoding %q", c.AudioEncoding)
	}

	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.ChannelID == "" {
		c.ChannelID = uuid.NewString()
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxPayloadSize <= 0 {
		c.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if c.Listener == nil {
		c.Listener = NopListener{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c, nil
}

func (c Config) contentType() string {
	if c.AudioEncoding == EncodingWAV {
		return codec.ContentTypeWAV
	}
	return codec.ContentTypeRaw
}

// streamHeader is sent ahead of the first audio byte of a recognition.
func (c Config) streamHeader() []byte {
	if c.AudioEncoding == EncodingWAV {
		return codec.WAVHeader(c.SampleRate)
	}
	return nil
}
