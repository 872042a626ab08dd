package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	appdefaults "github.com/saker-ai/asr-sdk-go/config"

	"github.com/saker-ai/asr-sdk-go/internal/logger"
	"github.com/saker-ai/asr-sdk-go/pkg/asr"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RecognitionParams are the typed recognition parameters of the client.
// Unset values are not sent.
type RecognitionParams struct {
	StartInputTimers          *bool         `mapstructure:"start_input_timers"`
	NoInputTimeout            time.Duration `mapstructure:"no_input_timeout"`
	NoInputTimeoutEnabled     *bool         `mapstructure:"no_input_timeout_enabled"`
	RecognitionTimeout        time.Duration `mapstructure:"recognition_timeout"`
	RecognitionTimeoutEnabled *bool         `mapstructure:"recognition_timeout_enabled"`
	MaxSentences              int           `mapstructure:"max_sentences"`
	ContinuousMode            *bool         `mapstructure:"continuous_mode"`
	ConfidenceThreshold       int           `mapstructure:"confidence_threshold"`
	HeadMargin                time.Duration `mapstructure:"head_margin"`
	TailMargin                time.Duration `mapstructure:"tail_margin"`
	WaitEnd                   time.Duration `mapstructure:"wait_end"`
	InferAge                  *bool         `mapstructure:"infer_age"`
	InferGender               *bool         `mapstructure:"infer_gender"`
	InferEmotion              *bool         `mapstructure:"infer_emotion"`
}

// ClientConfig configures the recognizer built by the CLI.
type ClientConfig struct {
	ServerURL          string            `mapstructure:"server_url"`
	User               string            `mapstructure:"user"`
	Password           string            `mapstructure:"password"`
	UserAgent          string            `mapstructure:"user_agent"`
	SampleRate         int               `mapstructure:"sample_rate"`
	AudioEncoding      string            `mapstructure:"audio_encoding"`
	ChunkSamples       int               `mapstructure:"chunk_samples"`
	MaxWait            time.Duration     `mapstructure:"max_wait"`
	WriteTimeout       time.Duration     `mapstructure:"write_timeout"`
	ConnectOnRecognize bool              `mapstructure:"connect_on_recognize"`
	AutoClose          bool              `mapstructure:"auto_close"`
	LanguageModels     []string          `mapstructure:"language_models"`
	LanguageModelsFile string            `mapstructure:"language_models_file"`
	HistoryDir         string            `mapstructure:"history_dir"`
	Recognition        RecognitionParams `mapstructure:"recognition"`
}

// MockConfig configures the mock ASR server.
type MockConfig struct {
	HTTPAddr        string `mapstructure:"http_addr"`
	Path            string `mapstructure:"path"`
	SampleRate      int    `mapstructure:"sample_rate"`
	SpeechThreshold int    `mapstructure:"speech_threshold"`
	PartialResults  bool   `mapstructure:"partial_results"`
	ScriptFile      string `mapstructure:"script_file"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Host            string `mapstructure:"host"`
	TLSCertPath     string `mapstructure:"tls_cert_path"`
	TLSKeyPath      string `mapstructure:"tls_key_path"`
	TLSRequired     bool   `mapstructure:"tls_required"`
	TLSDisable      bool   `mapstructure:"tls_disable"`
}

// Config is the whole configuration file.
type Config struct {
	RootDir string        `mapstructure:"-"`
	Client  ClientConfig  `mapstructure:"client"`
	Mock    MockConfig    `mapstructure:"mock"`
	Log     logger.Config `mapstructure:"log"`
}

// Load reads the embedded defaults, then conf.yaml from the root directory if
// present, then ASR_* environment variables.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName("conf")
	v.AddConfigPath(rootDir)

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}
	return decode(v, rootDir)
}

// LoadConfig is Load with an explicit config file. An empty path falls back to
// Load.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("ASR_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}
	return decode(v, rootDir)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetDefault("client.user_agent", asr.DefaultUserAgent)
	v.SetDefault("client.sample_rate", asr.DefaultSampleRate)
	v.SetDefault("client.audio_encoding", string(asr.EncodingRaw))
	v.SetDefault("client.max_wait", asr.DefaultMaxWait)
	v.SetDefault("client.write_timeout", asr.DefaultWriteTimeout)
	v.SetDefault("mock.http_addr", ":8025")
	v.SetDefault("mock.path", "/asr-server/asr")
	v.SetDefault("mock.sample_rate", asr.DefaultSampleRate)
	v.SetDefault("mock.tls_disable", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stderr", true)
	v.SetDefault("log.file.name", "asr-client.log")

	v.SetEnvPrefix("asr")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func decode(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.RootDir = rootDir
	derivePaths(&cfg)
	return cfg, nil
}

// SDKConfig maps the client section to an asr.Config.
func (c ClientConfig) SDKConfig(log *zap.Logger, listener asr.Listener) asr.Config {
	return asr.Config{
		ServerURL:          c.ServerURL,
		Credentials:        asr.Credentials{User: c.User, Password: c.Password},
		UserAgent:          c.UserAgent,
		SampleRate:         c.SampleRate,
		AudioEncoding:      asr.AudioEncoding(c.AudioEncoding),
		MaxWait:            c.MaxWait,
		WriteTimeout:       c.WriteTimeout,
		ConnectOnRecognize: c.ConnectOnRecognize,
		AutoClose:          c.AutoClose,
		Listener:           listener,
		Logger:             log,
	}
}

// Options returns the recognition parameters, or nil when none is set.
func (p RecognitionParams) Options() *asr.RecognitionConfig {
	opts := &asr.RecognitionConfig{
		StartInputTimers:          p.StartInputTimers,
		NoInputTimeout:            p.NoInputTimeout,
		NoInputTimeoutEnabled:     p.NoInputTimeoutEnabled,
		RecognitionTimeout:        p.RecognitionTimeout,
		RecognitionTimeoutEnabled: p.RecognitionTimeoutEnabled,
		MaxSentences:              p.MaxSentences,
		ContinuousMode:            p.ContinuousMode,
		ConfidenceThreshold:       p.ConfidenceThreshold,
		HeadMargin:                p.HeadMargin,
		TailMargin:                p.TailMargin,
		WaitEnd:                   p.WaitEnd,
		InferAge:                  p.InferAge,
		InferGender:               p.InferGender,
		InferEmotion:              p.InferEmotion,
	}
	if opts.Empty() {
		return nil
	}
	return opts
}

// LanguageModelList builds the models to recognize against. A manifest file
// wins over the inline URI list.
func (c ClientConfig) LanguageModelList() (asr.LanguageModelList, error) {
	if c.LanguageModelsFile != "" {
		return ReadLanguageModels(c.LanguageModelsFile)
	}
	models := make([]asr.LanguageModel, 0, len(c.LanguageModels))
	for _, uri := range c.LanguageModels {
		models = append(models, asr.URI(uri))
	}
	return asr.NewLanguageModelList(models...)
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("ASR_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.Client.LanguageModelsFile = resolveOptional(cfg.RootDir, cfg.Client.LanguageModelsFile)
	cfg.Client.HistoryDir = resolveOptional(cfg.RootDir, cfg.Client.HistoryDir)
	cfg.Mock.ScriptFile = resolveOptional(cfg.RootDir, cfg.Mock.ScriptFile)
	cfg.Mock.TLSCertPath = resolvePath(cfg.RootDir, cfg.Mock.TLSCertPath, filepath.Join("certs", "server.crt"))
	cfg.Mock.TLSKeyPath = resolvePath(cfg.RootDir, cfg.Mock.TLSKeyPath, filepath.Join("certs", "server.key"))
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func resolveOptional(rootDir string, configured string) string {
	if strings.TrimSpace(configured) == "" {
		return ""
	}
	return resolvePath(rootDir, configured, "")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
