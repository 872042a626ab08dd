package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogDir    = "./logs"
	defaultLogFile   = "asr-client.log"
	defaultMaxSizeMB = 100
	timeLayout       = "2006-01-02 15:04:05.000"
)

// Config selects the level, encoding and sinks of a logger.
type Config struct {
	Level string `mapstructure:"level" yaml:"level"`
	// Format is json (default) or console.
	Format string `mapstructure:"format" yaml:"format"`
	Stdout bool   `mapstructure:"stdout" yaml:"stdout"`
	// Stderr keeps stdout free for command output.
	Stderr bool       `mapstructure:"stderr" yaml:"stderr"`
	File   FileConfig `mapstructure:"file" yaml:"file"`
}

// FileConfig configures the rotating log file.
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	Name       string `mapstructure:"name" yaml:"name"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// New builds a logger from cfg. Stderr is used when no sink is enabled.
func New(cfg Config) (*zap.Logger, error) {
	sink, err := openSinks(cfg)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(newEncoder(cfg.Format), sink, parseLevel(cfg.Level))
	return zap.New(core, zap.AddCaller()), nil
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encoderCfg)
	default:
		return zapcore.NewJSONEncoder(encoderCfg)
	}
}

func openSinks(cfg Config) (zapcore.WriteSyncer, error) {
	var sinks []zapcore.WriteSyncer
	if cfg.Stdout {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}
	if cfg.Stderr {
		sinks = append(sinks, zapcore.Lock(os.Stderr))
	}
	if cfg.File.Enabled {
		file, err := cfg.File.open()
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, zapcore.AddSync(file))
	}
	if len(sinks) == 0 {
		return zapcore.Lock(os.Stderr), nil
	}
	return zapcore.NewMultiWriteSyncer(sinks...), nil
}

// open creates the log directory and returns the rotating writer.
func (c FileConfig) open() (*lumberjack.Logger, error) {
	dir := strings.TrimSpace(c.Path)
	if dir == "" {
		dir = defaultLogDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = defaultLogFile
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    positiveOr(c.MaxSizeMB, defaultMaxSizeMB),
		MaxBackups: max(c.MaxBackups, 0),
		MaxAge:     max(c.MaxAgeDays, 0),
		Compress:   c.Compress,
		LocalTime:  true,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// parseLevel accepts zap level names plus "warning". Unknown names are info.
func parseLevel(raw string) zapcore.Level {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "warning" {
		raw = "warn"
	}
	level, err := zapcore.ParseLevel(raw)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// Since is a duration field in milliseconds, the unit of the ASR protocol.
func Since(key string, start time.Time) zap.Field {
	return zap.Int64(key, time.Since(start).Milliseconds())
}
