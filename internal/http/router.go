package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/asr-sdk-go/internal/config"
	"github.com/saker-ai/asr-sdk-go/internal/mockserver"
)

// frameView is the JSON form of a received frame.
type frameView struct {
	Session   string            `json:"session"`
	Command   string            `json:"command"`
	Headers   map[string]string `json:"headers,omitempty"`
	BodyBytes int               `json:"body_bytes"`
}

// NewRouter serves the mock ASR endpoint at cfg.Path next to /health, /stats
// and /frames.
func NewRouter(cfg appconfig.MockConfig, asrHandler *mockserver.Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"sessions": asrHandler.Sessions(),
			"frames":   len(asrHandler.Frames()),
		})
	})

	// /frames?command=SEND_AUDIO&session=<handle>
	router.GET("/frames", func(c *gin.Context) {
		command := c.Query("command")
		session := c.Query("session")
		frames := []frameView{}
		for _, f := range asrHandler.Frames() {
			if command != "" && string(f.Message.Command) != command {
				continue
			}
			if session != "" && f.Session != session {
				continue
			}
			frames = append(frames, frameView{
				Session:   f.Session,
				Command:   string(f.Message.Command),
				Headers:   f.Message.Headers.Map(),
				BodyBytes: len(f.Message.Body),
			})
		}
		c.JSON(http.StatusOK, frames)
	})

	path := cfg.Path
	if path == "" {
		path = "/asr-server/asr"
	}
	router.GET(path, func(c *gin.Context) {
		asrHandler.Handle(c.Writer, c.Request)
	})

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
