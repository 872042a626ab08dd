package runtime

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/asr-sdk-go/internal/config"
	apphttp "github.com/saker-ai/asr-sdk-go/internal/http"
	applogger "github.com/saker-ai/asr-sdk-go/internal/logger"
	"github.com/saker-ai/asr-sdk-go/internal/mockserver"
)

// Server runs the mock ASR server.
type Server struct {
	cfg     appconfig.MockConfig
	logger  *zap.Logger
	handler *mockserver.Handler
	server  *http.Server

	mu       sync.Mutex
	listener net.Listener
	tls      bool
}

// New loads configPath and builds a server from its mock section.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load asr config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("asr mock config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.Mock.HTTPAddr),
		zap.String("path", cfg.Mock.Path),
	)
	return NewWithConfig(cfg.Mock, logger)
}

// NewWithConfig builds a server without touching the filesystem unless a
// script file is configured.
func NewWithConfig(cfg appconfig.MockConfig, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}

	opts := mockserver.Options{
		Engine:          engine,
		Logger:          logger,
		SampleRate:      cfg.SampleRate,
		SpeechThreshold: cfg.SpeechThreshold,
		PartialResults:  cfg.PartialResults,
	}
	if cfg.User != "" || cfg.Password != "" {
		opts.Credentials = &mockserver.Credentials{User: cfg.User, Password: cfg.Password}
	}
	handler := mockserver.NewHandler(opts)
	router := apphttp.NewRouter(cfg, handler, logger)

	return &Server{
		cfg:     cfg,
		logger:  logger,
		handler: handler,
		server: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func newEngine(cfg appconfig.MockConfig) (mockserver.Engine, error) {
	if cfg.ScriptFile != "" {
		script, err := mockserver.LoadScript(cfg.ScriptFile)
		if err != nil {
			return nil, err
		}
		if script.SilenceThreshold == 0 {
			script.SilenceThreshold = cfg.SpeechThreshold
		}
		return mockserver.NewScriptEngine(script), nil
	}
	return mockserver.NewScriptEngine(mockserver.Script{
		SilenceThreshold: cfg.SpeechThreshold,
		Default:          &mockserver.Reply{Text: "hello world", Score: 90},
	}), nil
}

// Logger returns the server logger.
func (s *Server) Logger() *zap.Logger {
	return s.logger
}

// Handler returns the websocket handler, e.g. to inspect received frames.
func (s *Server) Handler() *mockserver.Handler {
	return s.handler
}

// Listen binds the configured address. Run calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	useTLS, err := configureTLS(s.server, s.cfg, s.logger)
	if err != nil {
		_ = ln.Close()
		return err
	}
	s.listener = ln
	s.tls = useTLS
	return nil
}

// Run serves until Shutdown.
func (s *Server) Run() error {
	if s == nil || s.server == nil {
		return nil
	}
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	ln, useTLS := s.listener, s.tls
	s.mu.Unlock()

	var err error
	if useTLS {
		s.logger.Info("starting https server", zap.String("addr", ln.Addr().String()))
		err = s.server.ServeTLS(ln, "", "")
	} else {
		s.logger.Info("starting http server", zap.String("addr", ln.Addr().String()))
		err = s.server.Serve(ln)
	}
	return ignoreServerClosed(err)
}

// Addr is the bound address once listening, the configured one before.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// URL is the websocket URL of the ASR endpoint.
func (s *Server) URL() string {
	scheme := "ws"
	s.mu.Lock()
	if s.tls {
		scheme = "wss"
	}
	s.mu.Unlock()

	path := s.cfg.Path
	if path == "" {
		path = "/asr-server/asr"
	}
	addr := s.Addr()
	if host, port, err := net.SplitHostPort(addr); err == nil && (host == "" || host == "::" || host == "0.0.0.0") {
		addr = net.JoinHostPort("127.0.0.1", port)
	}
	return scheme + "://" + addr + path
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	return ignoreServerClosed(s.server.Shutdown(ctx))
}

func ignoreServerClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// configureTLS loads the certificate pair or falls back to an in-memory
// self-signed one. It reports whether TLS is on.
func configureTLS(server *http.Server, cfg appconfig.MockConfig, logger *zap.Logger) (bool, error) {
	if cfg.TLSDisable {
		return false, nil
	}

	certPath := filepath.Clean(cfg.TLSCertPath)
	keyPath := filepath.Clean(cfg.TLSKeyPath)
	certExists := fileExists(certPath)
	keyExists := fileExists(keyPath)

	if certExists && keyExists {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return false, fmt.Errorf("load tls cert: %w", err)
		}
		server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		return true, nil
	}

	if cfg.TLSRequired {
		missing := []string{}
		if !certExists {
			missing = append(missing, certPath)
		}
		if !keyExists {
			missing = append(missing, keyPath)
		}
		logger.Warn("tls required but certs missing; using in-memory cert", zap.Strings("missing", missing))
	}

	cert, err := generateSelfSignedCert(cfg.Host)
	if err != nil {
		return false, fmt.Errorf("failed to generate tls cert: %w", err)
	}
	server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	return true, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func generateSelfSignedCert(host string) (tls.Certificate, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	notBefore := time.Now().Add(-time.Minute)
	notAfter := notBefore.Add(365 * 24 * time.Hour)

	dnsNames := []string{"localhost"}
	ipAddresses := []net.IP{
		net.ParseIP("127.0.0.1"),
		net.ParseIP("::1"),
	}
	if host != "" && host != "0.0.0.0" && host != "::" {
		if ip := net.ParseIP(host); ip != nil {
			ipAddresses = appendIP(ipAddresses, ip)
		} else {
			dnsNames = append(dnsNames, host)
		}
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: "asr-mock", Organization: []string{"asr-sdk-go"}},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     uniqueStrings(dnsNames),
		IPAddresses:  ipAddresses,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	return tls.X509KeyPair(certPEM, keyPEM)
}

func appendIP(list []net.IP, ip net.IP) []net.IP {
	for _, existing := range list {
		if existing.Equal(ip) {
			return list
		}
	}
	return append(list, ip)
}

func uniqueStrings(list []string) []string {
	unique := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, item := range list {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		unique = append(unique, item)
	}
	return unique
}
