package config

import (
	"bytes"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/tengi/internal/errors"
	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/server"
	"github.com/vango-dev/tengi/pkg/transport"
)

const (
	// DefaultFileName is the configuration file looked up by Find.
	DefaultFileName = "tengi.toml"

	// DefaultHost binds every interface.
	DefaultHost = ""

	// DefaultLogLevel is the default zap level.
	DefaultLogLevel = "info"
)

// Config is the complete configuration file.
type Config struct {
	// Server configures the listeners.
	Server ServerConfig `toml:"server" yaml:"server"`

	// Log configures the process logger.
	Log LogConfig `toml:"log" yaml:"log"`

	// Metrics configures optional collectors.
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig mirrors server.Config in file form. Durations are Go
// duration strings.
type ServerConfig struct {
	Host             string    `toml:"host" yaml:"host"`
	TCPPort          int       `toml:"tcp_port" yaml:"tcp_port"`
	HTTPPort         int       `toml:"http_port" yaml:"http_port"`
	Transports       []string  `toml:"transports" yaml:"transports"`
	MaxFrameSize     int       `toml:"max_frame_size" yaml:"max_frame_size"`
	LongPollTimeout  string    `toml:"long_poll_timeout" yaml:"long_poll_timeout"`
	HandshakeTimeout string    `toml:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     string    `toml:"write_timeout" yaml:"write_timeout"`
	IdleTimeout      string    `toml:"idle_timeout" yaml:"idle_timeout"`
	CleanupInterval  string    `toml:"cleanup_interval" yaml:"cleanup_interval"`
	ShutdownTimeout  string    `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	ReplayOrder      string    `toml:"replay_order" yaml:"replay_order"`
	AllowedOrigins   []string  `toml:"allowed_origins" yaml:"allowed_origins"`
	HandshakeRate    float64   `toml:"handshake_rate" yaml:"handshake_rate"`
	HandshakeBurst   int       `toml:"handshake_burst" yaml:"handshake_burst"`
	TLS              TLSConfig `toml:"tls" yaml:"tls"`
}

// TLSConfig names a PEM certificate and key. Both or neither must be set.
type TLSConfig struct {
	CertFile string `toml:"cert_file" yaml:"cert_file"`
	KeyFile  string `toml:"key_file" yaml:"key_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is a zap level name.
	Level string `toml:"level" yaml:"level"`

	// Development switches to human-readable console output.
	Development bool `toml:"development" yaml:"development"`
}

// MetricsConfig configures optional collectors.
type MetricsConfig struct {
	// Listener enables per-message listener metrics.
	Listener bool `toml:"listener" yaml:"listener"`
}

// New returns a Config with the server defaults.
func New() *Config {
	d := server.DefaultConfig()
	names := make([]string, len(d.Transports))
	for i, tr := range d.Transports {
		names[i] = tr.Name()
	}
	return &Config{
		Server: ServerConfig{
			Host:             DefaultHost,
			TCPPort:          d.TCPPort,
			HTTPPort:         d.HTTPPort,
			Transports:       names,
			MaxFrameSize:     d.MaxFrameSize,
			LongPollTimeout:  d.LongPollTimeout.String(),
			HandshakeTimeout: d.HandshakeTimeout.String(),
			WriteTimeout:     d.WriteTimeout.String(),
			IdleTimeout:      d.IdleTimeout.String(),
			CleanupInterval:  d.CleanupInterval.String(),
			ShutdownTimeout:  d.ShutdownTimeout.String(),
			ReplayOrder:      d.ReplayOrder.String(),
			HandshakeBurst:   d.HandshakeBurst,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("T101").
				WithDetail("No config file at " + path)
		}
		return nil, errors.New("T101").Wrap(err)
	}

	cfg := New()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = decodeTOML(path, data, cfg)
	case ".yaml", ".yml":
		err = decodeYAML(path, data, cfg)
	default:
		return nil, errors.New("T103").
			WithDetailf("Cannot load %s", filepath.Base(path))
	}
	if err != nil {
		return nil, err
	}

	cfg.configPath = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Find returns the path of a config file in dir: tengi.toml, tengi.yaml or
// tengi.yml, in that order. It returns "" when there is none.
func Find(dir string) string {
	for _, name := range []string{DefaultFileName, "tengi.yaml", "tengi.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func decodeTOML(path string, data []byte, cfg *Config) error {
	meta, err := toml.Decode(string(data), cfg)
	if err != nil {
		te := errors.New("T102").Wrap(err)
		var perr toml.ParseError
		if stderrors.As(err, &perr) {
			cause := errors.Newf(errors.CategoryConfig, "%s", perr.Message)
			if perr.LastKey != "" {
				cause = errors.Newf(errors.CategoryConfig, "%s (after key %q)", perr.Message, perr.LastKey)
			}
			te.Wrap(cause)
			locate(te, path, data, perr.Position.Line)
		}
		return te
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return errors.New("T102").
			WithDetailf("Unknown keys: %s", strings.Join(keys, ", ")).
			WithLocation(path, 0, 0)
	}
	return nil
}

func decodeYAML(path string, data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil
		}
		te := errors.New("T102").Wrap(err)
		var line int
		if _, scanErr := fmt.Sscanf(err.Error(), "yaml: line %d:", &line); scanErr != nil {
			line = 0
		}
		return locate(te, path, data, line)
	}
	return nil
}

// locate points te at line of the config file at path and attaches the
// lines of data around it.
func locate(te *errors.TengiError, path string, data []byte, line int) *errors.TengiError {
	te.Location = &errors.Location{File: path, Line: line}
	lines := strings.Split(string(data), "\n")
	if line <= 0 || line > len(lines) {
		return te
	}
	first := max(line-2, 1)
	last := min(line+2, len(lines))
	return te.WithContext(first, lines[first-1:last])
}

// applyDefaults fills in values a file cleared explicitly.
func (c *Config) applyDefaults() {
	d := New()
	if len(c.Server.Transports) == 0 {
		c.Server.Transports = d.Server.Transports
	}
	if c.Server.ReplayOrder == "" {
		c.Server.ReplayOrder = d.Server.ReplayOrder
	}
	if c.Server.HandshakeBurst == 0 {
		c.Server.HandshakeBurst = d.Server.HandshakeBurst
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	for i, tr := range c.Server.Transports {
		c.Server.Transports[i] = strings.ToLower(strings.TrimSpace(tr))
	}
}

// Validate checks every field and returns the first problem as a coded
// error.
func (c *Config) Validate() error {
	s := &c.Server
	if _, err := c.transports(); err != nil {
		return err
	}
	if s.TCPPort < 0 || s.TCPPort > 65535 {
		return errors.New("T105").WithDetailf("tcp_port = %d", s.TCPPort)
	}
	if s.HTTPPort < 0 || s.HTTPPort > 65535 {
		return errors.New("T105").WithDetailf("http_port = %d", s.HTTPPort)
	}
	if s.TCPPort != 0 && s.TCPPort == s.HTTPPort && c.has(transport.TCP) && c.hasHTTP() {
		return errors.New("T106").WithDetailf("tcp_port and http_port are both %d", s.TCPPort)
	}
	if _, err := c.durations(); err != nil {
		return err
	}
	if s.MaxFrameSize <= 0 {
		return errors.New("T111").WithDetailf("max_frame_size = %d", s.MaxFrameSize)
	}
	if s.HandshakeRate < 0 {
		return errors.New("T111").WithDetailf("handshake_rate = %g", s.HandshakeRate)
	}
	if s.HandshakeBurst < 0 {
		return errors.New("T111").WithDetailf("handshake_burst = %d", s.HandshakeBurst)
	}
	if _, err := connection.ParseReplayOrder(s.ReplayOrder); err != nil {
		return errors.New("T109").WithDetailf("replay_order = %q", s.ReplayOrder)
	}
	if (s.TLS.CertFile == "") != (s.TLS.KeyFile == "") {
		return errors.New("T110").WithDetail("cert_file and key_file must be set together")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.New("T108").WithDetailf("level = %q", c.Log.Level)
	}
	return nil
}

func (c *Config) transports() ([]transport.Transport, error) {
	out := make([]transport.Transport, 0, len(c.Server.Transports))
	for _, name := range c.Server.Transports {
		tr, ok := transport.Lookup(name)
		if !ok || !tr.Supported() {
			return nil, errors.New("T104").WithDetailf("transport %q", name)
		}
		out = append(out, tr)
	}
	return out, nil
}

func (c *Config) has(tr transport.Transport) bool {
	for _, name := range c.Server.Transports {
		if name == tr.Name() {
			return true
		}
	}
	return false
}

func (c *Config) hasHTTP() bool {
	return c.has(transport.WebSocket) || c.has(transport.HTTPPolling) || c.has(transport.HTTPLongPolling)
}

// durations holds the parsed duration fields.
type durations struct {
	longPoll, handshake, write, idle, cleanup, shutdown time.Duration
}

func (c *Config) durations() (durations, error) {
	var d durations
	fields := []struct {
		name  string
		value string
		dst   *time.Duration
		zero  bool
	}{
		{"long_poll_timeout", c.Server.LongPollTimeout, &d.longPoll, false},
		{"handshake_timeout", c.Server.HandshakeTimeout, &d.handshake, false},
		{"write_timeout", c.Server.WriteTimeout, &d.write, false},
		{"idle_timeout", c.Server.IdleTimeout, &d.idle, true},
		{"cleanup_interval", c.Server.CleanupInterval, &d.cleanup, false},
		{"shutdown_timeout", c.Server.ShutdownTimeout, &d.shutdown, false},
	}
	for _, f := range fields {
		v, err := time.ParseDuration(strings.TrimSpace(f.value))
		if err != nil {
			return d, errors.New("T107").WithDetailf("%s = %q", f.name, f.value)
		}
		if v < 0 || (v == 0 && !f.zero) {
			return d, errors.New("T107").WithDetailf("%s must be positive, got %s", f.name, f.value)
		}
		*f.dst = v
	}
	return d, nil
}

// ServerOptions converts the configuration into server options. It loads
// the TLS key pair when one is configured.
func (c *Config) ServerOptions() ([]server.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	trs, _ := c.transports()
	d, _ := c.durations()
	order, _ := connection.ParseReplayOrder(c.Server.ReplayOrder)

	limit := rate.Inf
	if c.Server.HandshakeRate > 0 {
		limit = rate.Limit(c.Server.HandshakeRate)
	}

	opts := []server.Option{
		server.WithTransports(trs...),
		server.WithHost(c.Server.Host),
		server.WithPort(transport.TCP, c.Server.TCPPort),
		server.WithPort(transport.HTTPPolling, c.Server.HTTPPort),
		server.WithMaxFrameSize(c.Server.MaxFrameSize),
		server.WithLongPollTimeout(d.longPoll),
		server.WithHandshakeTimeout(d.handshake),
		server.WithWriteTimeout(d.write),
		server.WithIdleTimeout(d.idle, d.cleanup),
		server.WithShutdownTimeout(d.shutdown),
		server.WithReplayOrder(order),
		server.WithHandshakeRateLimit(limit, c.Server.HandshakeBurst),
	}
	if len(c.Server.AllowedOrigins) > 0 {
		opts = append(opts, server.WithAllowedOrigins(c.Server.AllowedOrigins...))
	}
	if c.Server.TLS.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.Server.TLS.CertFile, c.Server.TLS.KeyFile)
		if err != nil {
			return nil, errors.New("T110").Wrap(err)
		}
		opts = append(opts, server.WithTLS(&tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}))
	}
	return opts, nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return b.String()
}
