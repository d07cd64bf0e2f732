// Package config loads tengi server configuration files.
//
// Files are TOML (tengi.toml) or YAML (tengi.yaml, tengi.yml); the format
// follows the extension. Keys left out keep their defaults.
//
// # Configuration File Structure
//
//	[server]
//	host = "0.0.0.0"
//	tcp_port = 8080
//	http_port = 8081
//	transports = ["tcp", "websocket", "http", "http-long"]
//	max_frame_size = 1048576
//	long_poll_timeout = "5s"
//	handshake_timeout = "10s"
//	write_timeout = "10s"
//	idle_timeout = "2m"
//	cleanup_interval = "30s"
//	shutdown_timeout = "30s"
//	replay_order = "oldest-first"
//	allowed_origins = ["https://app.example.com"]
//	handshake_rate = 50.0
//	handshake_burst = 10
//
//	[server.tls]
//	cert_file = "server.crt"
//	key_file = "server.key"
//
//	[log]
//	level = "info"
//	development = false
//
//	[metrics]
//	listener = true
//
// # Usage
//
//	cfg, err := config.Load("tengi.toml")
//	if err != nil {
//	    errors.PrintError(os.Stderr, err)
//	    os.Exit(1)
//	}
//	opts, err := cfg.ServerOptions()
//	srv, err := server.New(opts...)
//
// Every error returned by this package is a *errors.TengiError with a T1xx
// code.
package config
