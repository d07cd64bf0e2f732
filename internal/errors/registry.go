package errors

import (
	"errors"
	"sort"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/client"
	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/identifier"
	"github.com/vango-dev/tengi/pkg/protocol"
	"github.com/vango-dev/tengi/pkg/server"
)

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Configuration Errors (T100-T199)
	// ============================================

	"T101": {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Detail:     "The configuration file does not exist or cannot be read.",
		Suggestion: "Pass --config with the path of a tengi.toml or tengi.yaml file.",
	},
	"T102": {
		Category: CategoryConfig,
		Message:  "Config file parse error",
		Detail:   "The configuration file is not valid TOML or YAML.",
	},
	"T103": {
		Category:   CategoryConfig,
		Message:    "Unknown config format",
		Detail:     "The configuration file extension is not recognized.",
		Suggestion: "Use a .toml, .yaml or .yml file.",
	},
	"T104": {
		Category:   CategoryConfig,
		Message:    "Invalid transport",
		Suggestion: `Supported transports are "tcp", "websocket", "http" and "http-long".`,
	},
	"T105": {
		Category:   CategoryConfig,
		Message:    "Invalid port",
		Suggestion: "Ports must be between 0 and 65535; 0 picks a free port.",
	},
	"T106": {
		Category:   CategoryConfig,
		Message:    "Port conflict",
		Detail:     "The TCP listener and the HTTP listener cannot share a port.",
		Suggestion: "Give tcp_port and http_port different values.",
	},
	"T107": {
		Category:   CategoryConfig,
		Message:    "Invalid duration",
		Suggestion: `Durations use Go syntax, e.g. "500ms", "10s" or "2m".`,
	},
	"T108": {
		Category:   CategoryConfig,
		Message:    "Invalid log level",
		Suggestion: `Use one of "debug", "info", "warn", "error".`,
	},
	"T109": {
		Category:   CategoryConfig,
		Message:    "Invalid replay order",
		Suggestion: `Use "oldest-first" or "newest-first".`,
	},
	"T110": {
		Category: CategoryConfig,
		Message:  "TLS configuration failed",
		Detail:   "The certificate or key could not be loaded.",
	},
	"T111": {
		Category:   CategoryConfig,
		Message:    "Invalid limit",
		Suggestion: "Limits and sizes must be positive.",
	},

	// ============================================
	// Protocol Errors (T200-T299)
	// ============================================

	"T201": {
		Category: CategoryProtocol,
		Message:  "Bad frame magic",
		Detail:   "The peer did not send a tengi envelope.",
	},
	"T202": {
		Category:   CategoryProtocol,
		Message:    "Unknown type id",
		Detail:     "A value was tagged with a type id that is not registered.",
		Suggestion: "Register the same marshallers on both peers.",
	},
	"T203": {
		Category: CategoryProtocol,
		Message:  "Type registration rejected",
		Detail:   "The type id is reserved for built-in types or registered twice.",
	},
	"T204": {
		Category:   CategoryProtocol,
		Message:    "Frame too large",
		Suggestion: "Raise max_frame_size on both peers or send smaller messages.",
	},
	"T205": {
		Category: CategoryProtocol,
		Message:  "Malformed frame",
		Detail:   "The frame ended early or held an impossible length.",
	},
	"T206": {
		Category: CategoryProtocol,
		Message:  "Marshaller failure",
	},

	// ============================================
	// Transport Errors (T300-T399)
	// ============================================

	"T301": {
		Category:   CategoryTransport,
		Message:    "Listen failed",
		Suggestion: "Check that the port is free and the host is a local address.",
	},
	"T302": {
		Category: CategoryTransport,
		Message:  "Connect failed",
	},
	"T303": {
		Category: CategoryTransport,
		Message:  "Handshake rejected",
		Detail:   "The server refused the handshake.",
	},
	"T304": {
		Category: CategoryTransport,
		Message:  "Connection closed",
	},
	"T305": {
		Category: CategoryTransport,
		Message:  "Server already running or stopped",
	},

	// ============================================
	// CLI Errors (T400-T499)
	// ============================================

	"T401": {
		Category: CategoryCLI,
		Message:  "Invalid flag",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}

// classes maps sentinel errors of the tengi packages to codes, most
// specific first.
var classes = []struct {
	target error
	code   string
}{
	{protocol.ErrBadMagic, "T201"},
	{protocol.ErrUnknownTypeID, "T202"},
	{protocol.ErrReservedTypeID, "T203"},
	{protocol.ErrDuplicateTypeID, "T203"},
	{protocol.ErrFrameTooLarge, "T204"},
	{buffer.ErrBufferUnderflow, "T205"},
	{buffer.ErrStringTooLong, "T205"},
	{buffer.ErrVarintOverflow, "T205"},
	{protocol.ErrCollectionTooLarge, "T205"},
	{protocol.ErrNestingTooDeep, "T205"},
	{protocol.ErrBadBitSetChunk, "T205"},
	{protocol.ErrUnknownConstant, "T202"},
	{identifier.ErrInvalidLength, "T205"},
	{server.ErrHandshakeRejected, "T303"},
	{client.ErrHandshakeRejected, "T303"},
	{connection.ErrConnectionDestroyed, "T304"},
	{server.ErrAlreadyStarted, "T305"},
	{server.ErrServerClosed, "T305"},
	{server.ErrInvalidConfig, "T111"},
	{client.ErrInvalidConfig, "T111"},
}

// Classify returns err as a TengiError, picking the code from the tengi
// sentinel errors in its chain. Unknown errors get no code.
func Classify(err error) *TengiError {
	if err == nil {
		return nil
	}
	if te := lookup(err); te != nil {
		return te
	}
	return &TengiError{Message: "Error", Wrapped: err}
}

// lookup returns the TengiError for err, or nil when nothing in its chain
// maps to one.
func lookup(err error) *TengiError {
	var te *TengiError
	if errors.As(err, &te) {
		return te
	}
	var se *protocol.SystemError
	if errors.As(err, &se) {
		return New("T206").Wrap(err)
	}
	for _, c := range classes {
		if errors.Is(err, c.target) {
			return New(c.code).Wrap(err)
		}
	}
	var cfe *client.ConnectionFailedError
	if errors.As(err, &cfe) {
		return New("T302").Wrap(err)
	}
	return nil
}
