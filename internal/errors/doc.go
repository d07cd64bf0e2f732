// Package errors provides coded, actionable errors for the tengi command
// line and configuration loader.
//
// # Error Categories
//
// Errors are organized into categories:
//   - config: configuration file and option errors (T1xx)
//   - protocol: wire format and type registry errors (T2xx)
//   - transport: listener, connect and handshake errors (T3xx)
//   - cli: command line usage errors (T4xx)
//
// # Usage
//
//	err := errors.New("T105").
//	    WithDetailf("tcp port %d is out of range", port).
//	    WithLocation("tengi.toml", 4, 11)
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR T105: Invalid port
//	//
//	//   tengi.toml:4:11
//	//
//	//       2 │ [server]
//	//       3 │ host = "0.0.0.0"
//	//   →   4 │ tcp_port = 70000
//	//         │           ^
//	//
//	//   tcp port 70000 is out of range
//	//
//	//   Hint: Ports must be between 0 and 65535; 0 picks a free port.
//
// Classify maps errors returned by the tengi packages onto registered codes
// so the CLI can print them the same way. Render prints an error as a
// colored or plain report, a single line, or a JSON object; the tengi
// command picks one with --error-format.
package errors
