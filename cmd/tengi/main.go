// Command tengi runs a tengi echo server.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/tengi/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌┬┐┌─┐┌┐┌┌─┐┬
   │ ├┤ │││├─┐│
   ┴ └─┘┘└┘└─┘┴
`

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		errors.Render(os.Stderr, err, errorStyle(root))
		os.Exit(1)
	}
}

// errorStyle returns the --error-format style, or text when the flag does
// not parse. Text drops its colors when NO_COLOR is set.
func errorStyle(root *cobra.Command) errors.Style {
	name, _ := root.PersistentFlags().GetString("error-format")
	style, err := errors.ParseStyle(name)
	if err != nil {
		style = errors.StyleText
	}
	if style == errors.StyleText && os.Getenv("NO_COLOR") != "" {
		style = errors.StylePlain
	}
	return style
}

func newRootCmd() *cobra.Command {
	var errorFormat string

	rootCmd := &cobra.Command{
		Use:   "tengi",
		Short: "Multi-transport messaging server",
		Long: `tengi serves typed binary messages over raw TCP, WebSocket,
HTTP polling and HTTP long-polling from one process.

Clients pick a transport, perform a handshake and exchange
messages; the serve command answers every message with its
own body.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := errors.ParseStyle(errorFormat)
			return err
		},
	}

	rootCmd.PersistentFlags().StringVar(&errorFormat, "error-format", string(errors.StyleText),
		"How errors are printed (text, plain, compact, json)")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return errors.New("T401").Wrap(err).WithSuggestion(fmt.Sprintf("Run '%s --help' for usage.", cmd.CommandPath()))
	})

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)
	return rootCmd
}

// printBanner prints the ASCII art banner.
func printBanner(w io.Writer) {
	fmt.Fprint(w, banner)
}

// success prints a success message.
func success(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "  %s\n", fmt.Sprintf(format, args...))
}
