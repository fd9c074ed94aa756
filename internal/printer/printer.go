// Package printer renders CLI output with consistent colors for the herd
// command. Outcome rendering maps the bridge's structured reasons to
// user-facing messages.
package printer

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/dyluth/herd/pkg/fleet"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
)

// Success prints a success message in green with a checkmark prefix.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		green.Printf("✓ %s", msg)
	} else {
		green.Print(msg)
	}
}

// Info prints an informational message in the default color.
func Info(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Warning prints a warning message in yellow.
func Warning(format string, a ...any) {
	yellow.Printf("⚠ %s", fmt.Sprintf(format, a...))
}

// Error prints a titled error to stderr with optional suggestions and
// returns a plain error for Cobra (which has SilenceErrors set).
func Error(title string, explanation string, suggestions []string) error {
	red.Fprintf(os.Stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(os.Stderr, "%s\n", explanation)
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(os.Stderr, "\n")
		for _, suggestion := range suggestions {
			fmt.Fprintf(os.Stderr, "  • %s\n", suggestion)
		}
	}

	return fmt.Errorf("%s", title)
}

// Outcome renders a bridge response outcome: green for success, yellow for
// retryable rejections, red otherwise.
func Outcome(resp *fleet.Response) {
	switch {
	case resp.Reason.Success():
		Success("%s\n", describe(resp))
	case resp.Reason.Retryable():
		Warning("%s\n", describe(resp))
	default:
		red.Printf("✗ %s\n", describe(resp))
	}
}

func describe(resp *fleet.Response) string {
	switch resp.Reason {
	case fleet.OutcomeCreated:
		return fmt.Sprintf("spawned agent '%s'", resp.Name)
	case fleet.OutcomeRemoved:
		return fmt.Sprintf("killed agent '%s'", resp.Name)
	case fleet.OutcomeConflict:
		return fmt.Sprintf("agent already exists: %s", resp.Error)
	case fleet.OutcomeNotFound:
		return fmt.Sprintf("no such agent: %s", resp.Error)
	case fleet.OutcomeForbidden:
		return fmt.Sprintf("forbidden: %s", resp.Error)
	case fleet.OutcomeNotController:
		return fmt.Sprintf("not the controller: %s", resp.Error)
	case fleet.OutcomeUnreachable:
		return "fleet client has withdrawn from the concert, retry later"
	case fleet.OutcomeAcquired:
		return "controller lease acquired"
	case fleet.OutcomeReleased:
		return "controller lease released"
	case fleet.OutcomeAlreadyHeld:
		return fmt.Sprintf("lease held by another controller: %s", resp.Error)
	case fleet.OutcomeNotHolder:
		return fmt.Sprintf("lease not held: %s", resp.Error)
	case fleet.OutcomeListed:
		return fmt.Sprintf("%d agent(s)", len(resp.Agents))
	default:
		return fmt.Sprintf("%s: %s", resp.Reason, resp.Error)
	}
}
