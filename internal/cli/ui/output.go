package ui

import (
	"fmt"
	"os"
	"time"
)

// Print functions for consistent output

func Error(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorIcon, ErrorStyle.Render(fmt.Sprintf(format, args...)))
}

func Success(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", SuccessIcon, SuccessStyle.Render(fmt.Sprintf(format, args...)))
}

func Info(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", InfoIcon, InfoStyle.Render(fmt.Sprintf(format, args...)))
}

func Warning(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", WarningIcon, WarningStyle.Render(fmt.Sprintf(format, args...)))
}

// OutputLine prints a formatted line to stdout
func OutputLine(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}

// FormatDuration formats a duration into a human-readable string
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "< 1m"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// StyleState renders a session state with its status color.
func StyleState(state string) string {
	switch state {
	case "connected":
		return ConnectedStyle.Render(state)
	case "awaiting_pairing", "initializing":
		return PendingStyle.Render(state)
	default:
		return DimStyle.Render(state)
	}
}
