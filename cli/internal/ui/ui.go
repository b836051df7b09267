// Package ui provides terminal output helpers for the CLI.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warnColor    = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan)
)

// Success prints a success message.
func Success(format string, args ...interface{}) {
	successColor.Fprintf(color.Output, "✓ "+format+"\n", args...)
}

// Error prints an error message to stderr.
func Error(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}

// Warning prints a warning message.
func Warning(format string, args ...interface{}) {
	warnColor.Fprintf(color.Output, "⚠ "+format+"\n", args...)
}

// Info prints an informational message.
func Info(format string, args ...interface{}) {
	infoColor.Fprintf(color.Output, "ℹ "+format+"\n", args...)
}

// Table renders rows under a header using pterm.
func Table(headers []string, rows [][]string) {
	data := pterm.TableData{headers}
	data = append(data, rows...)
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		// Fall back to plain output when the terminal rejects rendering.
		fmt.Println(headers)
		for _, r := range rows {
			fmt.Println(r)
		}
	}
}

// List prints a bulleted list.
func List(items []string) {
	for _, item := range items {
		fmt.Printf("  • %s\n", item)
	}
}
