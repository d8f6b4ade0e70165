package main

import (
	"fmt"
	"os"
)

const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorBold    = "\033[1m"
	colorOrange  = "\033[38;5;208m"
	colorIndigo  = "\033[38;5;63m"
	colorPink    = "\033[38;5;205m"
)

// stageColors maps dashboard color names to ANSI sequences.
var stageColors = map[string]string{
	"blue":   colorBlue,
	"orange": colorOrange,
	"purple": colorMagenta,
	"green":  colorGreen,
	"red":    colorRed,
	"indigo": colorIndigo,
	"pink":   colorPink,
	"bold":   colorBold,
}

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// paint is a dashboard.Paint backed by the terminal palette.
func paint(name, text string) string {
	c, ok := stageColors[name]
	if !ok {
		return text
	}
	return colorize(c, text)
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}
