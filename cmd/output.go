package cmd

import (
	"fmt"
	"os"

	"mediadrop/domain/storage"

	"github.com/fatih/color"
)

// OutputWriter is where commands print their results
type OutputWriter interface {
	Write(p []byte) (n int, err error)
}

// DefaultOutput is the default output writer for commands
var DefaultOutput OutputWriter = os.Stdout

var (
	Success = color.New(color.FgGreen).SprintFunc()
	Warning = color.New(color.FgYellow).SprintFunc()
	Failure = color.New(color.FgRed).SprintFunc()
	Link    = color.New(color.FgCyan).SprintFunc()
	Muted   = color.New(color.FgHiBlack).SprintFunc()
)

// formatBytes renders a byte count with a binary unit
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// formatUsage renders used/allocated, or used/unlimited
func formatUsage(u *storage.Usage) string {
	if u.IsUnlimited() {
		return fmt.Sprintf("%s used (unlimited)", formatBytes(u.Used))
	}
	line := fmt.Sprintf("%s of %s used, %s remaining", formatBytes(u.Used), formatBytes(u.Allocated), formatBytes(u.Remaining()))
	if u.Remaining() == 0 {
		return Warning(line)
	}
	return line
}
