// -----------------------------------------------------------------------
// Crash Protection - panic reports for the CLI and background goroutines
// -----------------------------------------------------------------------

package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// CrashLogDir is the directory where crash files will be written
var CrashLogDir = "./logs"

// InstallCrashHandler sets the crash directory and makes sure it exists.
// Call at the start of main() together with a deferred RecoverWithCrashFile.
func InstallCrashHandler(logDir string) {
	if logDir != "" {
		CrashLogDir = logDir
	}
	if err := os.MkdirAll(CrashLogDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to create log directory: %v\n", err)
	}
}

// WriteCrashFile writes a crash report and returns its path, or "" when the file could not be created
func WriteCrashFile(prefix string, panicVal interface{}, stackTrace string) string {
	timestamp := time.Now().Format("2006-01-02T15-04-05.000")
	crashPath := filepath.Join(CrashLogDir, fmt.Sprintf("%s-%s.log", prefix, timestamp))

	var report bytes.Buffer
	report.WriteString("=== PACTUM CRASH REPORT ===\n")
	fmt.Fprintf(&report, "Time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&report, "Version: %s\n\n", GetFullVersion())

	report.WriteString("=== PANIC VALUE ===\n")
	fmt.Fprintf(&report, "%v\n\n", panicVal)

	report.WriteString("=== STACK TRACE ===\n")
	report.WriteString(stackTrace)
	report.WriteString("\n")

	report.WriteString("=== SYSTEM INFO ===\n")
	fmt.Fprintf(&report, "NumGoroutine: %d\n", runtime.NumGoroutine())
	fmt.Fprintf(&report, "GOOS/GOARCH: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	fmt.Fprintf(&report, "Alloc: %d MB\n", memStats.Alloc/1024/1024)
	report.WriteString("=== END CRASH REPORT ===\n")

	if err := os.MkdirAll(CrashLogDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "%s", report.String())
		return ""
	}
	if err := os.WriteFile(crashPath, report.Bytes(), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to write crash file: %v\n", err)
		fmt.Fprintf(os.Stderr, "%s", report.String())
		return ""
	}

	return crashPath
}

// GetStackTrace returns the current goroutine's stack trace
func GetStackTrace() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// RecoverWithCrashFile is a helper for deferred panic recovery in main.
// Usage: defer common.RecoverWithCrashFile()
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		path := WriteCrashFile("crash", r, GetStackTrace())
		fmt.Fprintf(os.Stderr, "\n!!! FATAL CRASH - Report saved to: %s !!!\nPanic: %v\n", path, r)
		os.Exit(1)
	}
}
