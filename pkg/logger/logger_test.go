package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger(t *testing.T) {
	testCases := []struct {
		level    string
		message  string
		toFile   bool
		wantText string
	}{
		{"debug", "debug message", false, "debug message"},
		{"info", "info message", false, "info message"},
		{"warn", "warn message", false, "warn message"},
		{"error", "error message", false, "error message"},
		{"debug", "debug to file", true, "debug to file"},
		{"info", "info to file", true, "info to file"},
		{"warn", "warn to file", true, "warn to file"},
		{"error", "error to file", true, "error to file"},
	}

	for _, tc := range testCases {
		name := tc.level + "-stdout"
		if tc.toFile {
			name = tc.level + "-file"
		}
		t.Run(name, func(t *testing.T) {
			opts := Options{Level: tc.level, File: "stdout"}
			if tc.toFile {
				opts.File = filepath.Join(t.TempDir(), "notifywatch.log")
			}

			Setup(opts)

			slog.Debug(tc.message)
			slog.Info(tc.message)
			slog.Warn(tc.message)
			slog.Error(tc.message)

			if !tc.toFile {
				// For stdout we can only verify setup completed without error
				return
			}

			content, err := os.ReadFile(opts.File)
			if err != nil {
				t.Fatalf("Failed to read log file: %v", err)
			}

			logContent := string(content)
			if !strings.Contains(logContent, tc.wantText) {
				t.Errorf("Log file does not contain expected text %q", tc.wantText)
			}

			switch tc.level {
			case "error":
				if strings.Contains(logContent, `"level":"INFO"`) {
					t.Error("Error level log contains INFO messages")
				}
			case "warn":
				if strings.Contains(logContent, `"level":"DEBUG"`) {
					t.Error("Warn level log contains DEBUG messages")
				}
			case "info":
				if strings.Contains(logContent, `"level":"DEBUG"`) {
					t.Error("Info level log contains DEBUG messages")
				}
			}
		})
	}
	slog.SetDefault(Discard())
}

func TestGetLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for input, want := range tests {
		if got := getLogLevel(input); got != want {
			t.Errorf("getLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
