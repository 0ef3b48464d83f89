package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "warn"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("asset", "solana").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info 级别应被过滤: %s", out)
	}
	if !strings.Contains(out, `"asset":"solana"`) {
		t.Fatalf("应输出 JSON 字段: %s", out)
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pricewatch.log")
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "info", File: FileConfig{Enabled: true, Path: path, MaxSizeMB: 1}}, &buf)

	logger.Info().Msg("to both")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("日志文件应存在: %v", err)
	}
	if !strings.Contains(string(data), "to both") || !strings.Contains(buf.String(), "to both") {
		t.Fatal("日志应同时写入 stdout 与文件")
	}
}
