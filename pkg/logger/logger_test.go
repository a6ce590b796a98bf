package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/sirupsen/logrus"
)

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger(&config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewLogger_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "relay.log")
	log, err := NewLogger(&config.LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: "file",
		File:   config.FileConfig{Path: path, MaxSize: 1},
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level, got %v", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("expected JSON formatter, got %T", log.Formatter)
	}

	log.Info("hello")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected log file to exist: %v", err)
	}
}
