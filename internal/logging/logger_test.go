package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"trace", zerolog.TraceLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStartupLoggerCollects(t *testing.T) {
	s := NewStartupLogger("erasebg").
		Version("dev").
		Endpoint("api", "https://api.pixelbin.io").
		Store("file", "/tmp/store.json").
		Feature("desktopNotify", true).
		Config("chunkSize", "2097152")

	if s.endpoints["api"] != "https://api.pixelbin.io" {
		t.Errorf("endpoint not recorded: %v", s.endpoints)
	}
	if s.stores["file"] != "/tmp/store.json" {
		t.Errorf("store not recorded: %v", s.stores)
	}
	if !s.features["desktopNotify"] {
		t.Error("feature not recorded")
	}
	if s.config["chunkSize"] != "2097152" {
		t.Errorf("config not recorded: %v", s.config)
	}
	Discard()
	s.Log()
}
