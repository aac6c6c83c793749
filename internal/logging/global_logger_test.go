package logging

import (
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestLogFormatterIncludesRequestIDAndOrderedFields(t *testing.T) {
	entry := &log.Entry{
		Logger:  log.StandardLogger(),
		Time:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   log.WarnLevel,
		Message: "instruction fetch failed\n",
		Data: log.Fields{
			"request_id": "a1b2c3d4",
			"family":     "codex",
			"model":      "gpt-5.1-codex",
			"ignored":    "x",
		},
	}

	out, err := (&LogFormatter{}).Format(entry)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	want := "[2025-01-02 03:04:05] [a1b2c3d4] [warn ] instruction fetch failed model=gpt-5.1-codex family=codex\n"
	if string(out) != want {
		t.Fatalf("unexpected line\n got: %q\nwant: %q", out, want)
	}
}

func TestLogFormatterPlaceholderRequestID(t *testing.T) {
	entry := &log.Entry{Logger: log.StandardLogger(), Time: time.Now(), Level: log.InfoLevel, Message: "ready"}
	out, err := (&LogFormatter{}).Format(entry)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if !strings.Contains(string(out), "[--------] [info ] ready") {
		t.Fatalf("unexpected line %q", out)
	}
}
