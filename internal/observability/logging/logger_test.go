package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewFiltersByLevelAndTagsService(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "api", "WARN")

	logger.Info("retrieval_attempt", "strategy", "semantic")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %s", buf.String())
	}

	logger.Warn("classification_failure", "error", "boom")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["service"] != "api" || entry["msg"] != "classification_failure" || entry["level"] != "WARN" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewTruncatesLongAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "api", "info")

	long := strings.Repeat("я", maxAttrLen)
	logger.Info("draft_rejected", "draft", long, "error", errors.New(long), "strategy", "fused")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for _, key := range []string{"draft", "error"} {
		got, _ := entry[key].(string)
		if !strings.HasSuffix(got, "...(truncated)") || len(got) > maxAttrLen+len("...(truncated)") {
			t.Fatalf("%s not truncated: %d bytes", key, len(got))
		}
		if !utf8.ValidString(got) {
			t.Fatalf("%s truncated mid-rune", key)
		}
	}
	if entry["strategy"] != "fused" {
		t.Fatalf("short attributes must pass through, got %v", entry["strategy"])
	}
}
