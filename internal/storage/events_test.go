package storage

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestTruncateMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		maxLen  int
		want    string
	}{
		{"short message unchanged", "looking away", 500, "looking away"},
		{"exact length unchanged", "abcde", 5, "abcde"},
		{"long message truncated", strings.Repeat("x", 600), 500, strings.Repeat("x", 500)},
		{"multibyte not split", "héllo wörld", 7, "héllo w"},
		{"empty", "", 500, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateMessage(tt.message, tt.maxLen)
			if got != tt.want {
				t.Errorf("TruncateMessage(%q, %d) = %q, want %q", tt.message, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestLogWriterWriteAndClose(t *testing.T) {
	w := NewLogWriter(zap.NewNop())
	w.Write(&ViolationRecord{
		EventID:   "evt-1",
		SessionID: "sess-1",
		Kind:      "head_pose",
		Message:   "looking left",
	})
	w.Close()
}
