package protocol

import (
	"strings"
	"testing"
)

func TestValidateCommentText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"valid", "what a goal", false},
		{"empty", "", true},
		{"max chars", strings.Repeat("a", MaxCommentChars), false},
		{"too many chars", strings.Repeat("a", MaxCommentChars+1), true},
		{"too many bytes", strings.Repeat("é", MaxCommentBytes/2+1), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
		{"unicode", "⚽️ GOOOOL", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommentText(tt.text)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCommentText(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}
