package protocol

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxCommentBytes = 4096 // 4KB max payload size
	MaxCommentChars = 2000 // max character count
)

// ValidateCommentText checks that comment text meets content requirements.
func ValidateCommentText(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("comment text is empty")
	}
	if len(text) > MaxCommentBytes {
		return fmt.Errorf("comment exceeds %d byte limit", MaxCommentBytes)
	}
	if utf8.RuneCountInString(text) > MaxCommentChars {
		return fmt.Errorf("comment exceeds %d character limit", MaxCommentChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("comment contains invalid UTF-8")
	}
	return nil
}
