package protocol

import (
	"errors"
	"regexp"
)

// ErrNoCodeBlock is returned when text contains no fenced code block.
var ErrNoCodeBlock = errors.New("no code block found")

// codeBlockPattern matches a fenced block with an optional language tag on
// the opening fence line.
var codeBlockPattern = regexp.MustCompile("(?s)```(?:\\w+)?\\s*\\n(.*?)\\n```")

// ExtractCodeBlock returns the body of the first fenced code block in text.
func ExtractCodeBlock(text string) (string, error) {
	m := codeBlockPattern.FindStringSubmatch(text)
	if m == nil {
		return "", ErrNoCodeBlock
	}
	return m[1], nil
}
