package recognizer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Charset maps CTC class indices to text. Class 0 is the blank; dictionary
// line i maps to class i+1. A trailing space class follows the dictionary.
type Charset struct {
	tokens []string
}

// ParseCharset reads one token per line. A UTF-8 BOM on the first line is
// removed and empty lines are skipped.
func ParseCharset(r io.Reader) (*Charset, error) {
	scanner := bufio.NewScanner(r)
	tokens := make([]string, 0, 512)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading dictionary: %w", err)
	}
	if len(tokens) == 0 {
		return nil, errors.New("dictionary is empty")
	}
	tokens = append(tokens, " ")
	return &Charset{tokens: tokens}, nil
}

// LoadCharset loads a dictionary file.
func LoadCharset(path string) (*Charset, error) {
	if path == "" {
		return nil, errors.New("dictionary path cannot be empty")
	}
	f, err := os.Open(path) //nolint:gosec // G304: dictionary path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open dictionary: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close dictionary", "path", path, "error", err)
		}
	}()
	cs, err := ParseCharset(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cs, nil
}

// Classes returns the number of output classes including the blank.
func (c *Charset) Classes() int { return len(c.tokens) + 1 }

// Token returns the text of a class, or "" for the blank and unknown classes.
func (c *Charset) Token(class int) string {
	if c == nil || class <= 0 || class > len(c.tokens) {
		return ""
	}
	return c.tokens[class-1]
}

// Text joins the tokens of a decoded sequence.
func (c *Charset) Text(seq Sequence) string {
	var sb strings.Builder
	for _, class := range seq.Classes {
		sb.WriteString(c.Token(class))
	}
	return sb.String()
}
