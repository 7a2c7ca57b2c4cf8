package llmclient

import (
	"bufio"
	"io"
	"strings"
)

// ChunkExtractor turns one wire line into a text chunk. done signals the
// end of the stream; an empty chunk with done=false means the line carried
// no text (keep-alives, role deltas) and is skipped.
type ChunkExtractor func(line string) (chunk string, done bool, err error)

// TextStream adapts a line-oriented response body (SSE or NDJSON) into a
// finite sequence of text chunks. It implements core.TextStream.
type TextStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	extract ChunkExtractor
	done    bool
}

// NewTextStream wraps a streaming response body. The extractor is called
// once per non-empty line.
func NewTextStream(body io.ReadCloser, extract ChunkExtractor) *TextStream {
	scanner := bufio.NewScanner(body)
	// Vendor chunks can exceed bufio's default 64KB line limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &TextStream{
		body:    body,
		scanner: scanner,
		extract: extract,
	}
}

// Next returns the next text chunk, or io.EOF after the final one.
func (s *TextStream) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		chunk, done, err := s.extract(line)
		if err != nil {
			s.done = true
			return "", err
		}
		if done {
			s.done = true
			return "", io.EOF
		}
		if chunk != "" {
			return chunk, nil
		}
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Close releases the underlying response body.
func (s *TextStream) Close() error {
	s.done = true
	return s.body.Close()
}

// SSEData strips the "data:" prefix from an SSE line. ok is false for
// non-data lines (comments, event names).
func SSEData(line string) (data string, ok bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}
