// Package streamclient consumes a job's progress stream: it decodes the
// server-sent event wire format back into ordered chunks and hands them to a
// downstream consumer, reconnecting where asked and treating every replay as
// the authoritative history.
package streamclient

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/narrately/novelgraph/internal/stream"
)

// ErrStreamDone reports the explicit end-of-stream sentinel.
var ErrStreamDone = errors.New("stream done")

const doneSentinel = "[DONE]"

// Decoder incrementally decodes the text/event-stream wire format. Records
// are separated by blank lines; comment lines carry no data; records that
// fail to parse as JSON are skipped rather than terminating the stream.
// Partial lines split across reads are buffered until their newline arrives.
type Decoder struct {
	scanner *bufio.Reader
}

// NewDecoder wraps r for incremental decoding.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{scanner: bufio.NewReader(r)}
}

// Next returns the next decoded chunk. It returns ErrStreamDone on the
// explicit sentinel and io.EOF when the underlying stream ends without one.
func (d *Decoder) Next() (stream.Chunk, error) {
	for {
		data, err := d.readRecord()
		if err != nil {
			return stream.Chunk{}, err
		}
		if data == "" {
			// Record held only comments (keep-alive); not an event.
			continue
		}
		if data == doneSentinel {
			return stream.Chunk{}, ErrStreamDone
		}
		var chunk stream.Chunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed record: drop it and keep the stream alive.
			continue
		}
		return chunk, nil
	}
}

// readRecord consumes lines up to the next blank-line separator and returns
// the joined data payload. A final unterminated record at EOF is discarded:
// its trailing line may be incomplete.
func (d *Decoder) readRecord() (string, error) {
	var dataLines []string
	for {
		line, err := d.scanner.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if len(dataLines) == 0 {
				// Stray separator between records.
				continue
			}
			return strings.Join(dataLines, "\n"), nil
		case strings.HasPrefix(line, ":"):
			// Comment: liveness only.
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// Unknown field: ignore per SSE semantics.
		}
	}
}
