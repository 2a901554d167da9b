package rako

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultFrameCapacity is the largest frame the assembler will buffer.
// A full LEVEL listing for 32 rooms is well under this.
const DefaultFrameCapacity = 128 << 10

// minFrameBytes is the shortest buffered run treated as a document.
// Anything shorter at a flush point is line noise.
const minFrameBytes = 5

// Document is one JSON object received from the hub.
type Document struct {
	// Name is the top level "name" member (status, query_ROOM, tracker...).
	Name string

	// Payload is the raw "payload" member, nil when absent.
	Payload json.RawMessage

	// Raw is the complete frame as received.
	Raw []byte
}

// FrameAssembler splits the hub byte stream into JSON documents.
//
// Bytes other than CR and LF accumulate in the buffer. Every CR or LF is a
// flush point: the buffer is parsed if it holds at least minFrameBytes,
// then cleared regardless of the outcome. A CRLF pair therefore produces
// one flush of the frame and one empty flush.
//
// FrameAssembler is not safe for concurrent use; the hub read loop owns it.
type FrameAssembler struct {
	buf       []byte
	capacity  int
	discarded uint64
}

// NewFrameAssembler creates an assembler that buffers at most capacity
// bytes between flush points. A capacity <= 0 means DefaultFrameCapacity.
func NewFrameAssembler(capacity int) *FrameAssembler {
	if capacity <= 0 {
		capacity = DefaultFrameCapacity
	}
	return &FrameAssembler{
		buf:      make([]byte, 0, 4096),
		capacity: capacity,
	}
}

// Feed appends chunk to the stream and returns every document completed by
// a flush point inside it, in arrival order.
//
// When the buffer would exceed its capacity the partial frame is dropped
// and ErrFrameOverflow is returned along with any documents completed
// before the overflow.
func (f *FrameAssembler) Feed(chunk []byte) ([]Document, error) {
	var docs []Document

	for _, b := range chunk {
		if b == '\r' || b == '\n' {
			if doc, ok := f.flush(); ok {
				docs = append(docs, doc)
			}
			continue
		}

		if len(f.buf) >= f.capacity {
			f.buf = f.buf[:0]
			f.discarded++
			return docs, fmt.Errorf("%w: %d bytes", ErrFrameOverflow, f.capacity)
		}
		f.buf = append(f.buf, b)
	}

	return docs, nil
}

// flush parses and clears the buffer.
func (f *FrameAssembler) flush() (Document, bool) {
	defer func() { f.buf = f.buf[:0] }()

	if len(f.buf) == 0 {
		return Document{}, false
	}
	if len(f.buf) < minFrameBytes {
		f.discarded++
		return Document{}, false
	}

	doc, err := parseDocument(f.buf)
	if err != nil {
		f.discarded++
		return Document{}, false
	}
	return doc, true
}

// parseDocument decodes a frame that must be a JSON object.
func parseDocument(frame []byte) (Document, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Document{}, fmt.Errorf("frame is not a JSON object")
	}

	var envelope struct {
		Name    string          `json:"name"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return Document{}, fmt.Errorf("decoding frame: %w", err)
	}

	raw := make([]byte, len(trimmed))
	copy(raw, trimmed)

	return Document{
		Name:    envelope.Name,
		Payload: envelope.Payload,
		Raw:     raw,
	}, nil
}

// Reset drops any partially assembled frame. Called on every new connection.
func (f *FrameAssembler) Reset() {
	f.buf = f.buf[:0]
}

// Buffered returns the number of bytes waiting for a flush point.
func (f *FrameAssembler) Buffered() int {
	return len(f.buf)
}

// Discarded returns how many frames were dropped as noise, malformed or
// oversized since the assembler was created.
func (f *FrameAssembler) Discarded() uint64 {
	return f.discarded
}
