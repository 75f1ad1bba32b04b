package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kr/pretty"

	"github.com/signalsfoundry/telemetry-generator/protocol/cot"
	"github.com/signalsfoundry/telemetry-generator/protocol/stanag4586"
)

var xmlDecl = []byte("<?xml")

// decodeCapture prints every message in data. A capture starting with the
// STANAG IDD field is read as back-to-back wrapped messages, anything else as
// a sequence of CoT documents.
func decodeCapture(w io.Writer, data []byte) error {
	data = bytes.TrimLeft(data, "\r\n")
	if bytes.HasPrefix(data, stanag4586.IDD25[:3]) {
		return decodeSTANAG(w, data)
	}
	return decodeCoT(w, data)
}

func decodeCoT(w io.Writer, data []byte) error {
	n := 0
	for _, doc := range splitCoT(data) {
		identity, sample, err := cot.DecodeSample(doc)
		if err != nil {
			return fmt.Errorf("event %d: %w", n, err)
		}
		pretty.Fprintf(w, "%# v\n%# v\n", identity, sample)
		n++
	}
	fmt.Fprintf(w, "%d cot events\n", n)
	return nil
}

// splitCoT cuts a capture at each XML declaration. Documents without a
// declaration are returned whole.
func splitCoT(data []byte) [][]byte {
	var docs [][]byte
	for len(data) > 0 {
		next := bytes.Index(data[1:], xmlDecl)
		if next < 0 {
			docs = append(docs, data)
			break
		}
		docs = append(docs, data[:next+1])
		data = data[next+1:]
	}
	out := docs[:0]
	for _, d := range docs {
		if d = bytes.TrimSpace(d); len(d) > 0 {
			out = append(out, d)
		}
	}
	return out
}

func decodeSTANAG(w io.Writer, data []byte) error {
	n := 0
	for len(data) > 0 {
		if len(data) < stanag4586.HeaderSize {
			return fmt.Errorf("message %d: %w", n, stanag4586.ErrTruncated)
		}
		size := stanag4586.HeaderSize + int(binary.BigEndian.Uint32(data[18:22])) + stanag4586.TrailerSize
		if size > len(data) {
			size = len(data)
		}
		msg, err := stanag4586.Parse(data[:size])
		if err != nil {
			return fmt.Errorf("message %d: %w", n, err)
		}
		sample, err := stanag4586.DecodeState(msg)
		if err != nil {
			return fmt.Errorf("message %d: %w", n, err)
		}
		pretty.Fprintf(w, "%# v\n%# v\n", msg.Header, sample)
		n++
		// Sinks may append a newline delimiter after each frame.
		data = bytes.TrimLeft(data[size:], "\n")
	}
	fmt.Fprintf(w, "%d stanag4586 messages\n", n)
	return nil
}
