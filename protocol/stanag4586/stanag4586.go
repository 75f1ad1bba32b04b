// Package stanag4586 frames telemetry samples in the STANAG 4586 Ed. 2.5
// message wrapper with a vehicle-specific inertial state payload.
package stanag4586

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/signalsfoundry/telemetry-generator/model"
	"github.com/signalsfoundry/telemetry-generator/protocol"
)

const (
	Schema      = "stanag4586/2.5"
	ContentType = "application/octet-stream"

	// MsgTypeVehicleSpecific is the first private (vehicle-specific) message type.
	MsgTypeVehicleSpecific uint32 = 2001
	// PacketSeqUnused fills the obsolete packet sequence field ("-1").
	PacketSeqUnused uint32 = 0xFFFFFFFF

	iddSize     = 10
	HeaderSize  = iddSize + 5*4
	TrailerSize = 4
	// StateSize is the length of the inertial state payload.
	StateSize = 8 + 8 + 8 + 4 + 4 + 4
	// MaxPayload is the largest message data length the wrapper allows.
	MaxPayload = 538
)

// IDD25 is the NUL-padded interface definition document version field.
var IDD25 = [iddSize]byte{'2', '.', '5'}

var (
	ErrTruncated = errors.New("stanag4586: truncated message")
	ErrIDD       = errors.New("stanag4586: unsupported IDD version")
	ErrLength    = errors.New("stanag4586: invalid message length")
	ErrChecksum  = errors.New("stanag4586: checksum mismatch")
)

// Header is the fixed wrapper header.
type Header struct {
	IDD         [iddSize]byte
	MsgInstance uint32
	MsgType     uint32
	MsgLength   uint32
	StreamID    uint32
	PacketSeq   uint32
}

// Message is a parsed wrapper. Payload aliases the parsed buffer.
type Message struct {
	Header   Header
	Payload  []byte
	Checksum uint32
}

// Checksum is the bytewise unsigned sum of data truncated to 32 bits.
func Checksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}

// VehicleID derives the stream id for an entity.
func VehicleID(id model.EntityID) uint32 {
	return uint32(xxhash.Sum64String(string(id)))
}

// Encoder frames samples as MsgTypeVehicleSpecific messages. Message instance
// ids increase monotonically per encoder, starting at zero.
type Encoder struct {
	instance atomic.Uint32
}

var _ protocol.Encoder = (*Encoder)(nil)

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Schema() string { return Schema }

// Encode validates the sample and returns the framed message.
func (e *Encoder) Encode(identity model.EntityIdentity, sample model.TelemetrySample) (protocol.EncodedMessage, error) {
	if err := protocol.CheckSample(Schema, identity, sample); err != nil {
		return protocol.EncodedMessage{}, err
	}
	ts := sample.Timestamp.UTC()

	payload := make([]byte, 0, StateSize)
	payload = binary.BigEndian.AppendUint64(payload, math.Float64bits(unixSeconds(ts)))
	payload = binary.BigEndian.AppendUint64(payload, math.Float64bits(radians(sample.Position.Lat)))
	payload = binary.BigEndian.AppendUint64(payload, math.Float64bits(radians(sample.Position.Lon)))
	payload = binary.BigEndian.AppendUint32(payload, math.Float32bits(float32(sample.Position.Alt)))
	payload = binary.BigEndian.AppendUint32(payload, math.Float32bits(float32(radians(sample.Course))))
	payload = binary.BigEndian.AppendUint32(payload, math.Float32bits(float32(sample.Speed)))

	h := Header{
		IDD:         IDD25,
		MsgInstance: e.instance.Add(1) - 1,
		MsgType:     MsgTypeVehicleSpecific,
		MsgLength:   uint32(len(payload)),
		StreamID:    VehicleID(identity.ID),
		PacketSeq:   PacketSeqUnused,
	}
	return protocol.EncodedMessage{
		EntityID:    identity.ID,
		Timestamp:   ts,
		Schema:      Schema,
		ContentType: ContentType,
		Payload:     Frame(h, payload),
	}, nil
}

// unixSeconds avoids UnixNano, which overflows outside 1678-2262.
func unixSeconds(ts time.Time) float64 {
	return float64(ts.Unix()) + float64(ts.Nanosecond())/1e9
}

// Frame serialises a header, payload and trailing checksum. The header's
// MsgLength is overwritten with len(payload).
func Frame(h Header, payload []byte) []byte {
	buf := make([]byte, 0, HeaderSize+len(payload)+TrailerSize)
	buf = append(buf, h.IDD[:]...)
	buf = binary.BigEndian.AppendUint32(buf, h.MsgInstance)
	buf = binary.BigEndian.AppendUint32(buf, h.MsgType)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = binary.BigEndian.AppendUint32(buf, h.StreamID)
	buf = binary.BigEndian.AppendUint32(buf, h.PacketSeq)
	buf = append(buf, payload...)
	return binary.BigEndian.AppendUint32(buf, Checksum(buf))
}

// Parse decodes one wrapped message, rejecting foreign IDD versions, lengths
// outside [1, MaxPayload], trailing bytes and checksum mismatches.
func Parse(data []byte) (Message, error) {
	if len(data) < HeaderSize+TrailerSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	var m Message
	copy(m.Header.IDD[:], data[:iddSize])
	if !bytes.Equal(m.Header.IDD[:], IDD25[:]) {
		return Message{}, fmt.Errorf("%w: %q", ErrIDD, bytes.TrimRight(m.Header.IDD[:], "\x00"))
	}
	rest := data[iddSize:]
	m.Header.MsgInstance = binary.BigEndian.Uint32(rest[0:])
	m.Header.MsgType = binary.BigEndian.Uint32(rest[4:])
	m.Header.MsgLength = binary.BigEndian.Uint32(rest[8:])
	m.Header.StreamID = binary.BigEndian.Uint32(rest[12:])
	m.Header.PacketSeq = binary.BigEndian.Uint32(rest[16:])

	n := m.Header.MsgLength
	if n == 0 || n > MaxPayload {
		return Message{}, fmt.Errorf("%w: %d", ErrLength, n)
	}
	if want := HeaderSize + int(n) + TrailerSize; len(data) != want {
		if len(data) < want {
			return Message{}, fmt.Errorf("%w: have %d bytes, header declares %d", ErrTruncated, len(data), want)
		}
		return Message{}, fmt.Errorf("%w: %d trailing bytes", ErrLength, len(data)-want)
	}
	m.Payload = data[HeaderSize : HeaderSize+int(n)]
	m.Checksum = binary.BigEndian.Uint32(data[HeaderSize+int(n):])
	if got := Checksum(data[:HeaderSize+int(n)]); got != m.Checksum {
		return Message{}, fmt.Errorf("%w: computed %d, trailer %d", ErrChecksum, got, m.Checksum)
	}
	return m, nil
}

// DecodeState recovers the sample carried by a vehicle-specific message. The
// EntityID is not on the wire; callers map Header.StreamID back to it.
func DecodeState(m Message) (model.TelemetrySample, error) {
	if m.Header.MsgType != MsgTypeVehicleSpecific {
		return model.TelemetrySample{}, fmt.Errorf("stanag4586: message type %d carries no inertial state", m.Header.MsgType)
	}
	if len(m.Payload) != StateSize {
		return model.TelemetrySample{}, fmt.Errorf("%w: state payload is %d bytes, want %d", ErrLength, len(m.Payload), StateSize)
	}
	p := m.Payload
	secs := math.Float64frombits(binary.BigEndian.Uint64(p[0:]))
	whole, frac := math.Modf(secs)
	course := degrees(float64(math.Float32frombits(binary.BigEndian.Uint32(p[28:]))))
	if course < 0 {
		course += 360
	}
	return model.TelemetrySample{
		Timestamp: time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC(),
		Position: model.GeoPosition{
			Lat: degrees(math.Float64frombits(binary.BigEndian.Uint64(p[8:]))),
			Lon: degrees(math.Float64frombits(binary.BigEndian.Uint64(p[16:]))),
			Alt: float64(math.Float32frombits(binary.BigEndian.Uint32(p[24:]))),
		},
		Course: math.Mod(course, 360),
		Speed:  float64(math.Float32frombits(binary.BigEndian.Uint32(p[32:]))),
	}, nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
