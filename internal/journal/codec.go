package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"time"

	"loghold/internal/logger"
	"loghold/pkg/metrics"
)

// Codec turns raw messages into their journal-durable binary form and back.
//
// Wire layout, all integers big-endian, version 1:
//
//	version          uint8
//	id.time          int64
//	id.clockSeqNode  int64
//	timestampMillis  int64
//	remote flag      uint8 (0|1)
//	  address len    uint8, address bytes
//	  port           uint16
//	  resolved flag  uint8 (0|1), resolved host (uint16 len + bytes)
//	payload          uint32 len + bytes, len > 0
//	codec name       uint16 len + bytes
//	codec config     uint32 len + JSON bytes
//	source nodes     uint16 count, each: nodeId, inputId (uint16 len + bytes), type uint8
//
// Encode and Decode are pure over the message's field values; both may be
// called from multiple goroutines on distinct messages.
type Codec struct {
	log logger.Logger
}

func NewCodec(log logger.Logger) *Codec {
	return &Codec{log: log}
}

// Encode serializes the message. It fails when the codec name or config has
// not been assigned: that is a construction bug in the calling input, so the
// message is dropped rather than journaled half-built. The codec config is
// captured from the message at call time.
func (c *Codec) Encode(m *RawMessage) ([]byte, error) {
	if m.codecName == "" || m.codecConfig == nil {
		c.log.Errorw("Cannot encode raw message without codec name and config, discarding. This is a bug.",
			"message_id", m.id.String(),
		)
		return nil, fmt.Errorf("raw message %s has no codec name or config", m.id)
	}

	configJSON, err := json.Marshal(m.codecConfig)
	if err != nil {
		c.log.Errorw("Cannot serialize codec config, discarding message. This is a bug.",
			"message_id", m.id.String(),
			"error", err,
		)
		return nil, fmt.Errorf("serializing codec config for message %s: %w", m.id, err)
	}

	buf := make([]byte, 0, 64+len(m.payload)+len(configJSON))

	buf = append(buf, m.version)
	buf = appendInt64(buf, m.id.Time)
	buf = appendInt64(buf, m.id.ClockSeqNode)
	buf = appendInt64(buf, m.timestamp.UnixMilli())

	if m.remote != nil {
		if len(m.remote.Address) > math.MaxUint8 {
			return nil, fmt.Errorf("remote address of message %s exceeds %d bytes", m.id, math.MaxUint8)
		}
		buf = append(buf, 1)
		buf = append(buf, uint8(len(m.remote.Address)))
		buf = append(buf, m.remote.Address...)
		buf = appendUint16(buf, m.remote.Port)
		if m.remote.Resolved != "" {
			buf = append(buf, 1)
			buf = appendString(buf, m.remote.Resolved)
		} else {
			buf = append(buf, 0)
		}
	} else {
		buf = append(buf, 0)
	}

	buf = appendBytes(buf, m.payload)
	buf = appendString(buf, m.codecName)
	buf = appendBytes(buf, configJSON)

	buf = appendUint16(buf, uint16(len(m.sourceNodes)))
	for _, node := range m.sourceNodes {
		buf = appendString(buf, node.NodeID)
		buf = appendString(buf, node.InputID)
		buf = append(buf, uint8(node.Type))
	}

	return buf, nil
}

// Decode parses journaled bytes back into a message. Any structural
// corruption yields nil: one bad record is dropped and logged with its offset
// for forensic lookup, replay continues. The journal offset always comes from
// the caller, never from the bytes.
func (c *Codec) Decode(buf []byte, journalOffset int64) *RawMessage {
	m, err := c.decode(buf, journalOffset)
	if err != nil {
		metrics.JournalDecodeFailuresTotal.Inc()
		c.log.Errorw("Cannot read raw message from journal, ignoring this message.",
			"journal_offset", journalOffset,
			"error", err,
		)
		return nil
	}

	if m.remote != nil {
		if l := len(m.remote.Address); l != net.IPv4len && l != net.IPv6len {
			c.log.Warnw("Malformed remote address for message, expected 4 or 16 bytes",
				"message_id", m.id.String(),
				"journal_offset", journalOffset,
				"address_bytes", l,
			)
		}
	}

	return m
}

func (c *Codec) decode(buf []byte, journalOffset int64) (*RawMessage, error) {
	r := &reader{buf: buf}

	version := r.uint8()
	if r.err != nil {
		return nil, r.err
	}
	if version == 0 || version > CurrentVersion {
		return nil, fmt.Errorf("unknown envelope version %d", version)
	}

	m := &RawMessage{
		version:       version,
		journalOffset: journalOffset,
	}

	m.id = EventID{
		Time:         r.int64(),
		ClockSeqNode: r.int64(),
	}
	m.timestamp = time.UnixMilli(r.int64()).UTC()

	if r.uint8() == 1 {
		addrLen := int(r.uint8())
		remote := &RemoteAddress{
			Address: r.bytes(addrLen),
			Port:    r.uint16(),
		}
		if r.uint8() == 1 {
			remote.Resolved = r.string()
		}
		if r.err == nil {
			m.remote = remote
		}
	}

	m.payload = r.bytes(int(r.uint32()))
	if r.err == nil && len(m.payload) == 0 {
		return nil, fmt.Errorf("decoded payload is empty")
	}

	m.codecName = r.string()

	configJSON := r.bytes(int(r.uint32()))
	if r.err == nil {
		if err := json.Unmarshal(configJSON, &m.codecConfig); err != nil {
			return nil, fmt.Errorf("parsing codec config: %w", err)
		}
	}

	nodeCount := int(r.uint16())
	for i := 0; i < nodeCount && r.err == nil; i++ {
		node := SourceNode{
			NodeID:  r.string(),
			InputID: r.string(),
		}
		nodeType := r.uint8()
		if r.err == nil && nodeType > uint8(SourceNodeRadio) {
			return nil, fmt.Errorf("unknown source node type %d", nodeType)
		}
		node.Type = SourceNodeType(nodeType)
		m.sourceNodes = append(m.sourceNodes, node)
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(buf) {
		return nil, fmt.Errorf("%d trailing bytes after envelope", len(buf)-r.off)
	}

	return m, nil
}

func appendInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// reader consumes the buffer front to back, latching the first overrun so
// callers can check a single error after a run of reads.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("envelope truncated at offset %d (need %d bytes, have %d)", r.off, n, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) int64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (r *reader) bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *reader) string() string {
	return string(r.take(int(r.uint16())))
}
