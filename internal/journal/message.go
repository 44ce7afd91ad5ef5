package journal

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is the envelope format revision written by Encode. Decode
// accepts every version that has ever been defined.
const CurrentVersion uint8 = 1

// UnsetOffset marks a message that has not been journaled yet. The journal
// assigns the real offset; it is never derived from the encoded bytes.
const UnsetOffset int64 = math.MinInt64

// EventID is the 128-bit message identity: a time component and a
// clock-sequence/node component, together globally unique and never reused.
type EventID struct {
	Time         int64
	ClockSeqNode int64
}

// NewEventID returns a fresh time-based id.
func NewEventID() EventID {
	u, err := uuid.NewUUID()
	if err != nil {
		// The v1 generator only fails when the clock sequence cannot be
		// obtained; a random id preserves uniqueness.
		u = uuid.New()
	}
	return EventIDFromUUID(u)
}

func EventIDFromUUID(u uuid.UUID) EventID {
	return EventID{
		Time:         int64(binary.BigEndian.Uint64(u[0:8])),
		ClockSeqNode: int64(binary.BigEndian.Uint64(u[8:16])),
	}
}

// Bytes returns the fixed 16-byte key form, both components big-endian.
// Storage and dedup layers key on this.
func (id EventID) Bytes() []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(id.Time))
	binary.BigEndian.PutUint64(b[8:16], uint64(id.ClockSeqNode))
	return b
}

func (id EventID) UUID() uuid.UUID {
	var u uuid.UUID
	copy(u[:], id.Bytes())
	return u
}

func (id EventID) String() string {
	return id.UUID().String()
}

// SourceNodeType tags a provenance entry with the kind of node that relayed
// the message.
type SourceNodeType uint8

const (
	SourceNodeServer SourceNodeType = iota
	SourceNodeRadio
)

func (t SourceNodeType) String() string {
	switch t {
	case SourceNodeServer:
		return "SERVER"
	case SourceNodeRadio:
		return "RADIO"
	default:
		return fmt.Sprintf("SourceNodeType(%d)", uint8(t))
	}
}

// SourceNode is one relay hop in the message's trace path.
type SourceNode struct {
	NodeID  string
	InputID string
	Type    SourceNodeType
}

// RemoteAddress holds the network origin exactly as the input handed it over:
// raw address bytes, port, and a hostname only if the caller had already
// reverse-resolved one. Nothing here ever triggers a lookup.
type RemoteAddress struct {
	Address  []byte
	Port     uint16
	Resolved string
}

// ResolvedAddress is the reconstructed origin handed to consumers.
type ResolvedAddress struct {
	IP       net.IP
	Port     uint16
	Hostname string
}

// RawMessage is the unparsed data an input handed over, wrapped with
// identity, timing and provenance so it can be journaled and replayed.
//
// The id is assigned once at construction and never changes. The journal
// offset is set by Decode from the replay position, never from the bytes.
// A single instance is owned by a single writer; distinct instances may be
// encoded and decoded concurrently.
type RawMessage struct {
	version       uint8
	id            EventID
	journalOffset int64
	timestamp     time.Time
	remote        *RemoteAddress
	payload       []byte
	codecName     string
	codecConfig   CodecConfig
	sourceNodes   []SourceNode
}

// CodecConfig is the opaque parse configuration travelling with the message,
// serialized as JSON inside the envelope.
type CodecConfig map[string]interface{}

// NewRawMessage wraps a payload into a fresh envelope. The payload must not
// be empty; an empty payload indicates a broken input, not a runtime
// condition.
func NewRawMessage(payload []byte) (*RawMessage, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("raw message payload must not be empty")
	}

	return &RawMessage{
		version:       CurrentVersion,
		id:            NewEventID(),
		journalOffset: UnsetOffset,
		timestamp:     time.Now().UTC(),
		payload:       payload,
	}, nil
}

func (m *RawMessage) Version() uint8 {
	return m.version
}

func (m *RawMessage) ID() EventID {
	return m.id
}

// IDBytes returns the 16-byte key form of the message id.
func (m *RawMessage) IDBytes() []byte {
	return m.id.Bytes()
}

func (m *RawMessage) JournalOffset() int64 {
	return m.journalOffset
}

func (m *RawMessage) Timestamp() time.Time {
	return m.timestamp
}

func (m *RawMessage) Payload() []byte {
	return m.payload
}

func (m *RawMessage) CodecName() string {
	return m.codecName
}

// SetCodecName tags the payload with the parser that should handle it later.
func (m *RawMessage) SetCodecName(name string) error {
	if name == "" {
		return fmt.Errorf("codec name must not be empty")
	}
	m.codecName = name
	return nil
}

func (m *RawMessage) CodecConfig() CodecConfig {
	return m.codecConfig
}

func (m *RawMessage) SetCodecConfig(cfg CodecConfig) {
	m.codecConfig = cfg
}

// AddSourceNode appends one provenance entry. Entries are never removed or
// reordered; insertion order is the trace path.
func (m *RawMessage) AddSourceNode(inputID, nodeID string, isServer bool) {
	nodeType := SourceNodeRadio
	if isServer {
		nodeType = SourceNodeServer
	}
	m.sourceNodes = append(m.sourceNodes, SourceNode{
		NodeID:  nodeID,
		InputID: inputID,
		Type:    nodeType,
	})
}

// SourceNodes returns the provenance entries in insertion order.
func (m *RawMessage) SourceNodes() []SourceNode {
	nodes := make([]SourceNode, len(m.sourceNodes))
	copy(nodes, m.sourceNodes)
	return nodes
}

// SetRemoteAddress stores the origin. The resolved hostname is stored only
// when the caller already performed the reverse lookup; pass "" otherwise.
func (m *RawMessage) SetRemoteAddress(address []byte, port uint16, resolvedHost string) {
	addr := make([]byte, len(address))
	copy(addr, address)
	m.remote = &RemoteAddress{
		Address:  addr,
		Port:     port,
		Resolved: resolvedHost,
	}
}

func (m *RawMessage) HasRemoteAddress() bool {
	return m.remote != nil
}

// RemoteAddress reconstructs the origin from the stored bytes. It returns nil
// when no address was stored or when the stored bytes are not a valid 4- or
// 16-byte address; a malformed address never fails the message as a whole.
func (m *RawMessage) RemoteAddress() *ResolvedAddress {
	if m.remote == nil {
		return nil
	}

	if l := len(m.remote.Address); l != net.IPv4len && l != net.IPv6len {
		return nil
	}

	ip := make(net.IP, len(m.remote.Address))
	copy(ip, m.remote.Address)

	return &ResolvedAddress{
		IP:       ip,
		Port:     m.remote.Port,
		Hostname: m.remote.Resolved,
	}
}

func (m *RawMessage) String() string {
	return fmt.Sprintf("RawMessage{id=%s, journalOffset=%d, codec=%s, payloadSize=%d, timestamp=%s}",
		m.id, m.journalOffset, m.codecName, len(m.payload), m.timestamp.Format(time.RFC3339))
}
