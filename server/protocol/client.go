package protocol

import (
	"fmt"
	"io"
)

// ClientPacket is a packet sent by a Classic client.
type ClientPacket interface {
	decode(r *Reader)
}

// Client packet ids.
const (
	IDPlayerIdentification    = 0x00
	IDSetBlockClient          = 0x05
	IDPositionOrientation     = 0x08
	IDMessageClient           = 0x0d
	IDExtInfo                 = 0x10
	IDExtEntry                = 0x11
	IDCustomBlockSupportLevel = 0x13
)

// ClientPacketSize returns the body size of the client packet with the
// given id, excluding the id byte itself. The second return value is false
// for unknown ids.
func ClientPacketSize(id byte) (int, bool) {
	switch id {
	case IDPlayerIdentification:
		return 1 + StringLength + StringLength + 1, true
	case IDSetBlockClient:
		return 2 + 2 + 2 + 1 + 1, true
	case IDPositionOrientation:
		return 1 + 2 + 2 + 2 + 1 + 1, true
	case IDMessageClient:
		return 1 + StringLength, true
	case IDExtInfo:
		return StringLength + 2, true
	case IDExtEntry:
		return StringLength + 4, true
	case IDCustomBlockSupportLevel:
		return 1, true
	}
	return 0, false
}

// ErrUnknownPacket is wrapped by ReadClientPacket when the client sends a
// packet id without a known size. The connection cannot be resynchronised
// after one of these.
var ErrUnknownPacket = fmt.Errorf("unknown packet id")

// ReadClientPacket reads one full packet from rd. Reads block until the
// packet's fixed size has arrived. An io.EOF from the first byte indicates
// a clean disconnect.
func ReadClientPacket(rd io.Reader) (ClientPacket, error) {
	var idBuf [1]byte
	if _, err := io.ReadFull(rd, idBuf[:]); err != nil {
		return nil, err
	}
	id := idBuf[0]
	size, ok := ClientPacketSize(id)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownPacket, id)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(rd, body); err != nil {
		return nil, fmt.Errorf("read packet 0x%02x body: %w", id, err)
	}

	var pk ClientPacket
	switch id {
	case IDPlayerIdentification:
		pk = &PlayerIdentification{}
	case IDSetBlockClient:
		pk = &SetBlockRequest{}
	case IDPositionOrientation:
		pk = &PositionOrientation{}
	case IDMessageClient:
		pk = &ChatMessage{}
	case IDExtInfo:
		pk = &ClientExtInfo{}
	case IDExtEntry:
		pk = &ClientExtEntry{}
	case IDCustomBlockSupportLevel:
		pk = &ClientCustomBlockSupportLevel{}
	}
	r := NewReader(body)
	pk.decode(r)
	return pk, nil
}

// PlayerIdentification is the first packet a joining client sends.
type PlayerIdentification struct {
	ProtocolVersion byte
	Username        string
	// VerificationKey carries the classic auth token. This server compares
	// it against its configured password material.
	VerificationKey string
	// Magic is ExtensionMagic for clients that support the extension
	// handshake and unused otherwise.
	Magic byte
}

func (pk *PlayerIdentification) decode(r *Reader) {
	pk.ProtocolVersion = r.Uint8()
	pk.Username = r.String()
	pk.VerificationKey = r.String()
	pk.Magic = r.Uint8()
}

// SetBlockRequest notifies the server of a block changed client-side. The
// client applies its change immediately, so a rejected change must be
// reverted by sending back a SetBlock with the original block.
type SetBlockRequest struct {
	X, Y, Z int16
	// Mode is 0x00 when destroying and 0x01 when creating.
	Mode  byte
	Block byte
}

func (pk *SetBlockRequest) decode(r *Reader) {
	pk.X = r.Int16()
	pk.Y = r.Int16()
	pk.Z = r.Int16()
	pk.Mode = r.Uint8()
	pk.Block = r.Uint8()
}

// PositionOrientation reports the client's own position. The leading byte
// is -1 in the base protocol; clients with the HeldBlock extension send
// their held block id in it instead.
type PositionOrientation struct {
	HeldBlock  byte
	X, Y, Z    float32
	Yaw, Pitch byte
}

func (pk *PositionOrientation) decode(r *Reader) {
	pk.HeldBlock = r.Uint8()
	pk.X = r.Coord()
	pk.Y = r.Coord()
	pk.Z = r.Coord()
	pk.Yaw = r.Uint8()
	pk.Pitch = r.Uint8()
}

// ChatMessage is a chat line sent by the client. The leading byte is -1 in
// the base protocol; with the LongerMessages extension a non-zero value
// marks a fragment with more to follow.
type ChatMessage struct {
	FollowUp int8
	Contents string
}

func (pk *ChatMessage) decode(r *Reader) {
	pk.FollowUp = r.Int8()
	pk.Contents = r.String()
}

// ClientExtInfo opens the client half of the extension handshake.
type ClientExtInfo struct {
	AppName        string
	ExtensionCount int16
}

func (pk *ClientExtInfo) decode(r *Reader) {
	pk.AppName = r.String()
	pk.ExtensionCount = r.Int16()
}

// ClientExtEntry names one extension the client supports.
type ClientExtEntry struct {
	Name    string
	Version int32
}

func (pk *ClientExtEntry) decode(r *Reader) {
	pk.Name = r.String()
	pk.Version = r.Int32()
}

// ClientCustomBlockSupportLevel is the client's reply in the CustomBlocks
// level exchange.
type ClientCustomBlockSupportLevel struct {
	Level byte
}

func (pk *ClientCustomBlockSupportLevel) decode(r *Reader) {
	pk.Level = r.Uint8()
}
