// Package player holds the in-memory state of a connected player and the
// subset of it that survives disconnects.
package player

import (
	"fmt"
	"net"
	"strings"

	"github.com/df-mc/calcite/server/protocol"
	"github.com/go-gl/mathgl/mgl32"
)

// Rank is a player's permission tier. Ranks are strictly ordered: an
// operator may do everything a moderator may, and so on down.
type Rank uint8

const (
	// Normal is the default rank of players without an explicit entry in
	// the server configuration.
	Normal Rank = iota
	// Moderator unlocks the player management commands.
	Moderator
	// Operator unlocks everything, including /stop and placing bedrock and
	// fluids.
	Operator
)

// String returns the rank's name as used in configuration and /setperm.
func (r Rank) String() string {
	switch r {
	case Moderator:
		return "Moderator"
	case Operator:
		return "Operator"
	}
	return "Normal"
}

// WireByte returns the user type byte of the base protocol. The wire format
// predates the moderator tier, so moderators report as normal players.
func (r Rank) WireByte() byte {
	if r == Operator {
		return 0x64
	}
	return 0x00
}

// ParseRank parses a rank name case-insensitively.
func ParseRank(s string) (Rank, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return Normal, nil
	case "moderator":
		return Moderator, nil
	case "operator":
		return Operator, nil
	}
	return Normal, fmt.Errorf("unknown rank %q", s)
}

// MarshalText implements encoding.TextMarshaler so ranks serialise by name
// in configuration and level files.
func (r Rank) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rank) UnmarshalText(b []byte) error {
	parsed, err := ParseRank(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// SavedData is the per-player state persisted in the level's player data
// map, keyed by username. Field names are part of the level file format.
type SavedData struct {
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	Z     float32 `json:"z"`
	Yaw   byte    `json:"yaw"`
	Pitch byte    `json:"pitch"`
}

// Player is the in-memory record of one connected player. All fields are
// guarded by the server's state lock; the owning session is the only
// goroutine that drains Queue.
type Player struct {
	// ID is the player's entity id on the wire, in [0, 127]. -1 is
	// reserved for "self" in packets echoed back to their subject.
	ID   int8
	Name string
	Addr net.Addr

	Rank      Rank
	Position  mgl32.Vec3
	Yaw       byte
	Pitch     byte
	HeldBlock byte

	// Extensions is the negotiated extension mask, zero for base protocol
	// clients.
	Extensions protocol.Extension
	// CustomBlockLevel is min(client level, server level) from the
	// CustomBlocks exchange, 0 when the extension was not negotiated.
	CustomBlockLevel byte

	// Queue holds packets to be written to this player by its session.
	Queue []protocol.ServerPacket
	// KickReason, once non-empty, makes the session disconnect the player
	// with that reason on its next loop iteration.
	KickReason string
}

// Saved captures the player's persistent state for the level's player data
// map.
func (p *Player) Saved() SavedData {
	return SavedData{
		X:     p.Position.X(),
		Y:     p.Position.Y(),
		Z:     p.Position.Z(),
		Yaw:   p.Yaw,
		Pitch: p.Pitch,
	}
}

// Restore applies previously saved state to the player.
func (p *Player) Restore(d SavedData) {
	p.Position = mgl32.Vec3{d.X, d.Y, d.Z}
	p.Yaw = d.Yaw
	p.Pitch = d.Pitch
}

// Send appends packets to the player's outgoing queue. The server's state
// lock must be held.
func (p *Player) Send(pks ...protocol.ServerPacket) {
	p.Queue = append(p.Queue, pks...)
}

// Message queues a server chat line for this player alone.
func (p *Player) Message(line string) {
	p.Send(&protocol.Message{ID_: -1, Contents: line})
}
