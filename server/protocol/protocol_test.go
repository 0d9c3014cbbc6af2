package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestStringRoundTrip(t *testing.T) {
	w := &Writer{}
	w.String("hello world")
	if got := len(w.Bytes()); got != StringLength {
		t.Fatalf("encoded string is %d bytes, expected %d", got, StringLength)
	}
	r := NewReader(w.Bytes())
	if got := r.String(); got != "hello world" {
		t.Fatalf("round trip produced %q", got)
	}
}

func TestStringTruncatesAndReplaces(t *testing.T) {
	long := ""
	for i := 0; i < 80; i++ {
		long += "a"
	}
	w := &Writer{}
	w.String(long)
	if got := len(w.Bytes()); got != StringLength {
		t.Fatalf("overlong string encoded to %d bytes", got)
	}

	w = &Writer{}
	w.String("笑")
	if w.Bytes()[0] != '?' {
		t.Fatalf("unmappable rune encoded to %#x, expected '?'", w.Bytes()[0])
	}
}

func TestCoordFixedPoint(t *testing.T) {
	w := &Writer{}
	w.Coord(16.5)
	r := NewReader(w.Bytes())
	if got := r.Int16(); got != 16*PositionUnits+PositionUnits/2 {
		t.Fatalf("16.5 encoded as %d units", got)
	}

	w = &Writer{}
	w.Coord(-2.25)
	r = NewReader(w.Bytes())
	if got := r.Coord(); got != -2.25 {
		t.Fatalf("coord round trip produced %v", got)
	}
}

func TestArrayPadding(t *testing.T) {
	w := &Writer{}
	w.Array([]byte{1, 2, 3})
	if got := len(w.Bytes()); got != ArrayLength {
		t.Fatalf("array encoded to %d bytes", got)
	}
	r := NewReader(w.Bytes())
	if got := r.Bytes(); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("array round trip produced %v", got)
	}
}

func TestClientPacketSizes(t *testing.T) {
	sizes := map[byte]int{
		IDPlayerIdentification:    130,
		IDSetBlockClient:          8,
		IDPositionOrientation:     9,
		IDMessageClient:           65,
		IDExtInfo:                 66,
		IDExtEntry:                68,
		IDCustomBlockSupportLevel: 1,
	}
	for id, expected := range sizes {
		got, ok := ClientPacketSize(id)
		if !ok {
			t.Fatalf("no size for packet 0x%02x", id)
		}
		if got != expected {
			t.Fatalf("packet 0x%02x has size %d, expected %d", id, got, expected)
		}
	}
	if _, ok := ClientPacketSize(0xf0); ok {
		t.Fatalf("unexpected size for unknown packet id")
	}
}

func TestReadClientPacket(t *testing.T) {
	w := &Writer{}
	w.Uint8(IDPlayerIdentification)
	w.Uint8(Version)
	w.String("alice")
	w.String("secret")
	w.Uint8(ExtensionMagic)

	pk, err := ReadClientPacket(bytes.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("read packet: %v", err)
	}
	ident, ok := pk.(*PlayerIdentification)
	if !ok {
		t.Fatalf("decoded %T, expected *PlayerIdentification", pk)
	}
	if ident.ProtocolVersion != Version || ident.Username != "alice" || ident.VerificationKey != "secret" || ident.Magic != ExtensionMagic {
		t.Fatalf("decoded %+v", ident)
	}
}

func TestReadClientPacketUnknownID(t *testing.T) {
	_, err := ReadClientPacket(bytes.NewReader([]byte{0xf0}))
	if !errors.Is(err, ErrUnknownPacket) {
		t.Fatalf("expected ErrUnknownPacket, got %v", err)
	}
}

func TestEncodePacketFrames(t *testing.T) {
	frames := []struct {
		pk   ServerPacket
		size int
	}{
		{&ServerIdentification{}, 1 + 1 + 64 + 64 + 1},
		{&Ping{}, 1},
		{&LevelInitialize{}, 1},
		{&LevelDataChunk{}, 1 + 2 + 1024 + 1},
		{&LevelFinalize{}, 1 + 6},
		{&SetBlock{}, 1 + 7},
		{&SpawnPlayer{}, 1 + 1 + 64 + 6 + 2},
		{&SetPositionOrientation{}, 1 + 9},
		{&DespawnPlayer{}, 1 + 1},
		{&Message{}, 1 + 1 + 64},
		{&DisconnectPlayer{}, 1 + 64},
		{&UpdateUserType{}, 1 + 1},
		{&ExtInfo{}, 1 + 64 + 2},
		{&ExtEntry{}, 1 + 64 + 4},
		{&CustomBlockSupportLevel{}, 1 + 1},
		{&EnvSetWeatherType{}, 1 + 1},
		{&SetInventoryOrder{}, 1 + 2},
		{&SetSpawnPoint{}, 1 + 8},
		{&ExtEntityTeleport{}, 1 + 10},
	}
	for _, f := range frames {
		encoded := EncodePacket(f.pk)
		if len(encoded) != f.size {
			t.Fatalf("packet 0x%02x encoded to %d bytes, expected %d", f.pk.ID(), len(encoded), f.size)
		}
		if encoded[0] != f.pk.ID() {
			t.Fatalf("packet frame starts with 0x%02x, expected id 0x%02x", encoded[0], f.pk.ID())
		}
	}
}

func TestEchoPredicates(t *testing.T) {
	echoes := map[IdentifiedPacket]bool{
		&SpawnPlayer{}:            true,
		&Message{}:                true,
		&SetPositionOrientation{}: false,
		&DespawnPlayer{}:          false,
		&ExtEntityTeleport{}:      false,
	}
	for pk, expected := range echoes {
		if pk.Echoes() != expected {
			t.Fatalf("packet 0x%02x Echoes() = %v, expected %v", pk.ID(), pk.Echoes(), expected)
		}
		pk.SetPlayerID(5)
		if pk.PlayerID() != 5 {
			t.Fatalf("packet 0x%02x did not store player id", pk.ID())
		}
	}
}

func TestExtensionsTable(t *testing.T) {
	table := Extensions()
	if len(table) != 9 {
		t.Fatalf("extension table has %d entries", len(table))
	}
	var mask Extension
	for _, ext := range table {
		if ext.Version != 1 {
			t.Fatalf("extension %s has version %d", ext.Name, ext.Version)
		}
		if mask.Contains(ext.Bit) {
			t.Fatalf("extension %s shares a bit with another entry", ext.Name)
		}
		mask |= ext.Bit
	}
	if !mask.Contains(ExtCustomBlocks) || !mask.Contains(ExtTeleport) {
		t.Fatalf("extension table misses expected bits")
	}
}
