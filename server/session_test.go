package server

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/df-mc/calcite/server/block"
	"github.com/df-mc/calcite/server/player"
	"github.com/df-mc/calcite/server/protocol"
)

// serverPacketSizes maps server packet ids to their body size, used by the
// test client to frame the stream.
var serverPacketSizes = map[byte]int{
	0x00: 130,  // server identification
	0x01: 0,    // ping
	0x02: 0,    // level initialize
	0x03: 1027, // level data chunk
	0x04: 6,    // level finalize
	0x06: 7,    // set block
	0x07: 73,   // spawn player
	0x08: 9,    // set position orientation
	0x0c: 1,    // despawn player
	0x0d: 65,   // message
	0x0e: 64,   // disconnect player
	0x0f: 1,    // update user type
	0x10: 66,   // ext info
	0x11: 68,   // ext entry
	0x13: 1,    // custom block support level
	0x14: 2,    // hold this
	0x1f: 1,    // env set weather type
	0x2c: 2,    // set inventory order
	0x2e: 8,    // set spawn point
	0x36: 10,   // ext entity teleport
}

// testClient is the client end of a piped session, reading and writing raw
// wire frames.
type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dialTestServer(t *testing.T, srv *Server) *testClient {
	t.Helper()
	client, server := net.Pipe()
	_ = client.SetDeadline(time.Now().Add(5 * time.Second))
	srv.startSession(server)
	t.Cleanup(func() { _ = client.Close() })
	return &testClient{t: t, conn: client}
}

func (c *testClient) send(encode func(w *protocol.Writer)) {
	c.t.Helper()
	w := &protocol.Writer{}
	encode(w)
	if _, err := c.conn.Write(w.Bytes()); err != nil {
		c.t.Fatalf("write to server: %v", err)
	}
}

func (c *testClient) sendIdent(version byte, username, key string, magic byte) {
	c.send(func(w *protocol.Writer) {
		w.Uint8(protocol.IDPlayerIdentification)
		w.Uint8(version)
		w.String(username)
		w.String(key)
		w.Uint8(magic)
	})
}

func (c *testClient) sendChat(contents string) {
	c.send(func(w *protocol.Writer) {
		w.Uint8(protocol.IDMessageClient)
		w.Int8(-1)
		w.String(contents)
	})
}

func (c *testClient) sendMove(x, y, z float32) {
	c.send(func(w *protocol.Writer) {
		w.Uint8(protocol.IDPositionOrientation)
		w.Uint8(0xff)
		w.Coord(x)
		w.Coord(y)
		w.Coord(z)
		w.Uint8(0)
		w.Uint8(0)
	})
}

func (c *testClient) sendSetBlock(x, y, z int16, mode, id byte) {
	c.send(func(w *protocol.Writer) {
		w.Uint8(protocol.IDSetBlockClient)
		w.Int16(x)
		w.Int16(y)
		w.Int16(z)
		w.Uint8(mode)
		w.Uint8(id)
	})
}

// readPacket reads one framed server packet, returning its id and body.
func (c *testClient) readPacket() (byte, []byte) {
	c.t.Helper()
	var id [1]byte
	if _, err := io.ReadFull(c.conn, id[:]); err != nil {
		c.t.Fatalf("read packet id: %v", err)
	}
	size, ok := serverPacketSizes[id[0]]
	if !ok {
		c.t.Fatalf("unknown server packet id 0x%02x", id[0])
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		c.t.Fatalf("read packet 0x%02x body: %v", id[0], err)
	}
	return id[0], body
}

// expectPacket reads one packet and fails unless it has the given id.
func (c *testClient) expectPacket(want byte) []byte {
	c.t.Helper()
	id, body := c.readPacket()
	if id != want {
		c.t.Fatalf("read packet 0x%02x, expected 0x%02x", id, want)
	}
	return body
}

// join identifies as username and consumes the join stream up to the
// client's own spawn echo.
func (c *testClient) join(username string) {
	c.t.Helper()
	c.sendIdent(protocol.Version, username, "", 0x00)
	for {
		id, body := c.readPacket()
		if id == 0x0e {
			c.t.Fatalf("disconnected during join: %s", decodeString(body))
		}
		if id == 0x07 && body[0] == 0xff {
			return
		}
	}
}

func decodeString(body []byte) string {
	return protocol.NewReader(body).String()
}

func decodeMessage(body []byte) (int8, string) {
	r := protocol.NewReader(body)
	return r.Int8(), r.String()
}

func TestSessionHandshake(t *testing.T) {
	srv := newTestServer(t)
	c := dialTestServer(t, srv)
	c.sendIdent(protocol.Version, "alice", "", 0x00)

	ident := c.expectPacket(0x00)
	if ident[0] != protocol.Version {
		t.Fatalf("protocol version 0x%02x", ident[0])
	}
	if name := decodeString(ident[1:65]); name != "test server" {
		t.Fatalf("server name %q", name)
	}
	if motd := decodeString(ident[65:129]); motd != "running tests" {
		t.Fatalf("motd %q", motd)
	}
	if ident[129] != 0x00 {
		t.Fatalf("user type 0x%02x for a normal player", ident[129])
	}

	c.expectPacket(0x02)
	chunks := 0
	var percent byte
	for {
		id, body := c.readPacket()
		if id == 0x03 {
			chunks++
			percent = body[1026]
			continue
		}
		if id != 0x04 {
			t.Fatalf("packet 0x%02x inside the level stream", id)
		}
		r := protocol.NewReader(body)
		if x, y, z := r.Int16(), r.Int16(), r.Int16(); x != 16 || y != 8 || z != 16 {
			t.Fatalf("level dimensions %dx%dx%d", x, y, z)
		}
		break
	}
	if chunks == 0 || percent != 100 {
		t.Fatalf("%d chunks, final percent %d", chunks, percent)
	}

	id, contents := decodeMessage(c.expectPacket(0x0d))
	if id != -1 || contents != "&dWelcome to the server! Enjoyyyyyy" {
		t.Fatalf("welcome message %d %q", id, contents)
	}
	if body := c.expectPacket(0x0f); body[0] != 0x00 {
		t.Fatalf("user type update 0x%02x", body[0])
	}

	spawn := c.expectPacket(0x07)
	if int8(spawn[0]) != -1 {
		t.Fatalf("own spawn id %d, expected -1", int8(spawn[0]))
	}
	if name := decodeString(spawn[1:65]); name != "alice" {
		t.Fatalf("spawned player %q", name)
	}
}

func TestSessionExtensionNegotiation(t *testing.T) {
	srv := newTestServer(t)
	c := dialTestServer(t, srv)
	c.sendIdent(protocol.Version, "alice", "", protocol.ExtensionMagic)

	info := c.expectPacket(0x10)
	r := protocol.NewReader(info)
	if app := r.String(); app != "calcite 0.1.0" {
		t.Fatalf("app name %q", app)
	}
	supported := protocol.Extensions()
	if count := r.Int16(); int(count) != len(supported) {
		t.Fatalf("%d advertised extensions, expected %d", count, len(supported))
	}
	for _, ext := range supported {
		entry := protocol.NewReader(c.expectPacket(0x11))
		if name, version := entry.String(), entry.Int32(); name != ext.Name || version != ext.Version {
			t.Fatalf("advertised %q v%d, expected %q v%d", name, version, ext.Name, ext.Version)
		}
	}

	c.send(func(w *protocol.Writer) {
		w.Uint8(protocol.IDExtInfo)
		w.String("test client")
		w.Int16(2)
	})
	for _, name := range []string{"CustomBlocks", "EnvWeatherType"} {
		c.send(func(w *protocol.Writer) {
			w.Uint8(protocol.IDExtEntry)
			w.String(name)
			w.Int32(1)
		})
	}

	if body := c.expectPacket(0x13); body[0] != block.SupportLevel {
		t.Fatalf("server support level %d", body[0])
	}
	c.send(func(w *protocol.Writer) {
		w.Uint8(protocol.IDCustomBlockSupportLevel)
		w.Uint8(2)
	})

	c.expectPacket(0x00)
	c.expectPacket(0x02)
	for {
		id, _ := c.readPacket()
		if id == 0x03 {
			continue
		}
		if id != 0x04 {
			t.Fatalf("packet 0x%02x inside the level stream", id)
		}
		break
	}
	// The weather follows the level stream for clients with the extension.
	if body := c.expectPacket(0x1f); body[0] != 0x00 {
		t.Fatalf("weather byte 0x%02x", body[0])
	}

	srv.mu.RLock()
	p := srv.players[0]
	extensions, level := p.Extensions, p.CustomBlockLevel
	srv.mu.RUnlock()
	if !extensions.Contains(protocol.ExtCustomBlocks | protocol.ExtEnvWeatherType) {
		t.Fatalf("negotiated mask %b", extensions)
	}
	if extensions.Contains(protocol.ExtLongerMessages) {
		t.Fatalf("extension the client never offered was negotiated")
	}
	if level != block.SupportLevel {
		t.Fatalf("custom block level %d", level)
	}
}

func TestSessionChatEcho(t *testing.T) {
	srv := newTestServer(t)
	c := dialTestServer(t, srv)
	c.join("alice")

	c.sendChat("hi")
	id, contents := decodeMessage(c.expectPacket(0x0d))
	if id != -1 || contents != "&f<alice> hi" {
		t.Fatalf("echoed chat %d %q", id, contents)
	}
}

func TestSplitChat(t *testing.T) {
	if parts := splitChat("&f<alice> hi"); len(parts) != 1 || parts[0] != "&f<alice> hi" {
		t.Fatalf("short line split into %q", parts)
	}

	long := "&f<alice> " + strings.Repeat("wide load ", 10)
	parts := splitChat(long)
	if len(parts) != 2 {
		t.Fatalf("%d fragments: %q", len(parts), parts)
	}
	if !strings.HasSuffix(parts[0], "load ") {
		t.Fatalf("fragment %q not cut at a space", parts[0])
	}
	if !strings.HasPrefix(parts[1], "&f") {
		t.Fatalf("continuation %q not recoloured", parts[1])
	}
	if joined := parts[0] + strings.TrimPrefix(parts[1], "&f"); joined != long {
		t.Fatalf("fragments do not reassemble: %q", joined)
	}

	// A single long word falls back to a hard cut.
	for _, part := range splitChat("&f<bob> " + strings.Repeat("É", 100)) {
		if n := len([]rune(part)); n > protocol.StringLength {
			t.Fatalf("fragment of %d runes: %q", n, part)
		}
	}
}

func TestSessionPermissionDenial(t *testing.T) {
	srv := newTestServer(t)
	w, done := srv.World()
	w.SetBlock(2, 2, 2, block.Bedrock)
	done()

	c := dialTestServer(t, srv)
	c.join("alice")

	c.sendSetBlock(1, 1, 1, 0x01, block.Bedrock)
	if _, contents := decodeMessage(c.expectPacket(0x0d)); contents != "&cNot allow to place this block." {
		t.Fatalf("place denial %q", contents)
	}
	revert := c.expectPacket(0x06)
	if revert[6] != block.Air {
		t.Fatalf("reverted to 0x%02x, expected air", revert[6])
	}

	c.sendSetBlock(2, 2, 2, 0x00, block.Bedrock)
	if _, contents := decodeMessage(c.expectPacket(0x0d)); contents != "&cNot allowed to break this block." {
		t.Fatalf("break denial %q", contents)
	}
	revert = c.expectPacket(0x06)
	if revert[6] != block.Bedrock {
		t.Fatalf("reverted to 0x%02x, expected bedrock", revert[6])
	}
}

func TestSessionKickPropagation(t *testing.T) {
	srv := newTestServer(t)
	srv.mu.Lock()
	srv.conf.Ranks["alice"] = player.Operator
	srv.mu.Unlock()

	alice := dialTestServer(t, srv)
	alice.join("alice")
	bob := dialTestServer(t, srv)
	bob.join("bob")

	alice.sendChat("/kick bob")
	spawn := alice.expectPacket(0x07)
	if name := decodeString(spawn[1:65]); name != "bob" {
		t.Fatalf("spawned player %q", name)
	}
	if _, contents := decodeMessage(alice.expectPacket(0x0d)); contents != "&ebob has joined the server." {
		t.Fatalf("join notice %q", contents)
	}
	if _, contents := decodeMessage(alice.expectPacket(0x0d)); contents != "bob has been kicked" {
		t.Fatalf("kick reply %q", contents)
	}

	// The kick is only delivered once bob's session wakes up from its read.
	bob.sendMove(1, 2, 3)
	for {
		id, body := bob.readPacket()
		if id != 0x0e {
			continue
		}
		if reason := decodeString(body); reason != "Kicked: <no message>" {
			t.Fatalf("kick reason %q", reason)
		}
		break
	}
}

func TestSessionOutOfBounds(t *testing.T) {
	srv := newTestServer(t)
	c := dialTestServer(t, srv)
	c.join("alice")

	c.sendSetBlock(100, 1, 1, 0x01, block.Stone)
	body := c.expectPacket(0x0e)
	if reason := decodeString(body); reason != "Attempt to place block out of bounds" {
		t.Fatalf("disconnect reason %q", reason)
	}
}

func TestSessionUnknownPacketID(t *testing.T) {
	srv := newTestServer(t)
	c := dialTestServer(t, srv)
	c.join("alice")

	if _, err := c.conn.Write([]byte{0xfe}); err != nil {
		t.Fatalf("write unknown packet id: %v", err)
	}
	for {
		id, body := c.readPacket()
		if id != 0x0e {
			continue
		}
		if reason := decodeString(body); reason != "Unknown packet id!" {
			t.Fatalf("disconnect reason %q", reason)
		}
		return
	}
}

func TestSessionDuplicateUsername(t *testing.T) {
	srv := newTestServer(t)
	first := dialTestServer(t, srv)
	first.join("alice")

	second := dialTestServer(t, srv)
	second.sendIdent(protocol.Version, "alice", "", 0x00)
	body := second.expectPacket(0x0e)
	if reason := decodeString(body); reason != "Player with username already connected!" {
		t.Fatalf("disconnect reason %q", reason)
	}
}

func TestSessionWrongProtocolVersion(t *testing.T) {
	srv := newTestServer(t)
	c := dialTestServer(t, srv)
	c.sendIdent(0x06, "alice", "", 0x00)
	body := c.expectPacket(0x0e)
	if reason := decodeString(body); !strings.HasPrefix(reason, "Unknown protocol version!") {
		t.Fatalf("disconnect reason %q", reason)
	}
}

func TestSessionRejectsEarlyPackets(t *testing.T) {
	srv := newTestServer(t)
	c := dialTestServer(t, srv)
	c.sendChat("hello")
	body := c.expectPacket(0x0e)
	if reason := decodeString(body); reason != "Expected player identification first!" {
		t.Fatalf("disconnect reason %q", reason)
	}
}

func TestSessionWrongPassword(t *testing.T) {
	srv := newTestServer(t)
	srv.mu.Lock()
	srv.conf.Protection = Protection{Mode: ProtectionPassword, Password: "hunter2"}
	srv.mu.Unlock()

	c := dialTestServer(t, srv)
	c.sendIdent(protocol.Version, "alice", "wrong", 0x00)
	body := c.expectPacket(0x0e)
	if reason := decodeString(body); reason != "Incorrect password!" {
		t.Fatalf("disconnect reason %q", reason)
	}
}
