package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/df-mc/calcite/server/block"
	"github.com/df-mc/calcite/server/player"
	"github.com/df-mc/calcite/server/protocol"
	"github.com/df-mc/calcite/server/world"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// disconnectError is an error whose text is sent to the client in a
// DisconnectPlayer packet before the connection closes.
type disconnectError string

func (e disconnectError) Error() string { return string(e) }

// session is the goroutine-side of one client connection. Its read loop
// owns all reads; a companion write loop owns all queue-drain writes, so a
// client that stops reading only stalls its own connection, never the tick
// loop.
type session struct {
	srv  *Server
	conn net.Conn
	log  *slog.Logger

	// wmu serialises raw socket writes between the write loop and the
	// direct disconnect-packet path.
	wmu sync.Mutex

	// pending holds encoded batches awaiting the write loop, in the order
	// they were drained. Guarded by pmu.
	pmu     sync.Mutex
	pending [][]byte
	// wake nudges the write loop; closing done stops it.
	wake chan struct{}
	done chan struct{}

	// p is nil until the player identification was accepted and the player
	// claimed a roster slot.
	p *player.Player
	// joined is set once the join stream was handed to the write loop.
	// Until then the tick loop must not flush the player's queue and a
	// departure is not announced: nobody has seen the player yet. Guarded
	// by srv.mu.
	joined bool

	// msgParts accumulates chat fragments from clients with the longer
	// messages extension.
	msgParts []string
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{
		srv:  srv,
		conn: conn,
		log:  srv.log.With("addr", conn.RemoteAddr(), "trace", uuid.New()),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// handle runs the session to completion and cleans up after it.
func (s *session) handle() {
	s.srv.wg.Add(1)
	go func() {
		defer s.srv.wg.Done()
		s.writeLoop()
	}()

	err := s.run()

	var reason disconnectError
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		s.log.Debug("Client disconnected.")
	case errors.As(err, &reason):
		s.log.Info("Disconnecting client.", "reason", string(reason))
		// Best effort: the deadline interrupts a write loop blocked on a
		// client that stopped reading, so cleanup is never held hostage.
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		s.writePacket(&protocol.DisconnectPlayer{Reason: string(reason)})
	default:
		s.log.Error("Session failed.", "error", err)
	}
	close(s.done)
	_ = s.conn.Close()

	srv := s.srv
	srv.mu.Lock()
	delete(srv.sessions, s)
	if s.p != nil {
		srv.removePlayer(s.p, s.joined)
	}
	srv.mu.Unlock()
}

func (s *session) run() error {
	pk, err := s.readPacket()
	if err != nil {
		return err
	}
	ident, ok := pk.(*protocol.PlayerIdentification)
	if !ok {
		return disconnectError("Expected player identification first!")
	}
	if err := s.join(ident); err != nil {
		return err
	}

	for {
		if reason := s.kickReason(); reason != "" {
			return disconnectError(reason)
		}
		pk, err := s.readPacket()
		if err != nil {
			return err
		}
		switch pk := pk.(type) {
		case *protocol.SetBlockRequest:
			if err := s.handleSetBlock(pk); err != nil {
				return err
			}
		case *protocol.PositionOrientation:
			s.handleMove(pk)
		case *protocol.ChatMessage:
			s.handleChat(pk)
		default:
			return disconnectError("Unexpected packet in this phase!")
		}
		s.flushOwn()
	}
}

// readPacket reads the next client packet. An unknown packet id is turned
// into a session-fatal disconnect: with no length prefix the stream cannot
// be resynchronised past one.
func (s *session) readPacket() (protocol.ClientPacket, error) {
	pk, err := protocol.ReadClientPacket(s.conn)
	if errors.Is(err, protocol.ErrUnknownPacket) {
		return nil, disconnectError("Unknown packet id!")
	}
	return pk, err
}

// join authenticates the identification, claims a roster slot, negotiates
// extensions and streams the level, world state and roster to the client.
func (s *session) join(ident *protocol.PlayerIdentification) error {
	if ident.ProtocolVersion != protocol.Version {
		return disconnectError("Unknown protocol version! Please connect with a classic 0.30-compatible client.")
	}

	srv := s.srv
	srv.mu.Lock()
	if srv.stopping {
		srv.mu.Unlock()
		return disconnectError("Server is stopping!")
	}
	if !srv.conf.Protection.Verify(ident.Username, ident.VerificationKey) {
		srv.mu.Unlock()
		return disconnectError("Incorrect password!")
	}
	if _, ok := srv.findPlayer(ident.Username); ok {
		srv.mu.Unlock()
		return disconnectError("Player with username already connected!")
	}
	id, ok := srv.allocateID()
	if !ok {
		srv.mu.Unlock()
		return disconnectError("Server is full!")
	}
	p := &player.Player{
		ID:   id,
		Name: ident.Username,
		Addr: s.conn.RemoteAddr(),
		Rank: srv.conf.Ranks[ident.Username],
	}
	s.p = p
	srv.players = append(srv.players, p)
	srv.mu.Unlock()

	// The roster slot is claimed, so the extension handshake can run its
	// socket roundtrips without holding the lock.
	if ident.Magic == protocol.ExtensionMagic {
		extensions, level, err := negotiateExtensions(s.conn)
		if err != nil {
			return err
		}
		srv.mu.Lock()
		p.Extensions = extensions
		p.CustomBlockLevel = level
		srv.mu.Unlock()
	}
	s.log = s.log.With("player", p.Name)
	s.log.Info("Player joined.", "id", p.ID, "rank", p.Rank.String())

	srv.mu.Lock()
	buf, err := s.assembleJoin()
	if err != nil {
		srv.mu.Unlock()
		return err
	}
	s.joined = true
	// Handing the stream over under the state lock fixes its place in the
	// wire order before any tick flush can drain later packets.
	s.queueWrite(buf)
	srv.mu.Unlock()
	return nil
}

// assembleJoin builds the complete encoded join stream: identification,
// level data, world state and the roster, ending with the player's own
// spawn echo. The state lock must be held. Broadcasts queued during the
// extension handshake never reached the wire and are discarded in favour
// of the roster snapshot taken here.
func (s *session) assembleJoin() ([]byte, error) {
	srv, p := s.srv, s.p
	p.Queue = nil

	replies := []protocol.ServerPacket{&protocol.ServerIdentification{
		ProtocolVersion: protocol.Version,
		Name:            srv.conf.Name,
		MOTD:            srv.conf.MOTD,
		UserType:        p.Rank.WireByte(),
	}}
	xs, ys, zs := srv.world.Size()

	if saved, ok := srv.world.PlayerData(p.Name); ok {
		p.Restore(saved)
	} else if srv.conf.Spawn != nil {
		p.Position = *srv.conf.Spawn
	} else {
		p.Position = mgl32.Vec3{16.5, float32(ys/2 + 2), 16.5}
	}

	customBlocks := p.Extensions.Contains(protocol.ExtCustomBlocks) && p.CustomBlockLevel >= 1
	level, err := buildLevelPackets(srv.world.CopyBlocks(), xs, ys, zs, customBlocks)
	if err != nil {
		return nil, err
	}
	replies = append(replies, level...)

	if p.Extensions.Contains(protocol.ExtEnvWeatherType) {
		replies = append(replies, &protocol.EnvSetWeatherType{Weather: byte(srv.world.Weather())})
	}

	spawn := &protocol.SpawnPlayer{
		ID_: p.ID, Name: p.Name,
		X: p.Position.X(), Y: p.Position.Y(), Z: p.Position.Z(),
		Yaw: p.Yaw, Pitch: p.Pitch,
	}
	joined := &protocol.Message{ID_: p.ID, Contents: fmt.Sprintf("&e%s has joined the server.", p.Name)}
	for _, q := range srv.players {
		q.Send(spawn)
		if q != p {
			replies = append(replies, &protocol.SpawnPlayer{
				ID_: q.ID, Name: q.Name,
				X: q.Position.X(), Y: q.Position.Y(), Z: q.Position.Z(),
				Yaw: q.Yaw, Pitch: q.Pitch,
			})
			q.Send(joined)
		}
	}
	replies = append(replies, &protocol.Message{ID_: -1, Contents: "&dWelcome to the server! Enjoyyyyyy"})
	replies = append(replies, &protocol.UpdateUserType{UserType: p.Rank.WireByte()})
	if p.Extensions.Contains(protocol.ExtSetSpawnpoint) {
		replies = append(replies, &protocol.SetSpawnPoint{
			X: p.Position.X(), Y: p.Position.Y(), Z: p.Position.Z(),
			Yaw: p.Yaw, Pitch: p.Pitch,
		})
	}
	if p.Extensions.Contains(protocol.ExtInventoryOrder) {
		replies = append(replies, inventoryPackets(p.Rank, customBlocks)...)
	}

	var buf []byte
	for _, pk := range replies {
		buf = append(buf, protocol.EncodePacket(pk)...)
	}
	// The queue now holds the spawn echo, rewritten to -1 by the drain.
	return append(buf, drainQueue(p)...), nil
}

// handleSetBlock validates a client block change and queues it into the
// world, or reverts it client-side when it is not allowed.
func (s *session) handleSetBlock(pk *protocol.SetBlockRequest) error {
	target := pk.Block
	if pk.Mode == 0x00 {
		target = block.Air
	}

	srv := s.srv
	srv.mu.Lock()
	defer srv.mu.Unlock()

	x, y, z := int(pk.X), int(pk.Y), int(pk.Z)
	if !srv.world.InBounds(x, y, z) {
		return disconnectError("Attempt to place block out of bounds")
	}
	placed, ok := block.Lookup(target)
	if !ok {
		s.p.Message(fmt.Sprintf("&cUnknown block ID: 0x%x", target))
		return nil
	}
	current := srv.world.Block(x, y, z)
	existing, ok := block.Lookup(current)
	if !ok {
		existing = block.Info{}
	}

	cancel := false
	if s.p.Rank < placed.Place {
		cancel = true
		s.p.Message("&cNot allow to place this block.")
	} else if s.p.Rank < existing.Break {
		cancel = true
		s.p.Message("&cNot allowed to break this block.")
	}
	if cancel {
		s.p.Send(&protocol.SetBlock{X: pk.X, Y: pk.Y, Z: pk.Z, Block: current})
		return nil
	}

	index := srv.world.Index(x, y, z)
	srv.world.QueueUpdate(world.BlockUpdate{Index: index, Block: target})
	if placed.NeedsUpdateOnPlace() {
		srv.world.ScheduleUpdate(index)
	}
	if placed.RandomTicks {
		srv.world.MarkRandomCandidate(index)
	}
	return nil
}

// handleMove records the client's reported position and relays it to the
// other players.
func (s *session) handleMove(pk *protocol.PositionOrientation) {
	srv := s.srv
	srv.mu.Lock()
	defer srv.mu.Unlock()

	s.p.Position = mgl32.Vec3{pk.X, pk.Y, pk.Z}
	s.p.Yaw = pk.Yaw
	s.p.Pitch = pk.Pitch
	if s.p.Extensions.Contains(protocol.ExtHeldBlock) {
		s.p.HeldBlock = pk.HeldBlock
	}
	srv.broadcast(&protocol.SetPositionOrientation{
		ID_: s.p.ID,
		X:   pk.X, Y: pk.Y, Z: pk.Z,
		Yaw: pk.Yaw, Pitch: pk.Pitch,
	})
}

// handleChat assembles the chat line, then runs it as a command or spreads
// it as chat.
func (s *session) handleChat(pk *protocol.ChatMessage) {
	srv := s.srv
	srv.mu.Lock()
	defer srv.mu.Unlock()

	contents := pk.Contents
	if s.p.Extensions.Contains(protocol.ExtLongerMessages) {
		s.msgParts = append(s.msgParts, contents)
		if pk.FollowUp != 0 {
			return
		}
		contents = strings.Join(s.msgParts, "")
		s.msgParts = nil
	}

	if rest, ok := strings.CutPrefix(contents, commandPrefix); ok {
		srv.executeCommand(playerSource{p: s.p}, rest)
		return
	}

	s.log.Info("Chat.", "message", contents)
	for _, part := range splitChat(fmt.Sprintf("&f<%s> %s", s.p.Name, contents)) {
		srv.broadcast(&protocol.Message{ID_: s.p.ID, Contents: part})
	}
}

// splitChat breaks a chat line into fragments that fit a wire string,
// preferring to break after the last space in the window. Continuation
// fragments are re-prefixed with the white colour code. The window is
// counted in runes: the codec writes one byte per rune.
func splitChat(line string) []string {
	runes := []rune(line)
	var parts []string
	for len(runes) > protocol.StringLength {
		cut := protocol.StringLength
		// A cut before the prefix would not shrink the remainder.
		for i := protocol.StringLength; i > len("&f")+1; i-- {
			if runes[i-1] == ' ' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = append([]rune("&f"), runes[cut:]...)
	}
	return append(parts, string(runes))
}

// kickReason returns the player's pending kick reason, if any.
func (s *session) kickReason() string {
	s.srv.mu.RLock()
	defer s.srv.mu.RUnlock()
	return s.p.KickReason
}

// flushOwn drains the session's own packet queue to the write loop.
func (s *session) flushOwn() {
	s.srv.mu.Lock()
	if buf := drainQueue(s.p); len(buf) > 0 {
		s.queueWrite(buf)
	}
	s.srv.mu.Unlock()
}

// queueWrite hands an encoded batch to the write loop. Callers hold the
// state lock, which fixes the order in which batches reach the wire.
func (s *session) queueWrite(buf []byte) {
	s.pmu.Lock()
	s.pending = append(s.pending, buf)
	s.pmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// writeLoop writes handed-over batches to the socket in order. It is the
// only goroutine performing queue-drain writes, so a client that stops
// reading blocks this loop and nothing else. A failed write closes the
// connection to unblock the read side.
func (s *session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.pmu.Lock()
			pending := s.pending
			s.pending = nil
			s.pmu.Unlock()
			if len(pending) == 0 {
				break
			}
			for _, buf := range pending {
				if err := s.write(buf); err != nil {
					_ = s.conn.Close()
					return
				}
			}
		}
	}
}

// deliverKick pushes the pending kick to the client immediately and closes
// the connection, unblocking the session's read.
func (s *session) deliverKick() {
	reason := "Server is stopping!"
	s.srv.mu.RLock()
	if s.p != nil && s.p.KickReason != "" {
		reason = s.p.KickReason
	}
	s.srv.mu.RUnlock()
	s.disconnect(reason)
}

// disconnect sends a disconnect packet with the given reason and closes the
// connection. The deadline keeps a client that stopped reading from
// blocking the caller.
func (s *session) disconnect(reason string) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	s.writePacket(&protocol.DisconnectPlayer{Reason: reason})
	_ = s.conn.Close()
}

func (s *session) close() {
	_ = s.conn.Close()
}

func (s *session) writePacket(pk protocol.ServerPacket) {
	_ = s.write(protocol.EncodePacket(pk))
}

func (s *session) write(buf []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.conn.Write(buf)
	return err
}

// buildLevelPackets assembles the level stream: an initialize packet, the
// gzip-compressed block array prefixed with its big-endian length in 1024
// byte chunks, and a finalize packet with the dimensions. Clients without
// full custom block support receive each extended block's canonical
// fallback instead.
func buildLevelPackets(blocks []byte, xs, ys, zs int, customBlocks bool) ([]protocol.ServerPacket, error) {
	packets := []protocol.ServerPacket{&protocol.LevelInitialize{}}

	volume := len(blocks)
	raw := make([]byte, 0, volume+4)
	raw = append(raw, byte(volume>>24), byte(volume>>16), byte(volume>>8), byte(volume))
	if customBlocks {
		raw = append(raw, blocks...)
	} else {
		for _, b := range blocks {
			if b > block.MaxCanonical {
				b = block.FallbackFor(b)
			}
			raw = append(raw, b)
		}
	}

	var compressed bytes.Buffer
	gz, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("create level encoder: %w", err)
	}
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("compress level: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("flush level encoder: %w", err)
	}

	data := compressed.Bytes()
	total := len(data)
	sent := 0
	for len(data) > 0 {
		n := min(len(data), protocol.ArrayLength)
		chunk := data[:n]
		data = data[n:]
		sent += n
		packets = append(packets, &protocol.LevelDataChunk{
			Length:          int16(n),
			Data:            chunk,
			PercentComplete: byte(sent * 100 / total),
		})
	}
	packets = append(packets, &protocol.LevelFinalize{X: int16(xs), Y: int16(ys), Z: int16(zs)})
	return packets, nil
}

// inventoryPackets builds the inventory layout for a player: every block in
// catalog order, with blocks the player may not place hidden. Without full
// custom block support the extended ids are left untouched.
func inventoryPackets(rank player.Rank, customBlocks bool) []protocol.ServerPacket {
	var packets []protocol.ServerPacket
	for id := 0; id < 256; id++ {
		info, ok := block.Lookup(byte(id))
		if !ok {
			continue
		}
		if !customBlocks && byte(id) > block.MaxCanonical {
			break
		}
		shown := byte(id)
		if rank < info.Place {
			shown = 0
		}
		packets = append(packets, &protocol.SetInventoryOrder{Order: byte(id), Block: shown})
	}
	return packets
}
