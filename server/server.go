// Package server implements a Classic 0.30 multiplayer server: the TCP
// accept loop, the per-connection sessions, the 50ms tick loop driving the
// world simulation and the chat command surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/df-mc/calcite/server/internal/sliceutil"
	"github.com/df-mc/calcite/server/player"
	"github.com/df-mc/calcite/server/protocol"
	"github.com/df-mc/calcite/server/world"
)

// tickInterval is the fixed duration of one server tick.
const tickInterval = time.Millisecond * 50

// maxPlayers is the number of entity ids the wire format can address.
const maxPlayers = 128

// Server is a Classic server. Its state is guarded by a single lock; the
// tick loop and every session goroutine take it for the short, socket-free
// critical sections in which they mutate state and exchange packet queues.
type Server struct {
	conf Config
	log  *slog.Logger

	listener net.Listener

	mu    sync.RWMutex
	world *world.World
	// players is the roster of connected players. A player is added before
	// its extension handshake completes so its username and id are claimed
	// exactly once.
	players []*player.Player
	// freeIDs holds entity ids returned by disconnected players, reused
	// before new ids are minted.
	freeIDs   []int8
	sessions  map[*session]struct{}
	tick      uint64
	stopping  bool
	confDirty bool

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New creates a Server with the fields of conf. It loads the configured
// level from disk, generating a fresh one if none exists. The returned
// server does nothing until Run is called.
func (conf Config) New() (*Server, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Address == "" {
		conf.Address = ":25565"
	}
	w, err := conf.newWorld()
	if err != nil {
		return nil, err
	}
	return &Server{
		conf:     conf,
		log:      conf.Log,
		world:    w,
		sessions: map[*session]struct{}{},
		stop:     make(chan struct{}),
		// The configuration is written back once at startup so a freshly
		// created config file is completed with defaults.
		confDirty: true,
	}, nil
}

// World grants access to the server's level. The returned function releases
// the server's state lock and must be called when done with the world.
func (srv *Server) World() (*world.World, func()) {
	srv.mu.Lock()
	return srv.world, srv.mu.Unlock
}

// Run starts listening and blocks, ticking the world every 50ms, until the
// context is cancelled or Stop is called. On return the level has been
// saved and every player disconnected.
func (srv *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", srv.conf.Address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv.listener = l
	srv.log.Info("Server started.", "addr", l.Addr())

	srv.wg.Add(1)
	go srv.acceptLoop()

	srv.tickLoop(ctx)

	srv.closeListener()
	srv.mu.Lock()
	for s := range srv.sessions {
		if s.p != nil && s.joined {
			srv.world.StorePlayerData(s.p.Name, s.p.Saved())
		}
		s.close()
	}
	snap := srv.world.Snapshot()
	srv.mu.Unlock()

	srv.wg.Wait()
	if err := snap.Save(srv.conf.levelPath()); err != nil {
		return fmt.Errorf("save level on shutdown: %w", err)
	}
	return nil
}

// Stop makes Run return. It may be called from any goroutine and is a no-op
// after the first call.
func (srv *Server) Stop() {
	srv.once.Do(func() {
		close(srv.stop)
	})
}

func (srv *Server) closeListener() {
	if srv.listener != nil {
		_ = srv.listener.Close()
	}
}

func (srv *Server) acceptLoop() {
	defer srv.wg.Done()
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				srv.log.Error("Accept failed.", "error", err)
			}
			return
		}
		srv.startSession(conn)
	}
}

// startSession runs a session for conn. It is exported to the tests through
// the session type's behavior only; callers outside the accept loop are
// expected to pass an already established connection such as a pipe end.
func (srv *Server) startSession(conn net.Conn) {
	s := newSession(srv, conn)
	srv.mu.Lock()
	if srv.stopping {
		srv.mu.Unlock()
		s.disconnect("Server is stopping!")
		return
	}
	srv.sessions[s] = struct{}{}
	srv.mu.Unlock()

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		s.handle()
	}()
}

// tickLoop drives the world simulation until the server stops. Each
// iteration runs under the state lock; the packet queues filled during the
// tick are handed to the sessions' write loops before the lock is
// released, which fixes their wire order without any socket I/O here.
func (srv *Server) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	lastSave := time.Now()
	for {
		select {
		case <-ctx.Done():
			srv.announceStop()
			return
		case <-srv.stop:
			srv.announceStop()
			return
		case <-ticker.C:
		}

		srv.mu.Lock()
		if pks := srv.world.Tick(srv.tick); len(pks) > 0 {
			srv.broadcast(pks...)
		}
		srv.tick++

		var (
			snap        *world.World
			savedNotice bool
		)
		if srv.world.TakeSaveRequest() {
			snap = srv.snapshotLocked()
			savedNotice = true
		} else if srv.conf.AutoSaveInterval > 0 && time.Since(lastSave) >= srv.conf.AutoSaveInterval {
			snap = srv.snapshotLocked()
		}

		var (
			uc      UserConfig
			changed bool
		)
		if srv.confDirty {
			srv.confDirty = false
			uc = srv.userConfig()
			changed = true
		}
		if savedNotice {
			srv.broadcastMessage("Server has saved!")
		}
		srv.flushSessions()
		srv.mu.Unlock()

		if snap != nil {
			lastSave = time.Now()
			srv.wg.Add(1)
			go func() {
				defer srv.wg.Done()
				if err := snap.Save(srv.conf.levelPath()); err != nil {
					srv.log.Error("Failed to save level.", "error", err)
				}
			}()
		}
		if changed && srv.conf.Changed != nil {
			srv.conf.Changed(uc)
		}
	}
}

// announceStop marks the server stopping and kicks every player. Sessions
// deliver the kick and terminate; Run finishes the shutdown.
func (srv *Server) announceStop() {
	srv.mu.Lock()
	srv.stopping = true
	for _, p := range srv.players {
		if p.KickReason == "" {
			p.KickReason = "Server is stopping!"
		}
	}
	sessions := make([]*session, 0, len(srv.sessions))
	for s := range srv.sessions {
		sessions = append(sessions, s)
	}
	srv.mu.Unlock()

	for _, s := range sessions {
		s.deliverKick()
	}
}

// snapshotLocked stores the live players' positions into the level's player
// data and returns a deep copy of the world for saving outside the lock.
func (srv *Server) snapshotLocked() *world.World {
	for _, p := range srv.players {
		srv.world.StorePlayerData(p.Name, p.Saved())
	}
	return srv.world.Snapshot()
}

// broadcast appends packets to every player's queue. The state lock must be
// held.
func (srv *Server) broadcast(pks ...protocol.ServerPacket) {
	for _, p := range srv.players {
		p.Send(pks...)
	}
}

// broadcastMessage sends a server chat line to every player. The state lock
// must be held.
func (srv *Server) broadcastMessage(line string) {
	srv.broadcast(&protocol.Message{ID_: -1, Contents: line})
}

// flushSessions drains every joined player's packet queue, applying the
// echo rules per receiving player, and hands the encoded batches to the
// sessions' write loops. The state lock must be held. No socket writes
// happen here: a client that stopped reading stalls only its own write
// loop, never the tick.
func (srv *Server) flushSessions() {
	for s := range srv.sessions {
		if s.p == nil || !s.joined {
			continue
		}
		if buf := drainQueue(s.p); len(buf) > 0 {
			s.queueWrite(buf)
		}
	}
}

// drainQueue encodes and clears p's packet queue. Packets carrying p's own
// id are dropped unless their kind echoes, in which case the id is
// rewritten to -1 so the client recognises itself.
func drainQueue(p *player.Player) []byte {
	if len(p.Queue) == 0 {
		return nil
	}
	var buf []byte
	for _, pk := range p.Queue {
		if ip, ok := pk.(protocol.IdentifiedPacket); ok && ip.PlayerID() == p.ID {
			if !ip.Echoes() {
				continue
			}
			// Queued packets are shared between players, so the id is
			// restored right after encoding.
			ip.SetPlayerID(-1)
			buf = append(buf, protocol.EncodePacket(pk)...)
			ip.SetPlayerID(p.ID)
			continue
		}
		buf = append(buf, protocol.EncodePacket(pk)...)
	}
	p.Queue = nil
	return buf
}

// findPlayer returns the connected player with the given username. The
// state lock must be held.
func (srv *Server) findPlayer(username string) (*player.Player, bool) {
	return sliceutil.FirstFunc(srv.players, func(p *player.Player) bool {
		return p.Name == username
	})
}

// allocateID returns a free entity id, or false if the server is full.
// Returned ids are reused first; when none are free, the roster is dense
// and its length is the next unused id. The state lock must be held.
func (srv *Server) allocateID() (int8, bool) {
	if n := len(srv.freeIDs); n > 0 {
		id := srv.freeIDs[n-1]
		srv.freeIDs = srv.freeIDs[:n-1]
		return id, true
	}
	if len(srv.players) >= maxPlayers {
		return 0, false
	}
	return int8(len(srv.players)), true
}

// removePlayer takes p off the roster and returns its id to the free pool.
// When joined, the player's state is persisted and the departure announced
// to the remaining players; a player whose handshake never completed was
// never seen by anyone and leaves silently. The state lock must be held.
func (srv *Server) removePlayer(p *player.Player, joined bool) {
	for i, q := range srv.players {
		if q == p {
			srv.players = append(srv.players[:i], srv.players[i+1:]...)
			srv.freeIDs = append(srv.freeIDs, p.ID)
			if !joined {
				return
			}
			srv.world.StorePlayerData(p.Name, p.Saved())
			srv.broadcast(
				&protocol.DespawnPlayer{ID_: p.ID},
				&protocol.Message{ID_: p.ID, Contents: fmt.Sprintf("&e%s has left the server.", p.Name)},
			)
			return
		}
	}
}
