// Package world implements the voxel world: the block volume, the queues
// driving the deterministic tick simulation, level rules, weather and the
// per-player data the level persists. A World is not safe for concurrent
// use; the server mediates all access through its state lock.
package world

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/df-mc/calcite/server/block"
	"github.com/df-mc/calcite/server/internal/sliceutil"
	"github.com/df-mc/calcite/server/player"
	"github.com/df-mc/calcite/server/protocol"
)

// Config holds the options for creating an empty World.
type Config struct {
	// Log is the logger used for world events. Defaults to slog.Default().
	Log *slog.Logger
	// X, Y, Z are the world dimensions in blocks. All must be positive.
	X, Y, Z int
	// Rand drives random ticking and generation. A source seeded from the
	// clock is used if nil.
	Rand *rand.Rand
}

// New creates an empty world of the configured dimensions, filled with air.
func (conf Config) New() *World {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.X <= 0 || conf.Y <= 0 || conf.Z <= 0 {
		panic("world: dimensions must be positive")
	}
	if conf.Rand == nil {
		conf.Rand = rand.New(rand.NewPCG(rand.Uint64(), uint64(time.Now().UnixNano())))
	}
	return &World{
		log:        conf.Log,
		xs:         conf.X,
		ys:         conf.Y,
		zs:         conf.Z,
		blocks:     make([]byte, conf.X*conf.Y*conf.Z),
		rules:      DefaultRules(),
		playerData: make(map[string]player.SavedData),
		r:          conf.Rand,
	}
}

// BlockUpdate is one queued block mutation, applied and broadcast on the
// next ApplyUpdates pass.
type BlockUpdate struct {
	Index int
	Block byte
}

// World is a single persistent level.
type World struct {
	log        *slog.Logger
	xs, ys, zs int
	blocks     []byte

	weather Weather
	rules   Rules

	// awaiting holds block indices scheduled for the next tick, kept
	// sorted and deduplicated so tick processing is deterministic.
	awaiting []int
	// randomPool holds indices eligible for random tick sampling.
	// Duplicates are allowed; sampling pops entries.
	randomPool []int
	// updates is the insertion-ordered mutation queue.
	updates []BlockUpdate

	saveNow    bool
	playerData map[string]player.SavedData

	r *rand.Rand
}

// Size returns the world dimensions in blocks.
func (w *World) Size() (xs, ys, zs int) {
	return w.xs, w.ys, w.zs
}

// Volume returns the total number of blocks in the world.
func (w *World) Volume() int {
	return w.xs * w.ys * w.zs
}

// Index maps block coordinates to their offset in the block array. The
// mapping is part of the level stream wire format.
func (w *World) Index(x, y, z int) int {
	return x + z*w.xs + y*w.xs*w.zs
}

// Coords inverts Index.
func (w *World) Coords(index int) (x, y, z int) {
	x = index % w.xs
	z = (index / w.xs) % w.zs
	y = index / (w.xs * w.zs)
	return x, y, z
}

// InBounds reports if the coordinates lie inside the world.
func (w *World) InBounds(x, y, z int) bool {
	return x >= 0 && x < w.xs && y >= 0 && y < w.ys && z >= 0 && z < w.zs
}

// Block returns the block id at the given coordinates.
func (w *World) Block(x, y, z int) byte {
	return w.blocks[w.Index(x, y, z)]
}

// SetBlock writes a block directly, without queueing, notifications or
// broadcasts. It is meant for generators filling a fresh world.
func (w *World) SetBlock(x, y, z int, id byte) {
	w.blocks[w.Index(x, y, z)] = id
}

// CopyBlocks returns a copy of the raw block array.
func (w *World) CopyBlocks() []byte {
	return append([]byte(nil), w.blocks...)
}

// QueueUpdate appends a block mutation to the update queue.
func (w *World) QueueUpdate(u BlockUpdate) {
	w.updates = append(w.updates, u)
}

// ScheduleUpdate registers a block index for processing on the next tick.
func (w *World) ScheduleUpdate(index int) {
	sliceutil.InsertSorted(&w.awaiting, index)
}

// MarkRandomCandidate adds a block index to the random tick pool.
func (w *World) MarkRandomCandidate(index int) {
	w.randomPool = append(w.randomPool, index)
}

// ApplyUpdates drains the update queue: it collapses duplicate indices
// keeping the last queued block, writes the surviving updates to the block
// array and schedules every neighbour (diagonals and self included) whose
// block wants a notification on change. It returns one SetBlock broadcast
// per applied update, in queue order. This is the only path that emits
// block change packets.
func (w *World) ApplyUpdates() []protocol.ServerPacket {
	if len(w.updates) == 0 {
		return nil
	}
	collapsed := w.updates[:0]
	slot := make(map[int]int, len(w.updates))
	for _, u := range w.updates {
		if at, ok := slot[u.Index]; ok {
			collapsed[at].Block = u.Block
			continue
		}
		slot[u.Index] = len(collapsed)
		collapsed = append(collapsed, u)
	}
	w.updates = nil

	packets := make([]protocol.ServerPacket, 0, len(collapsed))
	for _, u := range collapsed {
		x, y, z := w.Coords(u.Index)
		w.blocks[u.Index] = u.Block
		packets = append(packets, &protocol.SetBlock{
			X: int16(x), Y: int16(y), Z: int16(z), Block: u.Block,
		})
		for _, n := range w.neighborsFull(x, y, z) {
			info, ok := block.Lookup(w.Block(n[0], n[1], n[2]))
			if ok && info.NeedsUpdateWhenNeighborChanged() {
				w.ScheduleUpdate(w.Index(n[0], n[1], n[2]))
			}
		}
	}
	return packets
}

// Weather returns the current weather.
func (w *World) Weather() Weather {
	return w.weather
}

// SetWeather changes the current weather. The caller is responsible for
// broadcasting the change.
func (w *World) SetWeather(weather Weather) {
	w.weather = weather
}

// Rules returns the world's mutable rule set.
func (w *World) Rules() *Rules {
	return &w.rules
}

// RequestSave asks the server to persist the world out of band. The flag
// is consumed by TakeSaveRequest.
func (w *World) RequestSave() {
	w.saveNow = true
}

// TakeSaveRequest reports and clears a pending save request.
func (w *World) TakeSaveRequest() bool {
	r := w.saveNow
	w.saveNow = false
	return r
}

// PlayerData returns the persisted data of the named player, if any.
func (w *World) PlayerData(username string) (player.SavedData, bool) {
	d, ok := w.playerData[username]
	return d, ok
}

// StorePlayerData records a player's persistent data, keyed by username.
func (w *World) StorePlayerData(username string, d player.SavedData) {
	w.playerData[username] = d
}

// Snapshot returns a deep copy of the world's persistent state, for saving
// outside the server's lock. Pending queues are carried over so a level
// saved mid-simulation resumes correctly.
func (w *World) Snapshot() *World {
	cp := &World{
		log:        w.log,
		xs:         w.xs,
		ys:         w.ys,
		zs:         w.zs,
		blocks:     append([]byte(nil), w.blocks...),
		weather:    w.weather,
		rules:      w.rules,
		awaiting:   append([]int(nil), w.awaiting...),
		randomPool: append([]int(nil), w.randomPool...),
		playerData: make(map[string]player.SavedData, len(w.playerData)),
		r:          w.r,
	}
	for name, d := range w.playerData {
		cp.playerData[name] = d
	}
	return cp
}

// neighborsFull returns the in-bounds coordinates of the 3x3x3 cube around
// the given block, the block itself included.
func (w *World) neighborsFull(x, y, z int) [][3]int {
	out := make([][3]int, 0, 27)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				if w.InBounds(x+dx, y+dy, z+dz) {
					out = append(out, [3]int{x + dx, y + dy, z + dz})
				}
			}
		}
	}
	return out
}

// horizontalOffsets is the 4-neighbour ring used by fluid spreading and,
// repeated at three heights, by grass spreading.
var horizontalOffsets = [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// neighborsMinusUp returns the in-bounds direct neighbours except the one
// above: below first, then the horizontal ring.
func (w *World) neighborsMinusUp(x, y, z int) [][3]int {
	out := make([][3]int, 0, 5)
	if w.InBounds(x, y-1, z) {
		out = append(out, [3]int{x, y - 1, z})
	}
	for _, d := range horizontalOffsets {
		if w.InBounds(x+d[0], y, z+d[1]) {
			out = append(out, [3]int{x + d[0], y, z + d[1]})
		}
	}
	return out
}

// neighborsWithVerticalDiagonals returns the in-bounds horizontal ring at
// the block's own height and at one block below and above it.
func (w *World) neighborsWithVerticalDiagonals(x, y, z int) [][3]int {
	out := make([][3]int, 0, 12)
	for _, dy := range [3]int{0, -1, 1} {
		for _, d := range horizontalOffsets {
			if w.InBounds(x+d[0], y+dy, z+d[1]) {
				out = append(out, [3]int{x + d[0], y + dy, z + d[1]})
			}
		}
	}
	return out
}

// Weather is the level's weather as rendered by clients with the
// EnvWeatherType extension.
type Weather uint8

const (
	Sunny Weather = iota
	Raining
	Snowing
)

// String returns the weather's name as used by /weather.
func (w Weather) String() string {
	switch w {
	case Raining:
		return "Raining"
	case Snowing:
		return "Snowing"
	}
	return "Sunny"
}

// ParseWeather parses a weather name case-insensitively.
func ParseWeather(s string) (Weather, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sunny":
		return Sunny, nil
	case "raining":
		return Raining, nil
	case "snowing":
		return Snowing, nil
	}
	return Sunny, fmt.Errorf("unknown weather type %q", s)
}

// MarshalText implements encoding.TextMarshaler for the level sidecar.
func (w Weather) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *Weather) UnmarshalText(b []byte) error {
	parsed, err := ParseWeather(string(b))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
