// Package block holds the static catalog of Classic block types. The
// catalog is built once at init and never mutated; it is the authority for
// placement and breaking permissions and for the simulation flags the tick
// engine consults.
package block

import (
	"github.com/df-mc/calcite/server/player"
)

// Kind classifies a block for the tick engine and for client-side physics.
type Kind uint8

const (
	// Solid is a regular full block.
	Solid Kind = iota
	// NonSolid has no collision; fluids may flow into it.
	NonSolid
	// Slab is a half-height block.
	Slab
	// Rope can be climbed.
	Rope
	// FluidFlowing is a fluid actively spreading.
	FluidFlowing
	// FluidStationary is a fluid at rest until a neighbour changes.
	FluidStationary
)

// Info is the static record of one block id.
type Info struct {
	// Name is the block's string id as used in generator layer
	// configuration.
	Name string
	Kind Kind
	// Place and Break are the minimum ranks required to place this block
	// and to break (or replace) it.
	Place, Break player.Rank
	// Fallback is the id shown to clients without custom block support in
	// place of an extended id. Zero for canonical blocks.
	Fallback byte
	// Stationary is the settled form of a FluidFlowing block and Moving
	// the flowing form of a FluidStationary one.
	Stationary, Moving byte
	// TicksToSpread is the flow period of a FluidFlowing block: it spreads
	// on ticks divisible by it.
	TicksToSpread uint64
	// RandomTicks marks blocks eligible for the random tick pool.
	RandomTicks bool
}

// NeedsUpdateOnPlace reports if placing the block must schedule a tick
// update at its position.
func (i Info) NeedsUpdateOnPlace() bool {
	return i.Kind == FluidFlowing
}

// NeedsUpdateWhenNeighborChanged reports if the block must be re-examined
// when any of its neighbours changes.
func (i Info) NeedsUpdateWhenNeighborChanged() bool {
	return i.Kind == FluidStationary
}

// Canonical block ids understood by every Classic 0.30 client.
const (
	Air             byte = 0x00
	Stone           byte = 0x01
	Grass           byte = 0x02
	Dirt            byte = 0x03
	Cobblestone     byte = 0x04
	Planks          byte = 0x05
	Sapling         byte = 0x06
	Bedrock         byte = 0x07
	WaterFlowing    byte = 0x08
	WaterStationary byte = 0x09
	LavaFlowing     byte = 0x0a
	LavaStationary  byte = 0x0b
	Sand            byte = 0x0c
	Obsidian        byte = 0x31
)

// MaxCanonical is the highest block id of the base protocol. Ids above it
// require the CustomBlocks extension and carry a fallback.
const MaxCanonical byte = 0x31

// SupportLevel is the CustomBlocks support level implemented by this
// catalog.
const SupportLevel byte = 1

var (
	catalog [256]*Info
	byName  = map[string]byte{}
)

func register(id byte, info Info) {
	if catalog[id] != nil {
		panic("block: duplicate id registered")
	}
	if id > MaxCanonical && info.Fallback > MaxCanonical {
		panic("block: extended id registered without canonical fallback")
	}
	c := info
	catalog[id] = &c
	byName[info.Name] = id
}

// Lookup returns the catalog entry for id. The second return value is
// false for unassigned ids.
func Lookup(id byte) (Info, bool) {
	if info := catalog[id]; info != nil {
		return *info, true
	}
	return Info{}, false
}

// ByName resolves a block's string id to its byte id.
func ByName(name string) (byte, bool) {
	id, ok := byName[name]
	return id, ok
}

// FallbackFor maps id to what a client without custom block support should
// see: canonical ids pass through, extended ids map to their fallback and
// unassigned ids to air.
func FallbackFor(id byte) byte {
	if id <= MaxCanonical {
		return id
	}
	if info := catalog[id]; info != nil {
		return info.Fallback
	}
	return Air
}

func solid(name string) Info {
	return Info{Name: name, Kind: Solid}
}

func nonSolid(name string) Info {
	return Info{Name: name, Kind: NonSolid}
}

func extended(name string, kind Kind, fallback byte) Info {
	return Info{Name: name, Kind: kind, Fallback: fallback}
}

func init() {
	register(Air, nonSolid("air"))
	register(Stone, solid("stone"))
	register(Grass, Info{Name: "grass", Kind: Solid, RandomTicks: true})
	register(Dirt, Info{Name: "dirt", Kind: Solid, RandomTicks: true})
	register(Cobblestone, solid("cobblestone"))
	register(Planks, solid("planks"))
	register(Sapling, nonSolid("sapling"))
	register(Bedrock, Info{Name: "bedrock", Kind: Solid, Place: player.Operator, Break: player.Operator})
	register(WaterFlowing, Info{
		Name: "water_flowing", Kind: FluidFlowing,
		Stationary: WaterStationary, TicksToSpread: 3,
		Place: player.Operator, Break: player.Normal,
	})
	register(WaterStationary, Info{
		Name: "water_stationary", Kind: FluidStationary,
		Moving: WaterFlowing,
		Place:  player.Operator, Break: player.Normal,
	})
	register(LavaFlowing, Info{
		Name: "lava_flowing", Kind: FluidFlowing,
		Stationary: LavaStationary, TicksToSpread: 15,
		Place: player.Operator, Break: player.Normal,
	})
	register(LavaStationary, Info{
		Name: "lava_stationary", Kind: FluidStationary,
		Moving: LavaFlowing,
		Place:  player.Operator, Break: player.Normal,
	})
	register(Sand, solid("sand"))
	register(0x0d, solid("gravel"))
	register(0x0e, solid("gold_ore"))
	register(0x0f, solid("iron_ore"))
	register(0x10, solid("coal_ore"))
	register(0x11, solid("wood"))
	register(0x12, solid("leaves"))
	register(0x13, solid("sponge"))
	register(0x14, solid("glass"))
	register(0x15, solid("cloth_red"))
	register(0x16, solid("cloth_orange"))
	register(0x17, solid("cloth_yellow"))
	register(0x18, solid("cloth_chartreuse"))
	register(0x19, solid("cloth_green"))
	register(0x1a, solid("cloth_spring_green"))
	register(0x1b, solid("cloth_cyan"))
	register(0x1c, solid("cloth_capri"))
	register(0x1d, solid("cloth_ultramarine"))
	register(0x1e, solid("cloth_violet"))
	register(0x1f, solid("cloth_purple"))
	register(0x20, solid("cloth_magenta"))
	register(0x21, solid("cloth_rose"))
	register(0x22, solid("cloth_dark_gray"))
	register(0x23, solid("cloth_light_gray"))
	register(0x24, solid("cloth_white"))
	register(0x25, nonSolid("flower"))
	register(0x26, nonSolid("rose"))
	register(0x27, nonSolid("brown_mushroom"))
	register(0x28, nonSolid("red_mushroom"))
	register(0x29, solid("gold_block"))
	register(0x2a, solid("iron_block"))
	register(0x2b, solid("double_slab"))
	register(0x2c, Info{Name: "slab", Kind: Slab})
	register(0x2d, solid("bricks"))
	register(0x2e, solid("tnt"))
	register(0x2f, solid("bookshelf"))
	register(0x30, solid("mossy_cobblestone"))
	register(Obsidian, solid("obsidian"))

	// CustomBlocks support level 1, with the standard fallback mapping.
	register(0x32, extended("cobblestone_slab", Slab, 0x2c))
	register(0x33, extended("rope", Rope, 0x27))
	register(0x34, extended("sandstone", Solid, Sand))
	register(0x35, extended("snow", NonSolid, Air))
	register(0x36, extended("fire", NonSolid, LavaFlowing))
	register(0x37, extended("cloth_light_pink", Solid, 0x21))
	register(0x38, extended("cloth_forest_green", Solid, 0x19))
	register(0x39, extended("cloth_brown", Solid, Dirt))
	register(0x3a, extended("cloth_deep_blue", Solid, 0x1d))
	register(0x3b, extended("cloth_turquoise", Solid, 0x1c))
	register(0x3c, extended("ice", Solid, 0x14))
	register(0x3d, extended("ceramic_tile", Solid, 0x2a))
	register(0x3e, extended("magma", Solid, Obsidian))
	register(0x3f, extended("pillar", Solid, 0x24))
	register(0x40, extended("crate", Solid, Planks))
	register(0x41, extended("stone_brick", Solid, Stone))
}
