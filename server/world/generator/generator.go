// Package generator implements the terrain presets used when a server
// starts without a saved level.
package generator

import (
	"fmt"
	"math/rand/v2"

	"github.com/df-mc/calcite/server/block"
	"github.com/df-mc/calcite/server/world"
)

// Generator fills an empty world with terrain. Generators only use the
// world's dimensions and direct block writes.
type Generator interface {
	Generate(w *world.World)
}

// Empty leaves the world entirely air.
type Empty struct{}

// Generate implements Generator.
func (Empty) Generate(*world.World) {}

// FullRandom fills every column with random canonical blocks up to Height.
type FullRandom struct {
	// Height caps the filled rows; values above the world height are
	// clamped.
	Height int
	// Rand is the source of block ids. A clock-seeded source is used if
	// nil.
	Rand *rand.Rand
}

// Generate implements Generator.
func (g FullRandom) Generate(w *world.World) {
	r := g.Rand
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	xs, ys, zs := w.Size()
	height := min(g.Height, ys)
	for x := 0; x < xs; x++ {
		for y := 0; y < height; y++ {
			for z := 0; z < zs; z++ {
				w.SetBlock(x, y, z, byte(r.IntN(int(block.MaxCanonical)+1)))
			}
		}
	}
}

// Layer is one horizontal slice of a flat world.
type Layer struct {
	// Block is the string id of the layer's block.
	Block string
	// Depth is the layer's thickness in blocks.
	Depth int
}

// Flat generates layered terrain from bottom to top. Layers beyond the
// world height are discarded.
type Flat struct {
	Layers []Layer
}

// StoneAndGrass returns the default flat preset for a world of height ys:
// stone to just below the midpoint, three rows of dirt and one of grass.
func StoneAndGrass(ys int) Flat {
	return Flat{Layers: []Layer{
		{Block: "stone", Depth: ys/2 - 4},
		{Block: "dirt", Depth: 3},
		{Block: "grass", Depth: 1},
	}}
}

// Validate checks that every layer names a known block.
func (g Flat) Validate() error {
	for _, layer := range g.Layers {
		if _, ok := block.ByName(layer.Block); !ok {
			return fmt.Errorf("flat generator: unknown block %q", layer.Block)
		}
	}
	return nil
}

// Generate implements Generator.
func (g Flat) Generate(w *world.World) {
	xs, ys, zs := w.Size()
	y := 0
	for _, layer := range g.Layers {
		id, ok := block.ByName(layer.Block)
		if !ok {
			panic(fmt.Sprintf("flat generator: unknown block %q", layer.Block))
		}
		for d := 0; d < layer.Depth; d++ {
			for x := 0; x < xs; x++ {
				for z := 0; z < zs; z++ {
					w.SetBlock(x, y, z, id)
				}
			}
			y++
			if y >= ys {
				return
			}
		}
	}
}
