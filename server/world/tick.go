package world

import (
	"github.com/df-mc/calcite/server/block"
	"github.com/df-mc/calcite/server/internal/sliceutil"
	"github.com/df-mc/calcite/server/protocol"
)

// Tick advances the world simulation by one step. It first applies the
// mutations queued since the last tick (client edits), then promotes a
// random sample of the random tick pool into the awaiting set, drains a
// snapshot of the awaiting set through the per-kind rules below and
// finally applies the mutations those rules queued. Updates scheduled
// while draining wait for the next tick.
//
// tick is the running tick counter; fluids spread on ticks divisible by
// their spread period. The returned packets are broadcast to every player
// by the caller.
func (w *World) Tick(tick uint64) []protocol.ServerPacket {
	packets := w.ApplyUpdates()

	w.r.Shuffle(len(w.randomPool), func(i, j int) {
		w.randomPool[i], w.randomPool[j] = w.randomPool[j], w.randomPool[i]
	})
	for n := uint64(0); n < w.rules.RandomTickUpdates; n++ {
		index, ok := sliceutil.Pop(&w.randomPool)
		if !ok {
			break
		}
		w.ScheduleUpdate(index)
	}

	awaiting := w.awaiting
	w.awaiting = nil
	for _, index := range awaiting {
		x, y, z := w.Coords(index)
		id := w.Block(x, y, z)
		info, ok := block.Lookup(id)
		if !ok {
			continue
		}
		switch info.Kind {
		case block.Solid:
			switch id {
			case block.Grass:
				w.tickGrass(x, y, z)
			case block.Dirt:
				w.tickDirt(x, y, z)
			}
		case block.FluidFlowing:
			w.tickFluidFlowing(index, x, y, z, id, info, tick)
		case block.FluidStationary:
			w.tickFluidStationary(index, x, y, z, info)
		}
	}

	return append(packets, w.ApplyUpdates()...)
}

// tickGrass spreads grass onto surrounding dirt with air above it and dies
// back to dirt when covered. Each candidate converts with probability
// 1/GrassSpreadChance; as long as unconverted candidates remain, the grass
// re-registers itself for random ticking.
func (w *World) tickGrass(x, y, z int) {
	candidates := 0
	for _, n := range w.neighborsWithVerticalDiagonals(x, y, z) {
		if w.Block(n[0], n[1], n[2]) != block.Dirt {
			continue
		}
		if !w.emptyAbove(n[0], n[1], n[2]) {
			continue
		}
		candidates++
		if w.rollSpread() {
			candidates--
			w.QueueUpdate(BlockUpdate{Index: w.Index(n[0], n[1], n[2]), Block: block.Grass})
		}
	}
	if !w.emptyAbove(x, y, z) {
		candidates++
		if w.rollSpread() {
			candidates--
			w.QueueUpdate(BlockUpdate{Index: w.Index(x, y, z), Block: block.Dirt})
		}
	}
	if candidates > 0 {
		w.MarkRandomCandidate(w.Index(x, y, z))
	}
}

// tickDirt re-registers every grass block around a dirt block for random
// ticking, so dirt exposed next to grass becomes eligible for spreading.
func (w *World) tickDirt(x, y, z int) {
	for _, n := range w.neighborsFull(x, y, z) {
		if w.Block(n[0], n[1], n[2]) == block.Grass {
			w.MarkRandomCandidate(w.Index(n[0], n[1], n[2]))
		}
	}
}

// tickFluidFlowing settles a flowing fluid and spreads it to the five
// non-up neighbours on its spread tick. A neighbouring opposing fluid
// turns to stone instead of being flowed into. Off-period ticks re-arm the
// block for the next tick.
func (w *World) tickFluidFlowing(index, x, y, z int, id byte, info block.Info, tick uint64) {
	if !w.rules.FluidSpread {
		return
	}
	if tick%info.TicksToSpread != 0 {
		w.ScheduleUpdate(index)
		return
	}
	w.QueueUpdate(BlockUpdate{Index: index, Block: info.Stationary})
	for _, n := range w.neighborsMinusUp(x, y, z) {
		nid := w.Block(n[0], n[1], n[2])
		ninfo, ok := block.Lookup(nid)
		if !ok {
			continue
		}
		nindex := w.Index(n[0], n[1], n[2])
		switch ninfo.Kind {
		case block.NonSolid:
			w.ScheduleUpdate(nindex)
			w.QueueUpdate(BlockUpdate{Index: nindex, Block: id})
		case block.FluidFlowing, block.FluidStationary:
			if fluidsReact(id, nid) {
				w.ScheduleUpdate(nindex)
				w.QueueUpdate(BlockUpdate{Index: nindex, Block: block.Stone})
			}
		}
	}
}

// tickFluidStationary converts a settled fluid back to its flowing form as
// soon as any of the five non-up neighbours opens up.
func (w *World) tickFluidStationary(index, x, y, z int, info block.Info) {
	if !w.rules.FluidSpread {
		return
	}
	for _, n := range w.neighborsMinusUp(x, y, z) {
		ninfo, ok := block.Lookup(w.Block(n[0], n[1], n[2]))
		if ok && ninfo.Kind == block.NonSolid {
			w.QueueUpdate(BlockUpdate{Index: index, Block: info.Moving})
			w.ScheduleUpdate(index)
			return
		}
	}
}

// emptyAbove reports if the cell directly above is air. Out of bounds
// counts as empty, so grass on the top layer survives.
func (w *World) emptyAbove(x, y, z int) bool {
	if !w.InBounds(x, y+1, z) {
		return true
	}
	return w.Block(x, y+1, z) == block.Air
}

// rollSpread rolls the 1/GrassSpreadChance conversion chance. A zero
// chance behaves as 1, always converting.
func (w *World) rollSpread() bool {
	chance := w.rules.GrassSpreadChance
	if chance <= 1 {
		return true
	}
	return w.r.Uint64N(chance) == 0
}

func isWater(id byte) bool {
	return id == block.WaterFlowing || id == block.WaterStationary
}

func isLava(id byte) bool {
	return id == block.LavaFlowing || id == block.LavaStationary
}

// fluidsReact reports if two touching fluids petrify: water meets lava in
// either direction.
func fluidsReact(a, b byte) bool {
	return (isWater(a) && isLava(b)) || (isLava(a) && isWater(b))
}
