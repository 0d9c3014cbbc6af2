package world

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/df-mc/calcite/server/block"
	"github.com/df-mc/calcite/server/player"
	"github.com/klauspost/compress/gzip"
)

const (
	levelInfoFile = "info.json"
	levelDataFile = "level.dat"
)

// levelInfo is the JSON sidecar written next to the compressed block
// array. Its field names are the level file format.
type levelInfo struct {
	XSize                 int                         `json:"x_size"`
	YSize                 int                         `json:"y_size"`
	ZSize                 int                         `json:"z_size"`
	Weather               Weather                     `json:"weather"`
	Rules                 Rules                       `json:"rules"`
	AwaitingUpdate        []int                       `json:"awaiting_update"`
	PossibleRandomUpdates []int                       `json:"possible_random_updates"`
	PlayerData            map[string]player.SavedData `json:"player_data"`
	// BlockChecksum is the xxhash64 digest of the raw block array,
	// recorded so a corrupted or mismatched level.dat is caught on load.
	BlockChecksum string `json:"block_checksum,omitempty"`
}

// Save writes the world to dir: a JSON sidecar with the level metadata and
// a gzip-compressed copy of the raw block array. The directory is created
// if needed.
func (w *World) Save(dir string) error {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return fmt.Errorf("create level directory: %w", err)
	}

	info := levelInfo{
		XSize:                 w.xs,
		YSize:                 w.ys,
		ZSize:                 w.zs,
		Weather:               w.weather,
		Rules:                 w.rules,
		AwaitingUpdate:        w.awaiting,
		PossibleRandomUpdates: w.randomPool,
		PlayerData:            w.playerData,
		BlockChecksum:         strconv.FormatUint(xxhash.Sum64(w.blocks), 16),
	}
	encoded, err := json.MarshalIndent(info, "", "\t")
	if err != nil {
		return fmt.Errorf("encode level info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, levelInfoFile), encoded, 0644); err != nil {
		return fmt.Errorf("write level info: %w", err)
	}

	buf := bytes.NewBuffer(make([]byte, 0, len(w.blocks)/8))
	gz, err := gzip.NewWriterLevel(buf, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}
	if _, err := gz.Write(w.blocks); err != nil {
		return fmt.Errorf("compress blocks: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("flush encoder: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, levelDataFile), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write level data: %w", err)
	}
	return nil
}

// Load reads a world previously written by Save. The awaiting set is
// re-seeded with every block that needs an update on placement, so fluids
// frozen by a shutdown (or a disabled fluid_spread rule) resume
// simulating.
func Load(dir string, log *slog.Logger) (*World, error) {
	if log == nil {
		log = slog.Default()
	}

	encoded, err := os.ReadFile(filepath.Join(dir, levelInfoFile))
	if err != nil {
		return nil, fmt.Errorf("read level info: %w", err)
	}
	info := levelInfo{Rules: DefaultRules()}
	if err := json.Unmarshal(encoded, &info); err != nil {
		return nil, fmt.Errorf("decode level info: %w", err)
	}
	if info.XSize <= 0 || info.YSize <= 0 || info.ZSize <= 0 {
		return nil, fmt.Errorf("level info: invalid dimensions %dx%dx%d", info.XSize, info.YSize, info.ZSize)
	}

	compressed, err := os.ReadFile(filepath.Join(dir, levelDataFile))
	if err != nil {
		return nil, fmt.Errorf("read level data: %w", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open level data: %w", err)
	}
	blocks, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress level data: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close level data: %w", err)
	}

	volume := info.XSize * info.YSize * info.ZSize
	if len(blocks) != volume {
		return nil, fmt.Errorf("level data: expected %d blocks, got %d", volume, len(blocks))
	}
	if info.BlockChecksum != "" {
		if sum := strconv.FormatUint(xxhash.Sum64(blocks), 16); sum != info.BlockChecksum {
			log.Warn("Level data checksum mismatch.", "expected", info.BlockChecksum, "got", sum)
		}
	}

	w := &World{
		log:        log,
		xs:         info.XSize,
		ys:         info.YSize,
		zs:         info.ZSize,
		blocks:     blocks,
		weather:    info.Weather,
		rules:      info.Rules,
		randomPool: info.PossibleRandomUpdates,
		playerData: info.PlayerData,
		r:          rand.New(rand.NewPCG(rand.Uint64(), uint64(time.Now().UnixNano()))),
	}
	if w.playerData == nil {
		w.playerData = make(map[string]player.SavedData)
	}
	for _, index := range info.AwaitingUpdate {
		if index >= 0 && index < volume {
			w.ScheduleUpdate(index)
		}
	}
	w.reseedUpdates()
	return w, nil
}

// reseedUpdates schedules every block that needs an update on placement.
func (w *World) reseedUpdates() {
	for index, id := range w.blocks {
		if info, ok := block.Lookup(id); ok && info.NeedsUpdateOnPlace() {
			w.ScheduleUpdate(index)
		}
	}
}
