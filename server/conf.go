package server

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/df-mc/calcite/server/player"
	"github.com/df-mc/calcite/server/world"
	"github.com/df-mc/calcite/server/world/generator"
	"github.com/go-gl/mathgl/mgl32"
)

// ProtectionMode decides how player identifications are authenticated.
type ProtectionMode uint8

const (
	// ProtectionNone admits every connecting player.
	ProtectionNone ProtectionMode = iota
	// ProtectionPassword admits players presenting the shared password as
	// their verification key.
	ProtectionPassword
	// ProtectionUsers admits only players with a per-user password in the
	// protection list.
	ProtectionUsers
)

// Protection is the parsed authentication policy of a server.
type Protection struct {
	Mode ProtectionMode
	// Password is the shared password in ProtectionPassword mode.
	Password string
	// Users maps usernames to their individual passwords in
	// ProtectionUsers mode.
	Users map[string]string
}

// Verify reports if a player presenting key may join as username.
func (p Protection) Verify(username, key string) bool {
	switch p.Mode {
	case ProtectionPassword:
		return key == p.Password
	case ProtectionUsers:
		pass, ok := p.Users[username]
		return ok && key == pass
	}
	return true
}

// Config holds the runtime settings of a Server. Config is obtained from a
// UserConfig or filled out manually, after which Config.New() may be called
// to create a Server.
type Config struct {
	// Log is the logger used by the server and everything under it.
	// Defaults to slog.Default().
	Log *slog.Logger
	// Address is the TCP address the server listens on.
	Address string
	// Name is the server name shown on the client's loading screen.
	Name string
	// MOTD is the message of the day shown under the server name.
	MOTD string
	// Protection decides how connecting players are authenticated.
	Protection Protection
	// Ranks holds the persistent rank of each known player, keyed by
	// username. Unknown players join with the Normal rank.
	Ranks map[string]player.Rank
	// LevelName is the directory under LevelDir the level is stored in.
	LevelName string
	// LevelDir is the directory all levels are stored under.
	LevelDir string
	// LevelSize is the dimensions of a newly generated level.
	LevelSize [3]int
	// Generator produces the terrain of a newly generated level.
	Generator generator.Generator
	// Spawn, if non-nil, overrides the level's default spawn point.
	Spawn *mgl32.Vec3
	// AutoSaveInterval is the delay between periodic level saves. Zero
	// disables auto-saving.
	AutoSaveInterval time.Duration
	// Changed, if non-nil, is called with an updated UserConfig whenever a
	// command mutates the persistent configuration.
	Changed func(UserConfig)
}

// UserConfig is the TOML-serialisable counterpart of Config, written to and
// read from the server's config file.
type UserConfig struct {
	Network struct {
		// Address is the TCP address the server listens on.
		Address string
	}
	Server struct {
		// Name is the server name shown on the client's loading screen.
		Name string
		// MOTD is the message of the day shown under the server name.
		MOTD string
	}
	Protection struct {
		// Mode is one of "none", "password" and "users".
		Mode string
		// Password is the shared password in password mode.
		Password string
		// Users maps usernames to individual passwords in users mode.
		Users map[string]string
	}
	Level struct {
		// Name is the directory the level is stored in.
		Name string
		// Folder is the directory all levels are stored under.
		Folder string
		// XSize, YSize and ZSize are the dimensions of a newly generated
		// level.
		XSize, YSize, ZSize int
		// Generator is one of "flat", "empty" and "full_random".
		Generator string
		// Spawn holds the spawn point override as [x, y, z]. Empty means
		// the level decides.
		Spawn []float32
	}
	Players struct {
		// Ranks maps usernames to "normal", "moderator" or "operator".
		Ranks map[string]string
	}
	World struct {
		// AutoSaveMinutes is the delay between periodic level saves in
		// minutes. Zero disables auto-saving.
		AutoSaveMinutes int
	}
}

// Config validates the UserConfig and converts it to a Config usable to
// create a Server with.
func (uc UserConfig) Config(log *slog.Logger) (Config, error) {
	conf := Config{
		Log:              log,
		Address:          uc.Network.Address,
		Name:             uc.Server.Name,
		MOTD:             uc.Server.MOTD,
		LevelName:        uc.Level.Name,
		LevelDir:         uc.Level.Folder,
		LevelSize:        [3]int{uc.Level.XSize, uc.Level.YSize, uc.Level.ZSize},
		AutoSaveInterval: time.Duration(uc.World.AutoSaveMinutes) * time.Minute,
	}
	for _, s := range conf.LevelSize {
		if s <= 0 || s > 1024 {
			return conf, fmt.Errorf("level size: dimensions must be between 1 and 1024, got %v", conf.LevelSize)
		}
	}

	switch strings.ToLower(uc.Protection.Mode) {
	case "", "none":
		conf.Protection.Mode = ProtectionNone
	case "password":
		conf.Protection.Mode = ProtectionPassword
		conf.Protection.Password = uc.Protection.Password
	case "users":
		conf.Protection.Mode = ProtectionUsers
		conf.Protection.Users = make(map[string]string, len(uc.Protection.Users))
		for name, pass := range uc.Protection.Users {
			conf.Protection.Users[name] = pass
		}
	default:
		return conf, fmt.Errorf("protection: unknown mode %q", uc.Protection.Mode)
	}

	conf.Ranks = make(map[string]player.Rank, len(uc.Players.Ranks))
	for name, r := range uc.Players.Ranks {
		rank, err := player.ParseRank(r)
		if err != nil {
			return conf, fmt.Errorf("players: %w", err)
		}
		conf.Ranks[name] = rank
	}

	switch strings.ToLower(uc.Level.Generator) {
	case "", "flat":
		conf.Generator = generator.StoneAndGrass(uc.Level.YSize)
	case "empty":
		conf.Generator = generator.Empty{}
	case "full_random":
		conf.Generator = generator.FullRandom{Height: uc.Level.YSize / 2}
	default:
		return conf, fmt.Errorf("level: unknown generator %q", uc.Level.Generator)
	}

	switch len(uc.Level.Spawn) {
	case 0:
	case 3:
		spawn := mgl32.Vec3{uc.Level.Spawn[0], uc.Level.Spawn[1], uc.Level.Spawn[2]}
		conf.Spawn = &spawn
	default:
		return conf, fmt.Errorf("level: spawn must hold exactly 3 coordinates, got %d", len(uc.Level.Spawn))
	}
	return conf, nil
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	uc := UserConfig{}
	uc.Network.Address = ":25565"
	uc.Server.Name = "A Calcite Server"
	uc.Server.MOTD = "A classic server written in Go."
	uc.Protection.Mode = "none"
	uc.Protection.Users = map[string]string{}
	uc.Level.Name = "main"
	uc.Level.Folder = "levels"
	uc.Level.XSize, uc.Level.YSize, uc.Level.ZSize = 128, 64, 128
	uc.Level.Generator = "flat"
	uc.Players.Ranks = map[string]string{}
	uc.World.AutoSaveMinutes = 5
	return uc
}

// userConfig converts the server's live configuration back to a UserConfig
// for persisting after a command changed it.
func (srv *Server) userConfig() UserConfig {
	uc := UserConfig{}
	uc.Network.Address = srv.conf.Address
	uc.Server.Name = srv.conf.Name
	uc.Server.MOTD = srv.conf.MOTD
	switch srv.conf.Protection.Mode {
	case ProtectionPassword:
		uc.Protection.Mode = "password"
		uc.Protection.Password = srv.conf.Protection.Password
	case ProtectionUsers:
		uc.Protection.Mode = "users"
	default:
		uc.Protection.Mode = "none"
	}
	uc.Protection.Users = make(map[string]string, len(srv.conf.Protection.Users))
	for name, pass := range srv.conf.Protection.Users {
		uc.Protection.Users[name] = pass
	}
	uc.Level.Name = srv.conf.LevelName
	uc.Level.Folder = srv.conf.LevelDir
	uc.Level.XSize, uc.Level.YSize, uc.Level.ZSize = srv.conf.LevelSize[0], srv.conf.LevelSize[1], srv.conf.LevelSize[2]
	uc.Level.Generator = generatorName(srv.conf.Generator)
	if srv.conf.Spawn != nil {
		uc.Level.Spawn = []float32{srv.conf.Spawn.X(), srv.conf.Spawn.Y(), srv.conf.Spawn.Z()}
	}
	uc.Players.Ranks = make(map[string]string, len(srv.conf.Ranks))
	for name, rank := range srv.conf.Ranks {
		uc.Players.Ranks[name] = strings.ToLower(rank.String())
	}
	uc.World.AutoSaveMinutes = int(srv.conf.AutoSaveInterval / time.Minute)
	return uc
}

func generatorName(g generator.Generator) string {
	switch g.(type) {
	case generator.Empty:
		return "empty"
	case generator.FullRandom:
		return "full_random"
	}
	return "flat"
}

// newWorld loads the configured level from disk, or generates and saves a
// fresh one if none exists yet.
func (conf Config) newWorld() (*world.World, error) {
	dir := conf.levelPath()
	w, err := world.Load(dir, conf.Log)
	if err == nil {
		conf.Log.Debug("Loaded level.", "dir", dir)
		return w, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load level: %w", err)
	}
	conf.Log.Info("Generating new level.", "dir", dir)

	w = world.Config{
		Log:  conf.Log,
		X:    conf.LevelSize[0],
		Y:    conf.LevelSize[1],
		Z:    conf.LevelSize[2],
		Rand: rand.New(rand.NewPCG(rand.Uint64(), uint64(time.Now().UnixNano()))),
	}.New()
	conf.Generator.Generate(w)
	if err := w.Save(dir); err != nil {
		return nil, fmt.Errorf("save generated level: %w", err)
	}
	return w, nil
}

func (conf Config) levelPath() string {
	dir := conf.LevelDir
	if dir == "" {
		dir = "levels"
	}
	name := conf.LevelName
	if name == "" {
		name = "main"
	}
	return dir + "/" + name
}
