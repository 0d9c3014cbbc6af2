package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/df-mc/calcite/server/player"
	"github.com/df-mc/calcite/server/protocol"
	"github.com/df-mc/calcite/server/world"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// commandPrefix starts a chat line that is a command.
const commandPrefix = "/"

// usernameSelf is the alias players may use for their own username.
const usernameSelf = "@s"

// commandSource is who a command runs as: a player, or the console.
type commandSource interface {
	name() string
	rank() player.Rank
	// player returns the source's player, nil for the console.
	player() *player.Player
	reply(line string)
}

type playerSource struct {
	p *player.Player
}

func (s playerSource) name() string           { return s.p.Name }
func (s playerSource) rank() player.Rank      { return s.p.Rank }
func (s playerSource) player() *player.Player { return s.p }
func (s playerSource) reply(line string)      { s.p.Message(line) }

// consoleSource runs commands as an operator named Console.
type consoleSource struct {
	replyFn func(string)
}

func (s consoleSource) name() string           { return "Console" }
func (s consoleSource) rank() player.Rank      { return player.Operator }
func (s consoleSource) player() *player.Player { return nil }
func (s consoleSource) reply(line string)      { s.replyFn(line) }

const (
	cmdMe            = "me"
	cmdSay           = "say"
	cmdSetPerm       = "setperm"
	cmdKick          = "kick"
	cmdStop          = "stop"
	cmdHelp          = "help"
	cmdBan           = "ban"
	cmdAllowEntry    = "allowentry"
	cmdSetPass       = "setpass"
	cmdSetLevelSpawn = "setlevelspawn"
	cmdWeather       = "weather"
	cmdSave          = "save"
	cmdTeleport      = "tp"
	cmdLevelRule     = "levelrule"
)

// commandList holds every command in help listing order.
var commandList = []string{
	cmdMe, cmdSay, cmdSetPerm, cmdKick, cmdStop, cmdHelp, cmdBan,
	cmdAllowEntry, cmdSetPass, cmdSetLevelSpawn, cmdWeather, cmdSave,
	cmdTeleport, cmdLevelRule,
}

// rankRequired returns the minimum rank needed to run the named command.
func rankRequired(cmd string) player.Rank {
	switch cmd {
	case cmdMe, cmdHelp, cmdSetPass:
		return player.Normal
	case cmdStop:
		return player.Operator
	}
	return player.Moderator
}

// ExecuteCommand runs line as a console command. Replies go to reply. It
// takes the server's state lock and may be called from any goroutine.
func (srv *Server) ExecuteCommand(line string, reply func(string)) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.executeCommand(consoleSource{replyFn: reply}, line)
}

// executeCommand parses and dispatches one command line, without the
// leading prefix. The state lock must be held.
func (srv *Server) executeCommand(src commandSource, line string) {
	name, args, _ := strings.Cut(line, " ")

	found := false
	for _, cmd := range commandList {
		if cmd == name {
			found = true
			break
		}
	}
	if !found {
		src.reply(fmt.Sprintf("&cUnknown command: %s", name))
		return
	}
	if rankRequired(name) > src.rank() {
		src.reply("&cPermissions do not allow you to use this command")
		return
	}

	var err error
	switch name {
	case cmdMe:
		srv.cmdMe(src, args)
	case cmdSay:
		srv.cmdSay(src, args)
	case cmdSetPerm:
		err = srv.cmdSetPerm(src, args)
	case cmdKick:
		err = srv.cmdKick(src, args)
	case cmdStop:
		srv.Stop()
	case cmdHelp:
		srv.cmdHelp(src, args)
	case cmdBan:
		err = srv.cmdBan(src, args)
	case cmdAllowEntry:
		err = srv.cmdAllowEntry(src, args)
	case cmdSetPass:
		srv.cmdSetPass(src, args)
	case cmdSetLevelSpawn:
		err = srv.cmdSetLevelSpawn(src, args)
	case cmdWeather:
		srv.cmdWeather(src, args)
	case cmdSave:
		srv.world.RequestSave()
		src.reply("Saving level...")
	case cmdTeleport:
		err = srv.cmdTeleport(src, args)
	case cmdLevelRule:
		err = srv.cmdLevelRule(src, args)
	}
	if err != nil {
		src.reply("&c" + err.Error())
	}
}

// sourceID returns the id the source's broadcasts carry: the player's own
// id, or -1 for the console.
func sourceID(src commandSource) int8 {
	if p := src.player(); p != nil {
		return p.ID
	}
	return -1
}

func (srv *Server) cmdMe(src commandSource, action string) {
	srv.broadcast(&protocol.Message{
		ID_:      sourceID(src),
		Contents: fmt.Sprintf("&f*%s %s", src.name(), action),
	})
}

func (srv *Server) cmdSay(src commandSource, message string) {
	srv.broadcast(&protocol.Message{
		ID_:      sourceID(src),
		Contents: fmt.Sprintf("&d[SERVER] &f%s", message),
	})
}

func (srv *Server) cmdSetPerm(src commandSource, args string) error {
	username, ok := nextString(&args)
	if !ok {
		return fmt.Errorf("Missing argument: username")
	}
	rank, err := player.ParseRank(args)
	if err != nil {
		return fmt.Errorf("Unknown permissions type: %s", args)
	}
	if username == src.name() {
		src.reply("&cCannot change your own permissions")
		return nil
	}
	if rank >= src.rank() {
		src.reply("&cCannot set permissions higher or equal to your own")
		return nil
	}
	if current, ok := srv.conf.Ranks[username]; ok && current >= src.rank() {
		src.reply("&cThis player outranks or is the same rank as you")
		return nil
	}

	srv.confDirty = true
	if rank == player.Normal {
		delete(srv.conf.Ranks, username)
	} else {
		srv.conf.Ranks[username] = rank
	}
	if p, ok := srv.findPlayer(username); ok {
		p.Rank = rank
		p.Send(&protocol.UpdateUserType{UserType: rank.WireByte()})
		p.Send(&protocol.Message{
			ID_:      p.ID,
			Contents: fmt.Sprintf("Your permissions have been set to %s", rank),
		})
		if p.Extensions.Contains(protocol.ExtInventoryOrder) {
			customBlocks := p.Extensions.Contains(protocol.ExtCustomBlocks) && p.CustomBlockLevel >= 1
			p.Send(inventoryPackets(rank, customBlocks)...)
		}
	}
	src.reply(fmt.Sprintf("Set permissions for %s to %s", username, rank))
	return nil
}

func (srv *Server) cmdKick(src commandSource, args string) error {
	username, ok := nextString(&args)
	if !ok {
		return fmt.Errorf("Missing argument: username")
	}
	message := strings.TrimSpace(args)
	if message == "" {
		message = "<no message>"
	}

	p, ok := srv.findPlayer(username)
	if !ok {
		src.reply("&cPlayer not connected to server!")
		return nil
	}
	if src.rank() <= p.Rank {
		src.reply("&cThis player outranks or is the same rank as you")
		return nil
	}
	p.KickReason = fmt.Sprintf("Kicked: %s", message)
	src.reply(fmt.Sprintf("%s has been kicked", p.Name))
	return nil
}

func (srv *Server) cmdHelp(src commandSource, args string) {
	if args != "" {
		for _, line := range helpLines(args) {
			src.reply(line)
		}
		return
	}

	src.reply("Commands available to you:")
	current := "&f"
	for _, cmd := range commandList {
		if rankRequired(cmd) > src.rank() {
			continue
		}
		if len(current)+3+len(cmd) > protocol.StringLength {
			src.reply(current + ",")
			current = "&f"
		}
		if len(current) == 2 {
			current += cmd
		} else {
			current += ", " + cmd
		}
	}
	if current != "" {
		src.reply(current)
	}
}

// helpLines returns the usage and description of the named command.
func helpLines(cmd string) []string {
	usage := func(args string) string {
		return strings.TrimRight(fmt.Sprintf("&f%s%s %s", commandPrefix, cmd, args), " ")
	}
	switch cmd {
	case cmdMe:
		return []string{usage("<action>"), "&fDisplays an action as if you're doing it."}
	case cmdSay:
		return []string{usage("<message>"), "&fSends a message as being from the server."}
	case cmdSetPerm:
		return []string{usage("<username> <permission level>"), "&fSets a player's permission level."}
	case cmdKick:
		return []string{usage("<username> [reason]"), "&fKicks a player from the server."}
	case cmdStop:
		return []string{usage(""), "&fStops the server while saving the level."}
	case cmdHelp:
		return []string{usage("[command]"), "&fGets a list of commands or help about a command."}
	case cmdBan:
		return []string{usage("<username> [reason]"), "&fBans a player from the server."}
	case cmdAllowEntry:
		return []string{usage("<username>"), "&fAllows a player into the server."}
	case cmdSetPass:
		return []string{usage("<new password>"), "&fUpdates your password."}
	case cmdSetLevelSpawn:
		return []string{usage("[overwrite_others]"), "&fSets the level's spawn to your location."}
	case cmdWeather:
		return []string{usage("<weather type>"), "&fSets the level's weather."}
	case cmdSave:
		return []string{usage(""), "&fSaves the current level."}
	case cmdTeleport:
		return []string{usage("(<username> or <x> <y> <z>"), "&fTeleports to the given username or coordinates."}
	case cmdLevelRule:
		return []string{usage("<rule> [value]"), `&fGets or sets the given level rule. The special rule "all" will get all rules.`}
	}
	return []string{"&eUnknown command!"}
}

func (srv *Server) cmdBan(src commandSource, args string) error {
	username, ok := nextString(&args)
	if !ok {
		return fmt.Errorf("Missing argument: username")
	}
	message := strings.TrimSpace(args)
	if message == "" {
		message = "<no_message>"
	}

	if srv.conf.Protection.Mode != ProtectionUsers {
		src.reply("&cServer must be set to per-user passwords!")
		return nil
	}
	if _, ok := srv.conf.Protection.Users[username]; !ok {
		src.reply("&cPlayer is already banned!")
		return nil
	}
	delete(srv.conf.Protection.Users, username)
	delete(srv.conf.Ranks, username)
	srv.confDirty = true
	if p, ok := srv.findPlayer(username); ok {
		if src.rank() <= p.Rank {
			src.reply("&cThis player outranks or is the same rank as you")
			return nil
		}
		p.KickReason = fmt.Sprintf("Banned: %s", message)
	}
	src.reply(fmt.Sprintf("%s has been banned", username))
	return nil
}

func (srv *Server) cmdAllowEntry(src commandSource, args string) error {
	username, ok := nextString(&args)
	if !ok {
		return fmt.Errorf("Missing argument: username")
	}
	password := strings.TrimSpace(args)

	if srv.conf.Protection.Mode != ProtectionUsers {
		src.reply("&cServer must be set to per-user passwords!")
		return nil
	}
	if _, ok := srv.conf.Protection.Users[username]; ok {
		src.reply("&cPlayer is already allowed in the server!")
		return nil
	}
	if password == "" {
		password = uuid.NewString()
	}
	src.reply(fmt.Sprintf("%s is now allowed in the server.", username))
	src.reply(fmt.Sprintf("Password: %s", password))
	srv.conf.Protection.Users[username] = password
	srv.confDirty = true
	return nil
}

func (srv *Server) cmdSetPass(src commandSource, args string) {
	if src.player() == nil {
		src.reply("&cOnly players can use this command")
		return
	}
	if srv.conf.Protection.Mode != ProtectionUsers {
		src.reply("&cServer must be set to per-user passwords!")
		return
	}
	srv.conf.Protection.Users[src.name()] = strings.TrimSpace(args)
	srv.confDirty = true
	src.reply("Updated password!")
}

func (srv *Server) cmdSetLevelSpawn(src commandSource, args string) error {
	p := src.player()
	if p == nil {
		src.reply("&cOnly players can use this command")
		return nil
	}
	overwriteOthers := false
	if s, ok := nextString(&args); ok {
		switch strings.ToLower(s) {
		case "true":
			overwriteOthers = true
		case "false":
		default:
			return fmt.Errorf("Expected bool, got %s", strings.ToLower(s))
		}
	}

	spawn := p.Position
	srv.conf.Spawn = &spawn
	if overwriteOthers {
		for _, q := range srv.players {
			if q.Extensions.Contains(protocol.ExtSetSpawnpoint) {
				q.Send(&protocol.SetSpawnPoint{
					X: spawn.X(), Y: spawn.Y(), Z: spawn.Z(),
					Yaw: p.Yaw, Pitch: p.Pitch,
				})
			}
		}
	}
	srv.confDirty = true
	src.reply("Level spawn updated!")
	return nil
}

func (srv *Server) cmdWeather(src commandSource, args string) {
	weather, err := world.ParseWeather(args)
	if err != nil {
		src.reply(fmt.Sprintf("&cUnknown weather type %s!", args))
		return
	}
	srv.world.SetWeather(weather)
	for _, p := range srv.players {
		if p.Extensions.Contains(protocol.ExtEnvWeatherType) {
			p.Send(&protocol.EnvSetWeatherType{Weather: byte(weather)})
		}
	}
	src.reply("Weather updated!")
}

func (srv *Server) cmdTeleport(src commandSource, args string) error {
	username, ok := nextString(&args)
	if !ok {
		return fmt.Errorf("Missing argument: username")
	}
	if username == usernameSelf {
		username = src.name()
	}

	var (
		pos        mgl32.Vec3
		yaw, pitch byte
		useTarget  bool
		message    string
	)
	if x, ok, _ := nextFloat(&args); ok {
		y, ok, err := nextFloat(&args)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("Missing argument: y")
		}
		z, ok, err := nextFloat(&args)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("Missing argument: z")
		}
		pos = mgl32.Vec3{x + 0.5, y + 1.0, z + 0.5}
		message = fmt.Sprintf("You have been teleported to %v, %v, %v.", pos.X(), pos.Y(), pos.Z())
	} else {
		target := strings.TrimSpace(args)
		if target == usernameSelf {
			target = src.name()
		}
		other, ok := srv.findPlayer(target)
		if !ok {
			src.reply(fmt.Sprintf("Unknown username: %s", target))
			return nil
		}
		pos, yaw, pitch = other.Position, other.Yaw, other.Pitch
		useTarget = true
		message = fmt.Sprintf("You have been teleported to %s.", target)
	}

	p, ok := srv.findPlayer(username)
	if !ok {
		src.reply(fmt.Sprintf("Unknown username: %s!", username))
		return nil
	}
	if !useTarget {
		yaw, pitch = p.Yaw, p.Pitch
	}
	p.Position = pos
	p.Yaw = yaw
	p.Pitch = pitch

	for _, q := range srv.players {
		id := p.ID
		if q == p {
			id = -1
			q.Message(message)
		}
		if q.Extensions.Contains(protocol.ExtTeleport) {
			q.Send(&protocol.ExtEntityTeleport{
				ID_:      id,
				Behavior: protocol.TeleportUsePosition | protocol.TeleportUseOrientation | protocol.TeleportModeInterpolated,
				X:        pos.X(), Y: pos.Y(), Z: pos.Z(),
				Yaw: yaw, Pitch: pitch,
			})
		} else {
			q.Send(&protocol.SetPositionOrientation{
				ID_: id,
				X:   pos.X(), Y: pos.Y(), Z: pos.Z(),
				Yaw: yaw, Pitch: pitch,
			})
		}
	}
	return nil
}

func (srv *Server) cmdLevelRule(src commandSource, args string) error {
	rule, ok := nextString(&args)
	if !ok {
		return fmt.Errorf("Missing argument: rule")
	}
	rules := srv.world.Rules()

	if rule == "all" {
		for _, name := range world.RuleNames() {
			value, err := rules.Describe(name)
			if err != nil {
				continue
			}
			src.reply(fmt.Sprintf("&f%s: %s", name, value))
		}
		return nil
	}
	if value, ok := nextString(&args); ok {
		if err := rules.Set(rule, value); err != nil {
			src.reply(err.Error())
			return nil
		}
		src.reply(fmt.Sprintf("&fUpdated rule %s", rule))
		return nil
	}
	value, err := rules.Describe(rule)
	if err != nil {
		src.reply(fmt.Sprintf("Unknown rule: %s", rule))
		return nil
	}
	src.reply(fmt.Sprintf("&f%s", value))
	return nil
}

// nextString pops the next token from args. Tokens are separated by spaces;
// a token starting with a double quote runs to the next unescaped quote and
// may contain spaces, with escaped quotes unescaped in the result.
func nextString(args *string) (string, bool) {
	s := strings.TrimSpace(*args)
	if s == "" {
		return "", false
	}
	if s[0] != '"' {
		token, rest, _ := strings.Cut(s, " ")
		*args = strings.TrimSpace(rest)
		return token, true
	}

	s = s[1:]
	end := len(s)
	rest := ""
	for i := 0; i < len(s); i++ {
		if s[i] == '"' && (i == 0 || s[i-1] != '\\') {
			end = i
			rest = s[i+1:]
			break
		}
	}
	*args = strings.TrimSpace(rest)
	return strings.ReplaceAll(s[:end], `\"`, `"`), true
}

// nextFloat pops the next token from args if it parses as a number. A
// non-numeric token is not consumed and reported as an error, which the
// caller may ignore to fall back to string arguments.
func nextFloat(args *string) (float32, bool, error) {
	s := strings.TrimSpace(*args)
	if s == "" {
		return 0, false, nil
	}
	token, rest, _ := strings.Cut(s, " ")
	f, err := strconv.ParseFloat(token, 32)
	if err != nil {
		return 0, false, fmt.Errorf("Expected number!")
	}
	*args = strings.TrimSpace(rest)
	return float32(f), true, nil
}
