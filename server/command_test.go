package server

import (
	"strings"
	"testing"

	"github.com/df-mc/calcite/server/player"
	"github.com/df-mc/calcite/server/protocol"
	"github.com/df-mc/calcite/server/world"
)

// runConsole executes line as the console and returns the replies.
func runConsole(srv *Server, line string) []string {
	var replies []string
	srv.ExecuteCommand(line, func(reply string) {
		replies = append(replies, reply)
	})
	return replies
}

// lastMessage returns the contents of the last chat message in p's queue.
func lastMessage(t *testing.T, p *player.Player) string {
	t.Helper()
	for i := len(p.Queue) - 1; i >= 0; i-- {
		if msg, ok := p.Queue[i].(*protocol.Message); ok {
			return msg.Contents
		}
	}
	t.Fatalf("no message queued for %s", p.Name)
	return ""
}

func TestNextString(t *testing.T) {
	args := `plain "quoted token" "escaped \" quote" rest`
	token, ok := nextString(&args)
	if !ok || token != "plain" {
		t.Fatalf("first token %q, %v", token, ok)
	}
	token, _ = nextString(&args)
	if token != "quoted token" {
		t.Fatalf("quoted token %q", token)
	}
	token, _ = nextString(&args)
	if token != `escaped " quote` {
		t.Fatalf("escaped token %q", token)
	}
	token, _ = nextString(&args)
	if token != "rest" || args != "" {
		t.Fatalf("trailing token %q, args %q", token, args)
	}
	if _, ok := nextString(&args); ok {
		t.Fatalf("token from empty args")
	}
}

func TestNextFloat(t *testing.T) {
	args := "1.5 -2 bob"
	v, ok, err := nextFloat(&args)
	if err != nil || !ok || v != 1.5 {
		t.Fatalf("first number %v, %v, %v", v, ok, err)
	}
	v, ok, _ = nextFloat(&args)
	if !ok || v != -2 {
		t.Fatalf("second number %v, %v", v, ok)
	}
	if _, _, err := nextFloat(&args); err == nil {
		t.Fatalf("expected error for non-numeric token")
	}
	if args != "bob" {
		t.Fatalf("non-numeric token consumed, args %q", args)
	}
}

func TestUnknownCommand(t *testing.T) {
	srv := newTestServer(t)
	replies := runConsole(srv, "frobnicate")
	if len(replies) != 1 || replies[0] != "&cUnknown command: frobnicate" {
		t.Fatalf("replies %v", replies)
	}
}

func TestCommandPermissionDenied(t *testing.T) {
	srv := newTestServer(t)
	p := addPlayer(t, srv, "alice", player.Normal)

	srv.mu.Lock()
	srv.executeCommand(playerSource{p: p}, "kick bob")
	srv.mu.Unlock()

	if got := lastMessage(t, p); got != "&cPermissions do not allow you to use this command" {
		t.Fatalf("reply %q", got)
	}
}

func TestKick(t *testing.T) {
	srv := newTestServer(t)
	bob := addPlayer(t, srv, "bob", player.Normal)

	replies := runConsole(srv, "kick bob")
	if len(replies) != 1 || replies[0] != "bob has been kicked" {
		t.Fatalf("replies %v", replies)
	}
	if bob.KickReason != "Kicked: <no message>" {
		t.Fatalf("kick reason %q", bob.KickReason)
	}

	bob.KickReason = ""
	runConsole(srv, "kick bob go away")
	if bob.KickReason != "Kicked: go away" {
		t.Fatalf("kick reason %q", bob.KickReason)
	}

	replies = runConsole(srv, "kick carol")
	if replies[0] != "&cPlayer not connected to server!" {
		t.Fatalf("replies %v", replies)
	}
}

func TestKickOutranked(t *testing.T) {
	srv := newTestServer(t)
	alice := addPlayer(t, srv, "alice", player.Moderator)
	addPlayer(t, srv, "bob", player.Moderator)

	srv.mu.Lock()
	srv.executeCommand(playerSource{p: alice}, "kick bob")
	srv.mu.Unlock()

	if got := lastMessage(t, alice); got != "&cThis player outranks or is the same rank as you" {
		t.Fatalf("reply %q", got)
	}
}

func TestSetPerm(t *testing.T) {
	srv := newTestServer(t)
	bob := addPlayer(t, srv, "bob", player.Normal)

	replies := runConsole(srv, "setperm bob moderator")
	if replies[len(replies)-1] != "Set permissions for bob to Moderator" {
		t.Fatalf("replies %v", replies)
	}
	if bob.Rank != player.Moderator {
		t.Fatalf("bob's live rank %v", bob.Rank)
	}

	srv.mu.RLock()
	rank := srv.conf.Ranks["bob"]
	dirty := srv.confDirty
	srv.mu.RUnlock()
	if rank != player.Moderator || !dirty {
		t.Fatalf("persisted rank %v, dirty %v", rank, dirty)
	}

	found := false
	for _, pk := range bob.Queue {
		if ut, ok := pk.(*protocol.UpdateUserType); ok && ut.UserType == 0x00 {
			found = true
		}
	}
	if !found {
		t.Fatalf("bob was not notified of his new user type")
	}
}

func TestSetPermSelf(t *testing.T) {
	srv := newTestServer(t)
	alice := addPlayer(t, srv, "alice", player.Operator)

	srv.mu.Lock()
	srv.executeCommand(playerSource{p: alice}, "setperm alice normal")
	srv.mu.Unlock()

	if got := lastMessage(t, alice); got != "&cCannot change your own permissions" {
		t.Fatalf("reply %q", got)
	}
}

func TestSetPermTooHigh(t *testing.T) {
	srv := newTestServer(t)
	alice := addPlayer(t, srv, "alice", player.Moderator)

	srv.mu.Lock()
	srv.executeCommand(playerSource{p: alice}, "setperm bob moderator")
	srv.mu.Unlock()

	if got := lastMessage(t, alice); got != "&cCannot set permissions higher or equal to your own" {
		t.Fatalf("reply %q", got)
	}
}

func TestLevelRuleRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	replies := runConsole(srv, "levelrule random_tick_updates 1024")
	if len(replies) != 1 || replies[0] != "&fUpdated rule random_tick_updates" {
		t.Fatalf("set replies %v", replies)
	}
	replies = runConsole(srv, "levelrule random_tick_updates")
	if len(replies) != 1 || replies[0] != "&f1024 (u64)" {
		t.Fatalf("get replies %v", replies)
	}

	replies = runConsole(srv, "levelrule all")
	if len(replies) != 3 {
		t.Fatalf("all listed %d rules", len(replies))
	}

	replies = runConsole(srv, "levelrule gravity")
	if replies[0] != "Unknown rule: gravity" {
		t.Fatalf("unknown rule reply %v", replies)
	}

	replies = runConsole(srv, "levelrule fluid_spread maybe")
	if !strings.Contains(replies[0], "parse") {
		t.Fatalf("bad value reply %v", replies)
	}
}

func TestSayAndMe(t *testing.T) {
	srv := newTestServer(t)
	bob := addPlayer(t, srv, "bob", player.Normal)

	runConsole(srv, "say hello")
	if got := lastMessage(t, bob); got != "&d[SERVER] &fhello" {
		t.Fatalf("say message %q", got)
	}
	runConsole(srv, "me waves")
	if got := lastMessage(t, bob); got != "&f*Console waves" {
		t.Fatalf("me message %q", got)
	}
}

func TestWeatherCommand(t *testing.T) {
	srv := newTestServer(t)
	bob := addPlayer(t, srv, "bob", player.Normal)
	bob.Extensions = protocol.ExtEnvWeatherType

	replies := runConsole(srv, "weather raining")
	if replies[0] != "Weather updated!" {
		t.Fatalf("replies %v", replies)
	}
	srv.mu.RLock()
	weather := srv.world.Weather()
	srv.mu.RUnlock()
	if weather != world.Raining {
		t.Fatalf("weather %v", weather)
	}
	found := false
	for _, pk := range bob.Queue {
		if w, ok := pk.(*protocol.EnvSetWeatherType); ok && w.Weather == byte(world.Raining) {
			found = true
		}
	}
	if !found {
		t.Fatalf("bob did not receive the weather change")
	}

	replies = runConsole(srv, "weather hail")
	if replies[0] != "&cUnknown weather type hail!" {
		t.Fatalf("replies %v", replies)
	}
}

func TestTeleportToCoordinates(t *testing.T) {
	srv := newTestServer(t)
	bob := addPlayer(t, srv, "bob", player.Normal)

	runConsole(srv, "tp bob 1 2 3")
	if bob.Position.X() != 1.5 || bob.Position.Y() != 3 || bob.Position.Z() != 3.5 {
		t.Fatalf("bob's position %v", bob.Position)
	}

	var tele *protocol.SetPositionOrientation
	for _, pk := range bob.Queue {
		if sp, ok := pk.(*protocol.SetPositionOrientation); ok {
			tele = sp
		}
	}
	if tele == nil || tele.ID_ != -1 {
		t.Fatalf("teleport packet %#v", tele)
	}
	if got := lastMessage(t, bob); got != "You have been teleported to 1.5, 3, 3.5." {
		t.Fatalf("teleport message %q", got)
	}
}

func TestTeleportToPlayer(t *testing.T) {
	srv := newTestServer(t)
	bob := addPlayer(t, srv, "bob", player.Normal)
	carol := addPlayer(t, srv, "carol", player.Normal)
	carol.Position = [3]float32{5, 6, 7}
	carol.Yaw = 42

	runConsole(srv, "tp bob carol")
	if bob.Position != carol.Position || bob.Yaw != 42 {
		t.Fatalf("bob's position %v, yaw %d", bob.Position, bob.Yaw)
	}
	if got := lastMessage(t, bob); got != "You have been teleported to carol." {
		t.Fatalf("teleport message %q", got)
	}

	replies := runConsole(srv, "tp bob mallory")
	if replies[0] != "Unknown username: mallory" {
		t.Fatalf("replies %v", replies)
	}
}

func TestTeleportExtensionPacket(t *testing.T) {
	srv := newTestServer(t)
	bob := addPlayer(t, srv, "bob", player.Normal)
	bob.Extensions = protocol.ExtTeleport

	runConsole(srv, "tp bob 1 2 3")
	found := false
	for _, pk := range bob.Queue {
		if et, ok := pk.(*protocol.ExtEntityTeleport); ok {
			found = true
			if et.ID_ != -1 || et.Behavior&protocol.TeleportModeInterpolated == 0 {
				t.Fatalf("extended teleport %#v", et)
			}
		}
	}
	if !found {
		t.Fatalf("extension subscriber got no extended teleport")
	}
}

func TestAllowEntryRequiresUserMode(t *testing.T) {
	srv := newTestServer(t)
	replies := runConsole(srv, "allowentry bob")
	if replies[0] != "&cServer must be set to per-user passwords!" {
		t.Fatalf("replies %v", replies)
	}
}

func TestAllowEntryAndBan(t *testing.T) {
	srv := newTestServer(t)
	srv.mu.Lock()
	srv.conf.Protection = Protection{Mode: ProtectionUsers, Users: map[string]string{}}
	srv.mu.Unlock()

	replies := runConsole(srv, "allowentry bob sesame")
	if len(replies) != 2 || replies[0] != "bob is now allowed in the server." || replies[1] != "Password: sesame" {
		t.Fatalf("replies %v", replies)
	}
	replies = runConsole(srv, "allowentry bob")
	if replies[0] != "&cPlayer is already allowed in the server!" {
		t.Fatalf("replies %v", replies)
	}

	// Without a password one is generated.
	replies = runConsole(srv, "allowentry carol")
	if len(replies) != 2 || !strings.HasPrefix(replies[1], "Password: ") || len(replies[1]) == len("Password: ") {
		t.Fatalf("replies %v", replies)
	}

	replies = runConsole(srv, "ban bob")
	if replies[0] != "bob has been banned" {
		t.Fatalf("replies %v", replies)
	}
	srv.mu.RLock()
	_, allowed := srv.conf.Protection.Users["bob"]
	srv.mu.RUnlock()
	if allowed {
		t.Fatalf("banned player still allowed")
	}
	replies = runConsole(srv, "ban bob")
	if replies[0] != "&cPlayer is already banned!" {
		t.Fatalf("replies %v", replies)
	}
}

func TestBanKicksOnlinePlayer(t *testing.T) {
	srv := newTestServer(t)
	srv.mu.Lock()
	srv.conf.Protection = Protection{Mode: ProtectionUsers, Users: map[string]string{"bob": "pw"}}
	srv.mu.Unlock()
	bob := addPlayer(t, srv, "bob", player.Normal)

	runConsole(srv, "ban bob begone")
	if bob.KickReason != "Banned: begone" {
		t.Fatalf("kick reason %q", bob.KickReason)
	}
}

func TestSetPassRequiresPlayer(t *testing.T) {
	srv := newTestServer(t)
	replies := runConsole(srv, "setpass hunter2")
	if replies[0] != "&cOnly players can use this command" {
		t.Fatalf("replies %v", replies)
	}
}

func TestSetPass(t *testing.T) {
	srv := newTestServer(t)
	srv.mu.Lock()
	srv.conf.Protection = Protection{Mode: ProtectionUsers, Users: map[string]string{"alice": "old"}}
	srv.mu.Unlock()
	alice := addPlayer(t, srv, "alice", player.Normal)

	srv.mu.Lock()
	srv.executeCommand(playerSource{p: alice}, "setpass new")
	srv.mu.Unlock()

	if got := lastMessage(t, alice); got != "Updated password!" {
		t.Fatalf("reply %q", got)
	}
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	if srv.conf.Protection.Users["alice"] != "new" {
		t.Fatalf("password not updated")
	}
}

func TestSetLevelSpawn(t *testing.T) {
	srv := newTestServer(t)
	alice := addPlayer(t, srv, "alice", player.Moderator)
	alice.Position = [3]float32{4, 5, 6}
	bob := addPlayer(t, srv, "bob", player.Normal)
	bob.Extensions = protocol.ExtSetSpawnpoint

	srv.mu.Lock()
	srv.executeCommand(playerSource{p: alice}, "setlevelspawn true")
	srv.mu.Unlock()

	if got := lastMessage(t, alice); got != "Level spawn updated!" {
		t.Fatalf("reply %q", got)
	}
	srv.mu.RLock()
	spawn := srv.conf.Spawn
	srv.mu.RUnlock()
	if spawn == nil || spawn.X() != 4 {
		t.Fatalf("spawn %v", spawn)
	}
	found := false
	for _, pk := range bob.Queue {
		if sp, ok := pk.(*protocol.SetSpawnPoint); ok && sp.X == 4 {
			found = true
		}
	}
	if !found {
		t.Fatalf("bob's spawn point not overwritten")
	}
}

func TestHelpListing(t *testing.T) {
	srv := newTestServer(t)
	alice := addPlayer(t, srv, "alice", player.Normal)

	srv.mu.Lock()
	srv.executeCommand(playerSource{p: alice}, "help")
	srv.mu.Unlock()

	var lines []string
	for _, pk := range alice.Queue {
		if msg, ok := pk.(*protocol.Message); ok {
			lines = append(lines, msg.Contents)
		}
	}
	if len(lines) < 2 || lines[0] != "Commands available to you:" {
		t.Fatalf("help lines %v", lines)
	}
	listing := strings.Join(lines[1:], " ")
	for _, cmd := range []string{"me", "help", "setpass"} {
		if !strings.Contains(listing, cmd) {
			t.Fatalf("listing misses %q: %v", cmd, lines)
		}
	}
	if strings.Contains(listing, "kick") {
		t.Fatalf("listing shows commands above the player's rank: %v", lines)
	}
	for _, line := range lines[1:] {
		if len(line) > protocol.StringLength {
			t.Fatalf("help line exceeds packet string length: %q", line)
		}
	}
}

func TestHelpForCommand(t *testing.T) {
	srv := newTestServer(t)
	replies := runConsole(srv, "help kick")
	if len(replies) != 2 || replies[0] != "&f/kick <username> [reason]" {
		t.Fatalf("replies %v", replies)
	}
	replies = runConsole(srv, "help frobnicate")
	if replies[0] != "&eUnknown command!" {
		t.Fatalf("replies %v", replies)
	}
}

func TestSaveCommand(t *testing.T) {
	srv := newTestServer(t)
	replies := runConsole(srv, "save")
	if replies[0] != "Saving level..." {
		t.Fatalf("replies %v", replies)
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if !srv.world.TakeSaveRequest() {
		t.Fatalf("save request not recorded")
	}
}
