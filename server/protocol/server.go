package protocol

// ServerPacket is a packet sent to a Classic client.
type ServerPacket interface {
	// ID returns the packet's id byte.
	ID() byte
	encode(w *Writer)
}

// IdentifiedPacket is implemented by server packets that carry a player id.
// The outgoing drain path uses it to apply the echo rules: packets about a
// player are normally not sent back to that player, except for the packet
// kinds that confirm the player's own actions, which are echoed with the id
// rewritten to -1.
type IdentifiedPacket interface {
	ServerPacket
	PlayerID() int8
	SetPlayerID(id int8)
	// Echoes reports if the packet must be sent back to the player it is
	// about.
	Echoes() bool
}

// EncodePacket serialises pk into a wire frame, id byte included.
func EncodePacket(pk ServerPacket) []byte {
	w := &Writer{}
	w.Uint8(pk.ID())
	pk.encode(w)
	return w.Bytes()
}

// ServerIdentification is the response to a successful PlayerIdentification.
type ServerIdentification struct {
	ProtocolVersion byte
	Name            string
	MOTD            string
	// UserType is 0x64 for operators and 0x00 otherwise.
	UserType byte
}

func (pk *ServerIdentification) ID() byte { return 0x00 }

func (pk *ServerIdentification) encode(w *Writer) {
	w.Uint8(pk.ProtocolVersion)
	w.String(pk.Name)
	w.String(pk.MOTD)
	w.Uint8(pk.UserType)
}

// Ping checks that the client is still connected. Classic clients do not
// reply to it; ClassiCube tolerates its absence entirely.
type Ping struct{}

func (pk *Ping) ID() byte       { return 0x01 }
func (pk *Ping) encode(*Writer) {}

// LevelInitialize announces incoming level data.
type LevelInitialize struct{}

func (pk *LevelInitialize) ID() byte       { return 0x02 }
func (pk *LevelInitialize) encode(*Writer) {}

// LevelDataChunk carries up to 1024 bytes of the gzip-compressed level
// stream. Short chunks report their true length and are zero padded.
type LevelDataChunk struct {
	Length          int16
	Data            []byte
	PercentComplete byte
}

func (pk *LevelDataChunk) ID() byte { return 0x03 }

func (pk *LevelDataChunk) encode(w *Writer) {
	w.Int16(pk.Length)
	w.Array(pk.Data)
	w.Uint8(pk.PercentComplete)
}

// LevelFinalize closes the level stream and carries the level dimensions.
type LevelFinalize struct {
	X, Y, Z int16
}

func (pk *LevelFinalize) ID() byte { return 0x04 }

func (pk *LevelFinalize) encode(w *Writer) {
	w.Int16(pk.X)
	w.Int16(pk.Y)
	w.Int16(pk.Z)
}

// SetBlock announces a block change. A player's own change is echoed back
// as confirmation or rollback.
type SetBlock struct {
	X, Y, Z int16
	Block   byte
}

func (pk *SetBlock) ID() byte { return 0x06 }

func (pk *SetBlock) encode(w *Writer) {
	w.Int16(pk.X)
	w.Int16(pk.Y)
	w.Int16(pk.Z)
	w.Uint8(pk.Block)
}

// SpawnPlayer announces a newly joined player and their spawn position.
type SpawnPlayer struct {
	ID_        int8
	Name       string
	X, Y, Z    float32
	Yaw, Pitch byte
}

func (pk *SpawnPlayer) ID() byte { return 0x07 }

func (pk *SpawnPlayer) encode(w *Writer) {
	w.Int8(pk.ID_)
	w.String(pk.Name)
	w.Coord(pk.X)
	w.Coord(pk.Y)
	w.Coord(pk.Z)
	w.Uint8(pk.Yaw)
	w.Uint8(pk.Pitch)
}

func (pk *SpawnPlayer) PlayerID() int8      { return pk.ID_ }
func (pk *SpawnPlayer) SetPlayerID(id int8) { pk.ID_ = id }
func (pk *SpawnPlayer) Echoes() bool        { return true }

// SetPositionOrientation teleports a player on the client.
type SetPositionOrientation struct {
	ID_        int8
	X, Y, Z    float32
	Yaw, Pitch byte
}

func (pk *SetPositionOrientation) ID() byte { return 0x08 }

func (pk *SetPositionOrientation) encode(w *Writer) {
	w.Int8(pk.ID_)
	w.Coord(pk.X)
	w.Coord(pk.Y)
	w.Coord(pk.Z)
	w.Uint8(pk.Yaw)
	w.Uint8(pk.Pitch)
}

func (pk *SetPositionOrientation) PlayerID() int8      { return pk.ID_ }
func (pk *SetPositionOrientation) SetPlayerID(id int8) { pk.ID_ = id }
func (pk *SetPositionOrientation) Echoes() bool        { return false }

// DespawnPlayer removes a player from the client's world.
type DespawnPlayer struct {
	ID_ int8
}

func (pk *DespawnPlayer) ID() byte { return 0x0c }

func (pk *DespawnPlayer) encode(w *Writer) {
	w.Int8(pk.ID_)
}

func (pk *DespawnPlayer) PlayerID() int8      { return pk.ID_ }
func (pk *DespawnPlayer) SetPlayerID(id int8) { pk.ID_ = id }
func (pk *DespawnPlayer) Echoes() bool        { return false }

// Message is a chat line. The player id is -1 for server messages and for
// lines echoed back to their sender.
type Message struct {
	ID_      int8
	Contents string
}

func (pk *Message) ID() byte { return 0x0d }

func (pk *Message) encode(w *Writer) {
	w.Int8(pk.ID_)
	w.String(pk.Contents)
}

func (pk *Message) PlayerID() int8      { return pk.ID_ }
func (pk *Message) SetPlayerID(id int8) { pk.ID_ = id }
func (pk *Message) Echoes() bool        { return true }

// DisconnectPlayer tells the client why it is being disconnected.
type DisconnectPlayer struct {
	Reason string
}

func (pk *DisconnectPlayer) ID() byte { return 0x0e }

func (pk *DisconnectPlayer) encode(w *Writer) {
	w.String(pk.Reason)
}

// UpdateUserType informs the client of its permission tier, which unlocks
// placing op-only blocks like bedrock client-side.
type UpdateUserType struct {
	UserType byte
}

func (pk *UpdateUserType) ID() byte { return 0x0f }

func (pk *UpdateUserType) encode(w *Writer) {
	w.Uint8(pk.UserType)
}

// ExtInfo opens the server half of the extension handshake.
type ExtInfo struct {
	AppName        string
	ExtensionCount int16
}

func (pk *ExtInfo) ID() byte { return 0x10 }

func (pk *ExtInfo) encode(w *Writer) {
	w.String(pk.AppName)
	w.Int16(pk.ExtensionCount)
}

// ExtEntry names one extension the server supports.
type ExtEntry struct {
	Name    string
	Version int32
}

func (pk *ExtEntry) ID() byte { return 0x11 }

func (pk *ExtEntry) encode(w *Writer) {
	w.String(pk.Name)
	w.Int32(pk.Version)
}

// CustomBlockSupportLevel asks the client for its custom block support
// level and advertises the server's.
type CustomBlockSupportLevel struct {
	Level byte
}

func (pk *CustomBlockSupportLevel) ID() byte { return 0x13 }

func (pk *CustomBlockSupportLevel) encode(w *Writer) {
	w.Uint8(pk.Level)
}

// HoldThis forces the client's held block, optionally locking it.
type HoldThis struct {
	Block         byte
	PreventChange byte
}

func (pk *HoldThis) ID() byte { return 0x14 }

func (pk *HoldThis) encode(w *Writer) {
	w.Uint8(pk.Block)
	w.Uint8(pk.PreventChange)
}

// EnvSetWeatherType switches the client's weather rendering.
type EnvSetWeatherType struct {
	Weather byte
}

func (pk *EnvSetWeatherType) ID() byte { return 0x1f }

func (pk *EnvSetWeatherType) encode(w *Writer) {
	w.Uint8(pk.Weather)
}

// SetInventoryOrder places a block at a position in the client's inventory.
// A zero block hides the slot, which is how disallowed placements are
// removed from a player's hotbar.
type SetInventoryOrder struct {
	Order byte
	Block byte
}

func (pk *SetInventoryOrder) ID() byte { return 0x2c }

func (pk *SetInventoryOrder) encode(w *Writer) {
	w.Uint8(pk.Order)
	w.Uint8(pk.Block)
}

// SetSpawnPoint moves the client's respawn position without teleporting it.
type SetSpawnPoint struct {
	X, Y, Z    float32
	Yaw, Pitch byte
}

func (pk *SetSpawnPoint) ID() byte { return 0x2e }

func (pk *SetSpawnPoint) encode(w *Writer) {
	w.Coord(pk.X)
	w.Coord(pk.Y)
	w.Coord(pk.Z)
	w.Uint8(pk.Yaw)
	w.Uint8(pk.Pitch)
}

// TeleportBehavior is the bit flag set of ExtEntityTeleport.
type TeleportBehavior byte

const (
	// TeleportUsePosition applies the packet's position fields.
	TeleportUsePosition TeleportBehavior = 1 << 0
	// TeleportModeInterpolated smoothly interpolates instead of snapping.
	TeleportModeInterpolated TeleportBehavior = 1 << 1
	// TeleportUseOrientation applies the packet's yaw and pitch fields.
	TeleportUseOrientation TeleportBehavior = 1 << 2
)

// ExtEntityTeleport is the extended teleport packet with per-field control
// over what the client applies.
type ExtEntityTeleport struct {
	ID_        int8
	Behavior   TeleportBehavior
	X, Y, Z    float32
	Yaw, Pitch byte
}

func (pk *ExtEntityTeleport) ID() byte { return 0x36 }

func (pk *ExtEntityTeleport) encode(w *Writer) {
	w.Int8(pk.ID_)
	w.Uint8(byte(pk.Behavior))
	w.Coord(pk.X)
	w.Coord(pk.Y)
	w.Coord(pk.Z)
	w.Uint8(pk.Yaw)
	w.Uint8(pk.Pitch)
}

func (pk *ExtEntityTeleport) PlayerID() int8      { return pk.ID_ }
func (pk *ExtEntityTeleport) SetPlayerID(id int8) { pk.ID_ = id }
func (pk *ExtEntityTeleport) Echoes() bool        { return false }
