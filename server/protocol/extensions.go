package protocol

// Extension is a bitmask of negotiated protocol extensions. A connection's
// mask is the intersection of the extensions advertised by both sides,
// matched by name and version.
type Extension uint32

const (
	ExtCustomBlocks Extension = 1 << iota
	ExtEnvWeatherType
	ExtLongerMessages
	ExtInventoryOrder
	ExtHeldBlock
	ExtSetSpawnpoint
	ExtTeleport
	ExtFullCP437
	ExtEmoteFix
)

// Contains reports if all extensions in mask are present in e.
func (e Extension) Contains(mask Extension) bool {
	return e&mask == mask
}

// ExtensionInfo describes one supported extension as it appears in an
// ExtEntry packet.
type ExtensionInfo struct {
	Name    string
	Version int32
	Bit     Extension
}

// Extensions is the set of extensions this server supports, in the order
// they are advertised during negotiation.
func Extensions() []ExtensionInfo {
	return []ExtensionInfo{
		{Name: "CustomBlocks", Version: 1, Bit: ExtCustomBlocks},
		{Name: "EnvWeatherType", Version: 1, Bit: ExtEnvWeatherType},
		{Name: "LongerMessages", Version: 1, Bit: ExtLongerMessages},
		{Name: "InventoryOrder", Version: 1, Bit: ExtInventoryOrder},
		{Name: "HeldBlock", Version: 1, Bit: ExtHeldBlock},
		{Name: "SetSpawnpoint", Version: 1, Bit: ExtSetSpawnpoint},
		{Name: "ExtEntityTeleport", Version: 1, Bit: ExtTeleport},
		{Name: "FullCP437", Version: 1, Bit: ExtFullCP437},
		{Name: "EmoteFix", Version: 1, Bit: ExtEmoteFix},
	}
}
