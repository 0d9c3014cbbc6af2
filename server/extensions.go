package server

import (
	"fmt"
	"net"

	"github.com/df-mc/calcite/server/block"
	"github.com/df-mc/calcite/server/protocol"
)

// negotiateExtensions runs the protocol extension handshake over conn. The
// server announces every extension it supports; the client answers with its
// own list and the intersection by name and version becomes the session's
// extension set. When custom blocks are negotiated, support levels are
// exchanged too and the lower of the two is used.
//
// The handshake happens before the player enters the world, so no server
// state is touched here and no lock is held across the socket reads.
func negotiateExtensions(conn net.Conn) (protocol.Extension, byte, error) {
	supported := protocol.Extensions()

	if _, err := conn.Write(protocol.EncodePacket(&protocol.ExtInfo{
		AppName:        protocol.SoftwareName + " " + protocol.SoftwareVersion,
		ExtensionCount: int16(len(supported)),
	})); err != nil {
		return 0, 0, fmt.Errorf("write extension info: %w", err)
	}
	for _, ext := range supported {
		if _, err := conn.Write(protocol.EncodePacket(&protocol.ExtEntry{
			Name:    ext.Name,
			Version: ext.Version,
		})); err != nil {
			return 0, 0, fmt.Errorf("write extension entry: %w", err)
		}
	}

	pk, err := protocol.ReadClientPacket(conn)
	if err != nil {
		return 0, 0, fmt.Errorf("read extension info: %w", err)
	}
	info, ok := pk.(*protocol.ClientExtInfo)
	if !ok {
		return 0, 0, fmt.Errorf("read extension info: unexpected packet %T", pk)
	}

	var extensions protocol.Extension
	for i := int16(0); i < info.ExtensionCount; i++ {
		pk, err := protocol.ReadClientPacket(conn)
		if err != nil {
			return 0, 0, fmt.Errorf("read extension entry: %w", err)
		}
		entry, ok := pk.(*protocol.ClientExtEntry)
		if !ok {
			return 0, 0, fmt.Errorf("read extension entry: unexpected packet %T", pk)
		}
		for _, ext := range supported {
			if ext.Name == entry.Name && ext.Version == entry.Version {
				extensions |= ext.Bit
			}
		}
	}

	var level byte
	if extensions.Contains(protocol.ExtCustomBlocks) {
		if _, err := conn.Write(protocol.EncodePacket(&protocol.CustomBlockSupportLevel{
			Level: block.SupportLevel,
		})); err != nil {
			return 0, 0, fmt.Errorf("write custom block support level: %w", err)
		}
		pk, err := protocol.ReadClientPacket(conn)
		if err != nil {
			return 0, 0, fmt.Errorf("read custom block support level: %w", err)
		}
		support, ok := pk.(*protocol.ClientCustomBlockSupportLevel)
		if !ok {
			return 0, 0, fmt.Errorf("read custom block support level: unexpected packet %T", pk)
		}
		level = min(support.Level, block.SupportLevel)
	}
	return extensions, level, nil
}
