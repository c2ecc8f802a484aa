package node

import (
	"unsafe"

	"github.com/omnistack/omnistack/packet"
)

// NodeCommandType distinguishes the three kinds of packet the engine's
// NodeUser module can receive on a node's com_user_id channel (spec.md
// §4.8 "Command packets").
type NodeCommandType uint8

const (
	CmdPacket NodeCommandType = iota
	CmdUpdateNodeInfo
	CmdClearNodeInfo
)

// NodeCommandHeader is prepended to a packet's payload by write_bottom,
// put_into_hashtable and clear_from_hashtable_and_close before it is
// submitted to the engine; NodeUser reads it on the other end and then
// releases the packet.
type NodeCommandHeader struct {
	Type NodeCommandType
}

const commandHeaderSize = int(unsafe.Sizeof(NodeCommandHeader{}))

// PrependCommandHeader claims headroom for a NodeCommandHeader and writes
// typ into it, returning false if the packet has run out of headroom.
func PrependCommandHeader(p *packet.Packet, typ NodeCommandType) bool {
	buf, ok := p.Prepend(commandHeaderSize)
	if !ok {
		return false
	}
	buf[0] = byte(typ)
	return true
}

// ParseCommandHeader reads the NodeCommandHeader off the front of p's
// current data window without consuming it; NodeUser dispatches on the
// type and releases p without advancing its data window.
func ParseCommandHeader(p *packet.Packet) (NodeCommandType, bool) {
	data := p.Data()
	if len(data) < commandHeaderSize {
		return 0, false
	}
	return NodeCommandType(data[0]), true
}
