package engine

import (
	"github.com/omnistack/omnistack/cmn/cos"
	"github.com/omnistack/omnistack/packet"
)

// Submit implements node.ComSink: it is the engine's global
// protocol-stack channel, addressed by com_user_id, that BasicNode's
// write_bottom/put_into_hashtable/clear_from_hashtable_and_close submit
// command packets onto (spec.md §4.8). com_user_id 0 is reserved for
// control commands and is always routed to this engine's NodeUser
// module; other ids identify which NodeUser-owned flow a Packet command
// belongs to and are left on the packet for NodeUser to read back out of
// p.Value.
func (e *Engine) Submit(comUserID int, p *packet.Packet) error {
	if e.nodeUserIdx < 0 {
		p.Release()
		return cos.NewErrNotFound("NodeUser module")
	}
	p.Value = uint64(comUserID)

	e.inboxMu.Lock()
	e.inbox = append(e.inbox, queueEntry{localIdx: e.nodeUserIdx, pkt: p})
	e.inboxMu.Unlock()
	return nil
}
