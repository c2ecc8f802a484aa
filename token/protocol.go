package token

// reqType / Status mirror spec.md §6 "Token control-plane RPC": request
// types CreateToken, DestroyToken, Acquire, Return. Acquire's response may
// arrive long after the request, once the token is actually handed over,
// so ReqID (not connection order) is what ties a response back to its
// caller — see client.go's recvLoop.
type reqType uint8

const (
	reqCreateToken reqType = iota
	reqDestroyToken
	reqAcquire
	reqReturn
)

type Status uint8

const (
	StatusSuccess Status = iota
	StatusUnknownToken
	StatusDropped // sent to each queued waiter when the token is destroyed
)

const nameFieldLen = 64

type wireRequest struct {
	ReqID    uint64
	Type     reqType
	_        [7]byte
	TokenID  uint64
	ThreadID uint32
	_        uint32
}

type wireResponse struct {
	ReqID      uint64
	Status     Status
	_          [7]byte
	TokenID    uint64
	RegionSize uint64
	Offset     uint64
	NameLen    uint8
	Name       [nameFieldLen]byte
	_          [7]byte
}

func putName(dst *[nameFieldLen]byte, s string) uint8 {
	n := copy(dst[:], s)
	return uint8(n)
}

func getName(src *[nameFieldLen]byte, n uint8) string {
	return string(src[:n])
}
