package cos

import (
	"sync"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sidOnce sync.Once
	sid     *shortid.Shortid
	seedCtr uint64
)

func initShortID() {
	seed := atomic.AddUint64(&seedCtr, 1)
	sid, _ = shortid.New(1, uuidABC, seed)
}

// GenUUID returns a short, printable id. No package in this repository
// calls it: process, thread, node and token ids are plain integers.
func GenUUID() string {
	sidOnce.Do(initShortID)
	id, err := sid.Generate()
	if err != nil {
		// Practically unreachable (shortid only errors on a misconfigured
		// alphabet); fall back to a hash of the counter so callers never
		// have to handle an error from an id generator.
		id = GenTie()
	}
	return id
}

// GenTie produces a short hex tie-breaker from the monotonic counter, used
// as a UUID fallback and as a cheap per-call-site disambiguator.
func GenTie() string {
	n := atomic.AddUint64(&seedCtr, 1)
	h := xxhash.NewS64(n)
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(n >> (8 * i))
	}
	h.Write(buf[:])
	return HashToStr(h.Sum64())
}

// HashToStr renders a 64-bit hash as a fixed-width hex string, used for
// compact log lines.
func HashToStr(h uint64) string {
	const hex = "0123456789abcdef"
	var buf [16]byte
	for i := 15; i >= 0; i-- {
		buf[i] = hex[h&0xf]
		h >>= 4
	}
	return string(buf[:])
}

// XXHash32 hashes a byte string with the same hash family the teacher uses
// for its own ids; used as the default hashtable and flow-hash function.
// The seed only varies the result when non-zero (two keys with seed 0
// collapse to the unseeded checksum, which is what callers want by default).
func XXHash32(b []byte, seed uint32) uint32 {
	if seed == 0 {
		return xxhash.Checksum32(b)
	}
	h := xxhash.NewS32(seed)
	h.Write(b)
	return h.Sum32()
}

// XXHash64 is the 64-bit counterpart, used where a wider hash reduces
// collision probability (e.g. memory-pool region names).
func XXHash64(b []byte) uint64 {
	return xxhash.Checksum64(b)
}
