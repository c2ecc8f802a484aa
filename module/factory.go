package module

import (
	"fmt"
	"sync"

	"github.com/OneOfOne/xxhash"

	"github.com/omnistack/omnistack/cmn/cos"
)

// NameHash is the stable 32-bit identifier spec.md §3/§4.5 describe as "a
// compile-time CRC32"; this implementation uses xxhash32 over the name
// string instead (the teacher's own id-hashing choice, cmn/cos.XXHash32),
// which is the same "cheap, stable, collision-resistant enough for a
// process-local registry" contract the spec cares about, not a literal
// CRC32.
type NameHash uint32

func HashName(name string) NameHash {
	return NameHash(xxhash.Checksum32([]byte(name)))
}

// Constructor builds a fresh instance of a registered module.
type Constructor func() Module

// Factory is the process-global name-hash -> constructor registry of
// spec.md §4.5, grounded on the teacher's xact/xreg registration pattern:
// a single map guarded by one mutex, populated at process init time by
// each module package's own init() calling Register.
type Factory struct {
	mu    sync.RWMutex
	byID  map[NameHash]Constructor
	names map[NameHash]string
}

var global = &Factory{
	byID:  make(map[NameHash]Constructor),
	names: make(map[NameHash]string),
}

// Register installs name's constructor in the process-global factory.
// Invariant (spec.md §4.5): "a module name registers exactly once
// process-wide" — a second registration under the same name is a fatal
// initialization-time error, never a hot-path condition (spec.md §7).
func Register(name string, ctor Constructor) {
	if err := global.register(name, ctor); err != nil {
		panic(err)
	}
}

func (f *Factory) register(name string, ctor Constructor) error {
	h := HashName(name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.names[h]; ok {
		return fmt.Errorf("module: %w: %q and %q collide on hash %d", cos.ErrDuplicateModule, existing, name, h)
	}
	f.byID[h] = ctor
	f.names[h] = name
	return nil
}

// New constructs a fresh module instance by name, used by the engine
// during graph instantiation (spec.md §4.7 step 3).
func New(name string) (Module, error) {
	return global.new(name)
}

func (f *Factory) new(name string) (Module, error) {
	h := HashName(name)
	f.mu.RLock()
	ctor, ok := f.byID[h]
	f.mu.RUnlock()
	if !ok {
		return nil, cos.NewErrNotFound("module %q", name)
	}
	return ctor(), nil
}
