// Package module implements the polymorphic Module capability set, its
// name-hash factory, and filter-group evaluation (spec.md §4.5).
/*
 * Copyright (c) 2024, OmniStack authors.
 */
package module

import (
	"github.com/omnistack/omnistack/packet"
)

// Type is spec.md §3's ModuleType, governing how the engine shares a
// packet with this module.
type Type uint8

const (
	// ReadOnly modules may observe but not mutate; the engine may fan
	// them out without duplication.
	ReadOnly Type = iota
	// ReadWrite modules mutate in place and receive sole ownership.
	ReadWrite
	// Occupy modules may retain the packet across returns, deferring
	// release.
	Occupy
)

// EventType identifies a raised event by its static name hash (spec.md
// §4.5 "register_events() -> [event_type]").
type EventType uint32

// Event is a stack-sized control-plane notification (spec.md §9
// "Module-raised events ... stack-allocated up to a compile-time size
// bound"). Payload is fixed-size to avoid a hot-path allocation.
type Event struct {
	Type    EventType
	NodeRef uint64
	Value   uint64
}

// Filter is a predicate over a packet evaluated by the upstream engine to
// decide whether a downstream edge fires (spec.md §4.5). It must not
// mutate the packet.
type Filter func(p *packet.Packet) bool

// RaiseEventFunc lets a module synchronously raise a control-plane event
// back into its owning engine (spec.md §4.7 step 7: "Install the
// engine's raise-event callback on each module").
type RaiseEventFunc func(Event)

// Module is the capability set of spec.md §4.5. Every entry point may be
// a no-op; HasTimer/RegisterEvents let the engine skip modules that don't
// implement the optional ones without a type assertion on the hot path.
type Module interface {
	Name() string
	Type() Type
	AllowDuplication() bool

	// Initialize is called once at engine start with the engine's name
	// prefix and its packet pool.
	Initialize(namePrefix string, pool *packet.Pool) error
	// Destroy is called once at engine teardown, in reverse
	// initialization order.
	Destroy()

	// MainLogic transforms or drops p; it may return a chain via
	// p.NextPacket.
	MainLogic(p *packet.Packet) *packet.Packet

	// GetFilter returns this module's predicate for an upstream edge
	// identified by the upstream module's name hash and its global id.
	GetFilter(upstreamNameHash uint32, upstreamGlobalID int) Filter

	// HasTimer reports whether TimerLogic should be called once per
	// engine loop iteration.
	HasTimer() bool
	TimerLogic(tickUs int64) *packet.Packet

	// RegisterEvents lists the event types this module wants dispatched
	// to EventCallback.
	RegisterEvents() []EventType
	EventCallback(ev Event) *packet.Packet

	// SetRaiseEvent installs the owning engine's raise_event callback
	// (spec.md §4.7 step 7), called once during initialization.
	SetRaiseEvent(fn RaiseEventFunc)
}

// Base provides the common no-op implementations so concrete modules only
// override what they need, the same "partial struct embedding" shape the
// teacher uses for its own optional interfaces.
type Base struct {
	NameStr  string
	ModType  Type
	AllowDup bool
	Pool     *packet.Pool
	NamePfx  string

	raiseEvent RaiseEventFunc
}

func (b *Base) Name() string           { return b.NameStr }
func (b *Base) Type() Type             { return b.ModType }
func (b *Base) AllowDuplication() bool { return b.AllowDup }

func (b *Base) Initialize(namePrefix string, pool *packet.Pool) error {
	b.NamePfx = namePrefix
	b.Pool = pool
	return nil
}
func (b *Base) Destroy() {}

func (b *Base) GetFilter(uint32, int) Filter { return nil }

func (b *Base) HasTimer() bool                     { return false }
func (b *Base) TimerLogic(int64) *packet.Packet    { return nil }
func (b *Base) RegisterEvents() []EventType        { return nil }
func (b *Base) EventCallback(Event) *packet.Packet { return nil }

func (b *Base) SetRaiseEvent(fn RaiseEventFunc) { b.raiseEvent = fn }

// RaiseEvent lets an embedding module call back into its engine; a no-op
// until SetRaiseEvent has been called.
func (b *Base) RaiseEvent(ev Event) {
	if b.raiseEvent != nil {
		b.raiseEvent(ev)
	}
}
