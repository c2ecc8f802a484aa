package hashtable_test

import (
	"unsafe"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/omnistack/omnistack/hashtable"
)

var _ = Describe("Table", func() {
	var t *hashtable.Table
	var val int

	BeforeEach(func() {
		t = hashtable.New()
		val = 42
	})

	It("round-trips Insert then Lookup (spec property 8)", func() {
		t.Insert("flow-a", unsafe.Pointer(&val))
		got, ok := t.Lookup("flow-a")
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(unsafe.Pointer(&val)))
	})

	It("reports not-found for an absent key", func() {
		_, ok := t.Lookup("missing")
		Expect(ok).To(BeFalse())
	})

	It("stops returning a value once it's been Deleted", func() {
		t.Insert("flow-a", unsafe.Pointer(&val))
		Expect(t.Delete("flow-a")).To(BeTrue())
		_, ok := t.Lookup("flow-a")
		Expect(ok).To(BeFalse())
	})

	It("accepts a precomputed hash for insert and lookup", func() {
		h := hashtable.HashKey("flow-b")
		t.InsertHashed("flow-b", h, unsafe.Pointer(&val))
		got, ok := t.LookupHashed("flow-b", h)
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(unsafe.Pointer(&val)))
	})

	It("visits every inserted pair exactly once via ForEach", func() {
		vals := map[string]*int{"a": new(int), "b": new(int), "c": new(int)}
		for k, v := range vals {
			t.Insert(k, unsafe.Pointer(v))
		}
		seen := map[string]bool{}
		t.ForEach(func(key string, value unsafe.Pointer) {
			seen[key] = true
		})
		Expect(seen).To(HaveLen(3))
	})
})
