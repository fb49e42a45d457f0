// Package visited provides a reusable visited-node set for graph traversal.
package visited

// Set tracks visited nodes using a bitset and a dirty list for fast reset.
type Set struct {
	bits  []uint64
	dirty []uint64
}

// New creates a visited set sized for capacity nodes.
func New(capacity int) *Set {
	return &Set{
		bits:  make([]uint64, (capacity+63)/64),
		dirty: make([]uint64, 0, 128),
	}
}

// Visit marks a node as visited.
func (v *Set) Visit(id uint64) {
	word := int(id >> 6)
	mask := uint64(1) << (id & 63)

	if word >= len(v.bits) {
		v.grow(word + 1)
	}

	if v.bits[word]&mask == 0 {
		v.bits[word] |= mask
		v.dirty = append(v.dirty, id)
	}
}

// Visited reports whether the node has been visited.
func (v *Set) Visited(id uint64) bool {
	word := int(id >> 6)
	if word >= len(v.bits) {
		return false
	}
	return v.bits[word]&(uint64(1)<<(id&63)) != 0
}

// Reset clears the visited status of every node visited since the last reset.
func (v *Set) Reset() {
	for _, id := range v.dirty {
		v.bits[id>>6] &^= uint64(1) << (id & 63)
	}
	v.dirty = v.dirty[:0]
}

func (v *Set) grow(newLen int) {
	newCap := len(v.bits) * 2
	if newCap < newLen {
		newCap = newLen
	}
	newBits := make([]uint64, newCap)
	copy(newBits, v.bits)
	v.bits = newBits
}
