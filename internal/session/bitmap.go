package session

// bitmap is a compact bitset tracking per-chunk receipt.
type bitmap struct {
	bits int
	data []byte
}

// newBitmap allocates a bitmap sized for the given number of bits.
func newBitmap(bits int) *bitmap {
	if bits < 0 {
		bits = 0
	}
	return &bitmap{
		bits: bits,
		data: make([]byte, (bits+7)/8),
	}
}

// Set marks the bit at index i. Out-of-range indices are ignored.
func (b *bitmap) Set(i int) {
	if b == nil || i < 0 || i >= b.bits {
		return
	}
	b.data[i/8] |= 1 << uint(i%8)
}

// Get reports whether the bit at index i is set.
func (b *bitmap) Get(i int) bool {
	if b == nil || i < 0 || i >= b.bits {
		return false
	}
	return b.data[i/8]&(1<<uint(i%8)) != 0
}

// CountSet returns the number of set bits.
func (b *bitmap) CountSet() int {
	if b == nil {
		return 0
	}
	count := 0
	for _, v := range b.data {
		for v != 0 {
			v &= v - 1
			count++
		}
	}
	return count
}

// Missing returns the unset bit indices in ascending order.
func (b *bitmap) Missing() []int {
	missing := make([]int, 0)
	if b == nil {
		return missing
	}
	for i := 0; i < b.bits; i++ {
		if !b.Get(i) {
			missing = append(missing, i)
		}
	}
	return missing
}
