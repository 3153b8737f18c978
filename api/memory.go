// Package api defines public API contracts for memblock.
package api

// Memory is the accessor contract of a block: bounds-checked reads and
// writes at offsets from the block's aligned base, in host byte order.
type Memory interface {
	Size() uint32
	Get(offset uint32) (byte, error)
	Set(offset uint32, value byte) error
	Read16(offset uint32) (uint16, error)
	Write16(offset uint32, value uint16) error
	Read32(offset uint32) (uint32, error)
	Write32(offset uint32, value uint32) error
}

// Releaser returns a block's storage to its allocator.
type Releaser interface {
	Release() error
}

// Block is a Memory that can be released.
type Block interface {
	Memory
	Releaser
}
