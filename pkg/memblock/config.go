package memblock

import (
	"github.com/pkg/errors"
)

// Config holds block creation parameters.
type Config struct {
	// Size is the usable size in bytes. Must be positive.
	Size uint32
	// Alignment is the byte boundary the base address must satisfy; 1 means
	// unaligned. Any value in [1, 255] is accepted, powers of two or not.
	Alignment uint8
	// Allocator supplies the backing storage. Nil means DefaultAllocator.
	Allocator Allocator
}

// Option modifies a Config.
type Option func(*Config)

// WithAlignment sets the base address alignment.
func WithAlignment(alignment uint8) Option {
	return func(c *Config) {
		c.Alignment = alignment
	}
}

// WithAllocator sets the allocator used for the backing storage.
func WithAllocator(a Allocator) Option {
	return func(c *Config) {
		c.Allocator = a
	}
}

// DefaultConfig returns an unaligned, zero-size config on the Go heap.
func DefaultConfig() *Config {
	return &Config{
		Alignment: 1,
		Allocator: DefaultAllocator,
	}
}

// VerifyConfig reports whether cfg can create a block.
func VerifyConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if cfg.Size == 0 {
		return errors.Wrap(ErrInvalidSize, "size must be positive")
	}
	if cfg.Alignment == 0 {
		return errors.Wrap(ErrInvalidAlignment, "alignment must be at least 1")
	}
	return nil
}
