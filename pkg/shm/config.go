package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultDir        = "/dev/shm"
	defaultPrefix     = "memblock"
	defaultMode       = os.FileMode(0600)
	defaultMaxRetries = 5
)

// Config holds allocator creation parameters.
type Config struct {
	Dir    string      // directory segments are created in
	Prefix string      // segment name prefix
	Mode   os.FileMode // permission bits of new segments
	// MaxRetries bounds the retries of a segment creation that failed
	// transiently (name clash, EAGAIN, EINTR).
	MaxRetries uint64
	// MinFree is the number of bytes that must stay free in Dir after an
	// allocation.
	MinFree uint64
	Meter   metric.Meter
	Tracer  trace.Tracer
}

// DefaultConfig returns the config used for /dev/shm segments.
func DefaultConfig() Config {
	return Config{
		Dir:        defaultDir,
		Prefix:     defaultPrefix,
		Mode:       defaultMode,
		MaxRetries: defaultMaxRetries,
	}
}

// VerifyConfig reports whether cfg describes a usable allocator.
func VerifyConfig(cfg Config) error {
	if cfg.Dir == "" || !filepath.IsAbs(cfg.Dir) {
		return fmt.Errorf("segment dir must be an absolute path, got %q", cfg.Dir)
	}
	if cfg.Prefix == "" {
		return errors.New("segment prefix must not be empty")
	}
	if strings.ContainsRune(cfg.Prefix, os.PathSeparator) {
		return fmt.Errorf("segment prefix %q must not contain a path separator", cfg.Prefix)
	}
	if cfg.Mode.Perm()&0600 != 0600 {
		return fmt.Errorf("segment mode %v must allow owner read and write", cfg.Mode)
	}
	return nil
}
