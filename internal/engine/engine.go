// Package engine wraps the external document-conversion engine. The engine
// is a black box invoked as a separate process; this package defines the
// option and result contract and the exec-based implementation.
package engine

import "context"

// Converter runs document conversions with a fixed option set.
type Converter interface {
	Convert(ctx context.Context, inputPath string) (*Result, error)
}

// Factory builds a configured converter for an option set. The adapter
// caches the returned converters by settings digest.
type Factory func(opts Options) (Converter, error)
