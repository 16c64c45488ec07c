// Package sigmaker builds byte patterns that uniquely identify an address.
//
// Starting at the address, instructions are decoded one by one. Bytes that
// hold displacements, immediates or branch offsets become wildcards, and
// the pattern grows until it matches nowhere else in the image.
package sigmaker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sansecio/sigscan/memory"
	"github.com/sansecio/sigscan/pattern"
	"github.com/sansecio/sigscan/scanner"
)

// ErrTooLong is returned when no unique pattern fits in MaxLength bytes.
var ErrTooLong = errors.New("no unique pattern within length limit")

const (
	DefaultMinLength = 5
	DefaultMaxLength = 256

	maxInstLen = 15
)

// Image is the memory a pattern is generated from and checked against.
type Image interface {
	scanner.Source
	Arch() memory.Arch
}

// Options configures Generate. Zero values select the defaults.
type Options struct {
	MinLength int
	MaxLength int
	// Decoder overrides the decoder chosen from the image architecture.
	Decoder Decoder
	Scan    scanner.Options
}

// Result is a generated pattern.
type Result struct {
	Pattern      *pattern.Pattern
	Instructions int
}

// Generate returns the shortest instruction-aligned pattern of at least
// MinLength bytes whose only match in img is addr.
func Generate(ctx context.Context, img Image, addr uint64, opts Options) (*Result, error) {
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	dec := opts.Decoder
	if dec == nil {
		var err error
		if dec, err = DecoderFor(img.Arch()); err != nil {
			return nil, err
		}
	}

	code := make([]byte, opts.MaxLength+maxInstLen)
	n, err := img.Read(addr, code)
	if n == 0 {
		return nil, fmt.Errorf("reading %#x: %w", addr, err)
	}
	code = code[:n]

	mask := make([]byte, 0, len(code))
	scan := opts.Scan
	scan.MaxResults = 2

	for off, count := 0, 0; off < len(code); count++ {
		length, variable, err := dec.Decode(code[off:])
		if err != nil {
			if off > 0 && off+maxInstLen > len(code) {
				// Ran into the end of the mapped bytes.
				break
			}
			return nil, fmt.Errorf("at %#x: %w", addr+uint64(off), err)
		}
		if off+length > opts.MaxLength {
			break
		}
		start := len(mask)
		for range length {
			mask = append(mask, 0xFF)
		}
		for _, v := range variable {
			mask[start+v] = 0
		}
		off += length
		if off < opts.MinLength {
			continue
		}

		p, err := pattern.FromMask(code[:off], mask)
		if err != nil {
			continue
		}
		res, err := scanner.ScanAll(ctx, img, p, scan)
		if err != nil {
			return nil, err
		}
		if len(res.Addresses) == 1 && res.Addresses[0] == addr {
			return &Result{Pattern: p, Instructions: count + 1}, nil
		}
	}
	return nil, fmt.Errorf("%w: %d bytes at %#x", ErrTooLong, opts.MaxLength, addr)
}
