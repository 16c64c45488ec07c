// Package pattern defines byte signatures with wildcard positions.
//
// A pattern is written as whitespace separated tokens, each either two hex
// digits or a wildcard marker:
//
//	48 8B ?? ?? 05
//
// The single character form "?" is accepted as a wildcard as well. Tokens
// must be separated by whitespace, so "488B" and "???" are malformed.
package pattern

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned for pattern text or byte/mask input that does not
// describe a usable pattern.
var ErrMalformed = errors.New("malformed pattern")

// Pattern is an immutable sequence of concrete bytes and wildcards.
type Pattern struct {
	bytes []byte // wildcard positions hold 0
	mask  []byte // 0xFF for concrete, 0x00 for wildcard
}

// Element is a single pattern position.
type Element struct {
	Value    byte
	Wildcard bool
}

// Parse parses the textual form of a pattern.
func Parse(text string) (*Pattern, error) {
	g, err := patternParser.ParseString("", text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if g.Open != g.Close {
		return nil, fmt.Errorf("%w: unbalanced braces", ErrMalformed)
	}

	p := &Pattern{
		bytes: make([]byte, len(g.Tokens)),
		mask:  make([]byte, len(g.Tokens)),
	}
	for i, t := range g.Tokens {
		if i > 0 {
			prev := g.Tokens[i-1]
			if prev.Pos.Offset+len(prev.text()) == t.Pos.Offset {
				return nil, fmt.Errorf("%w: %q and %q at offset %d are not separated", ErrMalformed, prev.text(), t.text(), t.Pos.Offset)
			}
		}
		if t.Wildcard != nil {
			continue
		}
		v, err := strconv.ParseUint(*t.Byte, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: byte %q: %v", ErrMalformed, *t.Byte, err)
		}
		p.bytes[i] = byte(v)
		p.mask[i] = 0xFF
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// MustParse is like Parse but panics on error. It is intended for patterns
// known at compile time.
func MustParse(text string) *Pattern {
	p, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return p
}

// FromMask builds a pattern from raw bytes and a mask of equal length.
// A zero mask byte marks the position as a wildcard.
func FromMask(data, mask []byte) (*Pattern, error) {
	if len(data) != len(mask) {
		return nil, fmt.Errorf("%w: %d bytes with %d mask bytes", ErrMalformed, len(data), len(mask))
	}
	p := &Pattern{
		bytes: make([]byte, len(data)),
		mask:  make([]byte, len(data)),
	}
	for i := range data {
		if mask[i] != 0 {
			p.bytes[i] = data[i]
			p.mask[i] = 0xFF
		}
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pattern) validate() error {
	if len(p.bytes) == 0 {
		return fmt.Errorf("%w: empty", ErrMalformed)
	}
	for _, m := range p.mask {
		if m != 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: no concrete bytes", ErrMalformed)
}

// Len returns the number of positions in the pattern.
func (p *Pattern) Len() int {
	return len(p.bytes)
}

// At returns the element at position i.
func (p *Pattern) At(i int) Element {
	return Element{Value: p.bytes[i], Wildcard: p.mask[i] == 0}
}

// Bytes returns a copy of the pattern bytes. Wildcard positions are zero.
func (p *Pattern) Bytes() []byte {
	return append([]byte(nil), p.bytes...)
}

// Mask returns a copy of the mask: 0xFF for concrete positions, 0 for wildcards.
func (p *Pattern) Mask() []byte {
	return append([]byte(nil), p.mask...)
}

// Match reports whether the pattern matches at the start of data.
func (p *Pattern) Match(data []byte) bool {
	if len(data) < len(p.bytes) {
		return false
	}
	data = data[:len(p.bytes)]
	for i, b := range data {
		if b&p.mask[i] != p.bytes[i] {
			return false
		}
	}
	return true
}

// LongestRun returns the start and length of the longest contiguous run of
// concrete bytes. Ties go to the earliest run.
func (p *Pattern) LongestRun() (start, length int) {
	cur := 0
	for i, m := range p.mask {
		if m == 0 {
			cur = 0
			continue
		}
		cur++
		if cur > length {
			start, length = i-cur+1, cur
		}
	}
	return start, length
}

// Run returns the bytes of the longest concrete run.
func (p *Pattern) Run() []byte {
	start, n := p.LongestRun()
	return p.bytes[start : start+n : start+n]
}

// Equal reports whether both patterns describe the same elements.
func (p *Pattern) Equal(o *Pattern) bool {
	if len(p.bytes) != len(o.bytes) {
		return false
	}
	for i := range p.bytes {
		if p.bytes[i] != o.bytes[i] || p.mask[i] != o.mask[i] {
			return false
		}
	}
	return true
}

// String renders the pattern in its canonical text form, which Parse
// accepts.
func (p *Pattern) String() string {
	var sb strings.Builder
	sb.Grow(len(p.bytes) * 3)
	for i := range p.bytes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if p.mask[i] == 0 {
			sb.WriteString("??")
			continue
		}
		fmt.Fprintf(&sb, "%02X", p.bytes[i])
	}
	return sb.String()
}

// Regexp returns a Latin-1 regular expression matching the same byte
// sequences. Runs of wildcards are coalesced into counted dots.
func (p *Pattern) Regexp() string {
	var sb strings.Builder
	sb.WriteString("(?s)")
	for i := 0; i < len(p.bytes); i++ {
		if p.mask[i] != 0 {
			fmt.Fprintf(&sb, "\\x%02x", p.bytes[i])
			continue
		}
		count := 1
		for i+count < len(p.bytes) && p.mask[i+count] == 0 {
			count++
		}
		writeDots(&sb, count)
		i += count - 1
	}
	return sb.String()
}

// maxRepeat is the largest repetition count RE2 accepts.
const maxRepeat = 1000

// writeDots writes a run of n wildcards as counted dots of at most
// maxRepeat each.
func writeDots(sb *strings.Builder, n int) {
	for n > 0 {
		c := min(n, maxRepeat)
		if c == 1 {
			sb.WriteByte('.')
		} else {
			fmt.Fprintf(sb, ".{%d}", c)
		}
		n -= c
	}
}
