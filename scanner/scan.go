package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sansecio/sigscan/parallel"
	"github.com/sansecio/sigscan/pattern"
)

const (
	// DefaultMaxResults bounds the number of distinct hits kept by ScanAll.
	DefaultMaxResults = 1000

	// DefaultPartitionSize is the chunk size used when a single region is
	// split across workers.
	DefaultPartitionSize = 1 << 20
)

// ErrShortRead is returned when a Source delivers fewer bytes than a region
// claims to hold.
var ErrShortRead = errors.New("short read")

// Region is a contiguous, readable address range.
type Region struct {
	Addr uint64
	Size int
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Addr + uint64(r.Size)
}

// Source is the memory being scanned.
type Source interface {
	// Regions returns the readable ranges ordered by address.
	Regions() []Region
	// Read copies memory starting at addr into p and returns the number of
	// bytes copied.
	Read(addr uint64, p []byte) (int, error)
}

// Viewer is implemented by sources that can expose a region without copying.
// The returned slice must not be modified.
type Viewer interface {
	View(r Region) ([]byte, error)
}

// Buffer is a Source over one contiguous byte slice mapped at Base.
type Buffer struct {
	Base uint64
	Data []byte
}

func (b *Buffer) Regions() []Region {
	return []Region{{Addr: b.Base, Size: len(b.Data)}}
}

func (b *Buffer) Read(addr uint64, p []byte) (int, error) {
	if addr < b.Base || addr-b.Base > uint64(len(b.Data)) {
		return 0, fmt.Errorf("%w: %#x outside buffer", ErrShortRead, addr)
	}
	n := copy(p, b.Data[addr-b.Base:])
	if n < len(p) {
		return n, fmt.Errorf("%w: %d of %d bytes at %#x", ErrShortRead, n, len(p), addr)
	}
	return n, nil
}

func (b *Buffer) View(r Region) ([]byte, error) {
	if r.Addr < b.Base || r.End() > b.Base+uint64(len(b.Data)) {
		return nil, fmt.Errorf("%w: region %#x+%#x outside buffer", ErrShortRead, r.Addr, r.Size)
	}
	off := r.Addr - b.Base
	return b.Data[off : off+uint64(r.Size)], nil
}

// Options configures ScanAll.
type Options struct {
	Strategy Strategy
	// Workers is the goroutine count; zero or less uses one per CPU.
	Workers int
	// PartitionSize is the chunk size for single-region sources. Zero selects
	// DefaultPartitionSize.
	PartitionSize int
	// Overlap extends each chunk into the next. Values below the pattern
	// length minus one are raised to it.
	Overlap int
	// MaxResults caps the number of distinct hits. Zero selects
	// DefaultMaxResults and a negative value disables the cap.
	MaxResults int
	// Progress, if set, is called with the running number of distinct hits.
	Progress func(hits int)
}

// Result holds the distinct hit addresses of a completed scan.
type Result struct {
	Addresses []uint64 // ascending
	// Truncated reports that hits were dropped because of MaxResults.
	Truncated bool
}

// ScanAll finds every address in src at which p matches.
//
// A source with several regions is scanned region by region; a source with
// a single region is split into overlapping partitions. Either way the
// result holds each matching address once. If ctx is cancelled ScanAll
// returns ctx.Err() and no result; a result is only ever returned for a scan
// that covered all of src.
func ScanAll(ctx context.Context, src Source, p *pattern.Pattern, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := New(opts.Strategy, p)
	if err != nil {
		return nil, err
	}

	c := newCollector(opts)
	regions := src.Regions()
	if len(regions) == 1 {
		err = scanPartitioned(ctx, src, regions[0], m, opts, c)
	} else {
		err = scanSegments(ctx, src, regions, m, opts, c)
	}
	if err != nil {
		return nil, err
	}
	return c.result(), nil
}

func scanSegments(ctx context.Context, src Source, regions []Region, m Matcher, opts Options, c *collector) error {
	return parallel.ForEach(ctx, len(regions), opts.Workers, func(ctx context.Context, i int) error {
		r := regions[i]
		data, err := regionBytes(src, r)
		if err != nil {
			return err
		}
		var hits []uint64
		for off := range m.Offsets(data) {
			hits = append(hits, r.Addr+uint64(off))
		}
		c.add(hits)
		return nil
	})
}

func scanPartitioned(ctx context.Context, src Source, r Region, m Matcher, opts Options, c *collector) error {
	data, err := regionBytes(src, r)
	if err != nil {
		return err
	}
	size := opts.PartitionSize
	if size <= 0 {
		size = DefaultPartitionSize
	}
	overlap := max(opts.Overlap, m.Pattern().Len()-1)

	return parallel.Partition(ctx, len(data), size, overlap, opts.Workers, func(ctx context.Context, ch parallel.Chunk) error {
		var hits []uint64
		for off := range m.Offsets(data[ch.Start:ch.End]) {
			hits = append(hits, r.Addr+uint64(ch.Start+off))
		}
		c.add(hits)
		return nil
	})
}

// regionBytes returns the contents of r, without copying when src allows.
func regionBytes(src Source, r Region) ([]byte, error) {
	if v, ok := src.(Viewer); ok {
		return v.View(r)
	}
	buf := make([]byte, r.Size)
	n, err := src.Read(r.Addr, buf)
	if n < r.Size {
		if err == nil {
			err = ErrShortRead
		}
		return nil, fmt.Errorf("reading region %#x: %d of %d bytes: %w", r.Addr, n, r.Size, err)
	}
	return buf, nil
}

// collector is the shared, deduplicating hit set.
type collector struct {
	mu        sync.Mutex
	seen      map[uint64]struct{}
	max       int
	truncated bool
	progress  func(int)
}

func newCollector(opts Options) *collector {
	limit := opts.MaxResults
	if limit == 0 {
		limit = DefaultMaxResults
	}
	return &collector{
		seen:     make(map[uint64]struct{}),
		max:      limit,
		progress: opts.Progress,
	}
}

func (c *collector) add(hits []uint64) {
	if len(hits) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range hits {
		if _, ok := c.seen[h]; ok {
			continue
		}
		if c.max >= 0 && len(c.seen) >= c.max {
			c.truncated = true
			continue
		}
		c.seen[h] = struct{}{}
	}
	if c.progress != nil {
		c.progress(len(c.seen))
	}
}

func (c *collector) result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	addrs := make([]uint64, 0, len(c.seen))
	for a := range c.seen {
		addrs = append(addrs, a)
	}
	slices.Sort(addrs)
	return &Result{Addresses: addrs, Truncated: c.truncated}
}

// ScanSet scans src once for every pattern of set and returns one result
// per pattern, in set order. Each region is split into overlapping chunks of
// opts.PartitionSize and the chunks of all regions share one worker pool.
// opts.Strategy is ignored and MaxResults applies to each pattern on its own.
func ScanSet(ctx context.Context, src Source, set *Set, opts Options) ([]*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := opts.PartitionSize
	if size <= 0 {
		size = DefaultPartitionSize
	}
	overlap := max(opts.Overlap, set.MaxLen()-1)

	type unit struct {
		region Region
		chunk  parallel.Chunk
	}
	var units []unit
	for _, r := range src.Regions() {
		for _, ch := range parallel.Chunks(r.Size, size, overlap) {
			units = append(units, unit{region: r, chunk: ch})
		}
	}

	opts.Progress = nil
	collectors := make([]*collector, set.Len())
	for i := range collectors {
		collectors[i] = newCollector(opts)
	}

	err := parallel.ForEach(ctx, len(units), opts.Workers, func(ctx context.Context, i int) error {
		u := units[i]
		data, err := chunkBytes(src, u.region, u.chunk)
		if err != nil {
			return err
		}
		hits := make(map[int][]uint64)
		base := u.region.Addr + uint64(u.chunk.Start)
		for pi, off := range set.Offsets(data) {
			hits[pi] = append(hits[pi], base+uint64(off))
		}
		for pi, h := range hits {
			collectors[pi].add(h)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]*Result, len(collectors))
	for i, c := range collectors {
		results[i] = c.result()
	}
	return results, nil
}

// chunkBytes returns the bytes of one chunk of r.
func chunkBytes(src Source, r Region, ch parallel.Chunk) ([]byte, error) {
	sub := Region{Addr: r.Addr + uint64(ch.Start), Size: ch.End - ch.Start}
	return regionBytes(src, sub)
}
