package scanner

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/sansecio/sigscan/pattern"
)

// segmentSource is a multi-region Source that copies on every read and
// counts reads.
type segmentSource struct {
	segments map[uint64][]byte
	order    []uint64
	reads    atomic.Int32
	short    bool
}

func newSegmentSource() *segmentSource {
	return &segmentSource{segments: make(map[uint64][]byte)}
}

func (s *segmentSource) add(addr uint64, data []byte) {
	s.segments[addr] = data
	s.order = append(s.order, addr)
	slices.Sort(s.order)
}

func (s *segmentSource) Regions() []Region {
	regions := make([]Region, 0, len(s.order))
	for _, a := range s.order {
		regions = append(regions, Region{Addr: a, Size: len(s.segments[a])})
	}
	return regions
}

func (s *segmentSource) Read(addr uint64, p []byte) (int, error) {
	s.reads.Add(1)
	data, ok := s.segments[addr]
	if !ok {
		return 0, errors.New("unmapped")
	}
	if s.short {
		return copy(p, data[:len(data)/2]), nil
	}
	return copy(p, data), nil
}

func TestScanAllBuffer(t *testing.T) {
	data := make([]byte, 64*1024)
	copy(data[0x1000:], []byte{0x48, 0x8B, 0x11, 0x22, 0x05})
	src := &Buffer{Base: 0x400000, Data: data}

	for _, s := range strategies {
		t.Run(s.String(), func(t *testing.T) {
			res, err := ScanAll(context.Background(), src, pattern.MustParse("48 8B ?? ?? 05"), Options{
				Strategy:      s,
				PartitionSize: 4096,
				Workers:       4,
			})
			if err != nil {
				t.Fatalf("ScanAll() error = %v", err)
			}
			if !slices.Equal(res.Addresses, []uint64{0x401000}) {
				t.Errorf("Addresses = %#x, want [0x401000]", res.Addresses)
			}
			if res.Truncated {
				t.Error("Truncated = true")
			}
		})
	}
}

func TestScanAllPartitionsMatchWholeBuffer(t *testing.T) {
	rng := rand.New(rand.NewPCG(21, 42))
	alphabet := []byte{0x00, 0x48, 0x8B, 0x05}
	for round := range 30 {
		p := randomPattern(rng, alphabet)
		data := randomData(rng, alphabet, 4096+rng.IntN(4096))

		var want []uint64
		for _, off := range FindAll(naiveMatcher{pat: p}, data) {
			want = append(want, uint64(0x1000+off))
		}

		size := 1 + rng.IntN(300)
		res, err := ScanAll(context.Background(), &Buffer{Base: 0x1000, Data: data}, p, Options{
			PartitionSize: size,
			Workers:       3,
			MaxResults:    -1,
		})
		if err != nil {
			t.Fatalf("ScanAll() error = %v", err)
		}
		if !slices.Equal(res.Addresses, want) {
			t.Fatalf("round %d: partition size %d found %d hits, want %d", round, size, len(res.Addresses), len(want))
		}
	}
}

func TestScanAllStraddlingChunkBoundary(t *testing.T) {
	data := make([]byte, 100)
	copy(data[46:], []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE, 0xBA, 0xBE})
	res, err := ScanAll(context.Background(), &Buffer{Data: data}, pattern.MustParse("DE AD ?? EF CA FE BA BE"), Options{
		PartitionSize: 50,
	})
	if err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}
	if !slices.Equal(res.Addresses, []uint64{46}) {
		t.Errorf("Addresses = %v, want [46]", res.Addresses)
	}
}

func TestScanAllSegments(t *testing.T) {
	src := newSegmentSource()
	src.add(0x1000, []byte{0x90, 0xE8, 0x01, 0x02, 0x03, 0x04, 0xC3})
	src.add(0x8000, []byte{0xE8, 0xAA, 0xBB, 0xCC, 0xDD})
	src.add(0x9000, []byte{0xE8, 0x00})

	var progress atomic.Int32
	res, err := ScanAll(context.Background(), src, pattern.MustParse("E8 ?? ?? ?? ??"), Options{
		Progress: func(n int) { progress.Store(int32(n)) },
	})
	if err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}
	if want := []uint64{0x1001, 0x8000}; !slices.Equal(res.Addresses, want) {
		t.Errorf("Addresses = %#x, want %#x", res.Addresses, want)
	}
	if got := src.reads.Load(); got != 3 {
		t.Errorf("reads = %d, want 3", got)
	}
	if progress.Load() == 0 {
		t.Error("progress was never reported")
	}
}

func TestScanAllCancelledBeforeStart(t *testing.T) {
	src := newSegmentSource()
	src.add(0, []byte{0x90})
	src.add(0x100, []byte{0x90})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := ScanAll(ctx, src, pattern.MustParse("90"), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ScanAll() error = %v, want context.Canceled", err)
	}
	if res != nil {
		t.Errorf("ScanAll() result = %+v, want nil", res)
	}
	if got := src.reads.Load(); got != 0 {
		t.Errorf("reads = %d, want 0", got)
	}
}

func TestScanAllMaxResults(t *testing.T) {
	data := make([]byte, 5000)
	for i := range data {
		data[i] = 0xCC
	}
	p := pattern.MustParse("CC")

	res, err := ScanAll(context.Background(), &Buffer{Data: data}, p, Options{})
	if err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}
	if len(res.Addresses) != DefaultMaxResults || !res.Truncated {
		t.Errorf("got %d addresses, truncated %v; want %d, true", len(res.Addresses), res.Truncated, DefaultMaxResults)
	}

	res, err = ScanAll(context.Background(), &Buffer{Data: data}, p, Options{MaxResults: -1})
	if err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}
	if len(res.Addresses) != len(data) || res.Truncated {
		t.Errorf("got %d addresses, truncated %v; want %d, false", len(res.Addresses), res.Truncated, len(data))
	}
}

func TestScanAllShortRead(t *testing.T) {
	src := newSegmentSource()
	src.short = true
	src.add(0, []byte{0x90, 0x90})
	src.add(0x100, []byte{0x90, 0x90})

	_, err := ScanAll(context.Background(), src, pattern.MustParse("90"), Options{})
	if !errors.Is(err, ErrShortRead) {
		t.Errorf("ScanAll() error = %v, want ErrShortRead", err)
	}
}

func TestScanAllNoRegions(t *testing.T) {
	res, err := ScanAll(context.Background(), newSegmentSource(), pattern.MustParse("90"), Options{})
	if err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}
	if len(res.Addresses) != 0 {
		t.Errorf("Addresses = %v, want none", res.Addresses)
	}
}

func TestBufferRead(t *testing.T) {
	b := &Buffer{Base: 0x10, Data: []byte{1, 2, 3}}
	p := make([]byte, 2)
	if n, err := b.Read(0x11, p); n != 2 || err != nil || p[0] != 2 {
		t.Errorf("Read() = %d, %v, % x", n, err, p)
	}
	if n, err := b.Read(0x12, p); n != 1 || !errors.Is(err, ErrShortRead) {
		t.Errorf("Read() at end = %d, %v", n, err)
	}
	if _, err := b.Read(0x0, p); !errors.Is(err, ErrShortRead) {
		t.Errorf("Read() below base error = %v", err)
	}
}

func TestScanSetMatchesScanAll(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	alphabet := []byte{0x00, 0x48, 0x8B, 0x05, 0xC3}
	data := make([]byte, 20000)
	for i := range data {
		data[i] = alphabet[rng.IntN(len(alphabet))]
	}
	src := &Buffer{Base: 0x10000, Data: data}
	pats := []*pattern.Pattern{
		pattern.MustParse("48 8B ?? 05"),
		pattern.MustParse("C3 ?? ?? C3"),
		pattern.MustParse("05 05 05"),
		pattern.MustParse("48 8B ?? 05"),
	}
	opts := Options{PartitionSize: 777, Workers: 3, MaxResults: -1}
	results, err := ScanSet(context.Background(), src, NewSet(pats), opts)
	if err != nil {
		t.Fatalf("ScanSet() error = %v", err)
	}
	if len(results) != len(pats) {
		t.Fatalf("got %d results, want %d", len(results), len(pats))
	}
	for i, p := range pats {
		want, err := ScanAll(context.Background(), src, p, opts)
		if err != nil {
			t.Fatalf("ScanAll(%s) error = %v", p, err)
		}
		if !slices.Equal(results[i].Addresses, want.Addresses) {
			t.Errorf("%s: ScanSet found %d hits, ScanAll found %d", p, len(results[i].Addresses), len(want.Addresses))
		}
	}
}

func TestScanSetSegments(t *testing.T) {
	src := newSegmentSource()
	a := make([]byte, 0x100)
	copy(a[0x10:], []byte{0xAA, 0xBB})
	b := make([]byte, 0x80)
	copy(b[0x7E:], []byte{0xAA, 0xBB})
	src.add(0x1000, a)
	src.add(0x8000, b)

	set := NewSet([]*pattern.Pattern{pattern.MustParse("AA BB"), pattern.MustParse("BB ?? ?? ?? AA")})
	results, err := ScanSet(context.Background(), src, set, Options{PartitionSize: 1 << 16})
	if err != nil {
		t.Fatalf("ScanSet() error = %v", err)
	}
	if want := []uint64{0x1010, 0x807E}; !slices.Equal(results[0].Addresses, want) {
		t.Errorf("Addresses = %#x, want %#x", results[0].Addresses, want)
	}
	if len(results[1].Addresses) != 0 {
		t.Errorf("pattern across segments matched: %#x", results[1].Addresses)
	}
}

func TestScanSetCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := newSegmentSource()
	src.add(0x1000, make([]byte, 16))
	_, err := ScanSet(ctx, src, NewSet([]*pattern.Pattern{pattern.MustParse("00")}), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if n := src.reads.Load(); n != 0 {
		t.Errorf("reads = %d, want 0", n)
	}
}
