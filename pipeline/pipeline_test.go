package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/sansecio/sigscan/ast"
	"github.com/sansecio/sigscan/expr"
	"github.com/sansecio/sigscan/pattern"
	"github.com/sansecio/sigscan/scanner"
)

const base = 0x140000000

type testTarget struct {
	*scanner.Buffer
}

func (t testTarget) ReadInteger(addr uint64, size int) (uint64, error) {
	if size == 0 {
		size = 8
	}
	var b [8]byte
	if _, err := t.Read(addr, b[:size]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func newTarget(size int, writes map[int][]byte) testTarget {
	data := make([]byte, size)
	for off, b := range writes {
		copy(data[off:], b)
	}
	return testTarget{&scanner.Buffer{Base: base, Data: data}}
}

func intp(v int) *int { return &v }

// threeHits holds "CC 90 CC" at 0x20, 0x40 and 0x60.
func threeHits() testTarget {
	return newTarget(0x100, map[int][]byte{
		0x20: {0xCC, 0x90, 0xCC},
		0x40: {0xCC, 0x90, 0xCC},
		0x60: {0xCC, 0x90, 0xCC},
	})
}

func TestResolveExpression(t *testing.T) {
	target := newTarget(0x1000, map[int][]byte{
		0x10: {0x48, 0x8B, 0x05, 0x00, 0x01, 0x00, 0x00, 0xC3},
	})
	r := New(target, Options{})
	sig := &ast.Signature{
		Name:    "GetPlayer",
		Pattern: "48 8B 05 ?? ?? ?? ?? C3",
		Expr:    &ast.Expr{Text: "[$ + 3].r + 4"},
	}
	res, err := r.Resolve(context.Background(), sig)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if want := uint64(base + 0x10 + 3 + 0x100 + 4); res.Address != want {
		t.Errorf("Address = %#x, want %#x", res.Address, want)
	}
	if res.Hits != 1 || res.Dropped != 0 {
		t.Errorf("Hits = %d, Dropped = %d", res.Hits, res.Dropped)
	}

	sig.Expr = &ast.Expr{Text: "$ 3 + [sd] $ + 7 +", Postfix: true}
	res, err = r.Resolve(context.Background(), sig)
	if err != nil {
		t.Fatalf("Resolve(postfix) error = %v", err)
	}
	if want := uint64(base + 0x10 + 7 + 0x100); res.Address != want {
		t.Errorf("postfix Address = %#x, want %#x", res.Address, want)
	}
}

func TestResolveNoTransform(t *testing.T) {
	target := newTarget(0x100, map[int][]byte{0x33: {0xDE, 0xAD, 0xBE, 0xEF}})
	res, err := New(target, Options{}).Resolve(context.Background(), &ast.Signature{Name: "x", Pattern: "DE AD ?? EF"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Address != base+0x33 {
		t.Errorf("Address = %#x, want %#x", res.Address, base+0x33)
	}
}

func TestResolveDisambiguation(t *testing.T) {
	tests := []struct {
		name    string
		count   *int
		index   *int
		want    uint64
		wantErr error
	}{
		{"count and index", intp(3), intp(1), base + 0x40, nil},
		{"index only", nil, intp(2), base + 0x60, nil},
		{"first", intp(3), intp(0), base + 0x20, nil},
		{"neither", nil, nil, 0, ErrAmbiguous},
		{"count only", intp(3), nil, 0, ErrAmbiguous},
		{"count mismatch", intp(2), intp(1), 0, ErrCountMismatch},
		{"index out of range", intp(3), intp(3), 0, ErrIndexRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := &ast.Signature{Name: tt.name, Pattern: "CC 90 CC", Count: tt.count, Index: tt.index}
			res, err := New(threeHits(), Options{}).Resolve(context.Background(), sig)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				if res.Err != err {
					t.Errorf("Result.Err = %v, want %v", res.Err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if res.Address != tt.want {
				t.Errorf("Address = %#x, want %#x", res.Address, tt.want)
			}
		})
	}
}

func TestAmbiguousCandidates(t *testing.T) {
	_, err := New(threeHits(), Options{}).Resolve(context.Background(), &ast.Signature{Name: "a", Pattern: "CC 90 CC"})
	var aerr *AmbiguousError
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v, want *AmbiguousError", err)
	}
	want := []uint64{base + 0x20, base + 0x40, base + 0x60}
	if !slices.Equal(aerr.Candidates, want) {
		t.Errorf("Candidates = %#x, want %#x", aerr.Candidates, want)
	}
	if !strings.Contains(aerr.Error(), "0x140000040") {
		t.Errorf("Error() = %q", aerr.Error())
	}
}

func TestResolveCollapsesEqualTargets(t *testing.T) {
	// Two call sites of the same function.
	target := newTarget(0x1000, map[int][]byte{
		0x100: {0xE8, 0xFB, 0x02, 0x00, 0x00},
		0x200: {0xE8, 0xFB, 0x01, 0x00, 0x00},
	})
	sig := &ast.Signature{
		Name:    "callee",
		Pattern: "E8 ?? ?? 00 00",
		Ops: []ast.PointerOp{
			{Kind: ast.OpAdd, Value: 1},
			{Kind: ast.OpRel, Size: 4},
		},
	}
	res, err := New(target, Options{}).Resolve(context.Background(), sig)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Address != base+0x400 {
		t.Errorf("Address = %#x, want %#x", res.Address, base+0x400)
	}
	if res.Hits != 2 || len(res.Candidates) != 2 {
		t.Errorf("Hits = %d, Candidates = %#x", res.Hits, res.Candidates)
	}
}

func TestResolveNotFound(t *testing.T) {
	_, err := New(threeHits(), Options{}).Resolve(context.Background(), &ast.Signature{Name: "n", Pattern: "AB CD"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestResolveDropsFailedHits(t *testing.T) {
	sig := &ast.Signature{Name: "d", Pattern: "CC 90 CC", Expr: &ast.Expr{Text: "[$ + 100000].q"}}
	res, err := New(threeHits(), Options{}).Resolve(context.Background(), sig)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if res.Hits != 3 || res.Dropped != 3 {
		t.Errorf("Hits = %d, Dropped = %d, want 3 and 3", res.Hits, res.Dropped)
	}
}

func TestResolveTruncated(t *testing.T) {
	r := New(threeHits(), Options{Scan: scanner.Options{MaxResults: 2}})
	_, err := r.Resolve(context.Background(), &ast.Signature{Name: "t", Pattern: "CC 90 CC", Count: intp(3), Index: intp(0)})
	if !errors.Is(err, ErrTooManyResults) {
		t.Errorf("error = %v, want ErrTooManyResults", err)
	}
}

func TestResolveMalformed(t *testing.T) {
	tests := []struct {
		name string
		sig  *ast.Signature
	}{
		{"bad pattern", &ast.Signature{Name: "p", Pattern: "ZZ"}},
		{"wildcards only", &ast.Signature{Name: "w", Pattern: "?? ??"}},
		{"bad expr", &ast.Signature{Name: "e", Pattern: "CC", Expr: &ast.Expr{Text: "(1 +"}}},
		{"bad op", &ast.Signature{Name: "o", Pattern: "CC", Ops: []ast.PointerOp{{Kind: "mul"}}}},
		{"empty expr op", &ast.Signature{Name: "o", Pattern: "CC", Ops: []ast.PointerOp{{Kind: ast.OpExpr}}}},
		{"both", &ast.Signature{Name: "b", Pattern: "CC", Expr: &ast.Expr{Text: "$"}, Ops: []ast.PointerOp{{Kind: ast.OpAdd}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(threeHits(), Options{}).Resolve(context.Background(), tt.sig)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("error = %v, want ErrMalformed", err)
			}
		})
	}

	_, err := New(threeHits(), Options{}).Resolve(context.Background(), &ast.Signature{Name: "p", Pattern: "ZZ"})
	if !errors.Is(err, pattern.ErrMalformed) {
		t.Errorf("error = %v, want pattern.ErrMalformed in chain", err)
	}
	_, err = New(threeHits(), Options{}).Resolve(context.Background(), &ast.Signature{Name: "e", Pattern: "CC", Expr: &ast.Expr{Text: "(1 +"}})
	var serr *expr.SyntaxError
	if !errors.As(err, &serr) {
		t.Errorf("error = %v, want *expr.SyntaxError in chain", err)
	}
}

func TestResolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(threeHits(), Options{}).Resolve(ctx, &ast.Signature{Name: "c", Pattern: "CC 90 CC"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestResolveAll(t *testing.T) {
	target := newTarget(0x10000, map[int][]byte{
		0x20:   {0xCC, 0x90, 0xCC},
		0x40:   {0xCC, 0x90, 0xCC},
		0x60:   {0xCC, 0x90, 0xCC},
		0x1000: {0x48, 0x8B, 0x05, 0x00, 0x01, 0x00, 0x00, 0xC3},
		0xFFFC: {0xDE, 0xAD, 0xBE, 0xEF},
	})
	sigs := []*ast.Signature{
		{Name: "second", Pattern: "CC 90 CC", Count: intp(3), Index: intp(1)},
		{Name: "bad", Pattern: "XX"},
		{Name: "player", Pattern: "48 8B 05 ?? ?? ?? ?? C3", Expr: &ast.Expr{Text: "[$ + 3].r + 4"}},
		{Name: "missing", Pattern: "01 02 03 04"},
		{Name: "tail", Pattern: "DE AD BE EF"},
		{Name: "ambiguous", Pattern: "CC 90"},
	}
	r := New(target, Options{Scan: scanner.Options{PartitionSize: 0x100, Workers: 4}})
	results := r.ResolveAll(context.Background(), sigs)
	if len(results) != len(sigs) {
		t.Fatalf("got %d results, want %d", len(results), len(sigs))
	}
	for i, res := range results {
		if res.Signature != sigs[i] {
			t.Errorf("result %d is for %q, want %q", i, res.Signature.Name, sigs[i].Name)
		}
	}

	checks := []struct {
		addr uint64
		err  error
	}{
		{base + 0x40, nil},
		{0, ErrMalformed},
		{base + 0x1000 + 3 + 0x100 + 4, nil},
		{0, ErrNotFound},
		{base + 0xFFFC, nil},
		{0, ErrAmbiguous},
	}
	for i, c := range checks {
		res := results[i]
		if c.err != nil {
			if !errors.Is(res.Err, c.err) {
				t.Errorf("%s: Err = %v, want %v", res.Signature.Name, res.Err, c.err)
			}
			continue
		}
		if res.Err != nil {
			t.Errorf("%s: Err = %v", res.Signature.Name, res.Err)
			continue
		}
		if res.Address != c.addr {
			t.Errorf("%s: Address = %#x, want %#x", res.Signature.Name, res.Address, c.addr)
		}
	}

	// The batch agrees with one-by-one resolution.
	for i, sig := range sigs {
		single, _ := r.Resolve(context.Background(), sig)
		if single.Address != results[i].Address || !slices.Equal(single.Candidates, results[i].Candidates) {
			t.Errorf("%s: Resolve = %#x %#x, ResolveAll = %#x %#x",
				sig.Name, single.Address, single.Candidates, results[i].Address, results[i].Candidates)
		}
	}
}

func TestResolveAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sigs := []*ast.Signature{
		{Name: "ok", Pattern: "CC 90 CC"},
		{Name: "bad", Pattern: "?"},
	}
	results := New(threeHits(), Options{}).ResolveAll(ctx, sigs)
	if !errors.Is(results[0].Err, context.Canceled) {
		t.Errorf("ok: Err = %v, want context.Canceled", results[0].Err)
	}
	if !errors.Is(results[1].Err, ErrMalformed) {
		t.Errorf("bad: Err = %v, want ErrMalformed", results[1].Err)
	}
}

// flakyTarget fails its first read and has no View, so every scan goes
// through Read.
type flakyTarget struct {
	buf    *scanner.Buffer
	failed atomic.Bool
}

func (f *flakyTarget) Regions() []scanner.Region { return f.buf.Regions() }

func (f *flakyTarget) Read(addr uint64, p []byte) (int, error) {
	if f.failed.CompareAndSwap(false, true) {
		return 0, errors.New("device busy")
	}
	return f.buf.Read(addr, p)
}

func (f *flakyTarget) ReadInteger(addr uint64, size int) (uint64, error) {
	return testTarget{f.buf}.ReadInteger(addr, size)
}

func TestResolveAllRetriesAfterReadFault(t *testing.T) {
	target := &flakyTarget{buf: threeHits().Buffer}
	sigs := []*ast.Signature{
		{Name: "second", Pattern: "CC 90 CC", Count: intp(3), Index: intp(1)},
		{Name: "missing", Pattern: "01 02 03 04"},
	}
	var buf bytes.Buffer
	r := New(target, Options{Logger: log.New(&buf)})
	results := r.ResolveAll(context.Background(), sigs)
	if results[0].Err != nil || results[0].Address != base+0x40 {
		t.Errorf("second = %#x, %v, want %#x", results[0].Address, results[0].Err, base+0x40)
	}
	if !errors.Is(results[1].Err, ErrNotFound) {
		t.Errorf("missing: Err = %v, want ErrNotFound", results[1].Err)
	}
	if !strings.Contains(buf.String(), "device busy") {
		t.Errorf("log = %q, want the batch failure", buf.String())
	}
}

func TestResolveLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf)
	r := New(threeHits(), Options{Logger: logger})
	r.ResolveAll(context.Background(), []*ast.Signature{
		{Name: "found_me", Pattern: "CC 90 CC", Index: intp(0)},
		{Name: "lost", Pattern: "01 02"},
	})
	out := buf.String()
	for _, want := range []string{"found_me", "lost", "not found"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func BenchmarkResolveAll(b *testing.B) {
	writes := make(map[int][]byte)
	for i := range 64 {
		writes[i*0x4000+0x123] = []byte{0x48, 0x8B, 0x05, byte(i), 0, 0, 0, 0xC3}
	}
	target := newTarget(1<<20, writes)
	sigs := make([]*ast.Signature, 64)
	for i := range sigs {
		sigs[i] = &ast.Signature{Name: fmt.Sprintf("s%d", i), Pattern: fmt.Sprintf("48 8B 05 %02X 00 00 00 C3", i)}
	}
	r := New(target, Options{})
	b.SetBytes(1 << 20)
	for b.Loop() {
		r.ResolveAll(context.Background(), sigs)
	}
}
