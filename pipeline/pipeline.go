// Package pipeline turns signatures into addresses: it scans for each
// pattern, transforms every hit and reduces the results to one address.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/sansecio/sigscan/ast"
	"github.com/sansecio/sigscan/expr"
	"github.com/sansecio/sigscan/pattern"
	"github.com/sansecio/sigscan/scanner"
)

var (
	ErrMalformed      = errors.New("malformed signature")
	ErrNotFound       = errors.New("not found")
	ErrAmbiguous      = errors.New("ambiguous result")
	ErrCountMismatch  = errors.New("count mismatch")
	ErrIndexRange     = errors.New("index out of range")
	ErrTooManyResults = errors.New("too many results")
)

// AmbiguousError lists the distinct addresses a signature resolved to.
type AmbiguousError struct {
	Candidates []uint64
}

func (e *AmbiguousError) Error() string {
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = fmt.Sprintf("%#x", c)
	}
	return fmt.Sprintf("%v: %d candidates [%s]", ErrAmbiguous, len(e.Candidates), strings.Join(parts, " "))
}

func (e *AmbiguousError) Unwrap() error {
	return ErrAmbiguous
}

// Target is the memory signatures are resolved against.
type Target interface {
	scanner.Source
	// ReadInteger reads an integer of size bytes at addr in the target's
	// byte order. Size 0 means the address width.
	ReadInteger(addr uint64, size int) (uint64, error)
}

// Options configures a Resolver.
type Options struct {
	Scan scanner.Options
	// Logger, if set, receives one line per resolved or failed signature.
	Logger *log.Logger
}

// Resolver resolves signatures against one target. It is safe for
// concurrent use.
type Resolver struct {
	target Target
	opts   Options
}

// New creates a Resolver for target.
func New(target Target, opts Options) *Resolver {
	return &Resolver{target: target, opts: opts}
}

// Result is the outcome of resolving one signature.
type Result struct {
	Signature *ast.Signature
	// Address is valid when Err is nil.
	Address uint64
	// Hits is the number of raw pattern matches.
	Hits int
	// Candidates holds the transformed hits, in ascending raw hit order.
	Candidates []uint64
	// Dropped counts hits whose transformation failed.
	Dropped   int
	Truncated bool
	Err       error
}

// prepared is a signature with its pattern parsed and its transformation
// compiled.
type prepared struct {
	sig       *ast.Signature
	pat       *pattern.Pattern
	transform step
}

func prepare(sig *ast.Signature) (*prepared, error) {
	pat, err := pattern.Parse(sig.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	p := &prepared{sig: sig, pat: pat}
	switch {
	case sig.Expr != nil && len(sig.Ops) > 0:
		return nil, fmt.Errorf("%w: both expression and pointer operations", ErrMalformed)
	case sig.Expr != nil:
		prog, err := compileExpr(sig.Expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		p.transform = func(addr uint64, env expr.Env) (uint64, error) {
			return expr.Eval(prog, env.At(addr))
		}
	case len(sig.Ops) > 0:
		s, err := compileOps(sig.Ops)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		p.transform = s
	}
	return p, nil
}

func (r *Resolver) env() expr.Env {
	return expr.Env{ReadInteger: r.target.ReadInteger}
}

// Resolve scans for sig and reduces its hits to one address. The returned
// Result is never nil and carries the same error as the second return
// value.
func (r *Resolver) Resolve(ctx context.Context, sig *ast.Signature) (*Result, error) {
	res := &Result{Signature: sig}
	p, err := prepare(sig)
	if err != nil {
		res.Err = err
		r.report(res)
		return res, err
	}
	scan, err := scanner.ScanAll(ctx, r.target, p.pat, r.opts.Scan)
	if err != nil {
		res.Err = err
		r.report(res)
		return res, err
	}
	r.finish(p, scan, res)
	r.report(res)
	return res, res.Err
}

// ResolveAll resolves sigs with a single pass over the target. Results
// follow the order of sigs and a failing signature does not affect the
// others. If the shared pass fails, each signature is scanned on its own.
// If ctx is cancelled every scanned signature carries ctx.Err().
func (r *Resolver) ResolveAll(ctx context.Context, sigs []*ast.Signature) []*Result {
	results := make([]*Result, len(sigs))
	var (
		preps   []*prepared
		pats    []*pattern.Pattern
		indices []int
	)
	for i, sig := range sigs {
		results[i] = &Result{Signature: sig}
		p, err := prepare(sig)
		if err != nil {
			results[i].Err = err
			r.report(results[i])
			continue
		}
		preps = append(preps, p)
		pats = append(pats, p.pat)
		indices = append(indices, i)
	}
	if len(preps) == 0 {
		return results
	}

	scans, err := scanner.ScanSet(ctx, r.target, scanner.NewSet(pats), r.opts.Scan)
	if err != nil && ctx.Err() == nil {
		// A fault in the shared pass is retried one signature at a time so
		// that it only fails the scans it actually breaks.
		if l := r.opts.Logger; l != nil {
			l.Warn("batch scan failed, scanning signatures one by one", "err", err)
		}
		scans = make([]*scanner.Result, len(preps))
		errs := make([]error, len(preps))
		for j, p := range preps {
			scans[j], errs[j] = scanner.ScanAll(ctx, r.target, p.pat, r.opts.Scan)
		}
		r.finishAll(preps, indices, scans, errs, results)
		return results
	}
	errs := make([]error, len(preps))
	for j := range errs {
		errs[j] = err
	}
	r.finishAll(preps, indices, scans, errs, results)
	return results
}

func (r *Resolver) finishAll(preps []*prepared, indices []int, scans []*scanner.Result, errs []error, results []*Result) {
	for j, p := range preps {
		res := results[indices[j]]
		if errs[j] != nil {
			res.Err = errs[j]
		} else {
			r.finish(p, scans[j], res)
		}
		r.report(res)
	}
}

// finish transforms the hits of one scan and picks the address.
func (r *Resolver) finish(p *prepared, scan *scanner.Result, res *Result) {
	res.Hits = len(scan.Addresses)
	res.Truncated = scan.Truncated

	env := r.env()
	res.Candidates = make([]uint64, 0, len(scan.Addresses))
	for _, hit := range scan.Addresses {
		v := hit
		if p.transform != nil {
			var err error
			if v, err = p.transform(hit, env); err != nil {
				res.Dropped++
				continue
			}
		}
		res.Candidates = append(res.Candidates, v)
	}
	res.Address, res.Err = disambiguate(p.sig, res.Candidates, res.Truncated)
}

// disambiguate reduces candidates to one address. A single distinct value
// wins outright. Otherwise a declared count must equal the number of
// candidates and a declared index selects one of them.
func disambiguate(sig *ast.Signature, candidates []uint64, truncated bool) (uint64, error) {
	if len(candidates) == 0 {
		return 0, ErrNotFound
	}
	unique := slices.Clone(candidates)
	slices.Sort(unique)
	unique = slices.Compact(unique)
	if len(unique) == 1 {
		return unique[0], nil
	}
	if truncated {
		return 0, fmt.Errorf("%w: more than %d hits", ErrTooManyResults, len(candidates))
	}
	if sig.Count != nil && *sig.Count != len(candidates) {
		return 0, fmt.Errorf("%w: got %d, expected %d", ErrCountMismatch, len(candidates), *sig.Count)
	}
	if sig.Index != nil {
		if *sig.Index < 0 || *sig.Index >= len(candidates) {
			return 0, fmt.Errorf("%w: index %d, %d results", ErrIndexRange, *sig.Index, len(candidates))
		}
		return candidates[*sig.Index], nil
	}
	return 0, &AmbiguousError{Candidates: unique}
}

func (r *Resolver) report(res *Result) {
	l := r.opts.Logger
	if l == nil {
		return
	}
	name := res.Signature.Name
	if res.Err != nil {
		l.Error("resolve failed", "name", name, "hits", res.Hits, "dropped", res.Dropped, "err", res.Err)
		return
	}
	l.Info("found", "name", name, "addr", fmt.Sprintf("%#x", res.Address), "hits", res.Hits)
}
