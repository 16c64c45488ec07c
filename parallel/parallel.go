// Package parallel runs independent units of work on a small, fixed-size
// pool of goroutines.
//
// Both helpers check the context before and after every unit, stop handing
// out work once it is done, and join all workers before returning. A panic in
// a unit is recovered and reported as an error.
package parallel

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Workers returns the worker count to use for a requested value n. Values
// below one select the number of CPUs.
func Workers(n int) int {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return max(1, n)
}

// ForEach calls fn for every index in [0, n) using up to workers goroutines.
// Indices are handed out through a mutex-guarded cursor, so each is visited
// exactly once unless the run stops early.
func ForEach(ctx context.Context, n, workers int, fn func(ctx context.Context, i int) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n <= 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		cursor int
	)
	claim := func() (int, bool) {
		mu.Lock()
		defer mu.Unlock()
		if cursor >= n {
			return 0, false
		}
		i := cursor
		cursor++
		return i, true
	}

	g, gctx := errgroup.WithContext(ctx)
	for range min(Workers(workers), n) {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				i, ok := claim()
				if !ok {
					return nil
				}
				if err := call(gctx, func(ctx context.Context) error { return fn(ctx, i) }); err != nil {
					return err
				}
				if err := gctx.Err(); err != nil {
					return err
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Chunk is the half-open window [Start, End) of one partition.
type Chunk struct {
	Index      int
	Start, End int
}

// Chunks splits total bytes into partitions of size bytes, each extended by
// overlap bytes into its successor and clamped to total. A size that is not
// positive or not smaller than total yields a single chunk.
func Chunks(total, size, overlap int) []Chunk {
	if total <= 0 {
		return nil
	}
	if size <= 0 || size >= total {
		return []Chunk{{Index: 0, Start: 0, End: total}}
	}
	count := (total + size - 1) / size
	chunks := make([]Chunk, count)
	for i := range chunks {
		start := i * size
		chunks[i] = Chunk{Index: i, Start: start, End: min(start+size+max(overlap, 0), total)}
	}
	return chunks
}

// Partition calls fn for every chunk of a buffer of total bytes. Chunks are
// claimed with an atomic cursor and the worker count is limited to the number
// of chunks.
func Partition(ctx context.Context, total, size, overlap, workers int, fn func(ctx context.Context, c Chunk) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chunks := Chunks(total, size, overlap)
	if len(chunks) == 0 {
		return nil
	}

	var cursor atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for range min(Workers(workers), len(chunks)) {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				i := int(cursor.Add(1) - 1)
				if i >= len(chunks) {
					return nil
				}
				c := chunks[i]
				if err := call(gctx, func(ctx context.Context) error { return fn(ctx, c) }); err != nil {
					return err
				}
				if err := gctx.Err(); err != nil {
					return err
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return fn(ctx)
}
