package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"time"

	"github.com/sansecio/sigscan/cmd/internal"
	"github.com/sansecio/sigscan/memory"
	"github.com/sansecio/sigscan/scanner"
)

func main() {
	imagePath := flag.String("image", "fixture/game.bin", "path to the image to scan")
	sigsPath := flag.String("sigs", "fixture/signatures.yaml", "path to signature file")
	iterations := flag.Int("n", 1, "number of iterations")
	workers := flag.Int("j", 0, "worker goroutines, 0 for one per CPU")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file (set scan only)")
	flag.Parse()

	img, err := memory.Open(*imagePath, memory.OpenOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open image: %v\n", err)
		os.Exit(1)
	}
	sigs, err := internal.LoadSignatures(*sigsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load signatures: %v\n", err)
		os.Exit(1)
	}
	for _, w := range sigs.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	var size uint64
	for _, r := range img.Regions() {
		size += uint64(r.Size)
	}
	fmt.Printf("Scanning %d bytes in %d regions for %d patterns, %d iterations\n\n",
		size, len(img.Regions()), len(sigs.Patterns), *iterations)

	opts := scanner.Options{Workers: *workers, MaxResults: -1}
	ctx := context.Background()

	var baseline time.Duration
	for _, s := range []scanner.Strategy{scanner.Naive, scanner.Skip, scanner.Regexp} {
		opts.Strategy = s
		elapsed, hits := benchEach(ctx, img, sigs, opts, *iterations)
		if baseline == 0 {
			baseline = elapsed
		}
		report(s.String(), elapsed, size, hits, baseline)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create profile: %v\n", err)
			os.Exit(1)
		}
		pprof.StartCPUProfile(f)
		defer func() {
			pprof.StopCPUProfile()
			f.Close()
		}()
	}
	elapsed, hits := benchSet(ctx, img, sigs, opts, *iterations)
	report("set", elapsed, size, hits, baseline)
}

func report(name string, elapsed time.Duration, size uint64, hits int, baseline time.Duration) {
	fmt.Printf("%-8s %v  (%.2f MB/s)  %d hits  %.2fx\n",
		name+":", elapsed, float64(size)/elapsed.Seconds()/1024/1024, hits, float64(elapsed)/float64(baseline))
}

// benchEach scans for every pattern on its own and returns the average time
// of one full pass.
func benchEach(ctx context.Context, src scanner.Source, sigs *internal.Signatures, opts scanner.Options, iterations int) (time.Duration, int) {
	var hits int
	start := time.Now()
	for range iterations {
		hits = 0
		for _, p := range sigs.Patterns {
			res, err := scanner.ScanAll(ctx, src, p, opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: scan failed: %v\n", opts.Strategy, err)
				os.Exit(1)
			}
			hits += len(res.Addresses)
		}
	}
	return time.Since(start) / time.Duration(iterations), hits
}

func benchSet(ctx context.Context, src scanner.Source, sigs *internal.Signatures, opts scanner.Options, iterations int) (time.Duration, int) {
	set := scanner.NewSet(sigs.Patterns)
	var hits int
	start := time.Now()
	for range iterations {
		results, err := scanner.ScanSet(ctx, src, set, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "set: scan failed: %v\n", err)
			os.Exit(1)
		}
		hits = 0
		for _, res := range results {
			hits += len(res.Addresses)
		}
	}
	return time.Since(start) / time.Duration(iterations), hits
}
