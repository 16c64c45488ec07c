//go:build yara

// Command yaradiff scans an image with libyara and with sigscan and reports
// every pattern whose hits differ.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yara "github.com/hillu/go-yara/v4"

	"github.com/sansecio/sigscan/cmd/internal"
	"github.com/sansecio/sigscan/memory"
	"github.com/sansecio/sigscan/scanner"
)

func main() {
	imagePath := flag.String("image", "fixture/game.bin", "path to the image to scan")
	sigsPath := flag.String("sigs", "fixture/signatures.yaml", "path to signature file")
	verbose := flag.Bool("v", false, "print every differing address")
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

	rules, skipped, err := internal.YaraRules(sigs.Patterns)
	if err != nil {
		fmt.Fprintf(os.Stderr, "go-yara: failed to compile rules: %v\n", err)
		os.Exit(1)
	}
	defer rules.Destroy()
	for _, i := range skipped {
		fmt.Fprintf(os.Stderr, "skipping %s: edge wildcard\n", sigs.List[i].Name)
	}

	yaraHits, err := scanYara(img, rules, len(sigs.Patterns))
	if err != nil {
		fmt.Fprintf(os.Stderr, "go-yara: scan failed: %v\n", err)
		os.Exit(1)
	}

	results, err := scanner.ScanSet(context.Background(), img, scanner.NewSet(sigs.Patterns), scanner.Options{MaxResults: -1})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sigscan: scan failed: %v\n", err)
		os.Exit(1)
	}

	isSkipped := make(map[int]bool, len(skipped))
	for _, i := range skipped {
		isSkipped[i] = true
	}
	onlyYara := make(map[string]int)
	onlyOurs := make(map[string]int)
	for i, res := range results {
		if isSkipped[i] {
			continue
		}
		name := sigs.List[i].Name
		ours := make(map[uint64]bool, len(res.Addresses))
		for _, a := range res.Addresses {
			ours[a] = true
			if !yaraHits[i][a] {
				onlyOurs[name]++
				if *verbose {
					fmt.Printf("  %s: %#x only in sigscan\n", name, a)
				}
			}
		}
		for a := range yaraHits[i] {
			if !ours[a] {
				onlyYara[name]++
				if *verbose {
					fmt.Printf("  %s: %#x only in go-yara\n", name, a)
				}
			}
		}
	}

	fmt.Printf("Compared %d patterns (%d skipped)\n", len(sigs.Patterns)-len(skipped), len(skipped))
	fmt.Printf("Only in go-yara: %d hits in %d patterns\n", internal.SumValues(onlyYara), len(onlyYara))
	for _, name := range internal.SortByCount(onlyYara) {
		fmt.Printf("  %5d  %s\n", onlyYara[name], name)
	}
	fmt.Printf("Only in sigscan: %d hits in %d patterns\n", internal.SumValues(onlyOurs), len(onlyOurs))
	for _, name := range internal.SortByCount(onlyOurs) {
		fmt.Printf("  %5d  %s\n", onlyOurs[name], name)
	}
	if len(onlyYara) > 0 || len(onlyOurs) > 0 {
		os.Exit(1)
	}
}

// scanYara returns the hit addresses of every pattern, indexed like the
// patterns themselves.
func scanYara(img *memory.Image, rules *yara.Rules, n int) ([]map[uint64]bool, error) {
	hits := make([]map[uint64]bool, n)
	for i := range hits {
		hits[i] = make(map[uint64]bool)
	}
	for _, r := range img.Regions() {
		data, err := img.View(r)
		if err != nil {
			return nil, err
		}
		var matches yara.MatchRules
		if err := rules.ScanMem(data, 0, time.Minute, &matches); err != nil {
			return nil, fmt.Errorf("region %#x: %w", r.Addr, err)
		}
		for _, m := range matches {
			i, err := strconv.Atoi(strings.TrimPrefix(m.Rule, "sig"))
			if err != nil || i < 0 || i >= n {
				return nil, fmt.Errorf("unexpected rule %q", m.Rule)
			}
			for _, s := range m.Strings {
				hits[i][r.Addr+s.Offset] = true
			}
		}
	}
	return hits, nil
}
