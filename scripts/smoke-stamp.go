//go:build ignore

// smoke-stamp.go drives a running stampd: it stamps a batch of random
// checksums from a worker pool, then fetches every inclusion proof and checks
// it offline, and finally checks that the final root extends the first one.
//
// Run with: go run scripts/smoke-stamp.go -server http://localhost:8080 -n 500
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/snowsledge/Data-Timestamp/pkg/client"
	"github.com/snowsledge/Data-Timestamp/pkg/proof"
)

type result struct {
	checksum string
	receipt  *client.Receipt
	err      error
	latency  time.Duration
}

func randomChecksum() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return proof.Sum(b[:]).String()
}

func main() {
	server := flag.String("server", "http://localhost:8080", "stampd base URL")
	n := flag.Int("n", 200, "number of checksums to stamp")
	workers := flag.Int("workers", 16, "concurrent stamp requests")
	flag.Parse()

	c := client.MustNew(*server, client.WithTimeout(5*time.Second))
	ctx := context.Background()

	first, err := c.Root(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fetch root:", err)
		os.Exit(1)
	}

	jobs := make(chan string, *n)
	results := make(chan result, *n)

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cs := range jobs {
				start := time.Now()
				r, err := c.Stamp(ctx, cs)
				results <- result{checksum: cs, receipt: r, err: err, latency: time.Since(start)}
			}
		}()
	}
	for i := 0; i < *n; i++ {
		jobs <- randomChecksum()
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		stamped   []result
		failures  int
		latencies []time.Duration
	)
	for r := range results {
		if r.err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "  stamp %s: %v\n", r.checksum[:12], r.err)
			continue
		}
		stamped = append(stamped, r)
		latencies = append(latencies, r.latency)
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	head, err := c.Root(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fetch root:", err)
		os.Exit(1)
	}

	bad := 0
	for _, r := range stamped {
		p, err := c.Proof(ctx, r.checksum)
		if err != nil {
			bad++
			fmt.Fprintf(os.Stderr, "  proof %s: %v\n", r.checksum[:12], err)
			continue
		}
		raw, _ := json.Marshal(p)
		at, err := c.RootAt(ctx, p.TreeSize)
		if err != nil {
			bad++
			continue
		}
		if ok, err := client.VerifyOffline(raw, at.Root); err != nil || !ok {
			bad++
			fmt.Fprintf(os.Stderr, "  verify %s: ok=%v err=%v\n", r.checksum[:12], ok, err)
		}
	}

	consistent := "skipped (log was empty)"
	if first.Size > 0 {
		cp, err := c.Consistency(ctx, first.Root, head.Size)
		if err != nil {
			consistent = "error: " + err.Error()
		} else if ok, _ := proof.VerifyConsistency(cp, first.Root, head.Root); ok {
			consistent = "ok"
		} else {
			consistent = "FAILED"
		}
	}

	fmt.Printf("stamped     %d/%d (%d failed)\n", len(stamped), *n, failures)
	if len(latencies) > 0 {
		fmt.Printf("latency     p50 %s  p99 %s\n", latencies[len(latencies)/2], latencies[len(latencies)*99/100])
	}
	fmt.Printf("proofs      %d bad\n", bad)
	fmt.Printf("tree        %d -> %d leaves\n", first.Size, head.Size)
	fmt.Printf("consistency %s\n", consistent)

	if failures > 0 || bad > 0 || consistent == "FAILED" {
		os.Exit(1)
	}
}
