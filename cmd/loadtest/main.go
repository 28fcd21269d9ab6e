// Command loadtest exercises the public sitemap surface the way a crawler
// does: it fetches the index once to discover the chunk documents, then
// walks index and chunks concurrently for a fixed duration and reports
// throughput, latency percentiles, and status counts.
package main

import (
	"context"
	"encoding/xml"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"
)

// sample is the outcome of one request.
type sample struct {
	latency time.Duration
	status  int
	bytes   int64
	failed  bool
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the sitemap service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	indexEvery := flag.Int("index-every", 5, "hit the index every Nth request per worker")
	flag.Parse()

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        *concurrency * 2,
			MaxIdleConnsPerHost: *concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	paths, err := discoverPaths(client, *baseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "discovering sitemap chunks: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Sitemap Load Test ===")
	fmt.Printf("Target:      %s\n", *baseURL)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	fmt.Printf("Documents:   index + %d discovered chunks\n", len(paths))
	fmt.Println()

	samples := run(client, *baseURL, paths, *concurrency, *duration, *indexEvery)
	report(samples, *duration)
}

// discoverPaths fetches the index and returns the chunk paths it lists. The
// loc entries carry the storefront origin, which may differ from the
// service's listen address, so only the path component is kept.
func discoverPaths(client *http.Client, baseURL string) ([]string, error) {
	resp, err := client.Get(baseURL + "/sitemap.xml")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index answered %d", resp.StatusCode)
	}

	var index struct {
		Sitemaps []struct {
			Loc string `xml:"loc"`
		} `xml:"sitemap"`
	}
	if err := xml.NewDecoder(resp.Body).Decode(&index); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	if len(index.Sitemaps) == 0 {
		return nil, fmt.Errorf("index lists no sitemaps")
	}

	paths := make([]string, 0, len(index.Sitemaps))
	for _, sm := range index.Sitemaps {
		u, err := url.Parse(sm.Loc)
		if err != nil {
			return nil, fmt.Errorf("bad loc %q: %w", sm.Loc, err)
		}
		paths = append(paths, u.Path)
	}
	return paths, nil
}

// run drives the workers. Each worker records into its own slice, so the hot
// path takes no locks; slices are merged after the run.
func run(client *http.Client, baseURL string, paths []string, concurrency int, duration time.Duration, indexEvery int) []sample {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	perWorker := make([][]sample, concurrency)
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			// Workers start at different offsets so they do not fetch the
			// same chunk in lockstep.
			next := w
			for n := 0; ctx.Err() == nil; n++ {
				path := "/sitemap.xml"
				if indexEvery <= 0 || n%indexEvery != 0 {
					path = paths[next%len(paths)]
					next++
				}
				s := fetch(ctx, client, baseURL+path)
				if s.failed && ctx.Err() != nil {
					// Shutdown artifact, not a service error.
					break
				}
				perWorker[w] = append(perWorker[w], s)
			}
		}(w)
	}

	progress := time.NewTicker(5 * time.Second)
	defer progress.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-progress.C:
				fmt.Print(".")
			}
		}
	}()

	fmt.Print("Running")
	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()

	var all []sample
	for _, s := range perWorker {
		all = append(all, s...)
	}
	return all
}

func fetch(ctx context.Context, client *http.Client, rawURL string) sample {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return sample{latency: time.Since(start), failed: true}
	}
	resp, err := client.Do(req)
	if err != nil {
		return sample{latency: time.Since(start), failed: true}
	}
	n, _ := io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return sample{
		latency: time.Since(start),
		status:  resp.StatusCode,
		bytes:   n,
	}
}

func report(samples []sample, duration time.Duration) {
	var (
		success, failed int64
		served          int64
		latencies       []time.Duration
		codes           = make(map[int]int64)
	)
	for _, s := range samples {
		if s.failed {
			failed++
			continue
		}
		codes[s.status]++
		latencies = append(latencies, s.latency)
		if s.status >= 200 && s.status < 300 {
			success++
			served += s.bytes
		} else {
			failed++
		}
	}
	total := int64(len(samples))

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", failed)
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(failed)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
		mb := float64(served) / (1 << 20)
		fmt.Printf("XML served:      %.1f MiB (%.2f MiB/s)\n", mb, mb/duration.Seconds())
	}

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
		fmt.Printf("StdDev: %s\n", stddev(latencies, avg))
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	ordered := make([]int, 0, len(codes))
	for code := range codes {
		ordered = append(ordered, code)
	}
	sort.Ints(ordered)
	for _, code := range ordered {
		fmt.Printf("  %d: %d\n", code, codes[code])
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func stddev(latencies []time.Duration, avg time.Duration) time.Duration {
	var sq float64
	for _, l := range latencies {
		d := float64(l - avg)
		sq += d * d
	}
	return time.Duration(math.Sqrt(sq / float64(len(latencies))))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
