// Load generator for the Blockaid report API.
//
// Posts synthetic disaster reports concurrently and summarizes outcomes.
//
// Usage:
//
//	go run cmd/loadgen/main.go -url http://localhost:8080 -reports 500 -workers 8
//	go run cmd/loadgen/main.go -verify -fund 2500.00 -duplicates 0.1
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"math"
	mrand "math/rand/v2"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Report is one synthetic disaster report.
type Report struct {
	DisasterType         string
	Location             string
	RainfallMM           float64
	WaterLevelCM         float64
	PopulationAffected   int64
	InfrastructureDamage float64
	ImpactArea           float64
	Image                []byte
}

// Metrics tallies request outcomes. Counters are updated atomically.
type Metrics struct {
	Sent        int64
	Created     int64
	Duplicates  int64
	Unavailable int64
	Rejected    int64
	Failed      int64

	Low    int64
	Medium int64
	High   int64

	Verified     int64
	FundsCreated int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) observe(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func (m *Metrics) percentile(p float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), m.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

type createResponse struct {
	ID            string  `json:"id"`
	SeverityScore float64 `json:"severity_score"`
	SeverityLevel string  `json:"severity_level"`
	Confidence    float64 `json:"confidence"`
}

type options struct {
	reporter   string
	official   string
	verify     bool
	fund       decimal.Decimal
	fundSet    bool
	duplicates float64
	verbose    bool
}

var (
	disasterTypes = []string{"flood", "cyclone", "landslide", "earthquake", "wildfire"}
	locations     = []string{"Kathmandu", "Dhaka", "Manila", "Chennai", "Jakarta", "Karachi", "Colombo", "Yangon"}
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Blockaid API URL")
	reports := flag.Int("reports", 200, "Number of reports to send")
	workers := flag.Int("workers", 8, "Concurrent workers")
	reporter := flag.String("reporter", "loadgen-ngo", "Reporter user ID (ngo role)")
	official := flag.String("official", "loadgen-official", "Official user ID for verification and funds")
	verifyEvents := flag.Bool("verify", false, "Verify every created event")
	fund := flag.String("fund", "", "Approve a fund of this amount for every verified event")
	duplicates := flag.Float64("duplicates", 0, "Fraction of reports that resend an earlier image (0-1)")
	timeout := flag.Duration("timeout", 10*time.Second, "Per-request timeout")
	verbose := flag.Bool("verbose", false, "Print each outcome")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                   BLOCKAID LOAD GENERATOR                     ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	opts := options{
		reporter:   *reporter,
		official:   *official,
		verify:     *verifyEvents,
		duplicates: *duplicates,
		verbose:    *verbose,
	}
	if *fund != "" {
		amount, err := decimal.NewFromString(*fund)
		if err != nil {
			fmt.Printf("❌ Invalid fund amount %q: %v\n", *fund, err)
			os.Exit(1)
		}
		opts.fund = amount
		opts.fundSet = true
		opts.verify = true
	}
	if opts.duplicates < 0 || opts.duplicates > 1 {
		fmt.Println("❌ -duplicates must be between 0 and 1")
		os.Exit(1)
	}

	client := resty.New().
		SetBaseURL(*baseURL).
		SetTimeout(*timeout)

	fmt.Printf("\n🔍 Checking Blockaid health at %s...\n", *baseURL)
	if err := checkHealth(client); err != nil {
		fmt.Printf("❌ Blockaid is not reachable: %v\n", err)
		fmt.Println("   Start Blockaid with: go run cmd/blockaid/main.go")
		os.Exit(1)
	}
	fmt.Println("✅ Blockaid is healthy")

	batch := generateReports(*reports, opts.duplicates)
	fmt.Printf("\n🚀 Sending %d reports with %d workers...\n", len(batch), *workers)

	start := time.Now()
	m := run(context.Background(), client, batch, *workers, opts)
	printResults(m, time.Since(start))
}

func checkHealth(client *resty.Client) error {
	resp, err := client.R().Get("/health")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode())
	}
	return nil
}

// generateReports builds n reports. A duplicate share reuses an earlier
// report's image so the server's duplicate detection is exercised.
func generateReports(n int, duplicateRate float64) []Report {
	out := make([]Report, 0, n)
	for i := 0; i < n; i++ {
		r := Report{
			DisasterType:         disasterTypes[mrand.IntN(len(disasterTypes))],
			Location:             locations[mrand.IntN(len(locations))],
			RainfallMM:           round2(mrand.Float64() * 300),
			WaterLevelCM:         round2(mrand.Float64() * 180),
			PopulationAffected:   mrand.Int64N(20000),
			InfrastructureDamage: round2(mrand.Float64() * 100),
			ImpactArea:           round2(mrand.Float64() * 90),
		}
		if len(out) > 0 && mrand.Float64() < duplicateRate {
			r.Image = out[mrand.IntN(len(out))].Image
		} else {
			r.Image = syntheticImage()
		}
		out = append(out, r)
	}
	return out
}

// syntheticImage returns random bytes behind a PNG signature. Only the
// content hash matters to the server.
func syntheticImage() []byte {
	img := make([]byte, 8+512)
	copy(img, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
	_, _ = rand.Read(img[8:])
	return img
}

func run(ctx context.Context, client *resty.Client, batch []Report, numWorkers int, opts options) *Metrics {
	m := &Metrics{}
	work := make(chan Report, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range work {
				process(ctx, client, r, opts, m)
			}
		}()
	}

	// Progress reporting
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("   Sent: %d / %d\n", atomic.LoadInt64(&m.Sent), len(batch))
			case <-done:
				return
			}
		}
	}()

	for _, r := range batch {
		work <- r
	}
	close(work)
	wg.Wait()
	close(done)

	return m
}

func process(ctx context.Context, client *resty.Client, r Report, opts options, m *Metrics) {
	atomic.AddInt64(&m.Sent, 1)

	created, status, elapsed, err := submit(ctx, client, r, opts.reporter)
	m.observe(elapsed)

	switch {
	case err != nil:
		atomic.AddInt64(&m.Failed, 1)
		if opts.verbose {
			fmt.Printf("   ✗ %s/%s: %v\n", r.DisasterType, r.Location, err)
		}
		return
	case status == http.StatusCreated:
		atomic.AddInt64(&m.Created, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&m.Duplicates, 1)
	case status == http.StatusServiceUnavailable:
		atomic.AddInt64(&m.Unavailable, 1)
	case status >= 400 && status < 500:
		atomic.AddInt64(&m.Rejected, 1)
	default:
		atomic.AddInt64(&m.Failed, 1)
	}

	if opts.verbose {
		fmt.Printf("   %d %s/%s %s\n", status, r.DisasterType, r.Location, created.SeverityLevel)
	}
	if status != http.StatusCreated {
		return
	}

	switch created.SeverityLevel {
	case "LOW":
		atomic.AddInt64(&m.Low, 1)
	case "MEDIUM":
		atomic.AddInt64(&m.Medium, 1)
	case "HIGH":
		atomic.AddInt64(&m.High, 1)
	}

	if !opts.verify {
		return
	}
	if err := verify(ctx, client, created.ID, opts.official); err != nil {
		if opts.verbose {
			fmt.Printf("   ✗ verify %s: %v\n", created.ID, err)
		}
		return
	}
	atomic.AddInt64(&m.Verified, 1)

	if !opts.fundSet {
		return
	}
	if err := approveFund(ctx, client, created.ID, opts.fund, opts.official); err != nil {
		if opts.verbose {
			fmt.Printf("   ✗ fund %s: %v\n", created.ID, err)
		}
		return
	}
	atomic.AddInt64(&m.FundsCreated, 1)
}

func submit(ctx context.Context, client *resty.Client, r Report, reporter string) (createResponse, int, time.Duration, error) {
	var out createResponse

	req := client.R().
		SetContext(ctx).
		SetHeader("X-User-ID", reporter).
		SetHeader("X-User-Role", "ngo").
		SetHeader("X-Request-ID", uuid.NewString()).
		SetMultipartFormData(map[string]string{
			"disaster_type":         r.DisasterType,
			"location":              r.Location,
			"rainfall_mm":           formatFloat(r.RainfallMM),
			"water_level_cm":        formatFloat(r.WaterLevelCM),
			"population_affected":   strconv.FormatInt(r.PopulationAffected, 10),
			"infrastructure_damage": formatFloat(r.InfrastructureDamage),
			"impact_area":           formatFloat(r.ImpactArea),
		}).
		SetFileReader("image", "report.png", bytes.NewReader(r.Image)).
		SetResult(&out)

	start := time.Now()
	resp, err := req.Post("/events")
	elapsed := time.Since(start)
	if err != nil {
		return out, 0, elapsed, err
	}
	return out, resp.StatusCode(), elapsed, nil
}

func verify(ctx context.Context, client *resty.Client, eventID, official string) error {
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("X-User-ID", official).
		SetHeader("X-User-Role", "official").
		Post("/events/" + eventID + "/verify")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func approveFund(ctx context.Context, client *resty.Client, eventID string, amount decimal.Decimal, official string) error {
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("X-User-ID", official).
		SetHeader("X-User-Role", "official").
		SetBody(map[string]any{
			"event_id": eventID,
			"amount":   amount,
		}).
		Post("/funds")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusCreated {
		return errors.New(resp.String())
	}
	return nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       LOAD RESULTS                            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 OUTCOMES\n")
	fmt.Printf("   Sent:             %d\n", m.Sent)
	fmt.Printf("   Created (201):    %d\n", m.Created)
	fmt.Printf("   Duplicate (409):  %d\n", m.Duplicates)
	fmt.Printf("   Unavailable (503):%d\n", m.Unavailable)
	fmt.Printf("   Rejected (4xx):   %d\n", m.Rejected)
	fmt.Printf("   Failed:           %d\n", m.Failed)

	fmt.Printf("\n📈 SEVERITY DISTRIBUTION\n")
	fmt.Printf("   LOW:     %d\n", m.Low)
	fmt.Printf("   MEDIUM:  %d\n", m.Medium)
	fmt.Printf("   HIGH:    %d\n", m.High)

	if m.Verified > 0 || m.FundsCreated > 0 {
		fmt.Printf("\n🔏 LIFECYCLE\n")
		fmt.Printf("   Verified:       %d\n", m.Verified)
		fmt.Printf("   Funds approved: %d\n", m.FundsCreated)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.Sent > 0 {
		fmt.Printf("   p50 Latency:      %v\n", m.percentile(0.50).Round(time.Microsecond))
		fmt.Printf("   p95 Latency:      %v\n", m.percentile(0.95).Round(time.Microsecond))
		fmt.Printf("   p99 Latency:      %v\n", m.percentile(0.99).Round(time.Microsecond))
		fmt.Printf("   Throughput:       %.2f reports/sec\n", float64(m.Sent)/duration.Seconds())
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	switch {
	case m.Unavailable > 0:
		fmt.Println("   ⚠️  Classifier was unavailable for some reports")
	case m.Failed > 0:
		fmt.Println("   ❌ Some requests failed outright")
	default:
		fmt.Println("   ✅ All requests were answered")
	}
	fmt.Println()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
