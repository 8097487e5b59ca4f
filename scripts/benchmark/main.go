package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

// CLI flags
var (
	apiURL = flag.String("api-url", "http://localhost:8080", "Maia API base URL")
	apiKey = flag.String("api-key", "", "API key for authenticated requests")
	runs   = flag.Int("runs", 3, "Number of runs per position, level and node budget")
	levels = flag.String("levels", "1100,1500,1900", "Comma-separated skill levels to benchmark")
	budget = flag.String("nodes", "1,10,100,1000", "Comma-separated node budgets to benchmark")
	output = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Test positions covering the three phases of a game.
var testPositions = []struct {
	Label string
	FEN   string
}{
	{"Opening", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"},
	{"Middlegame", "r1bq1rk1/pp2bppp/2n1pn2/3p4/2PP4/2N1PN2/PP2BPPP/R1BQ1RK1 w - - 0 8"},
	{"Endgame", "8/5pk1/6p1/8/3R4/6P1/5PK1/r7 b - - 0 40"},
}

// --- Request / Response types (mirrors models package) ---

type moveRequest struct {
	FEN   string `json:"fen"`
	Level int    `json:"level"`
	Nodes int    `json:"nodes"`
}

type moveResponse struct {
	Success     bool         `json:"success"`
	Move        string       `json:"move"`
	EngineKind  string       `json:"engine_kind"`
	EngineCache string       `json:"engine_cache"`
	CacheStatus string       `json:"cache_status"`
	Timing      timingInfo   `json:"timing"`
	Error       *errorDetail `json:"error,omitempty"`
}

type timingInfo struct {
	TotalMs        int64 `json:"total_ms"`
	ConstructionMs int64 `json:"construction_ms"`
	SearchMs       int64 `json:"search_ms"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- Benchmark result types ---

type runResult struct {
	Run            int    `json:"run"`
	Move           string `json:"move,omitempty"`
	RoundTripMs    int64  `json:"round_trip_ms"`
	TotalMs        int64  `json:"total_ms"`
	ConstructionMs int64  `json:"construction_ms"`
	SearchMs       int64  `json:"search_ms"`
	EngineKind     string `json:"engine_kind,omitempty"`
	ColdStart      bool   `json:"cold_start"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

type caseAverages struct {
	RoundTripMs float64 `json:"round_trip_ms"`
	SearchMs    float64 `json:"search_ms"`
	P95SearchMs int64   `json:"p95_search_ms"`
	Successes   int     `json:"successes"`
}

type caseResult struct {
	Label    string        `json:"label"`
	FEN      string        `json:"fen"`
	Level    int           `json:"level"`
	Nodes    int           `json:"nodes"`
	Runs     []runResult   `json:"runs"`
	Averages *caseAverages `json:"averages,omitempty"`
}

type benchmarkReport struct {
	Timestamp   string       `json:"timestamp"`
	APIURL      string       `json:"api_url"`
	RunsPerCase int          `json:"runs_per_case"`
	Results     []caseResult `json:"results"`
}

func main() {
	flag.Parse()

	levelList, err := parseInts(*levels)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: -levels: %v\n", err)
		os.Exit(2)
	}
	nodeList, err := parseInts(*budget)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: -nodes: %v\n", err)
		os.Exit(2)
	}

	fmt.Println("=== Maia Benchmark Suite ===")
	fmt.Printf("API URL:   %s\n", *apiURL)
	fmt.Printf("Levels:    %v\n", levelList)
	fmt.Printf("Nodes:     %v\n", nodeList)
	fmt.Printf("Runs/case: %d\n", *runs)
	fmt.Printf("Output:    %s\n", *output)
	fmt.Println()

	// Quick connectivity check.
	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure the Maia service is running (e.g. go run ./cmd/maia)\n")
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		APIURL:      *apiURL,
		RunsPerCase: *runs,
	}

	client := &http.Client{Timeout: 120 * time.Second}
	for _, level := range levelList {
		for _, nodes := range nodeList {
			for _, p := range testPositions {
				fmt.Printf("Benchmarking [%s] level=%d nodes=%d ...\n", p.Label, level, nodes)
				cr := caseResult{Label: p.Label, FEN: p.FEN, Level: level, Nodes: nodes}

				for i := 1; i <= *runs; i++ {
					rr := benchmarkMove(client, p.FEN, level, nodes, i)
					switch {
					case !rr.Success:
						fmt.Printf("  Run %d/%d ... FAILED: %s\n", i, *runs, rr.Error)
					case rr.ColdStart:
						fmt.Printf("  Run %d/%d ... OK  %s  %dms (engine start %dms)\n", i, *runs, rr.Move, rr.RoundTripMs, rr.ConstructionMs)
					default:
						fmt.Printf("  Run %d/%d ... OK  %s  %dms\n", i, *runs, rr.Move, rr.RoundTripMs)
					}
					cr.Runs = append(cr.Runs, rr)
				}

				cr.Averages = computeAverages(cr.Runs)
				report.Results = append(report.Results, cr)
			}
		}
	}
	fmt.Println()

	// Print summary table.
	printTable(report.Results)

	// Write JSON report.
	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func parseInts(csv string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", part)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, errors.New("empty list")
	}
	return out, nil
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func benchmarkMove(client *http.Client, fen string, level, nodes, run int) runResult {
	rr := runResult{Run: run}

	bodyBytes, err := json.Marshal(moveRequest{FEN: fen, Level: level, Nodes: nodes})
	if err != nil {
		rr.Error = fmt.Sprintf("marshal error: %v", err)
		return rr
	}

	req, err := http.NewRequest(http.MethodPost, *apiURL+"/api/v1/move", bytes.NewReader(bodyBytes))
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()

	var mr moveResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}
	rr.RoundTripMs = time.Since(start).Milliseconds()

	rr.Success = mr.Success
	rr.Move = mr.Move
	rr.TotalMs = mr.Timing.TotalMs
	rr.ConstructionMs = mr.Timing.ConstructionMs
	rr.SearchMs = mr.Timing.SearchMs
	rr.EngineKind = mr.EngineKind
	rr.ColdStart = mr.EngineCache == "miss"

	if mr.Error != nil {
		rr.Error = fmt.Sprintf("[%s] %s", mr.Error.Code, mr.Error.Message)
	}

	return rr
}

// computeAverages summarises the warm runs of a case. Cold starts are
// excluded so engine construction does not skew search latency.
func computeAverages(runs []runResult) *caseAverages {
	var avg caseAverages
	var searches []int64

	for _, r := range runs {
		if !r.Success || r.ColdStart {
			continue
		}
		avg.Successes++
		avg.RoundTripMs += float64(r.RoundTripMs)
		avg.SearchMs += float64(r.SearchMs)
		searches = append(searches, r.SearchMs)
	}

	if avg.Successes == 0 {
		return nil
	}

	n := float64(avg.Successes)
	avg.RoundTripMs /= n
	avg.SearchMs /= n
	avg.P95SearchMs = percentile(searches, 0.95)
	return &avg
}

func percentile(values []int64, p float64) int64 {
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func printTable(results []caseResult) {
	fmt.Println(strings.Repeat("─", 85))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Position\tLevel\tNodes\tAvg Round Trip\tAvg Search\tP95 Search\tEngine\n")
	fmt.Fprintf(w, "────────\t─────\t─────\t──────────────\t──────────\t──────────\t──────\n")

	for _, r := range results {
		if r.Averages == nil {
			fmt.Fprintf(w, "%s\t%d\t%d\tFAILED\t-\t-\t-\n", r.Label, r.Level, r.Nodes)
			continue
		}

		fmt.Fprintf(w, "%s\t%d\t%d\t%.0fms\t%.0fms\t%dms\t%s\n",
			r.Label,
			r.Level,
			r.Nodes,
			r.Averages.RoundTripMs,
			r.Averages.SearchMs,
			r.Averages.P95SearchMs,
			dominantKind(r.Runs),
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 85))
}

func dominantKind(runs []runResult) string {
	counts := map[string]int{}
	for _, r := range runs {
		if r.Success {
			counts[r.EngineKind]++
		}
	}
	best, bestCount := "-", 0
	for kind, count := range counts {
		if count > bestCount {
			best = kind
			bestCount = count
		}
	}
	return best
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
