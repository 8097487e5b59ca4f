package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// moveRequest mirrors the Maia API request model.
type moveRequest struct {
	FEN   string `json:"fen"`
	Level int    `json:"level,omitempty"`
	Nodes int    `json:"nodes,omitempty"`
}

// moveResponse mirrors the Maia API response model.
type moveResponse struct {
	Success     bool   `json:"success"`
	Move        string `json:"move"`
	Level       int    `json:"level"`
	Nodes       int    `json:"nodes"`
	EngineKind  string `json:"engine_kind"`
	EngineCache string `json:"engine_cache"`
	CacheStatus string `json:"cache_status"`
	Timing      struct {
		TotalMs        int64 `json:"total_ms"`
		ConstructionMs int64 `json:"construction_ms"`
		SearchMs       int64 `json:"search_ms"`
	} `json:"timing"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusResponse mirrors the parts of GET /api/v1/status the tool reports.
type statusResponse struct {
	Uptime       string `json:"uptime"`
	CacheSize    int    `json:"cache_size"`
	CachedLevels []int  `json:"cached_levels"`
	Levels       []struct {
		Level        int     `json:"level"`
		EngineKind   string  `json:"engine_kind"`
		Moves        int64   `json:"moves"`
		Failures     int64   `json:"failures"`
		AvgComputeMs float64 `json:"avg_compute_ms"`
	} `json:"levels"`
	Recent struct {
		Count         int     `json:"count"`
		Successes     int     `json:"successes"`
		Failures      int     `json:"failures"`
		Fallback      int     `json:"fallback"`
		AvgDurationMs float64 `json:"avg_duration_ms"`
	} `json:"recent"`
	Requests struct {
		Total  int64 `json:"total"`
		Errors int64 `json:"errors"`
	} `json:"requests"`
	Environment struct {
		LC0Path      string            `json:"lc0_path"`
		LC0Available bool              `json:"lc0_available"`
		Weights      map[string]string `json:"weights"`
	} `json:"environment"`
}

func main() {
	apiURL := os.Getenv("MAIA_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("MAIA_API_KEY")

	s := server.NewMCPServer(
		"maia",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	predictMoveTool := mcp.NewTool("predict_move",
		mcp.WithDescription("Predict the move a human player of a given rating would play in a chess position, using the Maia engines. Returns the move in UCI notation (e.g. e2e4)."),
		mcp.WithString("fen",
			mcp.Required(),
			mcp.Description("The position in Forsyth-Edwards Notation"),
		),
		mcp.WithNumber("level",
			mcp.Description("Skill level (rating) of the simulated player: 1100, 1200, ... 1900 (default: 1500)"),
		),
		mcp.WithNumber("nodes",
			mcp.Description("Search node budget, 1-10000 (default: 1, the pure human-like policy move)"),
		),
	)
	s.AddTool(predictMoveTool, handlePredictMove(apiURL, apiKey))

	engineStatusTool := mcp.NewTool("engine_status",
		mcp.WithDescription("Report which Maia engines are loaded, per-level move counts and recent prediction latency."),
	)
	s.AddTool(engineStatusTool, handleEngineStatus(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func newRequest(ctx context.Context, method, url, apiKey string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	return req, nil
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response (HTTP %d): %w", resp.StatusCode, err)
	}
	return nil
}

func handlePredictMove(apiURL, apiKey string) server.ToolHandlerFunc {
	// Engine start-up for a cold level can take tens of seconds.
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fen, err := request.RequireString("fen")
		if err != nil {
			return mcp.NewToolResultError("fen is required"), nil
		}

		body, err := json.Marshal(moveRequest{
			FEN:   fen,
			Level: request.GetInt("level", 0),
			Nodes: request.GetInt("nodes", 0),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal request: %v", err)), nil
		}

		req, err := newRequest(ctx, http.MethodPost, apiURL+"/api/v1/move", apiKey, bytes.NewReader(body))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var resp moveResponse
		if err := doJSON(client, req, &resp); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if !resp.Success {
			errMsg := "prediction failed"
			if resp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", resp.Error.Code, resp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		return mcp.NewToolResultText(formatMove(&resp)), nil
	}
}

func formatMove(r *moveResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Move: %s\n", r.Move)
	fmt.Fprintf(&sb, "Level: %d, nodes: %d, engine: %s\n", r.Level, r.Nodes, r.EngineKind)
	if r.EngineKind == "fallback" {
		sb.WriteString("Note: lc0 is not installed on the server; this is a random legal move.\n")
	}
	fmt.Fprintf(&sb, "Timing: %dms total, %dms search", r.Timing.TotalMs, r.Timing.SearchMs)
	if r.Timing.ConstructionMs > 0 {
		fmt.Fprintf(&sb, ", %dms engine start", r.Timing.ConstructionMs)
	}
	if r.CacheStatus == "hit" {
		sb.WriteString(" (cached)")
	}
	return sb.String()
}

func handleEngineStatus(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 15 * time.Second}

	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req, err := newRequest(ctx, http.MethodGet, apiURL+"/api/v1/status", apiKey, nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var status statusResponse
		if err := doJSON(client, req, &status); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatStatus(&status)), nil
	}
}

func formatStatus(s *statusResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Uptime: %s\n", s.Uptime)

	lc0 := "missing (fallback moves)"
	if s.Environment.LC0Available {
		lc0 = "available"
	}
	fmt.Fprintf(&sb, "lc0: %s at %s\n", lc0, s.Environment.LC0Path)

	var missing []string
	for level, path := range s.Environment.Weights {
		if path == "" {
			missing = append(missing, level)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		fmt.Fprintf(&sb, "Missing weights: %s\n", strings.Join(missing, ", "))
	}

	fmt.Fprintf(&sb, "Cached engines: %d %v\n", s.CacheSize, s.CachedLevels)
	fmt.Fprintf(&sb, "Requests: %d (%d errors)\n", s.Requests.Total, s.Requests.Errors)
	fmt.Fprintf(&sb, "Recent: %d predictions, %d ok, %d failed, %d fallback, avg %.1fms\n",
		s.Recent.Count, s.Recent.Successes, s.Recent.Failures, s.Recent.Fallback, s.Recent.AvgDurationMs)

	if len(s.Levels) > 0 {
		sb.WriteString("\nLevel  Engine    Moves  Failures  Avg search\n")
		for _, l := range s.Levels {
			kind := l.EngineKind
			if kind == "" {
				kind = "-"
			}
			fmt.Fprintf(&sb, "%-6d %-9s %6d %9d  %.1fms\n", l.Level, kind, l.Moves, l.Failures, l.AvgComputeMs)
		}
	}
	return sb.String()
}
