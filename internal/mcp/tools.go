package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all benchmarker tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerChains(s, client)
	registerValidateProviders(s, client)
	registerCreateJob(s, client)
	registerRunJob(s, client)
	registerCancelJob(s, client)
	registerJobs(s, client)
	registerJobDetail(s, client)
	registerResults(s, client)
	registerDeleteJob(s, client)
}

func registerChains(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rpcbench_chains",
		gomcp.WithDescription("List available chain configurations (presets and custom chains)."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/v1/chains")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Benchmarker unreachable: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatChains(raw)), nil
	})
}

func registerValidateProviders(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rpcbench_validate_providers",
		gomcp.WithDescription("Check that provider RPC URLs serve the expected chain (via eth_chainId)."),
		gomcp.WithString("urls",
			gomcp.Required(),
			gomcp.Description("Comma-separated provider RPC URLs"),
		),
		gomcp.WithNumber("expected_chain_id",
			gomcp.Required(),
			gomcp.Description("Chain ID the providers must serve"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		urls, err := req.RequireString("urls")
		if err != nil {
			return gomcp.NewToolResultError("urls is required"), nil
		}
		chainID := req.GetInt("expected_chain_id", 0)
		if chainID <= 0 {
			return gomcp.NewToolResultError("expected_chain_id must be positive"), nil
		}

		payload := map[string]any{
			"urls":            splitURLs(urls),
			"expectedChainId": chainID,
		}
		raw, err := client.Post("/v1/providers/validate", payload)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Validation failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatValidation(raw)), nil
	})
}

func registerCreateJob(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rpcbench_create_job",
		gomcp.WithDescription("Create a benchmark job for a chain. This is a MUTATING operation. Use rpcbench_run_job to start it."),
		gomcp.WithNumber("chain_id",
			gomcp.Required(),
			gomcp.Description("Chain ID to benchmark (see rpcbench_chains)"),
		),
		gomcp.WithString("urls",
			gomcp.Required(),
			gomcp.Description("Comma-separated provider RPC URLs to compare"),
		),
		gomcp.WithString("mode",
			gomcp.Description("Iteration mode: quick (2 rounds), standard (3), thorough (5), statistical (10). Default: standard"),
		),
		gomcp.WithNumber("timeout_sec",
			gomcp.Description("Per-call timeout in seconds (default: 30)"),
		),
		gomcp.WithNumber("delay_ms",
			gomcp.Description("Delay between sequential calls in milliseconds (default: 100)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		chainID := req.GetInt("chain_id", 0)
		if chainID <= 0 {
			return gomcp.NewToolResultError("chain_id must be positive"), nil
		}
		urls, err := req.RequireString("urls")
		if err != nil {
			return gomcp.NewToolResultError("urls is required"), nil
		}

		providers := make([]map[string]any, 0)
		for i, u := range splitURLs(urls) {
			providers = append(providers, map[string]any{
				"name": fmt.Sprintf("provider-%d", i+1),
				"url":  u,
			})
		}

		config := map[string]any{
			"iterationMode":  req.GetString("mode", "standard"),
			"timeoutSeconds": req.GetInt("timeout_sec", 30),
			"delayMs":        req.GetInt("delay_ms", 100),
		}

		raw, err := client.Post("/v1/jobs", map[string]any{
			"chainId":   chainID,
			"providers": providers,
			"config":    config,
		})
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Create job failed: %v", err)), nil
		}

		var job map[string]any
		json.Unmarshal(raw, &job)
		return gomcp.NewToolResultText(joinLines(
			section("Job Created"),
			kv("ID", getStr(job, "id")),
			kv("Chain", getStr(job, "chainName")),
			kv("Providers", len(providers)),
			"",
			"Run it with rpcbench_run_job.",
		)), nil
	})
}

func registerRunJob(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rpcbench_run_job",
		gomcp.WithDescription("Start executing a pending benchmark job. This is a MUTATING operation and issues real RPC calls to the providers."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Job ID"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		if _, err := client.Post("/v1/jobs/"+id+"/run", nil); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Job Started"),
			kv("ID", id),
			"",
			"Poll rpcbench_job_detail for status, then rpcbench_results.",
		)), nil
	})
}

func registerCancelJob(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rpcbench_cancel_job",
		gomcp.WithDescription("Cancel a running benchmark job. Partial results are kept. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Job ID"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		if _, err := client.Post("/v1/jobs/"+id+"/cancel", nil); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Cancel failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Job Cancelling"),
			kv("ID", id),
			"In-flight calls finish naturally; partial results are kept.",
		)), nil
	})
}

func registerJobs(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rpcbench_jobs",
		gomcp.WithDescription("List benchmark jobs, newest first (paginated)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)
		raw, err := client.Get(fmt.Sprintf("/v1/jobs?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("List jobs failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatJobs(raw)), nil
	})
}

func registerJobDetail(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rpcbench_job_detail",
		gomcp.WithDescription("Get a benchmark job's status and configuration by ID."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Job ID"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		raw, err := client.Get("/v1/jobs/" + id)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Job detail failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatJob(raw)), nil
	})
}

func registerResults(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rpcbench_results",
		gomcp.WithDescription("Get aggregated benchmark results for a job: cold/warm latency, cache speedup, success rates and consistency checks per provider."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Job ID"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		raw, err := client.Get("/v1/jobs/" + id + "/results")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Results failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatResults(raw)), nil
	})
}

func registerDeleteJob(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rpcbench_delete_job",
		gomcp.WithDescription("Delete a benchmark job and all its results. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Job ID to delete"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		if _, err := client.Delete("/v1/jobs/" + id); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Job Deleted"),
			kv("ID", id),
		)), nil
	})
}

func splitURLs(urls string) []string {
	var out []string
	for _, u := range strings.Split(urls, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// Response formatting functions

func formatChains(raw json.RawMessage) string {
	var chains []map[string]any
	if err := json.Unmarshal(raw, &chains); err != nil {
		return fmt.Sprintf("Error parsing chains: %v", err)
	}

	lines := section("Available Chains")
	for _, c := range chains {
		kind := "custom"
		if b, ok := c["isPreset"].(bool); ok && b {
			kind = "preset"
		}
		lines += fmt.Sprintf("\n  %-8.0f %-20s %s", getNum(c, "chainId"), getStr(c, "name"), kind)
	}
	return lines
}

func formatValidation(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing validation: %v", err)
	}

	verdict := "INVALID"
	if b, ok := m["valid"].(bool); ok && b {
		verdict = "VALID"
	}
	lines := section("Provider Validation: " + verdict)

	if results, ok := m["results"].([]any); ok {
		for _, r := range results {
			res, ok := r.(map[string]any)
			if !ok {
				continue
			}
			state := "chain mismatch"
			if b, _ := res["valid"].(bool); b {
				state = fmt.Sprintf("chain %d", int64(getNum(res, "chainId")))
			}
			if errMsg := getStr(res, "error"); errMsg != "" {
				state = errMsg
			}
			lines += fmt.Sprintf("\n  %-40s %s", getStr(res, "url"), state)
		}
	}
	return lines
}

func formatJobs(raw json.RawMessage) string {
	var jobs []map[string]any
	if err := json.Unmarshal(raw, &jobs); err != nil {
		return fmt.Sprintf("Error parsing jobs: %v", err)
	}
	if len(jobs) == 0 {
		return joinLines(section("Benchmark Jobs"), "No jobs found.")
	}

	lines := section("Benchmark Jobs")
	for _, j := range jobs {
		lines += fmt.Sprintf("\n  %-10s %-10s %-16s %s",
			getStr(j, "id"), getStr(j, "status"), getStr(j, "chainName"), getStr(j, "createdAt"))
	}
	return lines
}

func formatJob(raw json.RawMessage) string {
	var j map[string]any
	if err := json.Unmarshal(raw, &j); err != nil {
		return fmt.Sprintf("Error parsing job: %v", err)
	}

	lines := joinLines(
		section("Job "+getStr(j, "id")),
		kv("Status", getStr(j, "status")),
		kv("Chain", fmt.Sprintf("%s (%d)", getStr(j, "chainName"), int64(getNum(j, "chainId")))),
		kv("Created", getStr(j, "createdAt")),
	)
	if d := getNum(j, "durationSeconds"); d > 0 {
		lines += "\n" + kv("Duration", fmt.Sprintf("%.1fs", d))
	}
	if errMsg := getStr(j, "error"); errMsg != "" {
		lines += "\n" + kv("Error", errMsg)
	}
	if providers, ok := j["providers"].([]any); ok {
		lines += "\n" + kv("Providers", len(providers))
	}
	return lines
}

func formatResults(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing results: %v", err)
	}

	lines := section("Aggregated Results")
	aggs, _ := m["aggregated"].([]any)
	if len(aggs) == 0 {
		return joinLines(lines, "No results yet.")
	}

	for _, a := range aggs {
		agg, ok := a.(map[string]any)
		if !ok {
			continue
		}
		lines += fmt.Sprintf("\n  %-8s #%-3d %-40s cold %-10s warm %-10s speedup %.2fx  success %s",
			getStr(agg, "providerId"),
			int64(getNum(agg, "testId")),
			getStr(agg, "testName"),
			formatMs(getNum(agg, "coldMs")),
			formatMs(getNum(agg, "warmMs")),
			getNum(agg, "cacheSpeedup"),
			formatPct(getNum(agg, "successRate")),
		)
	}

	if reports, ok := m["consistency"].([]any); ok && len(reports) > 0 {
		lines += "\n\n" + section("Consistency")
		for _, r := range reports {
			rep, ok := r.(map[string]any)
			if !ok {
				continue
			}
			verdict := "agree"
			if b, _ := rep["hasMismatch"].(bool); b {
				verdict = "MISMATCH"
			}
			lines += fmt.Sprintf("\n  test %-3d round %-2d consensus %-8d %s",
				int64(getNum(rep, "testId")), int64(getNum(rep, "round")),
				int64(getNum(rep, "consensusCount")), verdict)
		}
	}

	return lines
}
