// Package transport provides HTTP API handlers.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/rpcbench/internal/catalog"
	"github.com/gateway-fm/rpcbench/internal/chains"
	"github.com/gateway-fm/rpcbench/internal/export"
	"github.com/gateway-fm/rpcbench/internal/rpc"
	"github.com/gateway-fm/rpcbench/internal/scheduler"
	"github.com/gateway-fm/rpcbench/internal/storage"
	"github.com/gateway-fm/rpcbench/pkg/types"
)

// Input validation constants
const (
	maxProviders      = 10
	maxTimeoutSec     = 600
	maxDelayMs        = 60_000
	maxLoadConcurrent = 500
	validateTimeout   = 10 * time.Second
)

var validModes = map[types.IterationMode]bool{
	types.ModeQuick:       true,
	types.ModeStandard:    true,
	types.ModeThorough:    true,
	types.ModeStatistical: true,
	"":                    true, // Empty is valid (defaults to standard)
}

// Server handles HTTP requests for the benchmarker.
type Server struct {
	store     storage.Store
	chains    *chains.Registry
	runner    *scheduler.Runner
	client    *rpc.Client
	exporter  *export.Service
	registry  *prometheus.Registry
	logger    *slog.Logger
	startTime time.Time

	maxConcurrentJobs int

	// CORS configuration
	corsAllowedOrigins []string
	corsAllowAll       bool
}

// NewServer creates a new HTTP server.
func NewServer(store storage.Store, registry *chains.Registry, runner *scheduler.Runner, client *rpc.Client, promReg *prometheus.Registry, logger *slog.Logger, corsAllowedOrigins string, maxConcurrentJobs int) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrentJobs <= 0 {
		maxConcurrentJobs = 4
	}

	s := &Server{
		store:             store,
		chains:            registry,
		runner:            runner,
		client:            client,
		exporter:          export.NewService(store),
		registry:          promReg,
		logger:            logger,
		startTime:         time.Now(),
		maxConcurrentJobs: maxConcurrentJobs,
	}

	origins := strings.TrimSpace(corsAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = strings.Split(origins, ",")
		for i, o := range s.corsAllowedOrigins {
			s.corsAllowedOrigins[i] = strings.TrimSpace(o)
		}
	}

	return s
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/chains", s.corsMiddleware(s.handleChains))
	mux.HandleFunc("/v1/chains/", s.corsMiddleware(s.handleChainDetail))
	mux.HandleFunc("/v1/providers/validate", s.corsMiddleware(s.handleValidateProviders))
	mux.HandleFunc("/v1/test-cases", s.corsMiddleware(s.handleTestCases))
	mux.HandleFunc("/v1/params/randomize", s.corsMiddleware(s.handleRandomizeParams))
	mux.HandleFunc("/v1/params/validate", s.corsMiddleware(s.handleValidateParams))
	mux.HandleFunc("/v1/jobs", s.corsMiddleware(s.handleJobs))
	mux.HandleFunc("/v1/jobs/", s.corsMiddleware(s.handleJobDetail))
	mux.HandleFunc("/v1/export/", s.corsMiddleware(s.handleExport))
	mux.HandleFunc("/v1/import", s.corsMiddleware(s.handleImport))

	// Health endpoint (unversioned - standard Kubernetes probe)
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics (unversioned - standard path)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	return mux
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := false
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// handleChains handles GET /v1/chains and POST /v1/chains.
func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.chains.List()
		if err != nil {
			s.writeJSONError(w, "Failed to list chains: "+err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, list)

	case http.MethodPost:
		var cfg types.ChainConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if cfg.ChainID == 0 || cfg.Name == "" {
			s.writeJSONError(w, "chainId and name are required", http.StatusBadRequest)
			return
		}
		if err := s.chains.SaveCustom(cfg); err != nil {
			if errors.Is(err, chains.ErrPreset) {
				s.writeJSONError(w, "Chain ID is reserved by a preset", http.StatusBadRequest)
				return
			}
			s.writeJSONError(w, "Failed to save chain: "+err.Error(), http.StatusInternalServerError)
			return
		}
		cfg.IsPreset = false
		s.writeJSON(w, cfg)

	default:
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleChainDetail handles GET, PUT and DELETE on /v1/chains/{id}.
func (s *Server) handleChainDetail(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/v1/chains/")
	chainID, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		s.writeJSONError(w, "Invalid chain ID", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		cfg, err := s.chains.Get(chainID)
		if err != nil {
			s.chainError(w, chainID, err)
			return
		}
		s.writeJSON(w, cfg)

	case http.MethodPut:
		var cfg types.ChainConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.chains.Update(chainID, cfg); err != nil {
			s.chainError(w, chainID, err)
			return
		}
		updated, err := s.chains.Get(chainID)
		if err != nil {
			s.chainError(w, chainID, err)
			return
		}
		s.writeJSON(w, updated)

	case http.MethodDelete:
		if err := s.chains.Delete(chainID); err != nil {
			s.chainError(w, chainID, err)
			return
		}
		s.writeJSON(w, map[string]string{"status": "deleted"})

	default:
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) chainError(w http.ResponseWriter, chainID uint64, err error) {
	switch {
	case errors.Is(err, chains.ErrNotFound):
		s.writeJSONError(w, fmt.Sprintf("Chain %d not found", chainID), http.StatusNotFound)
	case errors.Is(err, chains.ErrPreset):
		s.writeJSONError(w, "Preset chains cannot be modified", http.StatusBadRequest)
	default:
		s.writeJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}

// ProviderValidationRequest asks whether a set of URLs serve the
// expected chain.
type ProviderValidationRequest struct {
	URLs            []string `json:"urls"`
	ExpectedChainID uint64   `json:"expectedChainId"`
}

// ProviderValidationResult is the verdict for one URL.
type ProviderValidationResult struct {
	URL     string `json:"url"`
	Valid   bool   `json:"valid"`
	ChainID uint64 `json:"chainId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleValidateProviders checks each URL's eth_chainId against the
// expected chain. URLs in the response are masked, they may embed keys.
func (s *Server) handleValidateProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ProviderValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.URLs) == 0 || len(req.URLs) > maxProviders {
		s.writeJSONError(w, fmt.Sprintf("urls must contain between 1 and %d entries", maxProviders), http.StatusBadRequest)
		return
	}

	results := make([]ProviderValidationResult, 0, len(req.URLs))
	allValid := true
	for _, url := range req.URLs {
		res := ProviderValidationResult{URL: maskURL(url)}
		chainID, err := s.client.ChainID(r.Context(), url, validateTimeout)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.ChainID = chainID
			res.Valid = chainID == req.ExpectedChainID
		}
		if !res.Valid {
			allValid = false
		}
		results = append(results, res)
	}

	s.writeJSON(w, map[string]any{"valid": allValid, "results": results})
}

// maskURL hides query parameters, which commonly carry API keys.
func maskURL(url string) string {
	if i := strings.Index(url, "?"); i >= 0 {
		return url[:i] + "?***"
	}
	return url
}

// handleTestCases lists the raw test definitions, placeholders intact.
func (s *Server) handleTestCases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, catalog.Definitions())
}

// handleRandomizeParams generates randomized parameters for a chain.
func (s *Server) handleRandomizeParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chainID, err := strconv.ParseUint(r.URL.Query().Get("chain_id"), 10, 64)
	if err != nil {
		s.writeJSONError(w, "chain_id query parameter is required", http.StatusBadRequest)
		return
	}

	params, err := s.chains.RandomParams(chainID)
	if err != nil {
		s.chainError(w, chainID, err)
		return
	}
	s.writeJSON(w, params)
}

// ParamCheck is one field's validation verdict.
type ParamCheck struct {
	Field   string `json:"field"`
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// handleValidateParams probes a provider to confirm the test parameters
// are usable: the known address holds a balance and the logs contract
// has code on chain.
func (s *Server) handleValidateParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerURL := r.URL.Query().Get("provider_url")
	if providerURL == "" {
		s.writeJSONError(w, "provider_url query parameter is required", http.StatusBadRequest)
		return
	}

	var params types.TestParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var checks []ParamCheck

	if params.KnownAddress == "" {
		checks = append(checks, ParamCheck{Field: "knownAddress", Message: "Address is required"})
	} else {
		out := s.client.Invoke(r.Context(), providerURL, "eth_getBalance", []interface{}{params.KnownAddress, "latest"}, validateTimeout)
		switch {
		case !out.Success:
			checks = append(checks, ParamCheck{Field: "knownAddress", Message: out.ErrorMessage})
		case string(out.Result) == `"0x0"`:
			checks = append(checks, ParamCheck{Field: "knownAddress", Message: "Address has no balance (may cause test failures)"})
		default:
			checks = append(checks, ParamCheck{Field: "knownAddress", Valid: true, Message: "Address has balance"})
		}
	}

	if params.LogsTokenContract == "" {
		checks = append(checks, ParamCheck{Field: "logsTokenContract", Message: "Token contract is required for log queries"})
	} else {
		out := s.client.Invoke(r.Context(), providerURL, "eth_getCode", []interface{}{params.LogsTokenContract, "latest"}, validateTimeout)
		switch {
		case !out.Success:
			checks = append(checks, ParamCheck{Field: "logsTokenContract", Message: out.ErrorMessage})
		case string(out.Result) == `"0x"` || string(out.Result) == `"0x0"`:
			checks = append(checks, ParamCheck{Field: "logsTokenContract", Message: "Address is not a contract (no code)"})
		default:
			checks = append(checks, ParamCheck{Field: "logsTokenContract", Valid: true, Message: "Contract exists"})
		}
	}

	if params.ArchivalBlock == 0 {
		checks = append(checks, ParamCheck{Field: "archivalBlock", Message: "Archival block must be greater than 0"})
	} else if head, err := s.client.BlockNumber(r.Context(), providerURL, validateTimeout); err == nil {
		if params.ArchivalBlock > head {
			checks = append(checks, ParamCheck{
				Field:   "archivalBlock",
				Message: fmt.Sprintf("Archival block %d is in the future (current: %d)", params.ArchivalBlock, head),
			})
		} else {
			checks = append(checks, ParamCheck{
				Field: "archivalBlock", Valid: true,
				Message: fmt.Sprintf("Archival block %d is valid", params.ArchivalBlock),
			})
		}
	}

	allValid := true
	for _, c := range checks {
		if !c.Valid {
			allValid = false
			break
		}
	}
	s.writeJSON(w, map[string]any{"valid": allValid, "results": checks})
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"active_jobs":    s.runner.Tracker().Active(),
	})
}
