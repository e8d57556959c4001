package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"crowdvault/core/events"
	"crowdvault/native/crowdfund"
	"crowdvault/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "CROWDVAULT_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020

	codeNotFound           = -32040
	codeUnauthorizedCaller = -32041
	codeInvalidState       = -32042
	codeInvalidArgument    = -32043
	codeInsufficientAmount = -32044
	codeTransferFailure    = -32045
)

// ServerConfig tunes the RPC surface. Zero values fall back to permissive
// defaults suitable for local development.
type ServerConfig struct {
	RateLimitPerMin float64
	RateLimitBurst  int
}

// Server exposes the ledger over JSON-RPC: one method per operation plus the
// read-only queries and the event journal tail. Mutating methods require the
// bearer token from CROWDVAULT_RPC_TOKEN and are rate limited per client.
type Server struct {
	engine  *crowdfund.Engine
	journal *events.Journal
	log     *slog.Logger

	// opMu serializes mutating operations end to end, so no call ever
	// observes a partially-applied effect of another.
	opMu sync.Mutex

	authToken string

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	limit     rate.Limit
	burst     int
}

// NewServer wires the RPC surface around an engine and an event journal.
func NewServer(engine *crowdfund.Engine, journal *events.Journal, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	perMin := cfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 120
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 20
	}
	return &Server{
		engine:    engine,
		journal:   journal,
		log:       logger,
		authToken: strings.TrimSpace(os.Getenv(authTokenEnv)),
		limiters:  make(map[string]*rate.Limiter),
		limit:     rate.Limit(perMin / 60.0),
		burst:     burst,
	}
}

// Router builds the HTTP handler: health, metrics and the JSON-RPC endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/rpc", s.handle)
	return r
}

// Start serves the router on addr and blocks until the listener fails.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", slog.String("addr", addr))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// handle parses the envelope and routes to the per-method handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() { _ = reader.Close() }()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = "request body too large"
		}
		writeError(w, status, nil, codeInvalidRequest, message, nil)
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", nil)
		return
	}

	handler, mutating := s.route(req.Method)
	if handler == nil {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if mutating {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, authErr.Error(), nil)
			return
		}
		if !s.allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
			return
		}
	}

	start := time.Now()
	outcome := "ok"
	if handlerErr := handler(w, &req); handlerErr != nil {
		outcome = "error"
	}
	observability.RPCMetrics().Observe(req.Method, outcome, start)
}

// handlerFunc reports whether the request ended in an error so metrics can
// split outcomes without re-parsing the response.
type handlerFunc func(http.ResponseWriter, *RPCRequest) error

func (s *Server) route(method string) (handlerFunc, bool) {
	switch method {
	case "crowdfund_create":
		return s.handleCreate, true
	case "crowdfund_donate":
		return s.handleDonate, true
	case "crowdfund_end":
		return s.handleEnd, true
	case "crowdfund_withdraw":
		return s.handleWithdraw, true
	case "crowdfund_refund":
		return s.handleRefund, true
	case "crowdfund_setFee":
		return s.handleSetFee, true
	case "crowdfund_sweep":
		return s.handleSweep, true
	case "crowdfund_transferOwnership":
		return s.handleTransferOwnership, true
	case "crowdfund_get":
		return s.handleGetCampaign, false
	case "crowdfund_getDonation":
		return s.handleGetDonation, false
	case "crowdfund_total":
		return s.handleTotal, false
	case "crowdfund_status":
		return s.handleStatus, false
	case "crowdfund_events":
		return s.handleEvents, false
	case "account_get":
		return s.handleGetAccount, false
	default:
		return nil, false
	}
}

func (s *Server) requireAuth(r *http.Request) error {
	if s.authToken == "" {
		return errors.New("server has no RPC token configured")
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return errors.New("missing bearer token")
	}
	if strings.TrimSpace(strings.TrimPrefix(header, prefix)) != s.authToken {
		return errors.New("invalid bearer token")
	}
	return nil
}

func (s *Server) allow(client string) bool {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	limiter, ok := s.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(s.limit, s.burst)
		s.limiters[client] = limiter
	}
	return limiter.Allow()
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
