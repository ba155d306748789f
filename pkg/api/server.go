package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypersettle/pkg/auth"
	"github.com/uhyunpark/hypersettle/pkg/crypto"
	"github.com/uhyunpark/hypersettle/pkg/events"
	"github.com/uhyunpark/hypersettle/pkg/exchange"
	"github.com/uhyunpark/hypersettle/pkg/order"
	"github.com/uhyunpark/hypersettle/pkg/util"
)

// DefaultRequestTimeout bounds how long a handler waits for the sequencer.
const DefaultRequestTimeout = 10 * time.Second

// Submitter queues an engine call and waits for its outcome.
type Submitter interface {
	Submit(ctx context.Context, op string, exec func() (*events.Event, error)) (*events.Event, error)
}

type Config struct {
	Engine    *exchange.Engine
	Roles     *auth.Roles
	Sequencer Submitter
	// Nonces guards signed calls against replay. An in-memory tracker is
	// used when nil.
	Nonces *auth.Nonces
	Hub       *Hub
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Pending and Dropped feed /api/v1/status when set.
	Pending func() int
	Dropped func() uint64

	AllowedOrigins []string
	RequestTimeout time.Duration
	Logger         *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections. Every state-changing
// call is authenticated by the caller headers and executed by the
// sequencer; queries read committed state directly.
type Server struct {
	cfg       Config
	engine    *exchange.Engine
	roles     *auth.Roles
	nonces    *auth.Nonces
	separator common.Hash
	seq       Submitter
	hub       *Hub
	router    *mux.Router
	timeout   time.Duration
	log       *zap.SugaredLogger
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil || cfg.Roles == nil || cfg.Sequencer == nil {
		return nil, errors.New("api: engine, roles and sequencer are required")
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(cfg.Logger)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Nonces == nil {
		cfg.Nonces = auth.NewNonces()
	}
	sep, err := cfg.Engine.Domain().Separator()
	if err != nil {
		return nil, fmt.Errorf("api: domain separator: %w", err)
	}
	s := &Server{
		cfg:       cfg,
		engine:    cfg.Engine,
		roles:     cfg.Roles,
		nonces:    cfg.Nonces,
		separator: sep,
		seq:       cfg.Sequencer,
		hub:       cfg.Hub,
		router:    mux.NewRouter(),
		timeout:   cfg.RequestTimeout,
		log:       util.OrNop(cfg.Logger),
	}
	s.setupRoutes()
	return s, nil
}

// Hub returns the websocket hub; attach it to the event bus.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Public queries
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/domain", s.handleDomain).Methods("GET")
	api.HandleFunc("/hash/{kind}", s.handleHash).Methods("POST")
	api.HandleFunc("/fills/{fingerprint}", s.handleFill).Methods("GET")
	api.HandleFunc("/signatures/verify", s.handleVerify).Methods("POST")
	api.HandleFunc("/executors", s.handleGetExecutors).Methods("GET")

	// Caller-authenticated calls
	signed := api.NewRoute().Subrouter()
	signed.Use(s.authenticateCaller)
	signed.Handle("/executors", submit(s, "", s.setExecutor)).Methods("POST")

	signed.Handle("/settle/single", submit(s, "match_single", func(caller common.Address, req MatchSingleRequest) (*events.Event, error) {
		return s.engine.MatchSingle(caller, req.Sell, req.Buy, req.Commission)
	})).Methods("POST")
	signed.Handle("/settle/divisible", submit(s, "match_divisible", func(caller common.Address, req MatchDivisibleRequest) (*events.Event, error) {
		return s.engine.MatchDivisible(caller, req.Buy, req.Sellers, req.Commission)
	})).Methods("POST")
	signed.Handle("/settle/book", submit(s, "match_book", func(caller common.Address, req MatchBookRequest) (*events.Event, error) {
		return s.engine.MatchBook(caller, req.Sell, req.Buy, req.Commission)
	})).Methods("POST")
	signed.Handle("/settle/book-batch", submit(s, "match_book_batch", func(caller common.Address, req MatchBookBatchRequest) (*events.Event, error) {
		return s.engine.MatchBookBatch(caller, req.Sell, req.Buys, req.Commission)
	})).Methods("POST")

	signed.Handle("/cancel/single", submit(s, "cancel_single", func(caller common.Address, req CancelRequest[order.Single]) (*events.Event, error) {
		return s.engine.CancelSingle(caller, req.Order)
	})).Methods("POST")
	signed.Handle("/cancel/divisible-seller", submit(s, "cancel_divisible_seller", func(caller common.Address, req CancelRequest[order.DivisibleSeller]) (*events.Event, error) {
		return s.engine.CancelDivisibleSeller(caller, req.Order, req.Floor)
	})).Methods("POST")
	signed.Handle("/cancel/divisible-buyer", submit(s, "cancel_divisible_buyer", func(caller common.Address, req CancelRequest[order.DivisibleBuyer]) (*events.Event, error) {
		return s.engine.CancelDivisibleBuyer(caller, req.Order)
	})).Methods("POST")
	signed.Handle("/cancel/book-seller", submit(s, "cancel_book_seller", func(caller common.Address, req CancelRequest[order.BookSeller]) (*events.Event, error) {
		return s.engine.CancelBookSeller(caller, req.Order, req.Floor)
	})).Methods("POST")
	signed.Handle("/cancel/book-buyer", submit(s, "cancel_book_buyer", func(caller common.Address, req CancelRequest[order.BookBuyer]) (*events.Event, error) {
		return s.engine.CancelBookBuyer(caller, req.Order, req.Floor)
	})).Methods("POST")

	// WebSocket endpoint
	s.router.Handle("/ws", s.hub)

	if s.cfg.Metrics != nil {
		s.router.Handle("/metrics", s.cfg.Metrics).Methods("GET")
	}

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", HeaderCaller, HeaderNonce, HeaderSignature},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_server_starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// ==============================
// Caller-authenticated handlers
// ==============================

// submit decodes a T from the request body and runs call through the
// sequencer under op. An empty op lets call pick it per request.
func submit[T any](s *Server, op string, call func(caller common.Address, req T) (*events.Event, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req T
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalidRequest", fmt.Sprintf("invalid request body: %v", err))
			return
		}
		caller := callerFrom(r)
		name := op
		if name == "" {
			name = opOf(req)
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		ev, err := s.seq.Submit(ctx, name, func() (*events.Event, error) { return call(caller, req) })
		if err != nil {
			s.respondCallError(w, name, caller, err)
			return
		}
		respondJSON(w, SettlementResponse{Status: "committed", Event: ev})
	})
}

// opOf names requests whose operation depends on their content.
func opOf(req any) string {
	if r, ok := req.(ExecutorRequest); ok {
		if r.Enabled {
			return "add_executor"
		}
		return "remove_executor"
	}
	return "unknown"
}

func (s *Server) setExecutor(caller common.Address, req ExecutorRequest) (*events.Event, error) {
	var err error
	if req.Enabled {
		err = s.roles.AddExecutor(caller, req.Address)
	} else {
		err = s.roles.RemoveExecutor(caller, req.Address)
	}
	if err != nil {
		return nil, err
	}
	s.log.Infow("executor_updated", "owner", caller.Hex(), "executor", req.Address.Hex(), "enabled", req.Enabled)
	return nil, nil
}

func (s *Server) respondCallError(w http.ResponseWriter, op string, caller common.Address, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorw("call_failed", "op", op, "caller", caller.Hex(), "err", err)
	}
	respondError(w, status, code, err.Error())
}

// classify maps an error to its HTTP status and stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "cancelled"
	case errors.Is(err, auth.ErrNotOwner):
		return http.StatusForbidden, "notOwner"
	case errors.Is(err, auth.ErrZeroAddress):
		return http.StatusBadRequest, "invalidRequest"
	}
	code := exchange.Code(err)
	switch code {
	case "executorForbidden":
		return http.StatusForbidden, code
	case "invalidRequest", "invalidSignature":
		return http.StatusBadRequest, code
	case "orderAlreadyUsed", "soldOut", "outOfStock", "cancelConflict":
		return http.StatusConflict, code
	case "orderNotListed", "orderExpired", "transferNoFund", "transferRejected":
		return http.StatusUnprocessableEntity, code
	default:
		return http.StatusInternalServerError, code
	}
}

// ==============================
// Query handlers
// ==============================

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := NodeStatus{
		Engine:    s.engine.Address(),
		WSClients: s.hub.Clients(),
	}
	if s.cfg.Pending != nil {
		status.MempoolSize = s.cfg.Pending()
	}
	if s.cfg.Dropped != nil {
		status.DroppedEvents = s.cfg.Dropped()
	}
	respondJSON(w, status)
}

func (s *Server) handleDomain(w http.ResponseWriter, r *http.Request) {
	d := s.engine.Domain()
	sep, err := d.Separator()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, DomainInfo{
		Name:              d.Name,
		Version:           d.Version,
		ChainID:           d.ChainID,
		VerifyingContract: d.VerifyingContract,
		Separator:         sep,
	})
}

func (s *Server) handleHash(w http.ResponseWriter, r *http.Request) {
	kind := order.Kind(mux.Vars(r)["kind"])
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	o, err := order.Decode(kind, raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	sep, err := s.engine.Domain().Separator()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	fp := o.Hash()
	respondJSON(w, HashResponse{Kind: kind, Fingerprint: fp, Digest: crypto.Digest(sep, fp)})
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["fingerprint"]
	b, err := hexBytes(raw)
	if err != nil || len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalidRequest", "fingerprint must be 32 hex bytes")
		return
	}
	fp := common.BytesToHash(b)
	fill, err := s.engine.FillOf(fp)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, FillInfo{Fingerprint: fp, Fill: fill, Fulfilled: fill.Sign() > 0})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalidRequest", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	respondJSON(w, VerifyResponse{Valid: s.engine.ValidateSignature(req.Fingerprint, req.Signer, req.Signature)})
}

func (s *Server) handleGetExecutors(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ExecutorsResponse{Owner: s.roles.Owner(), Executors: s.roles.Executors()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func hexBytes(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   code,
		Message: message,
	})
}
