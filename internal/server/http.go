package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/moxie-protocol/auction-indexer/internal/observability"
	"github.com/moxie-protocol/auction-indexer/internal/query"
)

// Server hosts the gRPC endpoint (health, reflection) and the HTTP/JSON
// query API served through a gRPC-Gateway mux.
type Server struct {
	grpcServer   *grpc.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string
	healthServer *health.Server

	queries *query.Service
	checker *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
}

// Deps holds everything the server serves from.
type Deps struct {
	QueryService  *query.Service
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Log           zerolog.Logger
}

func NewServer(grpcAddr, httpAddr string, deps *Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer:   grpcServer,
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
		healthServer: healthServer,
		queries:      deps.QueryService,
		checker:      deps.HealthChecker,
		metrics:      deps.Metrics,
		log:          deps.Log,
	}
}

// StartGRPC starts the gRPC server. Blocks until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON API. Blocks until ctx is cancelled.
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/auctions", s.handleListAuctions},
		{"GET", "/v1/auctions/{id}", s.handleGetAuction},
		{"GET", "/v1/auctions/{id}/orders", s.handleListOrders},
		{"GET", "/v1/orders/{id}", s.handleGetOrder},
		{"GET", "/v1/users/{id}", s.handleGetUser},
		{"GET", "/v1/integrity", s.handleIntegrity},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", s.checker.LivenessHandler)
	httpMux.HandleFunc("/readyz", s.checker.ReadinessHandler)
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleListAuctions(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.instrument("list_auctions", w, func() (interface{}, error) {
		limit, offset := pagination(r)
		auctions, err := s.queries.ListAuctions(r.Context(), limit, offset)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"auctions": auctions}, nil
	})
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.instrument("get_auction", w, func() (interface{}, error) {
		id, err := strconv.ParseInt(pathParams["id"], 10, 64)
		if err != nil {
			return nil, badRequest("invalid auction id")
		}
		return s.queries.GetAuction(r.Context(), id)
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.instrument("list_orders", w, func() (interface{}, error) {
		id, err := strconv.ParseInt(pathParams["id"], 10, 64)
		if err != nil {
			return nil, badRequest("invalid auction id")
		}
		limit, offset := pagination(r)
		status := r.URL.Query().Get("status")
		orders, err := s.queries.ListOrdersByAuction(r.Context(), id, status, limit, offset)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"orders": orders}, nil
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.instrument("get_order", w, func() (interface{}, error) {
		return s.queries.GetOrder(r.Context(), pathParams["id"])
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.instrument("get_user", w, func() (interface{}, error) {
		id, err := strconv.ParseInt(pathParams["id"], 10, 64)
		if err != nil {
			return nil, badRequest("invalid user id")
		}
		return s.queries.GetUser(r.Context(), id)
	})
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.instrument("integrity", w, func() (interface{}, error) {
		return s.queries.VerifyIntegrity(r.Context())
	})
}

// httpError carries a status code chosen by the handler.
type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &httpError{code: http.StatusBadRequest, msg: msg}
}

// instrument wraps a handler body with metrics and uniform JSON encoding.
func (s *Server) instrument(endpoint string, w http.ResponseWriter, fn func() (interface{}, error)) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
		defer func() {
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}()
	}

	resp, err := fn()
	if err != nil {
		if s.metrics != nil {
			s.metrics.QueryErrors.WithLabelValues(endpoint).Inc()
		}
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError

	var he *httpError
	switch {
	case errors.As(err, &he):
		code = he.code
	case errors.Is(err, query.ErrNotFound):
		code = http.StatusNotFound
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func pagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
