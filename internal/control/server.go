package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"p2pmaker/internal/core"
	"p2pmaker/internal/positioning"
	apperrors "p2pmaker/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Config bounds the control server.
type Config struct {
	ListenAddr     string
	MaxConnections int
	RateLimitPerIP float64
	RateBurstPerIP int
}

// Server is the operator HTTP surface.
type Server struct {
	cfg    Config
	hub    *Hub
	logger core.ILogger

	queue         core.IDispatchQueue
	dispatchStore core.IDispatchStore
	orderStore    core.IOrderStore
	scheduler     *positioning.Scheduler
	synchronizer  core.ISynchronizer
	health        core.IHealthMonitor

	srv      *http.Server
	upgrader websocket.Upgrader

	connSemaphore chan struct{}
	ipLimiters    sync.Map // map[string]*rate.Limiter
	mu            sync.Mutex
}

// NewServer wires the operator surface over the engine components.
func NewServer(cfg Config, hub *Hub, queue core.IDispatchQueue, dispatchStore core.IDispatchStore,
	orderStore core.IOrderStore, scheduler *positioning.Scheduler, synchronizer core.ISynchronizer,
	health core.IHealthMonitor, logger core.ILogger) *Server {
	s := &Server{
		cfg:           cfg,
		hub:           hub,
		logger:        logger.WithField("component", "control_server"),
		queue:         queue,
		dispatchStore: dispatchStore,
		orderStore:    orderStore,
		scheduler:     scheduler,
		synchronizer:  synchronizer,
		health:        health,
		connSemaphore: make(chan struct{}, cfg.MaxConnections),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

// routes builds the full handler tree.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/dispatches", s.handleListDispatches)
	mux.HandleFunc("POST /api/dispatches", s.handleEnqueue)
	mux.HandleFunc("POST /api/dispatches/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /api/dispatches/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/dispatches/{id}/reset-attempts", s.handleResetAttempts)
	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/positioning", s.handlePositioning)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.srv = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.rateLimitMiddleware(s.routes()),
	}
	s.mu.Unlock()

	s.logger.Info("Starting control server", "addr", s.cfg.ListenAddr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return s.Stop(context.Background())
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping control server")
	return s.srv.Shutdown(ctx)
}

// Handler returns the HTTP handler without rate limiting, for tests.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

type enqueueRequest struct {
	MerchantID string         `json:"merchantId"`
	Intent     core.BuyIntent `json:"intent"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := s.queue.Enqueue(r.Context(), req.MerchantID, req.Intent)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidationRejected) {
			writeError(w, http.StatusBadRequest, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.hub.Broadcast(NewDispatchEventMessage(d))
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDispatches(w http.ResponseWriter, r *http.Request) {
	merchantID := r.URL.Query().Get("merchant")
	if merchantID == "" {
		writeError(w, http.StatusBadRequest, "merchant is required")
		return
	}
	state := core.DispatchState(r.URL.Query().Get("state"))
	if state == "" {
		// All states, grouped request by request.
		var all []*core.Dispatch
		for _, st := range []core.DispatchState{
			core.DispatchPending, core.DispatchRunning, core.DispatchRetrying,
			core.DispatchSucceeded, core.DispatchDead, core.DispatchCancelled,
		} {
			ds, err := s.dispatchStore.ListByState(r.Context(), merchantID, st)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			all = append(all, ds...)
		}
		writeJSON(w, http.StatusOK, all)
		return
	}
	ds, err := s.dispatchStore.ListByState(r.Context(), merchantID, state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) dispatchAction(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, merchantID, id string) error) {
	merchantID := r.URL.Query().Get("merchant")
	id := r.PathValue("id")
	if merchantID == "" || id == "" {
		writeError(w, http.StatusBadRequest, "merchant and dispatch id are required")
		return
	}
	if err := action(r.Context(), merchantID, id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	d, err := s.dispatchStore.Get(r.Context(), merchantID, id)
	if err != nil || d == nil {
		writeError(w, http.StatusInternalServerError, "dispatch not found after update")
		return
	}
	s.hub.Broadcast(NewDispatchEventMessage(d))
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.dispatchAction(w, r, s.queue.Retry)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.dispatchAction(w, r, s.queue.Cancel)
}

func (s *Server) handleResetAttempts(w http.ResponseWriter, r *http.Request) {
	s.dispatchAction(w, r, s.queue.ResetAttempts)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	merchantID := r.URL.Query().Get("merchant")
	if merchantID == "" {
		writeError(w, http.StatusBadRequest, "merchant is required")
		return
	}
	status := core.OrderStatus(r.URL.Query().Get("status"))
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}
	orders, err := s.orderStore.List(r.Context(), merchantID, status, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handlePositioning(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Snapshot())
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	merchantID := r.URL.Query().Get("merchant")
	if merchantID == "" {
		writeError(w, http.StatusBadRequest, "merchant is required")
		return
	}
	if err := s.synchronizer.SyncMerchant(r.Context(), merchantID); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	if s.health != nil && !s.health.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	body := map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"time":    time.Now().Unix(),
	}
	if s.health != nil {
		body["components"] = s.health.GetStatus()
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
	}
	writeJSON(w, status, body)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case s.connSemaphore <- struct{}{}:
		defer func() { <-s.connSemaphore }()
	default:
		s.logger.Warn("Max control connections reached")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err.Error())
		return
	}

	client := newWSClient(uuid.New().String())
	s.hub.register <- client
	s.logger.Info("Client connected", "client_id", client.id, "remote_addr", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		s.readPump(conn, client)
	}()
	wg.Wait()

	select {
	case s.hub.unregister <- client:
	default:
	}
	conn.Close()
	s.logger.Info("Client disconnected", "client_id", client.id)
}

func (s *Server) writePump(conn *websocket.Conn, client *wsClient) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(conn *websocket.Conn, client *wsClient) {
	defer func() {
		select {
		case s.hub.unregister <- client:
		default:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Clients only listen; reads just keep the connection alive.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// rateLimitMiddleware applies the per-IP limit before any handler runs.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := remoteIP(r)
		if !s.ipLimiter(ip).Allow() {
			s.logger.Warn("IP rate limit exceeded", "ip", ip)
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) ipLimiter(ip string) *rate.Limiter {
	if val, ok := s.ipLimiters.Load(ip); ok {
		return val.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rate.Limit(s.cfg.RateLimitPerIP), s.cfg.RateBurstPerIP)
	actual, _ := s.ipLimiters.LoadOrStore(ip, limiter)
	return actual.(*rate.Limiter)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
