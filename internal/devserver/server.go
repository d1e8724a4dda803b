package devserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-agent/internal/config"
	"github.com/example/driver-agent/internal/geo"
	"github.com/example/driver-agent/internal/models"
)

// Server is a self-contained development backend for the driver agent. It
// implements the REST API and the /ws/driver/{id} message channel. All
// external systems are optional: without Redis, Postgres, Kafka or Stripe it
// runs fully in memory.
type Server struct {
	cfg config.DevServerConfig
	log *slog.Logger

	drivers   *driverStore
	orders    OrderStore
	geo       GeoStore
	registry  *wsRegistry
	tokens    *tokenIssuer
	settle    *settlement
	locations *locationPublisher

	posMu     sync.RWMutex
	positions map[int64]models.Coord

	refMu       sync.Mutex
	paymentRefs map[int64]string

	upgrader websocket.Upgrader
	router   *mux.Router
}

func NewServer(cfg config.DevServerConfig, log *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		drivers:   newDriverStore(),
		orders:    newMemoryOrderStore(),
		geo:       newMemoryGeoStore(),
		registry:  newWSRegistry(log),
		tokens:    newTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		settle:    newSettlement("", log),
		positions:   make(map[int64]models.Coord),
		paymentRefs: make(map[int64]string),
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.seed()
	s.routes()
	return s
}

// NewServerFromConfig wires the optional backends declared in cfg, falling
// back to the in-memory defaults when one is unreachable.
func NewServerFromConfig(cfg config.DevServerConfig, log *slog.Logger) *Server {
	s := NewServer(cfg, log)

	if cfg.RedisAddr != "" {
		gs, err := newRedisGeoStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		if err != nil {
			log.Warn("redis unavailable, using in-memory geo index", "addr", cfg.RedisAddr, "error", err)
		} else {
			s.geo = gs
			log.Info("geo index on redis", "addr", cfg.RedisAddr)
		}
	}
	if cfg.PGDSN != "" {
		store, err := newPostgresOrderStore(cfg.PGDSN)
		if err != nil {
			log.Warn("postgres unavailable, using in-memory order store", "error", err)
		} else {
			s.orders = store
			log.Info("order store on postgres")
		}
	}
	s.locations = newLocationPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	if s.locations != nil {
		log.Info("location stream on kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	s.settle = newSettlement(strings.TrimSpace(os.Getenv("STRIPE_API_KEY")), log)

	return s
}

// seed registers the demo account the agent's defaults log in with.
func (s *Server) seed() {
	hash, err := hashPassword("qwerty123")
	if err != nil {
		panic(err)
	}
	s.drivers.Add(driverRecord{
		Driver: models.Driver{
			Phone:     "79991234567",
			FirstName: "Ivan",
			LastName:  "Petrov",
			Rating:    4.8,
		},
		PasswordHash: hash,
		Balance:      15420.50,
		Stats:        models.DriverStats{TotalRides: 1247, TotalEarnings: 458300, Rating: 4.8},
	})
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves HTTP until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.HTTPAddr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	go s.registry.pingLoop(ctx, s.cfg.PingInterval)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("devserver listening", "addr", s.cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.locations.Close()
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(s.recoverPanics, s.logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/drivers/register", s.handleRegister).Methods(http.MethodPost)

	api.Handle("/drivers/me", s.requireAuth(s.handleMe)).Methods(http.MethodGet)
	api.Handle("/drivers/{id:[0-9]+}/status", s.requireAuth(s.handleSetStatus)).Methods(http.MethodPut)
	api.Handle("/drivers/{id:[0-9]+}/location", s.requireAuth(s.handleLocation)).Methods(http.MethodPost)
	api.Handle("/drivers/{id:[0-9]+}/accept-order/{orderID:[0-9]+}", s.requireAuth(s.handleAcceptOrder)).Methods(http.MethodPost)
	api.Handle("/drivers/{id:[0-9]+}/profile", s.requireAuth(s.handleProfile)).Methods(http.MethodGet)
	api.Handle("/drivers/{id:[0-9]+}/stats", s.requireAuth(s.handleStats)).Methods(http.MethodGet)
	api.Handle("/drivers/{id:[0-9]+}/stats/today", s.requireAuth(s.handleTodayStats)).Methods(http.MethodGet)
	api.Handle("/orders/nearby", s.requireAuth(s.handleNearbyOrders)).Methods(http.MethodGet)
	api.Handle("/problems", s.requireAuth(s.handleProblem)).Methods(http.MethodPost)

	// dev-only helpers for driving scenarios against a running agent
	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id:[0-9]+}/status", s.handleOrderStatus).Methods(http.MethodPut)

	r.HandleFunc("/ws/driver/{id:[0-9]+}", s.handleWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router = r
}

// --- middleware ---

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		s.log.Info("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler panic", "path", r.URL.Path, "panic", rec)
				s.writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type ctxKey int

const driverIDKey ctxKey = 0

// requireAuth validates the bearer token and rejects path driver ids that do
// not match the token's subject.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		driverID, err := s.tokens.Validate(token)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if raw, ok := mux.Vars(r)["id"]; ok {
			pathID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || pathID != driverID {
				s.writeError(w, http.StatusForbidden, "driver id mismatch")
				return
			}
		}
		next(w, r.WithContext(context.WithValue(r.Context(), driverIDKey, driverID)))
	})
}

func authedDriverID(r *http.Request) int64 {
	id, _ := r.Context().Value(driverIDKey).(int64)
	return id
}

// --- handlers ---

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	d, ok := s.drivers.ByPhone(strings.TrimSpace(req.Phone))
	if !ok || !checkPassword(req.Password, d.PasswordHash) {
		s.writeError(w, http.StatusUnauthorized, "invalid phone or password")
		return
	}
	token, err := s.tokens.Issue(d.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	s.writeJSON(w, map[string]any{
		"success":   true,
		"token":     token,
		"driver_id": d.ID,
		"driver":    d.Driver,
		"balance":   d.Balance,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var draft models.RegistrationDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(draft.FirstName) == "" || strings.TrimSpace(draft.LastName) == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !draft.AgreeTerms {
		s.writeError(w, http.StatusBadRequest, "terms must be accepted")
		return
	}
	s.log.Info("registration accepted", "first_name", draft.FirstName, "last_name", draft.LastName, "car_plate", draft.CarPlate)
	s.writeJSON(w, map[string]any{"success": true, "message": "application accepted, expect a call"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	d, ok := s.drivers.Get(authedDriverID(r))
	if !ok {
		s.writeError(w, http.StatusNotFound, "driver not found")
		return
	}
	s.writeJSON(w, map[string]any{"success": true, "driver": d.Driver})
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.DriverStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	switch req.Status {
	case models.StatusOffline, models.StatusOnline, models.StatusBusy:
	default:
		s.writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	driverID := authedDriverID(r)
	if !s.drivers.SetStatus(driverID, req.Status) {
		s.writeError(w, http.StatusNotFound, "driver not found")
		return
	}
	if req.Status == models.StatusOffline {
		if err := s.geo.Remove(r.Context(), driverID); err != nil {
			s.log.Warn("geo remove failed", "driver_id", driverID, "error", err)
		}
	}
	s.registry.sendTo(driverID, map[string]any{"type": "driver_status_update", "driver_id": driverID, "status": req.Status})
	s.writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var pos geo.Position
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	driverID := authedDriverID(r)
	if err := s.geo.Upsert(r.Context(), driverID, pos.Coord); err != nil {
		s.writeError(w, http.StatusInternalServerError, "geo index update failed")
		return
	}
	s.posMu.Lock()
	s.positions[driverID] = pos.Coord
	s.posMu.Unlock()
	s.locations.Publish(r.Context(), driverID, pos.Coord)
	s.writeJSON(w, map[string]any{"success": true})
}

func (s *Server) lastPosition(driverID int64) (models.Coord, bool) {
	s.posMu.RLock()
	defer s.posMu.RUnlock()
	c, ok := s.positions[driverID]
	return c, ok
}

func (s *Server) handleNearbyOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
	if err1 != nil || err2 != nil {
		s.writeError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	radius := s.cfg.SearchRadiusKm
	if raw := q.Get("radius"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			radius = v
		}
	}

	open, err := s.orders.OpenOrders()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "order store failed")
		return
	}
	here := models.Coord{Lat: lat, Lon: lon}
	orders := make([]models.Order, 0, len(open))
	for _, o := range open {
		if geo.DistanceKm(here, o.Pickup()) <= radius {
			orders = append(orders, o)
		}
	}
	s.writeJSON(w, map[string]any{"success": true, "orders": orders})
}

func (s *Server) handleAcceptOrder(w http.ResponseWriter, r *http.Request) {
	driverID := authedDriverID(r)
	orderID, err := strconv.ParseInt(mux.Vars(r)["orderID"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad order id")
		return
	}

	order, assigned, err := s.orders.GetOrder(orderID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if assigned != 0 && assigned != driverID {
		s.writeError(w, http.StatusConflict, "order already taken")
		return
	}
	if order.Status == "cancelled" || order.Status == "completed" {
		s.writeError(w, http.StatusConflict, "order is no longer available")
		return
	}

	order.Status = "driver_assigned"
	if err := s.orders.UpdateOrder(&order, driverID); err != nil {
		s.writeError(w, http.StatusInternalServerError, "order store failed")
		return
	}
	s.drivers.SetStatus(driverID, models.StatusBusy)

	if ref, err := s.settle.Hold(order); err != nil {
		s.log.Warn("fare hold failed", "order_id", order.ID, "error", err)
	} else if ref != "" {
		s.rememberPaymentRef(order.ID, ref)
	}

	s.log.Info("order accepted", "order_id", order.ID, "driver_id", driverID)
	s.writeJSON(w, map[string]any{"success": true, "order": order})
}

func (s *Server) handleProblem(w http.ResponseWriter, r *http.Request) {
	var report models.ProblemReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if report.ProblemType == "" {
		s.writeError(w, http.StatusBadRequest, "problem_type is required")
		return
	}
	s.log.Info("problem reported", "driver_id", authedDriverID(r), "problem_type", report.ProblemType)
	s.writeJSON(w, map[string]any{"success": true, "message": "report received"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	d, ok := s.drivers.Get(authedDriverID(r))
	if !ok {
		s.writeError(w, http.StatusNotFound, "driver not found")
		return
	}
	s.writeJSON(w, map[string]any{"success": true, "driver": d.Driver})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	d, ok := s.drivers.Get(authedDriverID(r))
	if !ok {
		s.writeError(w, http.StatusNotFound, "driver not found")
		return
	}
	s.writeJSON(w, map[string]any{"success": true, "stats": d.Stats})
}

func (s *Server) handleTodayStats(w http.ResponseWriter, r *http.Request) {
	d, ok := s.drivers.Get(authedDriverID(r))
	if !ok {
		s.writeError(w, http.StatusNotFound, "driver not found")
		return
	}
	s.writeJSON(w, map[string]any{"success": true, "stats": d.Today})
}

// handleCreateOrder injects an order and starts a driver search for it.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var order models.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	order.ID = 0
	order.Status = "created"
	if err := s.orders.SaveOrder(&order); err != nil {
		s.writeError(w, http.StatusInternalServerError, "order store failed")
		return
	}
	ordersCreated.Inc()
	go s.dispatchOrder(context.Background(), order)
	s.writeJSON(w, map[string]any{"success": true, "order": order})
}

// handleOrderStatus lets a scenario cancel or complete an order; the change
// is pushed to the assigned driver.
func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad order id")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	order, driverID, err := s.orders.GetOrder(orderID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	order.Status = req.Status
	if err := s.orders.UpdateOrder(&order, 0); err != nil {
		s.writeError(w, http.StatusInternalServerError, "order store failed")
		return
	}

	ref := s.takePaymentRef(orderID)
	switch req.Status {
	case "completed":
		if err := s.settle.Capture(ref); err != nil {
			s.log.Warn("fare capture failed", "order_id", orderID, "error", err)
		}
		if driverID != 0 {
			s.drivers.Credit(driverID, order.Price*0.8)
			s.drivers.SetStatus(driverID, models.StatusOnline)
		}
	case "cancelled":
		if err := s.settle.Cancel(ref); err != nil {
			s.log.Warn("fare release failed", "order_id", orderID, "error", err)
		}
		if driverID != 0 {
			s.drivers.SetStatus(driverID, models.StatusOnline)
		}
	}

	if driverID != 0 {
		s.registry.sendTo(driverID, orderUpdateFrame{Type: "order_update", OrderID: orderID, Status: req.Status})
	}
	s.writeJSON(w, map[string]any{"success": true})
}

func (s *Server) rememberPaymentRef(orderID int64, ref string) {
	s.refMu.Lock()
	s.paymentRefs[orderID] = ref
	s.refMu.Unlock()
}

func (s *Server) takePaymentRef(orderID int64) string {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	ref := s.paymentRefs[orderID]
	delete(s.paymentRefs, orderID)
	return ref
}

// --- websocket ---

// handleWS upgrades the driver message channel. The read loop consumes
// presence announcements and pong answers; everything else from the client
// is ignored.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	driverID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "bad driver id", http.StatusBadRequest)
		return
	}
	if _, ok := s.drivers.Get(driverID); !ok {
		http.Error(w, "driver not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "driver_id", driverID, "error", err)
		return
	}
	session := s.registry.add(driverID, conn)
	s.log.Info("driver connected", "driver_id", driverID)

	defer func() {
		s.registry.remove(driverID, session)
		conn.Close()
		s.log.Info("driver disconnected", "driver_id", driverID)
	}()

	for {
		var frame struct {
			Type   string              `json:"type"`
			Status models.DriverStatus `json:"status"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case "driver_online":
			if frame.Status != "" {
				s.drivers.SetStatus(driverID, frame.Status)
			}
		case "pong":
			// keepalive answer, nothing to do
		default:
			s.log.Debug("unexpected client frame", "driver_id", driverID, "type", frame.Type)
		}
	}
}

// --- response helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}
