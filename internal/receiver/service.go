package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/woodwosj/OdooDevMCP/internal/config"
	"github.com/woodwosj/OdooDevMCP/pkg/commsutil"
	"github.com/woodwosj/OdooDevMCP/pkg/events"
	"github.com/woodwosj/OdooDevMCP/pkg/version"
)

const logPrefix = "receiver:service"

// shutdownTimeout bounds the drain of in-flight requests on exit.
const shutdownTimeout = 10 * time.Second

// Service exposes the fleet receiver HTTP surface.
type Service struct {
	store     *Store
	publisher events.EventPublisher
	startedAt time.Time
}

// NewService wires the store to its HTTP handlers. A nil publisher
// disables change events.
func NewService(store *Store, publisher events.EventPublisher) *Service {
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	return &Service{
		store:     store,
		publisher: publisher,
		startedAt: time.Now(),
	}
}

// Handler returns the receiver's HTTP routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("/servers", s.handleServers)
	mux.HandleFunc("/servers/", s.handleServer)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Run starts the fleet receiver, blocks until shutdown signal, then
// cleans up.
func Run() error {
	var logLevel slog.Level
	cfg, err := config.LoadReceiverConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info(fmt.Sprintf("%s - Starting fleet receiver", logPrefix))

	checker, err := version.NewChecker(cfg.MinVersion)
	if err != nil {
		return fmt.Errorf("%s - invalid RECEIVER_MIN_VERSION: %w", logPrefix, err)
	}
	if checker != nil {
		slog.Info(fmt.Sprintf("%s - Flagging servers outside %q as outdated", logPrefix, checker.Constraint()))
	}

	// Optional NATS connection for change events
	var nc *comms.Conn
	var publisher events.EventPublisher = &events.NoOpPublisher{}
	if cfg.COMMSURL != "" {
		nc, err = commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
		}
		opts := &events.CommsPublisherOpts{}
		if cfg.ChangeEventSubject != "" {
			opts.GlobalChangeSubject = cfg.ChangeEventSubject
		}
		publisher = events.NewCommsPublisher(nc, opts)
		slog.Info(fmt.Sprintf("%s - Publishing change events via %s", logPrefix, cfg.COMMSURL))
	}

	store := NewStore(StoreOptions{
		HeartbeatInterval: cfg.HeartbeatInterval,
		MinVersion:        checker,
	})
	svc := NewService(store, publisher)

	httpServer := &http.Server{Addr: cfg.Addr(), Handler: svc.Handler()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, cfg.Addr()))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Fleet receiver is ready", logPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	httpServer.Shutdown(shutdownCtx)
	cancel()
	commsutil.Drain(nc)

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// handleRegister stores a full registration push, replacing whatever was
// known about the server before.
func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload := decodePayload(r)
	if payload == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No JSON payload provided"})
		return
	}
	serverID, _ := payload[fieldServerID].(string)
	if serverID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required field: server_id"})
		return
	}

	rec := s.store.Register(payload)
	slog.Info(fmt.Sprintf("%s - Registered server %s (host %s)", logPrefix, serverID, stringField(rec, "hostname")))
	s.emit(r.Context(), events.ActionRegistered, rec)

	writeJSON(w, http.StatusCreated, map[string]string{
		"status":    "registered",
		"server_id": serverID,
	})
}

// handleHeartbeat merges a heartbeat push into the server's record and
// advances its counter.
func (s *Service) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload := decodePayload(r)
	if payload == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No JSON payload provided"})
		return
	}
	serverID, _ := payload[fieldServerID].(string)
	if serverID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required field: server_id"})
		return
	}

	rec, created := s.store.Heartbeat(payload)
	if created {
		slog.Info(fmt.Sprintf("%s - Heartbeat from unknown server %s, created record", logPrefix, serverID))
	}
	s.emit(r.Context(), events.ActionHeartbeat, rec)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"server_id":       serverID,
		"heartbeat_count": intField(rec, fieldHeartbeatCount),
	})
}

// handleServers lists the fleet with staleness annotations.
func (s *Service) handleServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	list := s.store.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"servers": list,
		"count":   len(list),
	})
}

// handleServer serves one record: GET returns it in full, DELETE removes it.
func (s *Service) handleServer(w http.ResponseWriter, r *http.Request) {
	serverID := strings.TrimPrefix(r.URL.Path, "/servers/")
	if serverID == "" || strings.Contains(serverID, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, ok := s.store.Get(serverID)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Server not found", "server_id": serverID})
			return
		}
		writeJSON(w, http.StatusOK, rec)

	case http.MethodDelete:
		rec, ok := s.store.Delete(serverID)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Server not found", "server_id": serverID})
			return
		}
		slog.Info(fmt.Sprintf("%s - Removed server %s", logPrefix, serverID))
		s.emit(r.Context(), events.ActionRemoved, rec)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "server_id": serverID})

	default:
		w.Header().Set("Allow", "GET, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleHealth reports liveness, uptime, and fleet size.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"server_count":   s.store.Count(),
	})
}

// emit publishes a change event. Failures are logged, never surfaced to
// the pusher.
func (s *Service) emit(ctx context.Context, action string, rec map[string]interface{}) {
	event := &events.FleetChangedEvent{
		ServerID:       stringField(rec, fieldServerID),
		Hostname:       stringField(rec, "hostname"),
		Database:       stringField(rec, "database"),
		Action:         action,
		HeartbeatCount: intField(rec, fieldHeartbeatCount),
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.publisher.PublishChanged(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s event for %s: %v", logPrefix, action, event.ServerID, err))
	}
}

// decodePayload parses the request body as a JSON object; nil means no
// usable payload.
func decodePayload(r *http.Request) map[string]interface{} {
	var data map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		return nil
	}
	return data
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - response encode: %v", logPrefix, err))
	}
}
