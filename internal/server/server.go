// Package server orchestrates all components: Postgres pool, settings store,
// rate limiter, audit sink, tool registry, dispatcher, fleet monitor, and the
// HTTP and NATS transports.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/woodwosj/OdooDevMCP/internal/config"
	"github.com/woodwosj/OdooDevMCP/pkg/audit"
	"github.com/woodwosj/OdooDevMCP/pkg/bootstrap"
	"github.com/woodwosj/OdooDevMCP/pkg/commsutil"
	"github.com/woodwosj/OdooDevMCP/pkg/db"
	"github.com/woodwosj/OdooDevMCP/pkg/dispatcher"
	"github.com/woodwosj/OdooDevMCP/pkg/fleet"
	"github.com/woodwosj/OdooDevMCP/pkg/protocol"
	"github.com/woodwosj/OdooDevMCP/pkg/ratelimit"
	"github.com/woodwosj/OdooDevMCP/pkg/settings"
	"github.com/woodwosj/OdooDevMCP/pkg/tools"
)

const logPrefix = "server:server"

// Version is reported in the initialize handshake, the health endpoint,
// and the phone-home payload.
const Version = "1.0.0"

// pruneInterval is how often idle rate limiter keys are reclaimed.
const pruneInterval = 5 * time.Minute

// Server is the odoo-mcp orchestrator.
type Server struct {
	cfg  *config.Config
	disp *dispatcher.Dispatcher
	svc  *tools.Service
	reg  *tools.Registry
	mon  *fleet.Monitor

	odooVersion string
	httpServer  *http.Server
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	// Setup structured logging
	var logLevel slog.Level
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
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

	slog.Info(fmt.Sprintf("%s - Starting odoo-mcp server", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg}

	// Step 1: Connect to database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}

	// Step 1b: Run migrations if enabled
	if cfg.RunMigrations {
		migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			pool.Close()
			return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
			pool.Close()
			return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}

	database := cfg.Database
	if database == "" {
		database = pool.Config().ConnConfig.Database
	}
	slog.Info(fmt.Sprintf("%s - Serving tenant database %s", logPrefix, database))

	// Step 2: Settings store
	st := settings.New(settings.NewPGStore(pool))
	seedServerPort(ctx, st, cfg.ServerPort)

	// Step 3: Rate limiter from the bootstrap table plus stored overrides
	var limitsCfg *bootstrap.LimitsConfig
	if cfg.LimitsFile != "" {
		limitsCfg, err = bootstrap.LoadLimitsConfig(cfg.LimitsFile)
	} else {
		limitsCfg, err = bootstrap.LoadLimitsConfig()
	}
	if err != nil {
		pool.Close()
		return fmt.Errorf("%s - failed to load limits config: %w", logPrefix, err)
	}
	limits := bootstrap.CreateResolvedLimits(limitsCfg)
	limiter := ratelimit.New(limits.Rules())
	applyLimitOverrides(ctx, st, limiter)

	// Step 4: Audit sink
	sink := audit.NewSink(audit.Options{
		Path:    st.String(ctx, settings.KeyAuditLogPath, audit.DefaultPath),
		Enabled: st.Bool(ctx, settings.KeyAuditEnabled, true),
	})

	odooVersion := cfg.OdooVersion
	if odooVersion == "" {
		odooVersion = detectOdooVersion(ctx, pool)
	}
	s.odooVersion = odooVersion

	// Step 5: Fleet client, tool service, registry. The capabilities
	// closure reads the registry assigned two statements later; nothing
	// pushes a payload before Run returns control, so the nil window is
	// confined to startup.
	var reg *tools.Registry
	fleetClient := fleet.NewClient(fleet.Options{
		Settings: st,
		Capabilities: func() []string {
			if reg == nil {
				return nil
			}
			return reg.Names()
		},
		Database:    database,
		Version:     Version,
		OdooVersion: odooVersion,
		Stage:       os.Getenv("ODOO_STAGE"),
	})
	svc := tools.NewService(tools.Options{
		Pool:           pool,
		Settings:       st,
		Registrar:      fleetClient,
		Database:       database,
		Version:        Version,
		OdooVersion:    odooVersion,
		OdooBin:        cfg.OdooBin,
		OdooConfigPath: cfg.OdooConfigPath,
		DefaultWorkdir: cfg.DefaultWorkdir,
	})
	reg = tools.NewRegistry(svc)
	s.svc = svc
	s.reg = reg
	s.mon = fleet.NewMonitor(fleetClient, st)

	// Step 6: Dispatcher
	s.disp = dispatcher.New(dispatcher.Options{
		Registry: reg,
		Service:  svc,
		Limiter:  limiter,
		Limits:   limits,
		Audit:    sink,
		Tenant:   database,
		Version:  Version,
	})

	// Step 7: Start HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/v1", s.handleMCP())
	mux.HandleFunc("/mcp/v1/health", s.handleHealth())
	mux.HandleFunc("/mcp/v1/capabilities", s.handleCapabilities())

	s.httpServer = &http.Server{Addr: cfg.Addr(), Handler: mux}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, cfg.Addr()))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	// Step 8: Optional NATS transport
	var nc *comms.Conn
	var sub *comms.Subscription
	if cfg.COMMSURL != "" {
		nc, err = commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			sink.Close()
			pool.Close()
			return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
		}
		subject := commsutil.BuildDispatchSubject(database)
		sub, err = nc.Subscribe(subject, s.dispatchMsg(ctx))
		if err != nil {
			nc.Close()
			sink.Close()
			pool.Close()
			return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, subject, err)
		}
		slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, subject))
	}

	// Step 9: Background loops (heartbeat monitor, limiter pruning)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.mon.Run(gctx)
	})
	g.Go(func() error {
		return s.pruneLoop(gctx, limiter)
	})

	slog.Info(fmt.Sprintf("%s - odoo-mcp server is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown: stop the background loops first so no push or
	// prune races the teardown, then drain transports, then flush audit,
	// then close the pool.
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn(fmt.Sprintf("%s - background loop error: %v", logPrefix, err))
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	commsutil.Drain(nc)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	s.httpServer.Shutdown(shutdownCtx)
	shutdownCancel()
	sink.Close()
	pool.Close()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// handleMCP returns the JSON-RPC endpoint handler. Protocol-level failures
// are JSON-RPC error responses carried over HTTP 200; only transport
// concerns (method, auth) use HTTP status codes.
func (s *Server) handleMCP() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !s.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusOK, protocol.NewError(nil, protocol.CodeParseError, "Parse error", err.Error()))
			return
		}
		req, errResp := protocol.ParseRequest(body)
		if errResp != nil {
			writeJSON(w, http.StatusOK, errResp)
			return
		}

		reqCtx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		writeJSON(w, http.StatusOK, s.disp.Dispatch(reqCtx, req))
	}
}

// handleHealth returns the unauthenticated liveness handler. The first hit
// after start also kicks off the identity check in the background, so a
// restarted or re-imaged host re-registers without waiting for the next
// heartbeat tick; the response never waits on it.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.mon.TriggerIdentityCheck()
		writeJSON(w, http.StatusOK, map[string]string{
			"status":       "healthy",
			"version":      Version,
			"odoo_version": s.odooVersion,
		})
	}
}

// handleCapabilities returns the authenticated tool/resource inventory
// handler, sourced live from the registry.
func (s *Server) handleCapabilities() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !s.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}

		resources := s.svc.ListResources()
		uris := make([]string, 0, len(resources))
		for _, res := range resources {
			uris = append(uris, res.URI)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"version":   Version,
			"transport": "http",
			"tools":     s.reg.Names(),
			"resources": uris,
		})
	}
}

// authorized checks the bearer token. An empty configured token leaves the
// surface open, for deployments that terminate auth upstream.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	expected := "Bearer " + s.cfg.AuthToken
	return subtle.ConstantTimeCompare([]byte(header), []byte(expected)) == 1
}

// dispatchMsg adapts NATS request messages onto the dispatcher. Payload and
// reply are the same JSON-RPC envelopes as the HTTP transport.
func (s *Server) dispatchMsg(ctx context.Context) comms.MsgHandler {
	return func(msg *comms.Msg) {
		req, errResp := protocol.ParseRequest(msg.Data)
		var resp *protocol.Response
		if errResp != nil {
			resp = errResp
		} else {
			reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
			resp = s.disp.Dispatch(reqCtx, req)
			cancel()
		}

		data, err := json.Marshal(resp)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
			return
		}
		msg.Respond(data)
	}
}

// pruneLoop reclaims idle rate limiter keys so a long-lived server does not
// accumulate windows for callers that went quiet.
func (s *Server) pruneLoop(ctx context.Context, limiter *ratelimit.Limiter) error {
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := limiter.Prune(); n > 0 {
				slog.Debug(fmt.Sprintf("%s - Pruned %d idle rate limit windows", logPrefix, n))
			}
		}
	}
}

// applyLimitOverrides overlays per-category rules stored under
// mcp.rate_limit.<category> onto the limiter. Invalid values are logged
// and skipped, never fatal.
func applyLimitOverrides(ctx context.Context, st *settings.Settings, limiter *ratelimit.Limiter) {
	prefix := settings.RateLimitKey("")
	overrides, err := st.Store().List(ctx, prefix)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to read rate limit overrides: %v", logPrefix, err))
		return
	}
	for key, value := range overrides {
		category := strings.TrimPrefix(key, prefix)
		rule, err := ratelimit.ParseRule(value)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - invalid rate limit override %s=%q: %v", logPrefix, key, value, err))
			continue
		}
		limiter.SetRule(category, rule)
		slog.Info(fmt.Sprintf("%s - Rate limit override: %s = %s", logPrefix, category, value))
	}
}

// seedServerPort stores the listen port as mcp.server_port when no value is
// set yet, keeping the phone-home payload truthful about where to reach us.
func seedServerPort(ctx context.Context, st *settings.Settings, port int) {
	if _, found, err := st.Store().Get(ctx, settings.KeyServerPort); err != nil || found {
		return
	}
	if err := st.Set(ctx, settings.KeyServerPort, strconv.Itoa(port)); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to store server port: %v", logPrefix, err))
	}
}

// detectOdooVersion reads the installed base module version (e.g.
// "17.0.1.3") from the tenant database. Used when MCP_ODOO_VERSION is not
// set; failure is not fatal because the value is informational.
func detectOdooVersion(ctx context.Context, pool *pgxpool.Pool) string {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var version string
	err := pool.QueryRow(queryCtx, "SELECT latest_version FROM ir_module_module WHERE name = 'base'").Scan(&version)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - could not detect Odoo version: %v", logPrefix, err))
		return "unknown"
	}
	return version
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - response encode: %v", logPrefix, err))
	}
}
