package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/gocrawl/internal/agent"
	"github.com/nextlevelbuilder/gocrawl/internal/browser"
	"github.com/nextlevelbuilder/gocrawl/internal/config"
	"github.com/nextlevelbuilder/gocrawl/internal/crawler"
	"github.com/nextlevelbuilder/gocrawl/internal/ghost"
	"github.com/nextlevelbuilder/gocrawl/internal/mesh"
	"github.com/nextlevelbuilder/gocrawl/internal/store"
	"github.com/nextlevelbuilder/gocrawl/internal/tools"
)

// Server is the HTTP surface: agent runs, direct crawls, live streaming,
// and the mesh wire protocol.
type Server struct {
	cfg          *config.Config
	registry     *tools.Registry
	orchestrator *crawler.Orchestrator
	ghostRunner  *ghost.Runner
	vision       ghost.VisionProvider
	provider     agent.Adapter
	pool         *browser.Pool
	traces       *store.TraceStore
	coordinator  *mesh.Coordinator // nil when mesh is disabled
	meshHandler  *mesh.Handler

	limiter *rate.Limiter // nil when rate limiting is disabled

	activeAgentRuns atomic.Int32

	httpServer *http.Server
	mux        *http.ServeMux
}

type ServerConfig struct {
	Config       *config.Config
	Registry     *tools.Registry
	Orchestrator *crawler.Orchestrator
	GhostRunner  *ghost.Runner
	Vision       ghost.VisionProvider
	Provider     agent.Adapter
	Pool         *browser.Pool
	Traces       *store.TraceStore
	Coordinator  *mesh.Coordinator
	MeshHandler  *mesh.Handler
}

func NewServer(sc ServerConfig) *Server {
	s := &Server{
		cfg:          sc.Config,
		registry:     sc.Registry,
		orchestrator: sc.Orchestrator,
		ghostRunner:  sc.GhostRunner,
		vision:       sc.Vision,
		provider:     sc.Provider,
		pool:         sc.Pool,
		traces:       sc.Traces,
		coordinator:  sc.Coordinator,
		meshHandler:  sc.MeshHandler,
	}
	if rps := sc.Config.Server.RateLimitRPS; rps > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)*2)
	}
	return s
}

// ActiveAgentRuns reports in-flight agent runs for mesh load snapshots.
func (s *Server) ActiveAgentRuns() int {
	return int(s.activeAgentRuns.Load())
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /agent/run", s.auth(s.limit(s.handleAgentRun)))
	mux.HandleFunc("GET /agent/status/{run_id}", s.auth(s.handleAgentStatus))
	mux.HandleFunc("POST /agent/ghost", s.auth(s.limit(s.handleAgentGhost)))

	mux.HandleFunc("POST /crawl", s.auth(s.limit(s.handleCrawl)))
	mux.HandleFunc("POST /markdown", s.auth(s.limit(s.handleMarkdown)))
	mux.HandleFunc("POST /batch", s.auth(s.limit(s.handleBatch)))

	mux.HandleFunc("GET /stream/{session_id}", s.handleStreamWS)
	mux.HandleFunc("GET /stream/{session_id}/mjpeg", s.handleStreamMJPEG)

	if s.meshHandler != nil {
		s.meshHandler.RegisterRoutes(mux)
	}

	s.mux = mux
	return mux
}

// Start begins serving until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.pool != nil {
		body["browser_pool"] = s.pool.Status()
	}
	if s.coordinator != nil {
		body["mesh"] = map[string]any{
			"node_id":       s.coordinator.NodeID,
			"healthy_peers": len(s.coordinator.HealthyPeers()),
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// auth enforces the optional bearer token on the agent/crawl surface.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := s.cfg.Server.Token; token != "" {
			if extractBearerToken(r) != token {
				writeError(w, http.StatusUnauthorized, "unauthorized", "")
				return
			}
		}
		next(w, r)
	}
}

// limit applies the gateway rate limiter when configured.
func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "")
			return
		}
		next(w, r)
	}
}

// requestContext honors the total-budget header by attaching a deadline.
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if budget := r.Header.Get("X-Total-Budget-Ms"); budget != "" {
		var ms int64
		if _, err := fmt.Sscanf(budget, "%d", &ms); err == nil && ms > 0 {
			return context.WithTimeout(r.Context(), time.Duration(ms)*time.Millisecond)
		}
	}
	return r.Context(), func() {}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	body := map[string]any{"error": message, "status": status}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
