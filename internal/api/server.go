// Package api exposes the administrative HTTP surface: status, active
// signals, rate-limiter usage, config reload, Prometheus metrics, and the
// WebSocket event stream.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"signal-engine/internal/events"
	"signal-engine/internal/lifecycle"
	"signal-engine/internal/market"
	"signal-engine/internal/metrics"
	"signal-engine/internal/ratelimit"
	"signal-engine/internal/scan"
	"signal-engine/internal/scoring"
	"signal-engine/internal/store"
)

// ServerConfig wires the server's collaborators.
type ServerConfig struct {
	Host  string
	Port  int
	Debug bool

	Manager  *lifecycle.Manager
	Sink     *events.Sink
	Registry *scoring.Registry
	Tasks    []*scan.Task
	Limiters map[string]*ratelimit.Limiter
	Store    *store.Store // optional
	Metrics  *metrics.Metrics
	Tokens   *TokenManager
	Hub      *WSHub

	// ReloadConfigs rebuilds the config set from its source of truth.
	ReloadConfigs func() ([]scoring.Config, error)
}

// Server is the administrative HTTP server.
type Server struct {
	cfg        ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	log        zerolog.Logger
	startedAt  time.Time
}

// NewServer builds the router and registers every route.
func NewServer(cfg ServerConfig, log zerolog.Logger) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:       cfg,
		router:    router,
		log:       log,
		startedAt: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		s.cfg.Metrics.Registry, promhttp.HandlerOpts{})))
	s.router.GET("/ws", s.cfg.Hub.Handle)

	apiGroup := s.router.Group("/api")
	apiGroup.GET("/status", s.handleStatus)
	apiGroup.GET("/signals", s.handleSignals)
	apiGroup.GET("/events", s.handleEvents)
	apiGroup.GET("/ratelimits", s.handleRateLimits)

	admin := apiGroup.Group("", s.cfg.Tokens.RequireAuth())
	admin.POST("/config/reload", s.handleConfigReload)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.cfg.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.Store.Pool.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "uptime": time.Since(s.startedAt).String()})
}

func (s *Server) handleStatus(c *gin.Context) {
	active := s.cfg.Manager.Active()
	perKey := make(map[string]int)
	for _, sig := range active {
		perKey[fmt.Sprintf("%s/%s", sig.Market, sig.Timeframe)]++
	}

	lastScan := make(map[string]time.Time)
	for _, task := range s.cfg.Tasks {
		for _, tf := range []market.Timeframe{market.TF15m, market.TF1h, market.TF4h, market.TF1d} {
			if ts, ok := task.LastSuccess(tf); ok {
				lastScan[fmt.Sprintf("%s/%s", task.Market(), tf)] = ts
			}
		}
	}

	stats := s.cfg.Sink.Stats()
	s.cfg.Metrics.EventsEmitted.Set(float64(stats.Emitted))
	s.cfg.Metrics.EventsDropped.WithLabelValues("broadcast").Set(float64(stats.BroadcastDropped))
	s.cfg.Metrics.EventsDropped.WithLabelValues("durable_stall").Set(float64(stats.DurableStalled))

	c.JSON(http.StatusOK, gin.H{
		"active_signals":     len(active),
		"active_per_key":     perKey,
		"last_scan":          lastScan,
		"events":             stats,
		"websocket_clients":  s.cfg.Hub.Clients(),
		"rate_limiter_usage": s.limiterUsage(),
	})
}

func (s *Server) handleSignals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"signals": s.cfg.Manager.Active()})
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.cfg.Store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event persistence disabled"})
		return
	}
	recent, err := s.cfg.Store.RecentEvents(c.Request.Context(), 100)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load recent events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": recent})
}

type limiterStatus struct {
	Used      int     `json:"used"`
	Budget    int     `json:"budget"`
	WindowAge float64 `json:"window_age_seconds"`
}

func (s *Server) limiterUsage() map[string]limiterStatus {
	out := make(map[string]limiterStatus, len(s.cfg.Limiters))
	for name, limiter := range s.cfg.Limiters {
		used, age := limiter.CurrentUsage()
		out[name] = limiterStatus{Used: used, Budget: limiter.Budget(), WindowAge: age.Seconds()}
		s.cfg.Metrics.LimiterUsage.WithLabelValues(name).Set(float64(used))
	}
	return out
}

func (s *Server) handleRateLimits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": s.limiterUsage()})
}

func (s *Server) handleConfigReload(c *gin.Context) {
	configs, err := s.cfg.ReloadConfigs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.cfg.Registry.Swap(configs); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	s.log.Info().Str("operator", c.GetString("operator")).
		Int("configs", len(configs)).Msg("config reloaded")
	c.JSON(http.StatusOK, gin.H{"reloaded": len(configs)})
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
