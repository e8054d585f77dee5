// Package api - административный HTTP API сервера: здоровье, состояние,
// список игроков, Prometheus-метрики и выдача токенов входа.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/blockverse/internal/auth"
	"github.com/annel0/blockverse/internal/chunk"
	"github.com/annel0/blockverse/internal/eventbus"
	"github.com/annel0/blockverse/internal/logging"
	"github.com/annel0/blockverse/internal/metrics"
	"github.com/annel0/blockverse/internal/middleware"
	"github.com/annel0/blockverse/internal/protocol"
	"github.com/annel0/blockverse/internal/tick"
)

// Players - источник списка игроков (tick.Scheduler)
type Players interface {
	Players() []tick.PlayerInfo
	CurrentTick() uint64
}

// Network - счётчики соединений и рассылка (network.Server)
type Network interface {
	Online() int
	Connections() int
	Broadcast(p protocol.Packet)
}

// ChunkStats - статистика хранилища чанков
type ChunkStats interface {
	Stats() chunk.Stats
}

// Config содержит зависимости REST сервера. Необязательные поля могут
// быть nil, соответствующие данные тогда не выводятся.
type Config struct {
	Listen     string
	MaxPlayers int

	Players Players
	Network Network
	Chunks  ChunkStats
	Bus     eventbus.EventBus
	Sampler *metrics.ProcessSampler

	Registry prometheus.Registerer
	Gatherer prometheus.Gatherer

	// Выдача токенов входа; без Tokens маршруты /api не регистрируются
	Users    auth.UserRepository
	Tokens   *auth.TokenProvider
	TokenTTL time.Duration
}

// RestServer представляет REST API сервер
type RestServer struct {
	cfg    Config
	router *gin.Engine
	http   *http.Server
	log    *logging.Logger
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(cfg Config) *RestServer {
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:8080"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Gatherer == nil {
		if g, ok := cfg.Registry.(prometheus.Gatherer); ok {
			cfg.Gatherer = g
		} else {
			cfg.Gatherer = prometheus.DefaultGatherer
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.NewRequestLogger().Handler())

	promMw := middleware.NewPrometheusMiddleware("admin_api", cfg.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, cfg.Gatherer)

	rs := &RestServer{
		cfg:    cfg,
		router: router,
		log:    logging.GetComponentLogger("api"),
	}
	rs.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	rs.setupRoutes()
	return rs
}

func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)
	rs.router.GET("/status", rs.handleStatus)
	rs.router.GET("/players", rs.handlePlayers)

	if rs.cfg.Tokens == nil {
		return
	}
	api := rs.router.Group("/api")
	api.POST("/auth/token", rs.handleIssueToken)

	admin := api.Group("/admin")
	admin.Use(rs.jwtMiddleware(), rs.adminMiddleware())
	admin.POST("/broadcast", rs.handleBroadcast)
}

// Handler возвращает http.Handler (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start запускает HTTP сервер и блокируется до Stop
func (rs *RestServer) Start() error {
	rs.log.Info("Admin API listening on %s", rs.cfg.Listen)
	if err := rs.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop корректно останавливает HTTP сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.http.Shutdown(ctx)
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// StatusResponse - ответ /status
type StatusResponse struct {
	Tick        uint64                `json:"tick"`
	Online      int                   `json:"online"`
	MaxPlayers  int                   `json:"max_players"`
	Connections int                   `json:"connections"`
	Chunks      *chunk.Stats          `json:"chunks,omitempty"`
	Events      *eventbus.Stats       `json:"events,omitempty"`
	Process     *metrics.ProcessStats `json:"process,omitempty"`
}

func (rs *RestServer) handleStatus(c *gin.Context) {
	resp := StatusResponse{MaxPlayers: rs.cfg.MaxPlayers}
	if rs.cfg.Players != nil {
		resp.Tick = rs.cfg.Players.CurrentTick()
	}
	if rs.cfg.Network != nil {
		resp.Online = rs.cfg.Network.Online()
		resp.Connections = rs.cfg.Network.Connections()
	}
	if rs.cfg.Chunks != nil {
		st := rs.cfg.Chunks.Stats()
		resp.Chunks = &st
	}
	if rs.cfg.Bus != nil {
		st := rs.cfg.Bus.Metrics()
		resp.Events = &st
	}
	if rs.cfg.Sampler != nil {
		st := rs.cfg.Sampler.Sample()
		resp.Process = &st
	}
	c.JSON(http.StatusOK, resp)
}

func (rs *RestServer) handlePlayers(c *gin.Context) {
	players := []tick.PlayerInfo{}
	if rs.cfg.Players != nil {
		players = append(players, rs.cfg.Players.Players()...)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(players), "players": players})
}

// TokenRequest - запрос токена входа
type TokenRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse - выданный токен
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	IsAdmin   bool      `json:"is_admin"`
}

func (rs *RestServer) handleIssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Неверный формат запроса"})
		return
	}
	if rs.cfg.Users == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Message: "Учётные записи не настроены"})
		return
	}

	user, err := rs.cfg.Users.ValidateCredentials(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrUserNotFound), errors.Is(err, auth.ErrBadPassword):
		c.JSON(http.StatusUnauthorized, GenericResponse{Message: "Неверное имя пользователя или пароль"})
		return
	case err != nil:
		rs.log.Error("Validate credentials for %q: %v", req.Username, err)
		c.JSON(http.StatusInternalServerError, GenericResponse{Message: "Внутренняя ошибка сервера"})
		return
	}

	token, err := rs.cfg.Tokens.Issue(user.Username, user.IsAdmin, rs.cfg.TokenTTL)
	if err != nil {
		rs.log.Error("Issue token for %q: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, GenericResponse{Message: "Внутренняя ошибка сервера"})
		return
	}
	c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(rs.cfg.TokenTTL).UTC(),
		IsAdmin:   user.IsAdmin,
	})
}

// BroadcastRequest - системное сообщение всем игрокам
type BroadcastRequest struct {
	Message string `json:"message" binding:"required"`
}

func (rs *RestServer) handleBroadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Неверный формат запроса"})
		return
	}
	if rs.cfg.Network == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Message: "Сервер не запущен"})
		return
	}
	rs.cfg.Network.Broadcast(&protocol.SystemChat{Content: "[Server] " + req.Message})
	rs.log.Info("Broadcast by %v: %s", c.GetString("username"), req.Message)
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Отправлено"})
}
