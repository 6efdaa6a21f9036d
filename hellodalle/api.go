package hellodalle

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

// API is the diagnostics HTTP server: health, per-user cooldown state,
// runtime settings and the generation audit log. It binds to localhost
// by default and carries no authentication, so don't expose it.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
	hd         *HelloDalle
}

func newAPI(hd *HelloDalle, config *APIConfig) (*API, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	api := &API{
		config: config,
		engine: r,
		logger: newTintLogger(config.LogLevel, "api"),
		hd:     hd,
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(gin.Recovery(), api.loggingMiddleware())
	if len(config.CORS.AllowOrigins) > 0 {
		r.Use(cors.New(config.CORS.GINConfig()))
	}

	r.GET("/healthz", api.health)

	apiGroup := r.Group("/api")
	apiGroup.GET("/users/:id/cooldown", api.userCooldown)
	apiGroup.GET("/config", api.getConfig)
	apiGroup.PUT("/config", api.updateConfig)
	apiGroup.GET("/generations", api.generations)

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return err
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "api listening", "address", a.config.Listen)
	return a.httpServer.Serve(a.listener)
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

func (a *API) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		a.logger.Info(
			"request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(started),
			"client_ip", c.ClientIP(),
		)
	}
}

func (a *API) health(c *gin.Context) {
	c.JSON(
		http.StatusOK,
		gin.H{
			"status":     "ok",
			"version":    Version,
			"commit":     CommitSHA,
			"build_time": BuildTime,
			"uptime":     time.Since(a.hd.startedAt).String(),
		},
	)
}

func (a *API) userCooldown(c *gin.Context) {
	userID := c.Param("id")
	if userID == "" {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, a.hd.cooldown.Status(userID))
}

type runtimeSettings struct {
	Engine            ImageEngine `json:"engine"`
	Wildcard          int         `json:"wildcard"`
	PFPAnyone         bool        `json:"pfp_anyone"`
	GenderSensitivity bool        `json:"gender_sensitivity"`
}

func (a *API) getConfig(c *gin.Context) {
	c.JSON(
		http.StatusOK,
		runtimeSettings{
			Engine:            a.hd.Engine(),
			Wildcard:          a.hd.Wildcard(),
			PFPAnyone:         a.hd.PFPAnyone(),
			GenderSensitivity: a.hd.GenderSensitivity(),
		},
	)
}

type runtimeSettingsUpdate struct {
	Engine            *ImageEngine `json:"engine"`
	Wildcard          *int         `json:"wildcard"`
	PFPAnyone         *bool        `json:"pfp_anyone"`
	GenderSensitivity *bool        `json:"gender_sensitivity"`
}

func (a *API) updateConfig(c *gin.Context) {
	var update runtimeSettingsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if update.Engine != nil {
		if err := a.hd.SetEngine(ctx, *update.Engine); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if update.Wildcard != nil {
		if err := a.hd.SetWildcard(ctx, *update.Wildcard); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if update.PFPAnyone != nil {
		if err := a.hd.SetPFPAnyone(ctx, *update.PFPAnyone); err != nil {
			a.logger.Error("error updating pfp-anyone", tint.Err(err))
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
	}
	if update.GenderSensitivity != nil {
		if err := a.hd.SetGenderSensitivity(
			ctx, *update.GenderSensitivity,
		); err != nil {
			a.logger.Error("error updating gender sensitivity", tint.Err(err))
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
	}

	a.getConfig(c)
}

func (a *API) generations(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	var entries []GenerationLog
	q := a.hd.db.DB().WithContext(c.Request.Context()).
		Order("created_at desc").
		Limit(limit)
	if userID := c.Query("user_id"); userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Find(&entries).Error; err != nil {
		a.logger.Error("error loading generation log", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"generations": entries})
}
