package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Classroom/internal/adapters/signal"
	"github.com/dkeye/Classroom/internal/app/orch"
	"github.com/dkeye/Classroom/internal/config"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const userKey = "user"

// TokenIssuer is implemented by verifiers that can also mint tokens.
// Only debug mode exposes it.
type TokenIssuer interface {
	Issue(user domain.User, ttl time.Duration) (string, error)
}

// AuthMiddleware resolves the caller from the same token sources the
// signaling endpoint accepts.
func AuthMiddleware(auth core.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := auth.Verify(c.Request.Context(), signal.TokenFrom(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) domain.User {
	return c.MustGet(userKey).(domain.User)
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, auth core.TokenVerifier) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("ClassroomSessions", store))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &handlers{orch: o, auth: auth}
	ctrl := signal.NewSignalWSController(o, auth, signal.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		PongWait:     cfg.PongWait,
		WriteWait:    cfg.WriteWait,
		SendBuffer:   cfg.SendBuffer,
		ChatLimit:    cfg.ChatRateLimit,
		ChatInterval: cfg.ChatRateInterval,
	})

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api.POST("/auth/session", h.openSession)
	api.DELETE("/auth/session", h.closeSession)

	if issuer, ok := auth.(TokenIssuer); ok && cfg.Mode == "debug" {
		log.Warn().Str("module", "adapters.http").Msg("dev token endpoint enabled")
		api.POST("/dev/token", devToken(issuer))
	}

	authed := api.Group("", AuthMiddleware(auth))
	authed.GET("/me", h.whoami)
	authed.POST("/sessions", h.createSession)
	authed.GET("/sessions/:id", h.sessionInfo)
	authed.GET("/rooms/:id/history", h.roomHistory)

	return r
}
