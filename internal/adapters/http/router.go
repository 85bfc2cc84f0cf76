// Package http is the local control surface: a gin JSON API that drives the
// orchestrator and an SSE stream of session events for the UI.
package http

import (
	"github.com/dkeye/LiveStudio/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

// ClientTokenMiddleware pins a stable token to the operator's cookie session
// so every control call can be attributed in logs.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			s.Set(clientTokenKey, token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, ctl Controller, events *Broker) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("LiveStudioSessions", store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{ctl: ctl}
	r.GET("/healthz", h.health)

	api := r.Group("/api")
	api.GET("/events", events.Serve)

	api.GET("/session", h.snapshot)
	api.POST("/session/broadcast", h.broadcast)
	api.POST("/session/watch", h.watch)
	api.POST("/session/stop", h.stop)

	seats := api.Group("/seats")
	seats.POST("/request", h.requestSeat)
	seats.POST("/leave", h.leaveSeat)
	seats.POST("/approve", h.approveSeat)
	seats.POST("/reject", h.rejectSeat)
	seats.POST("/kick", h.kick)
	seats.POST("/mute", h.mute)

	api.POST("/chat", h.chat)
	api.POST("/gifts", h.gift)

	pk := api.Group("/pk")
	pk.POST("/challenge", h.challenge)
	pk.POST("/accept", h.acceptPK)
	pk.POST("/decline", h.declinePK)
	pk.POST("/cancel", h.cancelPK)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
