package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voxlink/voxlink/internal/config"
	"github.com/voxlink/voxlink/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware identifies the caller. A bearer token wins;
// browser clients fall back to a long-lived cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if token == "" {
			token, _ = c.Cookie("ct")
		}
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoxlinkSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "server.http").Msg("router setup")

	r.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "server.http").Str("sid", c.GetString("client_token")).Msg("ws endpoint hit")
		ctl.HandleWS(ctx, c)
	})

	api := r.Group("/api")

	api.GET("/calls", func(c *gin.Context) {
		u := currentUser(c, ctl)
		c.JSON(http.StatusOK, ctl.Store.ByUser(u.ID, ""))
	})

	api.GET("/calls/completed", func(c *gin.Context) {
		u := currentUser(c, ctl)
		c.JSON(http.StatusOK, ctl.Store.ByUser(u.ID, domain.CallCompleted))
	})

	api.GET("/calls/active", func(c *gin.Context) {
		u := currentUser(c, ctl)
		c.JSON(http.StatusOK, ctl.Store.ByUser(u.ID, domain.CallActive))
	})

	api.GET("/calls/:id", func(c *gin.Context) {
		id, ok := callID(c)
		if !ok {
			return
		}
		call, err := ctl.Store.Get(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.JSON(http.StatusOK, call)
	})

	api.POST("/calls/:id/end", func(c *gin.Context) {
		finishCall(c, ctl, domain.CallCompleted)
	})

	api.POST("/calls/:id/cancel", func(c *gin.Context) {
		finishCall(c, ctl, domain.CallCancelled)
	})

	return r
}

func currentUser(c *gin.Context, ctl *Controller) *domain.User {
	return ctl.Registry.GetOrCreateUser(c.GetString("client_token"), "")
}

func callID(c *gin.Context) (domain.CallID, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid call id"})
		return 0, false
	}
	return domain.CallID(id), true
}

// finishCall settles the record over REST. The live pairing, if any, is
// ended too so both sockets hear about it.
func finishCall(c *gin.Context, ctl *Controller, status domain.CallStatus) {
	id, ok := callID(c)
	if !ok {
		return
	}
	u := currentUser(c, ctl)
	existing, err := ctl.Store.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if existing.User1ID != u.ID && existing.User2ID != u.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}
	if p, live := ctl.Match.End(id); live {
		reason := "ended"
		if status == domain.CallCancelled {
			reason = "cancelled"
		}
		ended := domain.CallEnded{CallID: id, Reason: reason}
		ctl.sendTo(p.A.ID, domain.EvtCallEnded, ended)
		ctl.sendTo(p.B.ID, domain.EvtCallEnded, ended)
	}
	var call *domain.Call
	if status == domain.CallCancelled {
		call, err = ctl.Store.Cancel(id)
	} else {
		call, err = ctl.Store.End(id)
	}
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, call)
}
