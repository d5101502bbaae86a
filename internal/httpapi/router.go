// Package httpapi serves the intake REST API, the real-time upgrade, the
// metrics endpoint and the static dashboard on one port.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"intakebot/internal/intake"
	"intakebot/internal/metrics"
	"intakebot/pkg/logx"
)

// RequestService is the subset of intake.Service the handlers need.
type RequestService interface {
	List(ctx context.Context) ([]intake.Request, error)
	Create(ctx context.Context, fields map[string]any) (intake.Request, error)
	Delete(ctx context.Context, id int64) (bool, error)
	RegisterUser(ctx context.Context, username string) (bool, error)
}

// Relayer forwards operator text to registered users.
type Relayer interface {
	Relay(ctx context.Context, text string) (int, error)
}

type Deps struct {
	Requests RequestService
	Relay    Relayer
	// ServeWS handles real-time upgrades; nil disables them.
	ServeWS func(http.ResponseWriter, *http.Request)
	Metrics *metrics.Metrics
	Log     logx.Logger
}

// NewRouter wires public endpoints. Static files from publicDir answer any
// path no route claims.
func NewRouter(publicDir string, d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Log), corsMiddleware(), websocketUpgrade(d.ServeWS))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	h := &handlers{svc: d.Requests, relay: d.Relay, log: d.Log}
	r.GET("/requests", h.listRequests)
	r.POST("/requests", h.createRequest)
	r.DELETE("/requests/:id", h.deleteRequest)
	r.POST("/register-user", h.registerUser)
	r.POST("/notify", h.notify)

	if publicDir != "" {
		files := http.FileServer(http.Dir(publicDir))
		r.NoRoute(func(c *gin.Context) {
			if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			files.ServeHTTP(c.Writer, c.Request)
		})
	}
	return r
}
