// Package api exposes the attendance backend over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventattend/internal/attendance"
	"eventattend/internal/auth"
	"eventattend/internal/faces"
	"eventattend/internal/httpmiddleware"
	"eventattend/internal/review"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the services the router dispatches to.
type Deps struct {
	Attendance *attendance.Service
	Review     *review.List
	Faces      *faces.Registry
	Issuer     auth.Issuer
	Admin      *auth.Admin

	RateLimitPerMin int
	HSTS            bool
	Health          map[string]HealthCheck
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(d Deps) *gin.Engine {
	h := New(d)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders(d.HSTS))
	r.Use(httpmiddleware.NewLimiter(d.RateLimitPerMin, d.RateLimitPerMin).Middleware("/healthz", "/metrics"))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	{
		v1.POST("/devices/register", h.RegisterDevice)
		v1.POST("/admin/login", h.AdminLogin)
		v1.GET("/events", h.ListEvents)
		v1.POST("/attendance", auth.DeviceAuth(d.Issuer), h.SubmitAttendance)
	}

	admin := v1.Group("/admin", auth.AdminAuth(d.Issuer))
	{
		admin.GET("/dashboard", h.Dashboard)
		admin.POST("/events", h.CreateEvent)
		admin.GET("/events/:id/attendees", h.ListAttendees)
		admin.GET("/events/:id/attendees.csv", h.ExportAttendees)

		admin.GET("/attempts", h.ListAttempts)
		admin.POST("/attempts/:id/approve", h.ApproveAttempt)
		admin.POST("/attempts/:id/decline", h.DeclineAttempt)

		admin.GET("/faces", h.ListFaces)
		admin.POST("/faces", h.RegisterFace)
		admin.DELETE("/faces/:id", h.DeleteFace)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}
