package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *Handler, registry *prometheus.Registry) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		entries := api.Group("/entries")
		{
			entries.GET("", h.ListEntries)
			entries.POST("", h.PutEntry)
			entries.DELETE("/:id", h.DeleteEntry)
			entries.GET("/:id/snapshot", h.GetSnapshot)
			entries.POST("/:id/refresh", h.Refresh)
		}

		transitions := api.Group("/transitions")
		{
			transitions.POST("", h.StartTransition)
			transitions.POST("/:id/step", h.StepTransition)
			transitions.DELETE("/:id", h.AbandonTransition)
		}
	}
}
