package inbound

import (
	"github.com/shandysiswandi/schemabus/internal/pkg/router"
)

func RegisterHTTPEndpoint(r *router.Router, uc uc) {
	end := &HTTPEndpoint{uc: uc}

	r.POST("/api/v1/schemas", end.CreateSchema)
	r.GET("/api/v1/schemas/:id", end.GetSchema)

	r.POST("/api/v1/topics", end.BindTopic)
	r.GET("/api/v1/topics/:id", end.GetTopic)
	r.DELETE("/api/v1/topics/:id", end.DeleteTopic)
	r.POST("/api/v1/topics/:id/publish", end.Publish)

	r.POST("/api/v1/subscriptions", end.BindSubscription)
	r.GET("/api/v1/subscriptions/:id", end.GetSubscription)
	r.DELETE("/api/v1/subscriptions/:id", end.DeleteSubscription)
	r.POST("/api/v1/subscriptions/:id/pull", end.Pull)
	r.POST("/api/v1/subscriptions/:id/acknowledge", end.Acknowledge)
}
