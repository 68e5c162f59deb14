package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/domain"
	"dispatch/internal/handler"
	"dispatch/internal/logger"
	"dispatch/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RequestHandler    *handler.RequestHandler
	AssignmentHandler *handler.AssignmentHandler
	DriverHandler     *handler.DriverHandler
	RealtimeHandler   *handler.RealtimeHandler
	RedisClient       redis.Cmdable // nil disables idempotent replay
	NewRelicApp       *newrelic.Application
	Gatherer          prometheus.Gatherer
	Logger            *logger.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}
	router.Use(middleware.RequestLogger(deps.Logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	dispatcher := middleware.RequireRole(domain.RoleDispatcher)
	driver := middleware.RequireRole(domain.RoleDriver)
	driverOrDispatcher := middleware.RequireRole(domain.RoleDriver, domain.RoleDispatcher)
	clientOrDispatcher := middleware.RequireRole(domain.RoleClient, domain.RoleDispatcher)

	v1 := router.Group("/v1")
	v1.Use(middleware.ActorMiddleware(deps.Logger))
	if deps.RedisClient != nil {
		v1.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.Logger))
	}
	{
		requests := v1.Group("/requests")
		{
			requests.POST("", clientOrDispatcher, deps.RequestHandler.Create)
			requests.GET("", clientOrDispatcher, deps.RequestHandler.List)
			requests.GET("/:id", deps.RequestHandler.Get)
			requests.POST("/:id/process", dispatcher, deps.RequestHandler.Process)
			requests.POST("/:id/reject", dispatcher, deps.RequestHandler.Reject)
			requests.GET("/:id/assignments", dispatcher, deps.RequestHandler.History)
			requests.GET("/:id/nearby-drivers", dispatcher, deps.RequestHandler.NearbyDrivers)
		}

		assignments := v1.Group("/assignments")
		{
			assignments.POST("", dispatcher, deps.AssignmentHandler.Assign)
			assignments.POST("/bulk", dispatcher, deps.AssignmentHandler.BulkAssign)
			assignments.GET("", dispatcher, deps.AssignmentHandler.List)
			assignments.POST("/:id/reassign", dispatcher, deps.AssignmentHandler.Reassign)
			assignments.POST("/:id/unassign", dispatcher, deps.AssignmentHandler.Unassign)
			assignments.POST("/:id/start", driverOrDispatcher, deps.AssignmentHandler.Start)
			assignments.POST("/:id/pickup", driverOrDispatcher, deps.AssignmentHandler.PickUp)
			assignments.POST("/:id/deliver", driverOrDispatcher, deps.AssignmentHandler.Deliver)
		}

		drivers := v1.Group("/drivers/me", driver)
		{
			drivers.GET("/assignments", deps.DriverHandler.Assignments)
			drivers.GET("/route", deps.DriverHandler.Route)
			drivers.POST("/location", deps.DriverHandler.UpdateLocation)
			drivers.DELETE("/location", deps.DriverHandler.ClearLocation)
		}

		rt := v1.Group("/realtime")
		{
			rt.GET("/ws", deps.RealtimeHandler.Stream)
			rt.GET("/snapshot", deps.RealtimeHandler.Snapshot)
		}
	}

	return router
}
