package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"taskmaster/internal/auth"
	"taskmaster/internal/handler"
	"taskmaster/internal/syncer"
	"taskmaster/pkg/rbac"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	authHandler *handler.AuthHandler,
	taskHandler *handler.TaskHandler,
	authService *auth.Service,
	engine *syncer.Engine,
	db *pgxpool.Pool,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(RequestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		if !engine.FeedConnected() {
			c.JSON(500, gin.H{"status": "feed_not_ready"})
			return
		}

		c.JSON(200, gin.H{"status": "ready", "sync": engine.Status()})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	r.POST("/register", authHandler.Register)
	r.POST("/login", authHandler.Login)

	// Protected
	authorized := r.Group("/")
	authorized.Use(AuthMiddleware(authService))
	{
		authorized.POST("/logout", authHandler.Logout)

		authorized.GET("/tasks", taskHandler.GetTasks)
		authorized.GET("/tasks/stats", taskHandler.GetStats)
		authorized.POST("/tasks", taskHandler.CreateTask)
		authorized.PUT("/tasks/:id", taskHandler.UpdateTask)
		authorized.DELETE("/tasks/:id", taskHandler.DeleteTask)
		authorized.POST("/tasks/:id/complete", taskHandler.CompleteTask)
		authorized.POST("/tasks/:id/reopen", taskHandler.ReopenTask)

		authorized.DELETE("/tasks/completed",
			RequirePermission(rbac.PermissionPurgeCompleted), taskHandler.DeleteCompleted)
		authorized.POST("/tasks/seed",
			RequirePermission(rbac.PermissionSeedTasks), taskHandler.SeedTasks)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
