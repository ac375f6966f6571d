package router

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/primitive-orchestrator/internal/api/handler"
	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(deps.CORSOrigins))

	// Health check endpoint
	r.GET("/healthz", func(c *gin.Context) {
		if deps.DB != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
			defer cancel()
			if err := deps.DB.HealthCheck(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":   "unavailable",
					"database": err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	jobHandler := handler.NewJobHandler(deps)

	api := r.Group("/api")
	{
		jobs := api.Group("/jobs")
		{
			// POST /api/jobs - Upload an image and start a job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/jobs/:job_id/outputs - List produced files
			jobs.GET("/:job_id/outputs", jobHandler.ListOutputs)

			// GET /api/jobs/:job_id/outputs/:filename - Download one produced file
			jobs.GET("/:job_id/outputs/:filename", jobHandler.DownloadOutput)
		}

		admin := api.Group("/admin/jobs")
		{
			admin.GET("", jobHandler.ListJobs)
			admin.POST("/:job_id/cancel", jobHandler.CancelJob)
		}
	}

	r.GET("/ws/jobs/:job_id", jobHandler.JobEvents)

	if deps.ServeStatic {
		serveStatic(r, deps.StaticDir)
	}

	return r
}

// serveStatic serves the built web UI, falling back to index.html for client-side routes
func serveStatic(r *gin.Engine, dir string) {
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if strings.HasPrefix(c.Request.URL.Path, "/api/") || strings.HasPrefix(c.Request.URL.Path, "/ws/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		path := filepath.Join(dir, filepath.Clean("/"+c.Request.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			c.File(path)
			return
		}
		c.File(filepath.Join(dir, "index.html"))
	})
}
