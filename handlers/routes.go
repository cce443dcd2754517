package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures the HTTP routes
func SetupRoutes(router *gin.Engine, jobHandler *JobHandler) {
	api := router.Group("/api")

	api.POST("/jobs", jobHandler.SubmitJob)
	api.POST("/jobs/upload", jobHandler.UploadJob)
	api.GET("/jobs", jobHandler.ListJobs)
	api.GET("/jobs/:id", jobHandler.GetJob)
	api.GET("/jobs/:id/asset", jobHandler.GetAsset)
	api.GET("/jobs/:id/preview", jobHandler.GetPreview)
	api.GET("/queue", jobHandler.GetQueue)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "clipintake",
		})
	})
}
