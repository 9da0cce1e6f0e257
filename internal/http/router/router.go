package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/http/handler"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/service"
)

type Services struct {
	Ingest service.IngestService
}

func SetupRoutes(router *gin.Engine, services Services) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		IngestionRouter(v1.Group("/ingestions"), handler.NewIngestionHandler(services.Ingest))
		SchemaRouter(v1.Group("/schemas"), handler.NewSchemaHandler())
	}
}

func IngestionRouter(rg *gin.RouterGroup, h *handler.IngestionHandler) {
	rg.POST("", h.IngestRecords)
	rg.POST("/csv", h.IngestCSV)
}

func SchemaRouter(rg *gin.RouterGroup, h *handler.SchemaHandler) {
	rg.GET("", h.List)
	rg.GET("/:name", h.Get)
}
