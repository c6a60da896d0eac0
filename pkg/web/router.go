package web

import (
	"github.com/gin-gonic/gin"

	"github.com/ghzip/github-zip-server/pkg/metrics"
)

func GetRouter(metricsListenAddress string, webHandler *Handlers, withMetrics bool) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), GinLogger())
	if withMetrics {
		router.Use(metrics.PromReqMiddleware())
		go metrics.Server(metricsListenAddress)
	}
	router.Use(XForwardedProto("http"))

	router.GET("/", webHandler.Root)
	router.GET("/healthz", HealthCheckEndpoint)
	router.GET("/ping", PingEndpoint)

	api := router.Group("/api/github")
	api.GET("/download-folder", webHandler.DownloadFolder)
	api.GET("/tasks/:taskid", webHandler.TaskStatus)
	api.GET("/downloads/:taskid", webHandler.DownloadTask)

	// Disk-backed archives are served straight from this process.
	router.GET("/archive/*key", webHandler.ArchivePath)

	return router
}
