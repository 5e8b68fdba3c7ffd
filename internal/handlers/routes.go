package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/pipeline"
)

// Register mounts every pipeline route under /api/v1 and the Prometheus
// scrape endpoint at /metrics. API requests resolve the service and logger
// from a dependency container bound by middleware.Inject.
func Register(e *echo.Echo, service *pipeline.Service, logger ectologger.Logger) error {
	containerID, err := NewContainer(service, logger)
	if err != nil {
		return err
	}

	api := e.Group("/api/v1", middleware.Inject(containerID))
	registerTemplateRoutes(api)
	registerEntityRoutes(api)
	registerStepRoutes(api)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return nil
}
