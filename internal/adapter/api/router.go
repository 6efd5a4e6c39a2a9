package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type BuildInfo struct {
	Version string
	Env     string
}

func SetupRouter(app *fiber.App, handler *GenerationHandler, info BuildInfo) {
	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":  "healthy",
			"version": info.Version,
			"env":     info.Env,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API Versioning
	v1 := app.Group("/v1")

	v1.Post("/generations", handler.StartGeneration)
	v1.Delete("/generations", handler.Cancel)
	v1.Post("/generations/update", handler.StartUpdate)
	v1.Post("/generations/reset", handler.Reset)
	v1.Get("/generations/state", handler.State)
	v1.Get("/generations/result", handler.Result)
	v1.Get("/generations/events", handler.Events)

	v1.Get("/trips/:id", handler.GetTrip)
	v1.Delete("/trips/:id", handler.DeleteTrip)

	v1.Get("/preferences", handler.GetPreferences)
	v1.Put("/preferences", handler.PutPreferences)
}
