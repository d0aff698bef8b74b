package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/tasktrack/internal/api"
	apiMiddleware "github.com/phrazzld/tasktrack/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware(app.logger))

	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService, app.logger)
	taskHandler := api.NewTaskHandler(app.taskService, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		taskHandler.Routes(r)
	})

	r.Get("/health", api.HealthHandler)

	return r
}
