package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/inventory-service/api/controllers"
	"github.com/angelmondragon/inventory-service/api/middleware"
	products "github.com/angelmondragon/inventory-service/internal/products"
	"github.com/angelmondragon/inventory-service/pkg/config"
	"github.com/angelmondragon/inventory-service/pkg/logger"
)

// NewRouter wires the read-only HTTP surface. readiness lists the dependencies
// checked by /health/ready.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness map[string]controllers.Pinger,
	productService products.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", controllers.ListProducts(productService, logg))
		r.Get("/inventory/{productID}", controllers.GetInventory(productService, logg))
	})

	// Product.ImagePath values are relative to the assets directory.
	if cfg.App.AssetsDir != "" {
		r.Handle("/assets/*", http.StripPrefix("/assets/", http.FileServer(http.Dir(cfg.App.AssetsDir))))
	}

	return r
}
