package completion

import (
	"net/http"

	"github.com/TrailTally/TT-Backend/internal/middleware"
	"github.com/go-chi/chi/v5"
)

func SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Get("/areas", ListAreasHandler)
	r.Get("/areas/continents", ContinentsHandler)
	r.Get("/percent/{areaCode}", PercentHandler)
	r.Get("/geojson/{cc}", ExportHandler)
	r.Post("/visited", VisitedHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.OperatorMiddleware)
		r.Post("/admin/populate", PopulateAllHandler)
		r.Post("/admin/populate/{regionCode}", PopulateRegionHandler)
		r.Post("/admin/merge", MergeHandler)
		r.Post("/admin/delete", DeleteHandler)
		r.Post("/admin/rebuild/{cc}", RebuildHandler)
		r.Post("/admin/queue/{cc}", QueueHandler)
		r.Get("/admin/verify", VerifyHandler)
		r.Get("/admin/runs", RunsHandler)
	})

	return r
}
