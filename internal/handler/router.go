package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/jobboard-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса доски вакансий.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/account/register", h.Register)
		r.Post("/account/login", h.Login)

		// Публичная выдача не требует аутентификации.
		r.Get("/postings", h.ListPostings)
		r.Get("/postings/featured", h.ListFeatured)
		r.Get("/postings/quote", h.Quote)
		r.Get("/postings/{postingID}", h.GetPosting)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/account/role", h.SelectRole)

			r.Post("/postings", h.CreateDraft)
			r.Post("/postings/{postingID}/publish", h.Publish)
			r.Post("/postings/{postingID}/close", h.Close)
			r.Post("/postings/{postingID}/feature", h.Feature)
			r.Post("/postings/{postingID}/apply", h.Apply)

			r.Post("/payments/{transactionID}/confirm", h.Confirm)

			r.Get("/business/postings", h.BusinessPostings)
			r.Get("/seeker/applications", h.SeekerApplications)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
