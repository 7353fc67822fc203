package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Deps are the collaborators served by the router. Connect may be nil.
type Deps struct {
	APIKey           string
	RefreshLookahead time.Duration
	Campaigns        CampaignControl
	Stats            StatsReader
	Leads            LeadEvents
	Tokens           TokenRefresher
	Store            Store
	Notices          NoticeLister
	Connect          interface{ Routes(r chi.Router) }
}

// NewRouter builds the HTTP routes of the daemon.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", HealthHandler())

	// OAuth connect flow
	if d.Connect != nil {
		d.Connect.Routes(r)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(APIKeyAuth(d.APIKey))

		r.Get("/campaigns/{id}/stats", CampaignStatsHandler(d.Stats))
		r.Get("/campaigns/{id}/activities", CampaignActivitiesHandler(d.Stats))
		r.Post("/campaigns/{id}/activate", ActivateCampaignHandler(d.Campaigns))
		r.Post("/campaigns/{id}/pause", PauseCampaignHandler(d.Campaigns))
		r.Post("/campaigns/{id}/wake", WakeCampaignHandler(d.Campaigns))

		r.Post("/leads/{id}/events", LeadEventHandler(d.Leads, d.Store))
		r.Post("/leads/{id}/review", ReviewLeadHandler(d.Store, d.Campaigns))

		r.Post("/accounts/{id}/refresh", RefreshAccountHandler(d.Tokens))
		r.Post("/accounts/{id}/primary", SetPrimaryAccountHandler(d.Store))
		r.Post("/refresh", RefreshHandler(d.Tokens, d.RefreshLookahead))

		r.Get("/notices", NoticesHandler(d.Notices))
	})
	return r
}
