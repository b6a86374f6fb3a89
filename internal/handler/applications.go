package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/smeportal/onboarding-server/internal/errors"
	"github.com/smeportal/onboarding-server/internal/middleware"
	"github.com/smeportal/onboarding-server/internal/model"
	"github.com/smeportal/onboarding-server/internal/service"
)

// ApplicationHandler serves the onboarding wizard and the review workflow.
// Routes sit behind RequireSession; per-application permission checks are
// made by the service against the signed-in user.
type ApplicationHandler struct {
	apps *service.ApplicationService
}

func NewApplicationHandler(apps *service.ApplicationService) *ApplicationHandler {
	return &ApplicationHandler{apps: apps}
}

func (h *ApplicationHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}/steps/{step}", h.SaveStep)
	r.Post("/{id}/documents", h.AddDocument)
	r.Post("/{id}/submit", h.Submit)
	r.Post("/{id}/review", h.Review)
	r.Post("/{id}/decision", h.Decide)

	return r
}

// GET /api/applications
func (h *ApplicationHandler) List(w http.ResponseWriter, r *http.Request) {
	apps, err := h.apps.List(r.Context(), middleware.GetUser(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if apps == nil {
		apps = []model.Application{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": apps})
}

// POST /api/applications
func (h *ApplicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateApplicationInput
	// the body is optional; the customer's profile supplies the defaults
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, err)
		return
	}

	app, err := h.apps.Create(r.Context(), middleware.GetUser(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// GET /api/applications/{id}
func (h *ApplicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	app, err := h.apps.Get(r.Context(), middleware.GetUser(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// PUT /api/applications/{id}/steps/{step}
func (h *ApplicationHandler) SaveStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)
	id := chi.URLParam(r, "id")

	var (
		app *model.Application
		err error
	)
	switch model.ApplicationStep(chi.URLParam(r, "step")) {
	case model.StepBusinessDetails:
		var details model.BusinessDetails
		if err = decodeJSON(r, &details); err == nil {
			app, err = h.apps.UpdateBusinessDetails(ctx, user, id, details)
		}
	case model.StepProducts:
		var req struct {
			Products []model.ProductRequest `json:"products"`
		}
		if err = decodeJSON(r, &req); err == nil {
			app, err = h.apps.UpdateProducts(ctx, user, id, req.Products)
		}
	case model.StepDocuments:
		app, err = h.apps.CompleteDocuments(ctx, user, id)
	case model.StepReview:
		var req service.DeclarationInput
		if err = decodeJSON(r, &req); err == nil {
			app, err = h.apps.UpdateReview(ctx, user, id, req)
		}
	default:
		err = apperrors.NotFound("Step")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// POST /api/applications/{id}/documents
func (h *ApplicationHandler) AddDocument(w http.ResponseWriter, r *http.Request) {
	var req service.DocumentInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	app, err := h.apps.AddDocument(r.Context(), middleware.GetUser(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// POST /api/applications/{id}/submit
func (h *ApplicationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	app, err := h.apps.Submit(r.Context(), middleware.GetUser(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// POST /api/applications/{id}/review
func (h *ApplicationHandler) Review(w http.ResponseWriter, r *http.Request) {
	app, err := h.apps.Review(r.Context(), middleware.GetUser(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// POST /api/applications/{id}/decision
func (h *ApplicationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decision model.Decision `json:"decision"`
		Note     string         `json:"note"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	app, err := h.apps.Decide(r.Context(), middleware.GetUser(r.Context()), chi.URLParam(r, "id"), req.Decision, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}
