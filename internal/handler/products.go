package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/smeportal/onboarding-server/internal/errors"
	"github.com/smeportal/onboarding-server/internal/model"
	"github.com/smeportal/onboarding-server/internal/service"
)

type ProductHandler struct {
	products *service.ProductService
}

func NewProductHandler(products *service.ProductService) *ProductHandler {
	return &ProductHandler{products: products}
}

func (h *ProductHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	return r
}

// GET /api/products?businessType=sole_trader
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	bt := model.BusinessType(r.URL.Query().Get("businessType"))
	if bt != "" && !bt.Valid() {
		writeError(w, apperrors.InvalidInput("businessType", "unknown business type"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": h.products.List(r.Context(), bt)})
}

// GET /api/products/{id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	product, err := h.products.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}
