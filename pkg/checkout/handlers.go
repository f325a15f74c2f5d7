package checkout

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/garagebook/billing-api/pkg/httputil"
	"github.com/garagebook/billing-api/pkg/identity"
	"github.com/garagebook/billing-api/pkg/observability"
	"github.com/garagebook/billing-api/pkg/plans"
)

// Handler exposes the checkout endpoints
type Handler struct {
	service *Service
	catalog *plans.Catalog
}

// NewHandler creates the checkout HTTP handler
func NewHandler(service *Service, catalog *plans.Catalog) *Handler {
	return &Handler{
		service: service,
		catalog: catalog,
	}
}

// RegisterRoutes registers the checkout endpoints on the router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/checkout/session", h.HandleCreateSession).Methods(http.MethodPost)
	router.HandleFunc("/plans", h.HandleListPlans).Methods(http.MethodGet)
}

// HandleCreateSession handles POST /checkout/session
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, ok := identity.FromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req Request
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.service.CreateSession(ctx, caller, req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		observability.FromContext(ctx).WithError(err).Error("Checkout session creation failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, result)
}

// HandleListPlans handles GET /plans
func (h *Handler) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"plans": h.catalog.Plans(),
	})
}
