package sso

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/deskbridge/pkg/httputil"
	"github.com/platinummonkey/deskbridge/pkg/middleware"
	"github.com/platinummonkey/deskbridge/pkg/observability"
)

// Handler serves the SSO login redirect endpoint
type Handler struct {
	redirector *Redirector
	logger     *observability.Logger
}

// NewHandler creates an SSO handler
func NewHandler(redirector *Redirector, logger *observability.Logger) *Handler {
	return &Handler{
		redirector: redirector,
		logger:     logger,
	}
}

// RegisterRoutes registers SSO endpoints with the router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sso/login", h.handleLogin).Methods("GET")
}

// handleLogin redirects an authenticated caller into their support platform
// account via a short-lived login URL
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())

	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		httputil.WriteUnauthorized(w, "session required")
		return
	}
	if session.OrgID == "" {
		httputil.WriteUnauthorized(w, "no active organization on session")
		return
	}

	url, err := h.redirector.ResolveLoginURL(r.Context(), session.UserID, session.OrgID)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			logger.WithFields(map[string]any{
				"user_id": session.UserID,
				"org_id":  session.OrgID,
				"kind":    notFound.Kind,
			}).Warn("SSO login requested before provisioning completed")
			httputil.WriteNotFoundError(w, "your support account is still being set up, try again shortly")
			return
		}
		logger.WithError(err).WithField("user_id", session.UserID).Error("Failed to resolve login URL")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to resolve login URL")
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}
