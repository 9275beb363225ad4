package webhooks

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/deskbridge/pkg/events"
	"github.com/platinummonkey/deskbridge/pkg/httputil"
	"github.com/platinummonkey/deskbridge/pkg/observability"
)

// maxPayloadBytes caps webhook request bodies
const maxPayloadBytes = 1 << 20

// Handler receives identity provider webhook deliveries, verifies their
// signatures and dispatches the decoded events to the reconciler.
type Handler struct {
	verifier   *Verifier
	reconciler *events.Reconciler
	logger     *observability.Logger
}

// NewHandler creates a webhook handler
func NewHandler(verifier *Verifier, reconciler *events.Reconciler, logger *observability.Logger) *Handler {
	return &Handler{
		verifier:   verifier,
		reconciler: reconciler,
		logger:     logger,
	}
}

// RegisterRoutes registers webhook endpoints with the router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/identity", h.handleDelivery).Methods("POST")
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	id := r.Header.Get(HeaderID)
	timestamp := r.Header.Get(HeaderTimestamp)
	signature := r.Header.Get(HeaderSignature)
	if err := h.verifier.Verify(id, timestamp, signature, payload); err != nil {
		logger.WithError(err).WithField("delivery_id", id).Warn("Rejected webhook delivery")
		httputil.WriteBadRequest(w, "invalid webhook signature")
		return
	}

	event, err := events.Parse(payload)
	if err != nil {
		logger.WithError(err).WithField("delivery_id", id).Warn("Failed to decode webhook payload")
		httputil.WriteBadRequest(w, "malformed event payload")
		return
	}

	if err := h.reconciler.Handle(r.Context(), event); err != nil {
		logger.WithError(err).WithFields(map[string]any{
			"delivery_id": id,
			"event_type":  string(event.EventType()),
		}).Error("Failed to reconcile webhook event")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "event processing failed")
		return
	}

	httputil.WriteSuccess(w, map[string]string{"status": "processed"})
}
