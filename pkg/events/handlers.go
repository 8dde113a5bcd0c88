package events

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/duetrack/duetrack/pkg/httputil"
)

// Handlers exposes subscription management over HTTP.
type Handlers struct {
	manager *Manager
}

// NewHandlers creates subscription handlers backed by a manager.
func NewHandlers(manager *Manager) *Handlers {
	return &Handlers{manager: manager}
}

// RegisterRoutes registers subscription routes on the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/event-subscriptions", h.createSubscription).Methods("POST")
	router.HandleFunc("/event-subscriptions", h.listSubscriptions).Methods("GET")
	router.HandleFunc("/event-subscriptions/{id}", h.getSubscription).Methods("GET")
	router.HandleFunc("/event-subscriptions/{id}", h.updateSubscription).Methods("PUT")
	router.HandleFunc("/event-subscriptions/{id}", h.deleteSubscription).Methods("DELETE")
	router.HandleFunc("/event-subscriptions/{id}/activate", h.setActive(true)).Methods("POST")
	router.HandleFunc("/event-subscriptions/{id}/deactivate", h.setActive(false)).Methods("POST")
	router.HandleFunc("/event-subscriptions/{id}/deliveries", h.listDeliveries).Methods("GET")
	router.HandleFunc("/event-subscriptions/{id}/stats", h.deliveryStats).Methods("GET")
}

func (h *Handlers) createSubscription(w http.ResponseWriter, r *http.Request) {
	var sub Subscription
	if !httputil.ParseJSONOrError(w, r, &sub) {
		return
	}
	if err := h.manager.Subscribe(&sub); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	httputil.WriteCreated(w, sub)
}

func (h *Handlers) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.manager.List())
}

func (h *Handlers) getSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.manager.Get(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	httputil.WriteSuccess(w, sub)
}

func (h *Handlers) updateSubscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var updates Subscription
	if !httputil.ParseJSONOrError(w, r, &updates) {
		return
	}
	if err := h.manager.Update(id, &updates); err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	sub, _ := h.manager.Get(id)
	httputil.WriteSuccess(w, sub)
}

func (h *Handlers) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Unsubscribe(mux.Vars(r)["id"]); err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := h.manager.SetActive(id, active); err != nil {
			httputil.WriteNotFoundError(w, err.Error())
			return
		}
		sub, _ := h.manager.Get(id)
		httputil.WriteSuccess(w, sub)
	}
}

func (h *Handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.manager.Get(id); err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteValidationError(w, "invalid limit")
		return
	}
	httputil.WriteSuccess(w, h.manager.DeliveryLogs(id, limit))
}

func (h *Handlers) deliveryStats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.manager.Get(id); err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	httputil.WriteSuccess(w, h.manager.DeliveryStats(id))
}
