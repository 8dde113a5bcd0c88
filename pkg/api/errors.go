package api

import (
	"net/http"

	"github.com/duetrack/duetrack/pkg/billing"
	"github.com/duetrack/duetrack/pkg/httputil"
)

// writeBillingError maps the engine's error taxonomy onto HTTP statuses.
func writeBillingError(w http.ResponseWriter, err error) {
	switch billing.ClassifyError(err) {
	case billing.ErrorKindConfiguration:
		httputil.WriteError(w, http.StatusBadRequest, err)
	case billing.ErrorKindNotFound:
		httputil.WriteNotFoundError(w, err.Error())
	case billing.ErrorKindConcurrency, billing.ErrorKindInvalidTransition:
		httputil.WriteConflict(w, err.Error())
	case billing.ErrorKindDataIntegrity:
		httputil.WriteError(w, http.StatusUnprocessableEntity, err)
	case billing.ErrorKindTransientStore:
		httputil.WriteServiceUnavailable(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
