package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/golivy/internal/errors"
)

// HTTPErrorResponder writes err as a response.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder HTTPErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder replaces the responder; nil restores the default.
func SetHTTPErrorResponder(fn HTTPErrorResponder) {
	if fn == nil {
		fn = apperrors.RespondWithError
	}
	httpErrorResponder = fn
}

func ResetHTTPErrorResponder() {
	httpErrorResponder = apperrors.RespondWithError
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

// NotFound answers unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, &apperrors.StatusError{
		Status:  http.StatusNotFound,
		Code:    apperrors.CodeNotFound,
		Message: "no route for " + r.URL.Path,
	})
}

// MethodNotAllowed answers known routes hit with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, &apperrors.StatusError{
		Status:  http.StatusMethodNotAllowed,
		Code:    apperrors.CodeMethodNotAllowed,
		Message: r.Method + " is not allowed on " + r.URL.Path,
	})
}
