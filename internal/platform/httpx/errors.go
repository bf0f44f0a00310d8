package httpx

import (
	"errors"
	"net/http"
)

// Sentinel error categories. Domain packages wrap these so RespondError can
// map any engine error to a status without knowing the package it came from.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps a domain error onto the response envelope. Validation and
// not-found errors surface their full message (capacity errors carry the exact
// shortfall); anything else is an internal error whose detail is hidden unless
// exposeInternal is set.
func RespondError(w http.ResponseWriter, err error, exposeInternal bool) {
	switch {
	case errors.Is(err, ErrNotFound):
		Fail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		Fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrConflict):
		Fail(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnauthorized):
		Fail(w, http.StatusUnauthorized, err.Error())
	default:
		msg := "internal server error"
		if exposeInternal && err != nil {
			msg = err.Error()
		}
		Fail(w, http.StatusInternalServerError, msg)
	}
}
