// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/stockline-erp/stockline/internal/shared"
)

// RespondError maps domain errors to HTTP responses using the error envelope.
func RespondError(w http.ResponseWriter, err error) {
	kind := shared.KindOf(err)
	body := &ErrorBody{Kind: string(kind), Message: err.Error()}
	var de *shared.Error
	if errors.As(err, &de) {
		body.ProductID = de.ProductID
	}
	switch kind {
	case shared.KindValidation, shared.KindInsufficientStock:
		JSON(w, http.StatusUnprocessableEntity, Envelope{Error: body})
	case shared.KindPermission:
		JSON(w, http.StatusForbidden, Envelope{Error: body})
	case shared.KindNotFound:
		JSON(w, http.StatusNotFound, Envelope{Error: body})
	case shared.KindConflict:
		JSON(w, http.StatusConflict, Envelope{Error: body})
	case shared.KindTimeout:
		JSON(w, http.StatusGatewayTimeout, Envelope{Error: body})
	default:
		body.Message = "internal error"
		JSON(w, http.StatusInternalServerError, Envelope{Error: body})
	}
}
