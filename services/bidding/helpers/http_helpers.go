package helpers

import (
	"errors"
	"fmt"
	"net/http"

	"auction-engine/internal/biddingerrors"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
)

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "Auction not found"
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details"
	case errors.Is(err, biddingerrors.ErrInvalidInput):
		return http.StatusBadRequest, "invalid input"
	case errors.Is(err, biddingerrors.ErrNotOwner):
		return http.StatusForbidden, "Only the auction owner can close it"
	case errors.Is(err, biddingerrors.ErrBidRejected):
		return http.StatusConflict, "bid rejected"
	case errors.Is(err, biddingerrors.ErrConflict):
		return http.StatusConflict, "too many concurrent bids, please retry"
	case errors.Is(err, biddingerrors.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// PublicError returns the text shown to the caller for err. Rejections and
// input errors carry their own reason; everything else falls back to message
// so internal details never leak.
func PublicError(err error, message string) string {
	var rej *biddingerrors.RejectionError
	if errors.As(err, &rej) {
		return rej.Error()
	}
	var in *biddingerrors.InputError
	if errors.As(err, &in) {
		return in.Detail
	}
	return message
}

// HandleServiceError maps err, writes the JSON error and logs at a level
// matching the status
func HandleServiceError(c *gin.Context, handlerName string, err error, fields map[string]any) {
	status, message := MapErrorToHTTP(err)
	utils.JSONError(c, status, errors.New(PublicError(err, message)), message)

	logFields := map[string]any{"error": err.Error(), "status": status}
	for k, v := range fields {
		logFields[k] = v
	}
	if status >= http.StatusInternalServerError {
		utils.Error(handlerName+": service error", logFields)
		return
	}
	utils.Warn(handlerName+": request rejected", logFields)
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
