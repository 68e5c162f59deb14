package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"dispatch/internal/domain"
	"dispatch/internal/logger"
	"dispatch/internal/middleware"
	"dispatch/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
// Internal errors are logged and their message is not exposed.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	status := mapErrorToHTTPStatus(err)
	resp := ErrorResponse{
		Error:   err.Error(),
		Code:    service.ErrorCode(err),
		Details: errorDetails(err),
	}
	if status == http.StatusInternalServerError {
		log.Error(c.Request.Context(), "request failed", err)
		resp.Error = "internal error"
		resp.Details = nil
	}
	_ = c.Error(err)
	c.JSON(status, resp)
}

// respondBindError reports a malformed or invalid request body.
func respondBindError(c *gin.Context, err error) {
	resp := ErrorResponse{Error: "invalid request body", Code: "VALIDATION_ERROR"}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]any, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		resp.Details = map[string]any{"fields": fields}
	} else {
		resp.Details = map[string]any{"reason": err.Error()}
	}
	c.JSON(http.StatusBadRequest, resp)
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, service.ErrTenantMismatch),
		errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, service.ErrAlreadyAssigned),
		errors.Is(err, service.ErrRequestNotPending),
		errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrConflict):
		return http.StatusConflict

	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusUnprocessableEntity

	default:
		return http.StatusInternalServerError
	}
}

func errorDetails(err error) map[string]any {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		return map[string]any{"field": verr.Field, "reason": verr.Reason}
	}
	var terr *service.TransitionError
	if errors.As(err, &terr) {
		return map[string]any{"action": string(terr.Action), "from": string(terr.From), "reason": terr.Reason()}
	}
	return nil
}

// actorOrAbort fetches the resolved actor. The router always installs
// ActorMiddleware in front of handlers, so a miss is a wiring bug.
func actorOrAbort(c *gin.Context, log *logger.Logger) (domain.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		respondError(c, log, errors.New("actor not resolved"))
		return domain.Actor{}, false
	}
	return actor, true
}
