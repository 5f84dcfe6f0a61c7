package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"paperlens/internal/analysis"
	"paperlens/internal/config"
	"paperlens/internal/providers"
	"paperlens/internal/storage"
)

// StatusClientClosedRequest reports an operation the caller cancelled.
const StatusClientClosedRequest = 499

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

func writeJSON(c *gin.Context, code int, v any) {
	c.JSON(code, v)
}

func writeErr(c *gin.Context, code int, err error) {
	apiErr := toAPIError(code, err)
	if code >= 500 {
		c.Set(errorKey, err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": apiErr})
}

// writeOpErr maps an operation error to its status and writes it.
func writeOpErr(c *gin.Context, err error) {
	writeErr(c, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, analysis.ErrEmptyQuery),
		errors.Is(err, analysis.ErrEmptyQuestion),
		errors.Is(err, analysis.ErrNoHistory),
		errors.Is(err, config.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	}
	if !isProviderErr(err) {
		return http.StatusInternalServerError
	}
	switch providers.Classify(err) {
	case providers.KindConfiguration:
		return http.StatusPreconditionFailed
	case providers.KindAuth:
		return http.StatusUnauthorized
	case providers.KindBilling:
		return http.StatusPaymentRequired
	case providers.KindQuota:
		return http.StatusTooManyRequests
	case providers.KindAborted:
		return StatusClientClosedRequest
	default:
		return http.StatusBadGateway
	}
}

func isProviderErr(err error) bool {
	var pe *providers.ProviderError
	if errors.As(err, &pe) {
		return true
	}
	for _, s := range []error{
		providers.ErrNotConfigured, providers.ErrAuthFailed, providers.ErrInsufficientBalance,
		providers.ErrQuotaExceeded, providers.ErrOverloaded, providers.ErrTransient,
		providers.ErrMalformedResponse, providers.ErrAborted,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

func toAPIError(status int, err error) apiError {
	raw := ""
	if err != nil {
		raw = err.Error()
	}
	switch status {
	case http.StatusPreconditionFailed:
		return apiError{Code: "PL-PROV-4120", Kind: string(providers.KindConfiguration), Message: "No API key is configured for the selected provider. Update settings and retry."}
	case http.StatusUnauthorized:
		return apiError{Code: "PL-PROV-4010", Kind: string(providers.KindAuth), Message: "The provider rejected the API key. Check settings and retry."}
	case http.StatusPaymentRequired:
		// Billing messages name the model and the free alternatives.
		return apiError{Code: "PL-PROV-4020", Kind: string(providers.KindBilling), Message: raw}
	case http.StatusTooManyRequests:
		return apiError{Code: "PL-PROV-4290", Kind: string(providers.KindQuota), Message: "Provider quota exhausted on every fallback model. Wait and retry."}
	case StatusClientClosedRequest:
		return apiError{Code: "PL-API-4990", Kind: string(providers.KindAborted), Message: "Stopped by user."}
	case http.StatusBadGateway:
		return apiError{Code: "PL-PROV-5020", Kind: string(providers.Classify(err)), Message: "Provider request failed: " + raw}
	case http.StatusBadRequest:
		return apiError{Code: "PL-API-4001", Message: orMessage(raw, "Invalid request. Check inputs and retry.")}
	case http.StatusNotFound:
		return apiError{Code: "PL-API-4004", Message: "Requested resource was not found."}
	case http.StatusConflict:
		return apiError{Code: "PL-API-4009", Message: orMessage(raw, "Operation conflicts with current state. Retry after checking status.")}
	case http.StatusServiceUnavailable:
		return apiError{Code: "PL-API-5030", Message: orMessage(raw, "Service unavailable.")}
	}
	if status >= 500 {
		return apiError{Code: "PL-API-5000", Message: "Internal server error. Please retry or check service logs."}
	}
	return apiError{Code: "PL-API-4000", Message: orMessage(raw, "Request failed.")}
}

func orMessage(raw, fallback string) string {
	if raw == "" {
		return fallback
	}
	return raw
}
