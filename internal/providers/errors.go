package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind is the closed set of failure classes the retry policy and the
// dispatcher act on. Adapters compute it once; nothing downstream inspects
// raw provider messages.
type ErrorKind string

const (
	KindUnknown       ErrorKind = "unknown"
	KindConfiguration ErrorKind = "configuration"
	KindAuth          ErrorKind = "auth"
	KindBilling       ErrorKind = "billing"
	KindQuota         ErrorKind = "quota"
	KindOverloaded    ErrorKind = "overloaded"
	KindTransient     ErrorKind = "transient"
	KindParse         ErrorKind = "parse"
	KindAborted       ErrorKind = "aborted"
)

var (
	ErrNotConfigured       = errors.New("provider not configured")
	ErrAuthFailed          = errors.New("provider authentication failed")
	ErrInsufficientBalance = errors.New("provider account balance insufficient")
	ErrQuotaExceeded       = errors.New("provider quota exceeded")
	ErrOverloaded          = errors.New("provider overloaded")
	ErrTransient           = errors.New("transient provider error")
	ErrMalformedResponse   = errors.New("malformed provider response")
	ErrAborted             = errors.New("aborted")
)

// ProviderError is the normalized failure returned by every adapter.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Model    string
	Status   int
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Model != "" {
		b.WriteString(" (" + e.Model + ")")
	}
	b.WriteString(": ")
	if e.Status > 0 {
		fmt.Fprintf(&b, "HTTP %d ", e.Status)
	}
	if e.Code != "" {
		b.WriteString("[" + e.Code + "] ")
	}
	b.WriteString(e.Message)
	if e.Message == "" && e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	return strings.TrimSpace(b.String())
}

// Unwrap exposes both the kind sentinel and the transport cause.
func (e *ProviderError) Unwrap() []error {
	out := make([]error, 0, 2)
	if s := sentinelFor(e.Kind); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case KindConfiguration:
		return ErrNotConfigured
	case KindAuth:
		return ErrAuthFailed
	case KindBilling:
		return ErrInsufficientBalance
	case KindQuota:
		return ErrQuotaExceeded
	case KindOverloaded:
		return ErrOverloaded
	case KindTransient:
		return ErrTransient
	case KindParse:
		return ErrMalformedResponse
	case KindAborted:
		return ErrAborted
	default:
		return nil
	}
}

// Retryable reports whether a bare retry of the same call may succeed.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindOverloaded
}

// Fatal reports errors that no retry or fallback can fix.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindConfiguration, KindAuth, KindBilling, KindAborted:
		return true
	default:
		return false
	}
}

// FallbackEligible reports whether another model variant should be tried.
func (k ErrorKind) FallbackEligible() bool {
	return k == KindQuota || k == KindOverloaded
}

var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"rpc failed",
	"unexpected eof",
	"timeout",
	"temporarily",
	"unavailable",
	"503",
}

// Classify maps any error to its ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrAborted), errors.Is(err, context.Canceled):
		return KindAborted
	case errors.Is(err, ErrNotConfigured):
		return KindConfiguration
	case errors.Is(err, ErrAuthFailed):
		return KindAuth
	case errors.Is(err, ErrInsufficientBalance):
		return KindBilling
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuota
	case errors.Is(err, ErrOverloaded):
		return KindOverloaded
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, ErrMalformedResponse):
		return KindParse
	}
	return classifyMessage(strings.ToLower(err.Error()))
}

func classifyMessage(e string) ErrorKind {
	switch {
	case strings.Contains(e, "overloaded"):
		return KindOverloaded
	case strings.Contains(e, "quota"), strings.Contains(e, "resource_exhausted"), strings.Contains(e, "rate limit"):
		return KindQuota
	}
	for _, m := range transientMarkers {
		if strings.Contains(e, m) {
			return KindTransient
		}
	}
	return KindUnknown
}

var billingCodes = map[string]struct{}{
	"402":                  {},
	"30001":                {},
	"insufficient_balance": {},
	"payment_required":     {},
}

// IsBillingCode reports whether a provider error code signals an unpaid account.
func IsBillingCode(code string) bool {
	_, ok := billingCodes[strings.ToLower(strings.TrimSpace(code))]
	return ok
}

// classifyStatus maps an HTTP error response to a kind.
func classifyStatus(status int, code, message string) ErrorKind {
	msg := strings.ToLower(message)
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusPaymentRequired, IsBillingCode(code), strings.Contains(msg, "insufficient balance"):
		return KindBilling
	case status == http.StatusTooManyRequests, strings.Contains(msg, "quota"), strings.EqualFold(code, "RESOURCE_EXHAUSTED"):
		return KindQuota
	case status == http.StatusServiceUnavailable, strings.Contains(msg, "overloaded"):
		return KindOverloaded
	case status >= 500:
		return KindTransient
	default:
		return KindUnknown
	}
}

// transportError wraps a failed round trip. Cancellation is kept distinguishable.
func transportError(ctx context.Context, provider, model string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return &ProviderError{Kind: KindAborted, Provider: provider, Model: model, Message: "request aborted", Err: err}
	}
	kind := classifyMessage(strings.ToLower(err.Error()))
	if kind == KindUnknown {
		kind = KindTransient
	}
	return &ProviderError{Kind: kind, Provider: provider, Model: model, Message: "request failed", Err: err}
}
