package server

import (
	"errors"
	"net/http"

	"github.com/sealkms/seal/internal/fullnode"
	"github.com/sealkms/seal/internal/master"
)

// Category is the client-visible error class; every category carries a fixed
// HTTP status and retry advisory. Internal detail never reaches the body.
type Category string

const (
	CatMalformedRequest    Category = "MalformedRequest"
	CatInvalidSignature    Category = "InvalidSignature"
	CatExpiredSession      Category = "ExpiredSession"
	CatUnknownPackage      Category = "UnknownPackage"
	CatNoAccess            Category = "NoAccess"
	CatGoneExported        Category = "GoneExported"
	CatUpstreamTimeout     Category = "UpstreamTimeout"
	CatUpstreamUnavailable Category = "UpstreamUnavailable"
	CatRateLimited         Category = "RateLimited"
	CatOverloaded          Category = "Overloaded"
	CatInternal            Category = "Internal"
)

type apiError struct {
	cat     Category
	status  int
	retry   bool
	message string
}

func (e *apiError) Error() string { return string(e.cat) + ": " + e.message }

func errMalformed(msg string) *apiError {
	return &apiError{cat: CatMalformedRequest, status: http.StatusBadRequest, message: msg}
}

func errInvalidSignature(msg string) *apiError {
	return &apiError{cat: CatInvalidSignature, status: http.StatusUnauthorized, message: msg}
}

func errExpiredSession(msg string) *apiError {
	return &apiError{cat: CatExpiredSession, status: http.StatusUnauthorized, message: msg}
}

var (
	errUnknownPackage      = &apiError{cat: CatUnknownPackage, status: http.StatusNotFound, message: "package not served"}
	errNoAccess            = &apiError{cat: CatNoAccess, status: http.StatusForbidden, message: "access denied by policy"}
	errGoneExported        = &apiError{cat: CatGoneExported, status: http.StatusForbidden, message: "master key exported"}
	errUpstreamTimeout     = &apiError{cat: CatUpstreamTimeout, status: http.StatusRequestTimeout, retry: true, message: "full node timed out"}
	errUpstreamUnavailable = &apiError{cat: CatUpstreamUnavailable, status: http.StatusServiceUnavailable, retry: true, message: "full node unavailable"}
	errRateLimited         = &apiError{cat: CatRateLimited, status: http.StatusTooManyRequests, retry: true, message: "rate limited"}
	errOverloaded          = &apiError{cat: CatOverloaded, status: http.StatusServiceUnavailable, retry: true, message: "server overloaded"}
	errInternal            = &apiError{cat: CatInternal, status: http.StatusInternalServerError, retry: true, message: "internal error"}
)

// classify maps any pipeline error onto an apiError; unknown errors become
// Internal so nothing leaks.
func classify(err error) *apiError {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, fullnode.ErrNoAccess):
		return errNoAccess
	case errors.Is(err, fullnode.ErrTimeout):
		return errUpstreamTimeout
	case errors.Is(err, fullnode.ErrUnavailable):
		return errUpstreamUnavailable
	case errors.Is(err, master.ErrGoneExported):
		return errGoneExported
	case errors.Is(err, master.ErrUnknownPackage):
		return errUnknownPackage
	default:
		return errInternal
	}
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error   Category `json:"error"`
	Message string   `json:"message"`
	Retry   bool     `json:"retry"`
}
