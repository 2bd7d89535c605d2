package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/recledger/internal/domain"
	"github.com/alanyoungcy/recledger/internal/server/middleware"
)

// maxJSONBody caps request DTOs.
const maxJSONBody = 64 << 10

var validate = validator.New(validator.WithRequiredStructEnabled())

// okResponse wraps every successful result.
type okResponse struct {
	OK any `json:"ok"`
}

// errorResponse carries the error message and the numeric result code.
type errorResponse struct {
	Error string `json:"error"`
	Code  uint32 `json:"code"`
}

// subsystem selects which result-code table an error is mapped through.
type subsystem int

const (
	marketplace subsystem = iota
	verification
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","code":500}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeOK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, okResponse{OK: v})
}

func writeCreated(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusCreated, okResponse{OK: v})
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string, code uint32) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// statusFor maps a ledger error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrNotOwner),
		errors.Is(err, domain.ErrNotSeller),
		errors.Is(err, domain.ErrInvalidVerifier):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrAuctionActive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrTransferPending):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrInvalidListing),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrBidTooLow),
		errors.Is(err, domain.ErrSelfBid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError maps err to a status and result code. Internal errors are
// logged and their detail withheld from the client.
func writeLedgerError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, sys subsystem, err error) {
	code := domain.Code(err)
	if sys == verification {
		code = domain.VerificationCode(err)
	}
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		msg = "internal error"
		code = domain.CodeInternal
	}
	writeError(w, status, msg, code)
}

// decodeJSON reads a JSON body into dst and validates it. Failures are
// reported as ErrInvalidAmount so they carry a client-error code.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %v: %w", err, domain.ErrInvalidAmount)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("validate request: %v: %w", err, domain.ErrInvalidAmount)
	}
	return nil
}

// caller returns the authenticated principal, writing a 401 when absent.
func caller(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "request is not signed", domain.CodeUnauthorized)
	}
	return p, ok
}

// pathUint parses a numeric path parameter.
func pathUint(w http.ResponseWriter, r *http.Request, name string, sys subsystem) (uint64, bool) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		code := domain.CodeInvalidListing
		if sys == verification {
			code = domain.CodeInvalidStatus
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s %q", name, r.PathValue(name)), code)
		return 0, false
	}
	return v, true
}

// pathPrincipal parses an address path parameter.
func pathPrincipal(w http.ResponseWriter, r *http.Request, name string) (domain.Principal, bool) {
	p, err := domain.ParsePrincipal(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), domain.CodeUnauthorized)
		return domain.Principal{}, false
	}
	return p, true
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

func mustPrincipal(s string) domain.Principal {
	p, _ := domain.ParsePrincipal(s)
	return p
}
