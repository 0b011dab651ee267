package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goingthrice/bidengine/internal/domain"
	"github.com/goingthrice/bidengine/internal/server/middleware"
)

const maxBodyBytes = 1 << 16

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	Field      string `json:"field,omitempty"`
	MinimumBid string `json:"minimum_bid,omitempty"`
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// errorClass maps a domain sentinel onto its HTTP status and error code.
type errorClass struct {
	target error
	status int
	code   string
}

var errorClasses = []errorClass{
	{domain.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrSelfBid, http.StatusForbidden, "self_bid"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrAuctionNotLive, http.StatusConflict, "auction_not_live"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{domain.ErrConcurrentBidConflict, http.StatusConflict, "concurrent_bid_conflict"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{domain.ErrLockTimeout, http.StatusServiceUnavailable, "wallet_busy"},
	{domain.ErrPersistence, http.StatusServiceUnavailable, "unavailable"},
}

// writeServiceError classifies err and writes the matching response. Errors
// that indicate a bug are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	var tooLow *domain.BidTooLowError
	if errors.As(err, &tooLow) {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:      tooLow.Error(),
			Code:       "bid_too_low",
			MinimumBid: tooLow.Minimum.StringFixed(domain.AmountScale),
		})
		return
	}

	var invalid *domain.ValidationError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: invalid.Error(), Code: "validation", Field: invalid.Field})
		return
	}

	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			if c.status >= http.StatusInternalServerError {
				logger.WarnContext(r.Context(), op+" unavailable", slog.Any("error", err), slog.String("request_id", middleware.RequestIDFrom(r.Context())))
			}
			msg := c.target.Error()
			if c.target == domain.ErrInvalidAmount {
				msg = err.Error()
			}
			writeJSON(w, c.status, errorBody{Error: msg, Code: c.code})
			return
		}
	}

	logger.ErrorContext(r.Context(), op+" failed", slog.Any("error", err), slog.String("request_id", middleware.RequestIDFrom(r.Context())))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Code: "internal"})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 100), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
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

// caller returns the authenticated identity. Routes behind Bearer always
// have one; a missing identity is answered with 401.
func caller(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok || id.UserID == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Code: "unauthorized"})
		return domain.Identity{}, false
	}
	return id, true
}
