package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/domain"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// parseDays reads the ?days= query parameter with a default and an upper cap.
func parseDays(r *http.Request, fallback, max int) int {
	v := r.URL.Query().Get("days")
	if v == "" {
		return fallback
	}
	days, err := strconv.Atoi(v)
	if err != nil || days <= 0 {
		return fallback
	}
	if days > max {
		return max
	}
	return days
}

// sinceFromDays converts a trailing day count into the earliest ledger date.
func sinceFromDays(now time.Time, days int) time.Time {
	return domain.StartOfDayUTC(now).AddDate(0, 0, -(days - 1))
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var rateLimited *domain.ErrRateLimited
	var validation *domain.ErrValidation
	var circuitOpen *domain.ErrCircuitOpen
	var unauthorized *domain.ErrUnauthorized
	var forbidden *domain.ErrForbidden

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &rateLimited):
		logger.Info("rate limited",
			zap.String("provider", string(rateLimited.Provider)),
			zap.String("reason", string(rateLimited.Reason)),
		)
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("error", err.Error()))
		writeError(w, http.StatusForbidden, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
