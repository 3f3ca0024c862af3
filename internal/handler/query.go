package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"sipengine/internal/allocation"
	"sipengine/internal/repository"
	"sipengine/internal/subscription"
)

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func strQueryPtr(c *gin.Context, key string) *string {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		return &val
	}
	return nil
}

func idParam(c *gin.Context, key string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param(key)), 10, 64)
	if err != nil || id == 0 {
		Error(c, http.StatusBadRequest, "invalid "+key, nil)
		return 0, false
	}
	return id, true
}

func paginationMeta(limit, offset int, total int64) map[string]any {
	if limit <= 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	hasNext := int64(offset+limit) < total
	return map[string]any{
		"limit":    limit,
		"offset":   offset,
		"total":    total,
		"has_next": hasNext,
	}
}

func boolPtr(v bool) *bool { return &v }

// statusFor maps domain errors to HTTP statuses; anything unknown is a store problem.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, subscription.ErrInvalidStateTransition), errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, subscription.ErrInvalidSubscription),
		errors.Is(err, allocation.ErrInvalidComposition),
		errors.Is(err, allocation.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	default:
		return http.StatusBadGateway
	}
}

func fail(c *gin.Context, err error) {
	Error(c, statusFor(err), err.Error(), nil)
}
