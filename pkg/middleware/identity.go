// Package middleware holds the context plumbing shared between the API
// middleware chain and handlers.
package middleware

import (
	"context"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

type contextKey string

const (
	callerKey        contextKey = "kuro_caller"
	correlationIDKey contextKey = "kuro_correlation_id"
)

// SetCaller stores the resolved caller in the context.
func SetCaller(ctx context.Context, c *models.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// GetCaller retrieves the caller from the context. Never nil: an
// unresolved request yields the anonymous guest caller.
func GetCaller(ctx context.Context) *models.Caller {
	if c, ok := ctx.Value(callerKey).(*models.Caller); ok && c != nil {
		return c
	}
	return &models.Caller{
		UserID:       "",
		Tier:         models.TierFree,
		Role:         models.RoleGuest,
		IsGuest:      true,
		AuthMethod:   models.AuthNone,
		Capabilities: map[models.Capability]bool{models.CapRead: true},
	}
}

// SetCorrelationID stores the correlation id in the context.
func SetCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// GetCorrelationID retrieves the correlation id, or "" if unset.
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}
