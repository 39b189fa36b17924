// ABOUTME: Authentication context for tracking the operator through request handlers
// ABOUTME: Provides WithOperator/OperatorFromContext for propagating identity via context

package auth

import (
	"context"
)

// operatorKey is the key type for storing the operator name in context.Context.
type operatorKey struct{}

// WithOperator returns a new context carrying the authenticated operator.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey{}, operator)
}

// OperatorFromContext returns the authenticated operator, or "" if none.
func OperatorFromContext(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey{}).(string)
	return op
}
