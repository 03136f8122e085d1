package auth

import "context"

// Operator is the authenticated caller of the operations API. Audit events record it as the
// actor of manual scans and request ingestion.
type Operator struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type operatorKey struct{}

func WithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, operatorKey{}, op)
}

// OperatorFrom returns the operator RequireAccessToken put on the context.
func OperatorFrom(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorKey{}).(Operator)
	if !ok || op.ID == "" {
		return Operator{}, false
	}
	return op, true
}
