package middleware

import "context"

type ctxKey int

const (
	tenantKey ctxKey = iota
	requestIDKey
)

type tenant struct {
	id   string
	name string
}

func tenantFrom(ctx context.Context) tenant {
	if ctx == nil {
		return tenant{}
	}
	t, _ := ctx.Value(tenantKey).(tenant)
	return t
}

// ShopIDFromContext returns the id resolved by ShopContext, or "".
func ShopIDFromContext(ctx context.Context) string { return tenantFrom(ctx).id }

func ShopNameFromContext(ctx context.Context) string { return tenantFrom(ctx).name }

// WithShop injects the resolved shop into the context for downstream handlers.
func WithShop(ctx context.Context, shopID, shopName string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, tenantKey, tenant{id: shopID, name: shopName})
}

// RequestIDFromContext returns the id assigned by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
