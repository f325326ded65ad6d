package tenantctx

import (
	"context"

	"github.com/medplane/medplane/internal/security"
)

type contextKey string

const bindingKey contextKey = "tenant_binding"

// With attaches the binding to ctx. Passing the returned context to a
// spawned goroutine is the explicit propagation step; nothing propagates
// without it.
func With(ctx context.Context, b *Binding) context.Context {
	return context.WithValue(ctx, bindingKey, b)
}

// From retrieves the binding from ctx.
func From(ctx context.Context) (*Binding, bool) {
	b, ok := ctx.Value(bindingKey).(*Binding)
	return b, ok
}

// TenantID returns the bound tenant id from ctx, failing loud when ctx
// carries no binding or the binding is unbound.
func TenantID(ctx context.Context) (string, error) {
	b, ok := From(ctx)
	if !ok {
		return "", security.New(security.KindNoContext, "context carries no tenant binding")
	}
	return b.Get()
}

// CurrentTenantID returns the bound tenant id or empty, never an error.
func CurrentTenantID(ctx context.Context) string {
	b, ok := From(ctx)
	if !ok {
		return ""
	}
	return b.Current()
}
