package usercontext

import "context"

type ctxKey struct{}

// With returns a copy of ctx carrying uc.
func With(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, uc)
}

// FromContext returns the UserContext carried by ctx.
func FromContext(ctx context.Context) (*UserContext, bool) {
	uc, ok := ctx.Value(ctxKey{}).(*UserContext)
	return uc, ok && uc != nil
}
