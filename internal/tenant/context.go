package tenant

import "context"

type ctxKey struct{}

// WithSlug returns a context carrying the resolved tenant slug.
func WithSlug(ctx context.Context, slug string) context.Context {
	return context.WithValue(ctx, ctxKey{}, slug)
}

// SlugFrom returns the tenant slug stored in the context, or "" when the
// request resolved to no tenant.
func SlugFrom(ctx context.Context) string {
	slug, _ := ctx.Value(ctxKey{}).(string)
	return slug
}
