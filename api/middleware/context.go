package middleware

import "context"

type identityKey struct{}

// identity is the authenticated shopper carried on the request context.
type identity struct {
	userID string
	email  string
}

func identityFrom(ctx context.Context) identity {
	if ctx == nil {
		return identity{}
	}
	id, _ := ctx.Value(identityKey{}).(identity)
	return id
}

func UserIDFromContext(ctx context.Context) string { return identityFrom(ctx).userID }

func EmailFromContext(ctx context.Context) string { return identityFrom(ctx).email }

// WithUserID records the shopper id from a verified token.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	id := identityFrom(ctx)
	id.userID = userID
	return context.WithValue(ctx, identityKey{}, id)
}

// WithEmail records the shopper email; an empty email leaves ctx unchanged.
func WithEmail(ctx context.Context, email string) context.Context {
	if email == "" {
		return ctx
	}
	id := identityFrom(ctx)
	id.email = email
	return context.WithValue(ctx, identityKey{}, id)
}
