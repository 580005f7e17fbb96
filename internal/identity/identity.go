// Package identity resolves bearer credentials to a typed caller identity.
package identity

import (
	"context"
	"strings"
)

// Role is the caller's coarse permission level.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleUser      Role = "user"
	RoleAnonymous Role = "anonymous"
)

// Identity is resolved once per request and passed explicitly to the service.
type Identity struct {
	UserID  string `json:"id"`
	Email   string `json:"email"`
	Role    Role   `json:"role"`
	CanEdit bool   `json:"can_edit"`
}

// Anonymous is the identity of a caller without a valid credential.
var Anonymous = Identity{Role: RoleAnonymous}

// Authenticated reports whether a credential was accepted.
func (i Identity) Authenticated() bool { return i.Role != RoleAnonymous && i.UserID != "" }

// IsAdmin reports whether the caller has the admin role.
func (i Identity) IsAdmin() bool { return i.Authenticated() && i.Role == RoleAdmin }

// CanMutate reports whether the caller may apply changes.
func (i Identity) CanMutate() bool { return i.IsAdmin() || (i.Authenticated() && i.CanEdit) }

// Resolver maps a bearer token to an Identity. Unknown or empty tokens yield
// Anonymous with a nil error; errors mean the resolver itself failed.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// normalize applies the metadata rules shared by every resolver: only "admin"
// is elevated and admins can always edit.
func normalize(id Identity) Identity {
	if id.UserID == "" {
		return Anonymous
	}
	if strings.EqualFold(string(id.Role), string(RoleAdmin)) {
		id.Role = RoleAdmin
		id.CanEdit = true
	} else {
		id.Role = RoleUser
	}
	return id
}

type ctxKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored on ctx or Anonymous.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(ctxKey{}).(Identity); ok {
		return id
	}
	return Anonymous
}
