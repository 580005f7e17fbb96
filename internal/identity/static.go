package identity

import (
	"context"
	"crypto/subtle"
)

// StaticToken binds a fixed bearer token to an identity.
type StaticToken struct {
	Token   string `yaml:"token" validate:"required"`
	UserID  string `yaml:"user_id" validate:"required"`
	Email   string `yaml:"email"`
	Role    Role   `yaml:"role" validate:"omitempty,oneof=admin user"`
	CanEdit bool   `yaml:"can_edit"`
}

// StaticResolver resolves identities from a fixed token table. Used for
// local runs and tests.
type StaticResolver struct {
	tokens []StaticToken
}

// NewStatic returns a resolver over tokens.
func NewStatic(tokens ...StaticToken) *StaticResolver {
	return &StaticResolver{tokens: append([]StaticToken(nil), tokens...)}
}

func (s *StaticResolver) Resolve(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Anonymous, nil
	}
	for _, t := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) == 1 {
			return normalize(Identity{UserID: t.UserID, Email: t.Email, Role: t.Role, CanEdit: t.CanEdit}), nil
		}
	}
	return Anonymous, nil
}
