// Package auth guards the operator endpoints of the status listener with static
// bearer tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
)

type Identity struct {
	Operator string
}

type TokenValidator interface {
	Validate(ctx context.Context, token string) (Identity, bool)
}

type StaticTokenValidator struct {
	tokens map[string]Identity
}

// NewStaticTokenValidator parses "operator:token" entries separated by commas.
func NewStaticTokenValidator(raw string) (*StaticTokenValidator, error) {
	validator := &StaticTokenValidator{tokens: map[string]Identity{}}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		operator, token, ok := strings.Cut(strings.TrimSpace(entry), ":")
		operator = strings.TrimSpace(operator)
		token = strings.TrimSpace(token)
		if !ok || operator == "" || token == "" {
			return nil, fmt.Errorf("invalid token entry %q: expected operator:token", entry)
		}
		if _, exists := validator.tokens[token]; exists {
			return nil, fmt.Errorf("invalid token entry %q: token already assigned", entry)
		}
		validator.tokens[token] = Identity{Operator: operator}
	}
	return validator, nil
}

func (v *StaticTokenValidator) Len() int { return len(v.tokens) }

func (v *StaticTokenValidator) Validate(_ context.Context, token string) (Identity, bool) {
	for candidate, identity := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return identity, true
		}
	}
	return Identity{}, false
}
