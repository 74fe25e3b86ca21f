package identity

import (
	"context"
	"errors"
	"strings"

	"carechat-service/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Provider resolves a bearer token to a participant identity. Login itself
// lives in an external identity service; this component only consumes the
// resulting (participant, role) pair.
type Provider interface {
	Resolve(ctx context.Context, token string) (participantID string, role models.Role, err error)
}

// StaticProvider maps tokens configured via environment to identities. It
// stands in for a real identity service in development and tests.
type StaticProvider struct {
	tokens map[string]staticIdentity
}

type staticIdentity struct {
	participantID string
	role          models.Role
}

// NewStaticProvider parses "token=participant:role[,token=participant:role]".
// Malformed entries are skipped.
func NewStaticProvider(spec string) *StaticProvider {
	p := &StaticProvider{tokens: make(map[string]staticIdentity)}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, rest, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		participantID, roleStr, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		role := models.Role(roleStr)
		if participantID == "" || !role.Valid() {
			continue
		}
		p.tokens[token] = staticIdentity{participantID: participantID, role: role}
	}
	return p
}

// Resolve looks the token up in the static map.
func (p *StaticProvider) Resolve(ctx context.Context, token string) (string, models.Role, error) {
	id, ok := p.tokens[token]
	if !ok {
		return "", "", ErrInvalidToken
	}
	return id.participantID, id.role, nil
}
