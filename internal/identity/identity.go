// Package identity carries the authenticated actor through a request.
// Authentication itself belongs to the identity collaborator; this service
// trusts the actor id and role it forwards.
package identity

import (
	"context"
	"fmt"
	"strings"
)

type Role string

const (
	RoleClient   Role = "client"
	RoleProducer Role = "producer"
	RoleAdmin    Role = "admin"
)

// ParseRole validates a role name, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleClient, RoleProducer, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor is the caller of an operation.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) String() string {
	return fmt.Sprintf("%s:%s", a.Role, a.ID)
}

// System returns the admin actor used by sweeps and operator tooling.
func System(name string) Actor {
	return Actor{ID: name, Role: RoleAdmin}
}

type contextKey struct{}

// WithActor stores the actor on the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// FromContext returns the actor stored by WithActor.
func FromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(contextKey{}).(Actor)
	return actor, ok
}
