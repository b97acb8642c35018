package sessions

import (
	"context"
	"fmt"

	"github.com/propflow/handoff/internal/config"
	"github.com/propflow/handoff/internal/core"
)

var _ core.RoleResolver = (*StaticRoleResolver)(nil)

// StaticRoleResolver resolves roles from configuration. The receiving
// side uses it so the role is looked up fresh at redemption instead of
// being trusted from the transfer token.
type StaticRoleResolver struct {
	users       map[string]core.Role
	defaultRole core.Role
}

func NewStaticRoleResolver(cfg config.RolesConfig) (*StaticRoleResolver, error) {
	users := make(map[string]core.Role, len(cfg.Users))
	for userID, raw := range cfg.Users {
		role, err := core.ParseRole(raw)
		if err != nil {
			return nil, fmt.Errorf("role for user %q: %w", userID, err)
		}
		users[userID] = role
	}

	var defaultRole core.Role
	if cfg.Default != "" {
		role, err := core.ParseRole(cfg.Default)
		if err != nil {
			return nil, fmt.Errorf("default role: %w", err)
		}
		defaultRole = role
	}

	return &StaticRoleResolver{
		users:       users,
		defaultRole: defaultRole,
	}, nil
}

func (r *StaticRoleResolver) Resolve(_ context.Context, userID string) (core.Role, error) {
	if role, ok := r.users[userID]; ok {
		return role, nil
	}
	if r.defaultRole != "" {
		return r.defaultRole, nil
	}
	return "", fmt.Errorf("no role for user %q", userID)
}
