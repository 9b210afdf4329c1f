package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zahash/mona/internal/ids"
	"github.com/zahash/mona/internal/obs"
)

// Assignee names the receiver of a grant: a user by username, or one of that
// user's access tokens when TokenName is set.
type Assignee struct {
	Username  string `json:"username"`
	TokenName string `json:"token_name,omitempty"`
}

// AssignPermission grants permission to the assignee on behalf of p. p must
// hold both post:/permissions and the permission itself. Every attempt that
// passes the checks is audited, including grants that already existed.
func (s *Service) AssignPermission(ctx context.Context, p Principal, permission string, to Assignee) error {
	return s.changeGrant(ctx, p, permission, to, ActionAssign)
}

// RevokePermission removes a grant. p must hold delete:/permissions and the
// permission itself.
func (s *Service) RevokePermission(ctx context.Context, p Principal, permission string, to Assignee) error {
	return s.changeGrant(ctx, p, permission, to, ActionRevoke)
}

func (s *Service) changeGrant(ctx context.Context, p Principal, permission string, to Assignee, action Action) error {
	err := s.applyGrant(ctx, p, permission, to, action)
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientPermissions):
		outcome = "forbidden"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidInput):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	obs.ObservePermissionChange(string(action), outcome)
	return err
}

func (s *Service) applyGrant(ctx context.Context, p Principal, permission string, to Assignee, action Action) error {
	if p == nil {
		return ErrNoCredentials
	}
	permission = strings.TrimSpace(permission)
	if permission == "" {
		return fmt.Errorf("%w: permission is required", ErrInvalidInput)
	}
	if strings.TrimSpace(to.Username) == "" {
		return fmt.Errorf("%w: assignee username is required", ErrInvalidInput)
	}
	required := PermPermissionsAssign
	if action == ActionRevoke {
		required = PermPermissionsRevoke
	}

	var entry AuditEntry
	err := s.store.InTx(ctx, func(tx Tx) error {
		holder := p.Holder()
		for _, perm := range []string{required, permission} {
			ok, err := tx.SubjectHas(ctx, holder, perm)
			if err != nil {
				return fmt.Errorf("check permission %s: %w", perm, err)
			}
			if !ok {
				return ErrInsufficientPermissions
			}
		}

		assignee, err := resolveAssignee(ctx, tx, to)
		if err != nil {
			return err
		}
		perm, err := tx.FindPermission(ctx, permission)
		if err != nil {
			return fmt.Errorf("permission %s: %w", permission, err)
		}

		switch action {
		case ActionAssign:
			err = tx.Grant(ctx, assignee, perm.ID)
		case ActionRevoke:
			err = tx.Revoke(ctx, assignee, perm.ID)
		}
		if err != nil {
			return fmt.Errorf("%s permission: %w", action, err)
		}

		entry = AuditEntry{
			ID:           ids.New(),
			Assigner:     holder,
			Assignee:     assignee,
			PermissionID: perm.ID,
			Action:       action,
			CreatedAt:    s.now().UTC(),
		}
		if err := tx.AppendAudit(ctx, &entry); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.onAudit != nil {
		s.onAudit(ctx, entry)
	}
	return nil
}

func resolveAssignee(ctx context.Context, tx Tx, to Assignee) (Subject, error) {
	u, err := tx.FindUserByUsername(ctx, to.Username)
	if err != nil {
		return Subject{}, fmt.Errorf("user %s: %w", to.Username, err)
	}
	if to.TokenName == "" {
		return Subject{Type: SubjectUser, ID: u.ID}, nil
	}
	t, err := tx.FindAccessTokenByName(ctx, u.ID, to.TokenName)
	if err != nil {
		return Subject{}, fmt.Errorf("access token %s/%s: %w", to.Username, to.TokenName, err)
	}
	return Subject{Type: SubjectAccessToken, ID: t.ID}, nil
}
