package httpapi

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zahash/mona/internal/audit"
	"github.com/zahash/mona/internal/auth"
)

type userAssignee struct {
	Username string `json:"username"`
}

type accessTokenAssignee struct {
	Username  string `json:"username"`
	TokenName string `json:"token_name"`
}

type permissionRequest struct {
	Permission string `json:"permission"`
	Assignee   struct {
		User        *userAssignee        `json:"user,omitempty"`
		AccessToken *accessTokenAssignee `json:"access_token,omitempty"`
	} `json:"assignee"`
}

func (req permissionRequest) assignee() (auth.Assignee, error) {
	u, t := req.Assignee.User, req.Assignee.AccessToken
	switch {
	case u != nil && t == nil:
		return auth.Assignee{Username: u.Username}, nil
	case t != nil && u == nil:
		if strings.TrimSpace(t.TokenName) == "" {
			return auth.Assignee{}, errors.New("assignee.access_token.token_name is required")
		}
		return auth.Assignee{Username: t.Username, TokenName: t.TokenName}, nil
	}
	return auth.Assignee{}, errors.New("assignee must name exactly one of user or access_token")
}

// maxTokenTTLSeconds keeps ttl_sec representable as a time.Duration.
const maxTokenTTLSeconds = math.MaxInt64 / int64(time.Second)

type introspectRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) handleGenerateAccessToken(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.ensurePermission(w, r, auth.PermAccessTokenGenerate)
	if !ok {
		return
	}
	var ttl *time.Duration
	if raw := formValue(r, "ttl_sec"); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || secs <= 0 || secs > maxTokenTTLSeconds {
			writeError(w, r, http.StatusBadRequest, fmt.Sprintf("ttl_sec must be an integer between 1 and %d", maxTokenTTLSeconds))
			return
		}
		d := time.Duration(secs) * time.Second
		ttl = &d
	}
	tok, rec, err := a.svc.GenerateAccessToken(r.Context(), principal, formValue(r, "name"), ttl)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	defer tok.Zero()

	_ = audit.LogEvent(r.Context(), "access_token.generate", map[string]any{
		"token_id": rec.ID,
		"name":     rec.Name,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"access_token": tok.Encode(),
		"name":         rec.Name,
		"expires_at":   rec.ExpiresAt,
	})
}

func (a *API) handleAccessTokenPermissions(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.ensurePermission(w, r, auth.PermAccessTokenPermissions)
	if !ok {
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("token_name"))
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "token_name is required")
		return
	}
	perms, err := a.svc.AccessTokenPermissions(r.Context(), principal, name)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": permissionList(perms)})
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.ensurePermission(w, r, auth.PermPermissionsList)
	if !ok {
		return
	}
	perms, err := principal.Permissions(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": permissionList(perms)})
}

func (a *API) handleAssignPermission(w http.ResponseWriter, r *http.Request) {
	a.changePermission(w, r, auth.ActionAssign)
}

func (a *API) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	a.changePermission(w, r, auth.ActionRevoke)
}

func (a *API) changePermission(w http.ResponseWriter, r *http.Request, action auth.Action) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		handleAuthError(w, r, auth.ErrNoCredentials)
		return
	}
	var req permissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	to, err := req.assignee()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusCreated
	if action == auth.ActionAssign {
		err = a.svc.AssignPermission(r.Context(), principal, req.Permission, to)
	} else {
		err = a.svc.RevokePermission(r.Context(), principal, req.Permission, to)
		status = http.StatusOK
	}
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, status, map[string]any{
		"status":     string(action),
		"permission": req.Permission,
	})
}

func (a *API) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.ensurePermission(w, r, auth.PermRotateKey); !ok {
		return
	}
	key := formValue(r, "key")
	if key == "" {
		key = auth.KeyHMAC
	}
	if err := a.svc.RotateKey(r.Context(), key); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "secrets.rotate", map[string]any{"key": key})
	writeJSON(w, http.StatusOK, map[string]any{"status": "rotated", "key": key})
}

func (a *API) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		handleAuthError(w, r, auth.ErrNoCredentials)
		return
	}
	var req introspectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result := make(map[string]bool, len(req.Permissions))
	for _, perm := range req.Permissions {
		has, err := principal.HasPermission(r.Context(), perm)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		result[perm] = has
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scheme":      principal.Scheme(),
		"user_id":     principal.UserID(),
		"holder":      principal.Holder(),
		"permissions": result,
	})
}

func permissionList(perms []auth.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.Name)
	}
	return out
}
