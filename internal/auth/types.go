package auth

import "time"

// User is an account that can log in with a username and password.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	PasswordHash  string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// Session is the persisted half of a login. IDHash is the SHA-256 digest of
// the cookie value; the raw id never leaves the response that set it.
type Session struct {
	IDHash    []byte
	UserID    string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// AccessToken is a named, optionally expiring API credential owned by a user.
// A nil ExpiresAt never expires.
type AccessToken struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Hash      []byte     `json:"-"`
	UserID    string     `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Permission is a catalog entry, conventionally "<action>:<resource>".
type Permission struct {
	ID          string `json:"id"`
	Name        string `json:"permission"`
	Description string `json:"description,omitempty"`
}

// SubjectType identifies what kind of entity holds or receives a grant.
type SubjectType string

const (
	SubjectUser        SubjectType = "user"
	SubjectAccessToken SubjectType = "access_token"
)

// Subject is a permission holder: a user or one of its access tokens.
type Subject struct {
	Type SubjectType `json:"type"`
	ID   string      `json:"id"`
}

// Action is the audited change applied to a grant.
type Action string

const (
	ActionAssign Action = "assign"
	ActionRevoke Action = "revoke"
)

// AuditEntry is one row of the append-only permissions audit log.
type AuditEntry struct {
	ID           string    `json:"id"`
	Assigner     Subject   `json:"assigner"`
	Assignee     Subject   `json:"assignee"`
	PermissionID string    `json:"permission_id"`
	Action       Action    `json:"action"`
	CreatedAt    time.Time `json:"created_at"`
}
