package auth

const (
	PermPermissionsList        = "get:/permissions"
	PermPermissionsAssign      = "post:/permissions"
	PermPermissionsRevoke      = "delete:/permissions"
	PermAccessTokenGenerate    = "post:/access-token/generate"
	PermAccessTokenPermissions = "get:/access-token/permissions"
	PermRotateKey              = "post:/rotate-key"
)

// GroupSignup is applied to every account created through signup.
const GroupSignup = "signup"

var BuiltinPermissions = []Permission{
	{Name: PermPermissionsList, Description: "List own permissions"},
	{Name: PermPermissionsAssign, Description: "Grant permissions the caller holds"},
	{Name: PermPermissionsRevoke, Description: "Revoke permissions the caller holds"},
	{Name: PermAccessTokenGenerate, Description: "Generate access tokens"},
	{Name: PermAccessTokenPermissions, Description: "List permissions of own access tokens"},
	{Name: PermRotateKey, Description: "Rotate signing keys"},
}

var SignupPermissions = []string{
	PermPermissionsList,
	PermAccessTokenGenerate,
	PermAccessTokenPermissions,
}
