package auth

// Admin role constants.
const (
	RoleAuditor = "auditor"
	RoleAdmin   = "admin"
)

// AuditRoles returns roles allowed to read the purchase ledger.
func AuditRoles() []string {
	return []string{RoleAuditor, RoleAdmin}
}
