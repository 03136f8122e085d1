package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator" // may trigger scans and ingest requests
	RoleViewer   = "viewer"   // read-only
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// ReadRoles may call every read endpoint.
var ReadRoles = []string{RoleOperator, RoleViewer}

func Known(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}
