package rbac

const (
	RoleAdmin        = "admin"
	RolePsychologist = "psychologist"
	RoleUser         = "user"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r string) bool {
	switch r {
	case RoleAdmin, RolePsychologist, RoleUser:
		return true
	}
	return false
}

var userPerms = []string{
	"test:view",
	"result:create",
	"result:view-own",
	"user:change_password",
}

// RolePermissions is the default policy.
var RolePermissions = map[string][]string{
	RoleUser: userPerms,
	RolePsychologist: append(append([]string{}, userPerms...),
		"test:manage",
		"result:view-all",
		"result:export",
		"blog:manage",
		"media:upload",
		"users:list",
	),
	RoleAdmin: {
		"*", // everything
	},
}
