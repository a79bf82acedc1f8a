package entity

// Role is a member's standing inside a household.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

func (r Role) Valid() bool { return r == RoleOwner || r == RoleMember }

// CanManage reports whether the role may rename the household or remove members.
func (r Role) CanManage() bool { return r == RoleOwner }
