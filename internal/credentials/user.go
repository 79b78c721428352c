package credentials

// User is the authenticated user profile. Populated only after a successful
// profile fetch; cleared on logout or any auth failure.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	FirstName   string   `json:"firstName,omitempty"`
	LastName    string   `json:"lastName,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	UserType    string   `json:"userType,omitempty"`
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether the user carries the given permission.
func (u *User) HasPermission(permission string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// HasAccess reports whether the user carries any of the given roles or any of
// the given permissions. Empty slices match nothing; both empty means no
// requirement and access is granted.
func (u *User) HasAccess(roles, permissions []string) bool {
	if u == nil {
		return false
	}
	if len(roles) == 0 && len(permissions) == 0 {
		return true
	}
	for _, r := range roles {
		if u.HasRole(r) {
			return true
		}
	}
	for _, p := range permissions {
		if u.HasPermission(p) {
			return true
		}
	}
	return false
}
