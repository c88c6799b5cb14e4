package domain

// AuthState mirrors the hosted identity session into the shared store
type AuthState struct {
	IsLoggedIn bool    `json:"isLoggedIn"`
	Token      *string `json:"token"`
	UID        *string `json:"uid"`
	Pending    bool    `json:"pending"`
	Error      *string `json:"error"`
}

// UserInformation is the profile shown in the popup header
type UserInformation struct {
	UID   *string `json:"uid"`
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// FirstName returns the first word of the display name, as greeted in the popup
func (u *UserInformation) FirstName() string {
	if u == nil || u.Name == nil {
		return ""
	}
	name := *u.Name
	for i, r := range name {
		if r == ' ' {
			return name[:i]
		}
	}
	return name
}

// Session is the result of a successful password sign-in
type Session struct {
	UID          string
	Email        string
	IDToken      string
	RefreshToken string
}

// Profile is the per-user document kept by the identity collaborator
type Profile struct {
	UID   string
	Name  string
	Email string
}

// LoginRequest is the body of a login call
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}
