// Package domain contains core domain types for the bot dashboard.
package domain

// Account types accepted at registration.
const (
	AccountTypeNoEmail = "noemail"
	AccountTypeEmail   = "email"
)

// User represents a registered dashboard account.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
	AccountType  string `json:"type"`
	Email        string `json:"email,omitempty"`
}

// PublicUser is the view of a user that is safe to return to clients.
type PublicUser struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	AccountType string  `json:"type"`
	Email       *string `json:"email"`
}

// Public strips the password hash.
func (u *User) Public() *PublicUser {
	if u == nil {
		return nil
	}
	return &PublicUser{
		ID:          u.ID,
		Username:    u.Username,
		AccountType: u.AccountType,
		Email:       nullable(u.Email),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
