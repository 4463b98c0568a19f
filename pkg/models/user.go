package models

import "strings"

// User is a cached peer row.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	AccessHash string `json:"access_hash,omitempty"`
	IsContact  bool   `json:"is_contact"`
	IsBot      bool   `json:"is_bot"`
	IsPremium  bool   `json:"is_premium"`
	FetchedAt  int64  `json:"fetched_at"`
	Raw        []byte `json:"-"`
}

// DisplayName derives the presentation name from first and last name.
// Returns the empty string when both are unset.
func (u *User) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// Account is a persistent daemon identity. At most one account is
// active at a time.
type Account struct {
	ID          int64  `json:"id"`
	Phone       string `json:"phone"`
	DisplayName string `json:"display_name,omitempty"`
	Username    string `json:"username,omitempty"`
	Label       string `json:"label,omitempty"`
	Session     []byte `json:"-"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}
