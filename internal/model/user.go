package model

import (
	"strings"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity is the acting user passed explicitly into every engine call.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
}

// Identity derives the acting identity for a user. The display name falls
// back to the email local part.
func (u *User) Identity() Identity {
	name := u.DisplayName
	if name == "" {
		name, _, _ = strings.Cut(u.Email, "@")
	}
	return Identity{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: name,
		Role:        u.Role,
	}
}

// Ref snapshots the identity for embedding into a task document.
func (i Identity) Ref() UserRef {
	return UserRef{ID: i.ID, Name: i.DisplayName}
}
