package model

import "slices"

// Identity is the validated caller handed over by the authentication collaborator.
type Identity struct {
	SessionID   string   `json:"session_id"`
	UserID      string   `json:"user_id"`
	FacultyID   string   `json:"faculty_id,omitempty"`
	Permissions []string `json:"permissions"`
}

func (i *Identity) HasPermission(p string) bool {
	return slices.Contains(i.Permissions, p)
}

// Valid reports whether the identity carries the fields a connection needs.
func (i *Identity) Valid() bool {
	return i != nil && i.SessionID != "" && i.UserID != ""
}
