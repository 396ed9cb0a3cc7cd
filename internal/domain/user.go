package domain

import "time"

// User represents a platform account.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Public returns the projection embedded in membership payloads.
func (u User) Public() MemberUser {
	return MemberUser{ID: u.ID, Name: u.Name, Email: u.Email}
}
