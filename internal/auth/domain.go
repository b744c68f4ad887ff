package auth

import "time"

// Account is a user record as the authentication layer sees it: identity
// plus credentials, nothing about roles. Role resolution belongs to the
// policy layer.
type Account struct {
	Username     string
	Org          string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
