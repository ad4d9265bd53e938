package models

import "time"

// User captures application-facing fields for an authenticated identity.
// Credits is only ever mutated through the credit service.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Credits      int64     `json:"credits"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
