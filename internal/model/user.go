package model

import "time"

// User is a stable identity resolved from the external identity provider.
// Created on first successful authentication, never destroyed.
type User struct {
	ID          string // provider subject, opaque
	DisplayName string
	Email       string // optional; unique when present
	CreatedAt   time.Time
	LastLoginAt time.Time
}
