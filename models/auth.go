package models

import "time"

type JsonModel struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Caller is the verified identity behind a bearer token.
type Caller struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}
