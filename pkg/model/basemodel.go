package model

import "time"

// BaseModel gives every ledger row a database generated UUID.
type BaseModel struct {
	ID        string    `gorm:"primarykey;type:uuid;default:gen_random_uuid()" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
