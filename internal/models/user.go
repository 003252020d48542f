package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User is the read-only membership snapshot consumed by the eligibility
// gate. The vetting workflow itself lives in the identity subsystem;
// is_vetted on this row is the single authoritative flag.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        string    `bun:"id,pk" json:"id"`
	Email     string    `bun:"email,unique,notnull" json:"email"`
	SceneName string    `bun:"scene_name,notnull" json:"scene_name"`
	IsVetted  bool      `bun:"is_vetted,notnull" json:"is_vetted"`
	Role      string    `bun:"role,notnull" json:"role"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero" json:"updated_at"`
}
