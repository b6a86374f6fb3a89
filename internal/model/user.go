package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type User struct {
	ID           string           `db:"id" json:"id"`
	Email        string           `db:"email" json:"email"`
	PasswordHash string           `db:"password_hash" json:"-"`
	FullName     string           `db:"full_name" json:"fullName"`
	Role         Role             `db:"role" json:"role"`
	MFAEnabled   bool             `db:"mfa_enabled" json:"mfaEnabled"`
	IsActive     bool             `db:"is_active" json:"isActive"`
	Business     *BusinessProfile `db:"business" json:"business,omitempty"`
	AccessScope  *AccessScope     `db:"access_scope" json:"accessScope,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updatedAt"`
	LastLoginAt  *time.Time       `db:"last_login_at" json:"lastLoginAt,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Business != nil {
		b := *u.Business
		c.Business = &b
	}
	if u.AccessScope != nil {
		s := u.AccessScope.Clone()
		c.AccessScope = &s
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

type CreateUserParams struct {
	Email        string
	PasswordHash string
	FullName     string
	Role         Role
	MFAEnabled   bool
	Business     *BusinessProfile
	AccessScope  *AccessScope
}

// BusinessProfile is the customer-side profile captured at registration.
type BusinessProfile struct {
	BusinessName string       `json:"businessName"`
	BusinessType BusinessType `json:"businessType"`
	Region       string       `json:"region,omitempty"`
}

func (p BusinessProfile) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *BusinessProfile) Scan(src any) error {
	return scanJSON(src, p)
}

// AccessScope limits which applications a relationship manager may act on.
type AccessScope struct {
	Products  []string `json:"products"`
	Regions   []string `json:"regions,omitempty"`
	MaxAmount int64    `json:"maxAmount"`
}

func (s AccessScope) Clone() AccessScope {
	return AccessScope{
		Products:  append([]string(nil), s.Products...),
		Regions:   append([]string(nil), s.Regions...),
		MaxAmount: s.MaxAmount,
	}
}

func (s AccessScope) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *AccessScope) Scan(src any) error {
	return scanJSON(src, s)
}

func scanJSON(src any, dest any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}
