package models

import (
	"time"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleDriver  Role = "driver"
)

func (r Role) IsValid() bool {
	return r == RoleStudent || r == RoleDriver
}

// Side maps an account role onto the side it plays in a ride.
func (r Role) Side() Side {
	if r == RoleDriver {
		return SideProvider
	}
	return SideRequester
}

type Profile struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	Role         Role      `db:"role" json:"role"`
	IsVerified   bool      `db:"is_verified" json:"is_verified"`
	Vehicle      *string   `db:"vehicle" json:"vehicle,omitempty"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	Rating       float64   `db:"rating" json:"rating"`
	PasswordHash *string   `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Role     Role   `json:"role" validate:"required,oneof=student driver"`
	Name     string `json:"name" validate:"omitempty,min=2,max=100"`
	Vehicle  string `json:"vehicle,omitempty" validate:"omitempty,max=100"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,min=10,max=20"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type FederatedSignInRequest struct {
	Assertion string `json:"assertion" validate:"required"`
	RoleHint  Role   `json:"role_hint,omitempty" validate:"omitempty,oneof=student driver"`
}

type ProfileResponse struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	Name       string  `json:"name"`
	Role       Role    `json:"role"`
	IsVerified bool    `json:"is_verified"`
	Vehicle    *string `json:"vehicle,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Rating     float64 `json:"rating"`
}

// ProviderListing is one entry of the directory a student picks a driver from.
type ProviderListing struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Vehicle string  `json:"vehicle"`
	Phone   string  `json:"phone,omitempty"`
	Rating  float64 `json:"rating"`
	Online  bool    `json:"online"`
}

func (p *Profile) ToResponse() *ProfileResponse {
	return &ProfileResponse{
		ID:         p.ID,
		Email:      p.Email,
		Name:       p.Name,
		Role:       p.Role,
		IsVerified: p.IsVerified,
		Vehicle:    p.Vehicle,
		Phone:      p.Phone,
		Rating:     p.Rating,
	}
}

func (p *Profile) ToListing(online bool) ProviderListing {
	l := ProviderListing{
		ID:     p.ID,
		Name:   p.Name,
		Rating: p.Rating,
		Online: online,
	}
	if p.Vehicle != nil {
		l.Vehicle = *p.Vehicle
	}
	if p.Phone != nil {
		l.Phone = *p.Phone
	}
	return l
}

// DisplayName falls back to the role name when a profile carries no name.
func (p *Profile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	if p.Role == RoleDriver {
		return "Driver"
	}
	return "Student"
}
