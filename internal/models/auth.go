package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Operator is a field operator allowed to run audits.
type Operator struct {
	ID          string     `db:"id" json:"id"`
	Code        string     `db:"code" json:"code"`
	FullName    string     `db:"full_name" json:"full_name"`
	PinHash     string     `db:"pin_hash" json:"-"`
	Active      bool       `db:"active" json:"active"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	LastLoginAt *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
}

// LoginRequest holds operator credentials.
type LoginRequest struct {
	Code     string `json:"code" validate:"required,max=64"`
	PIN      string `json:"pin" validate:"required,min=4,max=32"`
	DeviceID string `json:"device_id" validate:"max=128"`
}

// LoginResponse returns the issued access token.
type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	ExpiresIn   int64        `json:"expires_in"`
	Operator    OperatorInfo `json:"operator"`
	DeviceID    string       `json:"device_id"`
	IssuedAt    time.Time    `json:"issued_at"`
}

// OperatorInfo describes the authenticated operator in responses.
type OperatorInfo struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	FullName string `json:"full_name"`
}

// CreateOperatorRequest registers an operator.
type CreateOperatorRequest struct {
	Code     string `json:"code" validate:"required,max=64"`
	FullName string `json:"full_name" validate:"required,max=256"`
	PIN      string `json:"pin" validate:"required,min=4,max=32"`
}

// JWTClaims represents the access token payload.
type JWTClaims struct {
	OperatorID string `json:"operator_id"`
	Code       string `json:"code"`
	FullName   string `json:"full_name"`
	DeviceID   string `json:"device_id"`
	jwt.RegisteredClaims
}
