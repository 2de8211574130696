package model

import "github.com/golang-jwt/jwt/v5"

// AdminClaims is the JWT payload for operator tokens.
type AdminClaims struct {
	AdminID string `json:"adminId"`
	jwt.RegisteredClaims
}

// UserClaims is the JWT payload for user tokens.
type UserClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token   string `json:"token"`
	AdminID string `json:"adminId"`
}
