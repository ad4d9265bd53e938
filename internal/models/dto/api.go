package dto

import "github.com/xielinshan811-lab/svg-animate/internal/models"

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

type RechargeRequest struct {
	PackageID string `json:"packageId"`
}

type RechargeResponse struct {
	Credits int64 `json:"credits"`
	Added   int64 `json:"added"`
}

type GenerateRequest struct {
	Prompt string `json:"prompt"`
}
