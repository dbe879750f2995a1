package models

import "time"

type User struct {
	ID           int    `json:"id" example:"1"`                       // User ID
	Email        string `json:"email" example:"user@example.com"`     // User email
	FirstName    string `json:"FirstName" example:"Joao"`             // User first name
	LastName     string `json:"LastName" example:"Silva"`             // User last name
	CPF          string `json:"CPF" example:"12345678901"`            // User CPF (digits only)
	PhoneNumber  string `json:"PhoneNumber" example:"+5511987654321"` // User phone number
	ReferralCode string `json:"referral_code" example:"a3f2c1b0"`     // Code this user shares
	Role         string `json:"role"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
