package models

// Package is a purchasable credit bundle. The catalog is static; payment is
// simulated, so redeeming a valid package always credits the account.
type Package struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Credits int64   `json:"credits"`
	Price   float64 `json:"price"`
	Popular bool    `json:"popular,omitempty"`
}
