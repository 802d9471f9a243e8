package models

import "time"

// Holding is a user's position in one cryptocurrency
type Holding struct {
	UserID       string    `bson:"user_id" json:"-"`
	CryptoID     string    `bson:"crypto_id" json:"id"`
	Symbol       string    `bson:"symbol" json:"symbol"`
	Name         string    `bson:"name" json:"name"`
	Amount       float64   `bson:"amount" json:"amount"`
	AvgPrice     float64   `bson:"avg_price" json:"avgPrice"`
	CurrentPrice float64   `bson:"-" json:"currentPrice"`
	CreatedAt    time.Time `bson:"created_at" json:"-"`
	UpdatedAt    time.Time `bson:"updated_at" json:"-"`
}

// AddHoldingRequest is the body of POST /api/portfolio
type AddHoldingRequest struct {
	CryptoID string  `json:"crypto_id"`
	Symbol   string  `json:"symbol"`
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	AvgPrice float64 `json:"avgPrice"`
}

// HoldingResponse confirms an add or merge
type HoldingResponse struct {
	Message string `json:"message"`
	*Holding
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}
