package models

import "time"

// Transaction types recorded in the ledger.
const (
	TxGift     = "gift"
	TxRecharge = "recharge"
	TxUse      = "use"
)

// Transaction is one immutable ledger entry. Balance is the user's balance
// immediately after the entry was applied, so replaying a user's entries in
// creation order reconstructs the current balance.
type Transaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	Balance   int64     `json:"balance"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}
