package accounts

import "time"

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Account models a chart of accounts node. Every account is denominated in one currency.
type Account struct {
	ID        int64       `db:"id" json:"id"`
	Code      string      `db:"code" json:"code"`
	Name      string      `db:"name" json:"name"`
	Type      AccountType `db:"type" json:"type"`
	Currency  string      `db:"currency" json:"currency"`
	IsActive  bool        `db:"is_active" json:"is_active"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// Label renders the account for messages.
func (a Account) Label() string {
	if a.Code == "" {
		return a.Name
	}
	return a.Code + " " + a.Name
}

// CreateInput captures a new account.
type CreateInput struct {
	Code     string      `json:"code" validate:"required,max=32"`
	Name     string      `json:"name" validate:"required,max=128"`
	Type     AccountType `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	Currency string      `json:"currency" validate:"required,len=3,uppercase"`
}
