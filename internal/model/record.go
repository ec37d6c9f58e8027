// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is the unit of classification: a single ledger transaction.
type Record struct {
	Date             time.Time
	ExistingCategory *string // Category already assigned by the ledger, if any
	ID               string
	Payee            string // Raw payee text as supplied by the ledger
	Account          string
	Labels           []string // Labels already present on the record
	Amount           decimal.Decimal
}

// HasCategory reports whether the ledger already assigned a category.
func (r *Record) HasCategory() bool {
	return r.ExistingCategory != nil && strings.TrimSpace(*r.ExistingCategory) != ""
}

// Fingerprint returns a stable hash of the fields that influence classification.
func (r *Record) Fingerprint() string {
	data := fmt.Sprintf("%s:%s:%s:%s",
		r.Date.Format("2006-01-02"),
		r.Amount.StringFixed(2),
		strings.ToUpper(strings.TrimSpace(r.Payee)),
		r.Account)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
