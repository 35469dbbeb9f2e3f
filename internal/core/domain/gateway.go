package domain

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InitiateRequest is everything an adapter needs to start a payment session.
type InitiateRequest struct {
	PaymentID   uuid.UUID
	OrderID     uuid.UUID
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Email       string
	Phone       string
	// ReturnURL is where redirect-based gateways send the customer back to.
	ReturnURL string
}

// InitiateResult is returned by a gateway once a session exists on its side.
type InitiateResult struct {
	ExternalReference string
	// RedirectURL is set for hosted checkouts. Mobile money prompts leave it empty.
	RedirectURL     string
	CustomerMessage string
	Metadata        json.RawMessage
}

type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomePending   OutcomeStatus = "pending"
)

// Outcome is the gateway's server-side answer about a payment session.
type Outcome struct {
	Status   OutcomeStatus
	Amount   decimal.Decimal
	Currency string
	Receipt  string
	Reason   string
	Metadata json.RawMessage
}

// CallbackNotice is what can be safely taken from an inbound webhook: the reference to re-verify.
type CallbackNotice struct {
	ExternalReference string
	EventType         string
	// MerchantReference is our own reference as echoed back by the provider, if it sends one.
	MerchantReference string
}
