package extraction

import (
	"time"
)

// Placeholder stands in for an absent text field
const Placeholder = "-"

// ErrorMarker is the vendor and category of a failed record
const ErrorMarker = "ERROR"

// Status is the tri-state classification of a receipt
type Status string

const (
	StatusQuote   Status = "quote"
	StatusSettled Status = "settled"
	StatusOpen    Status = "open"
)

// Record is the normalized result of processing one document
type Record struct {
	Index         int        `json:"index"` // position in the submitted batch
	Filename      string     `json:"filename"`
	Date          *time.Time `json:"date"`
	InvoiceNumber string     `json:"invoice_number"`
	Vendor        string     `json:"vendor"`
	Category      string     `json:"category"`
	Description   string     `json:"description"`
	Amount        float64    `json:"amount"`
	Net           float64    `json:"net"`
	Tax           float64    `json:"tax"`
	VATRate       string     `json:"vat_rate"`
	IBAN          string     `json:"iban"`
	PaymentStatus string     `json:"payment_status"`
	Status        Status     `json:"status"`
	Failed        bool       `json:"failed"`
	Error         string     `json:"error,omitempty"`
}

// FailedRecord builds the placeholder record for a document that could not
// be processed
func FailedRecord(index int, filename string, err error) Record {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Record{
		Index:         index,
		Filename:      filename,
		InvoiceNumber: Placeholder,
		Vendor:        ErrorMarker,
		Category:      ErrorMarker,
		Description:   Placeholder,
		VATRate:       Placeholder,
		IBAN:          Placeholder,
		PaymentStatus: Placeholder,
		Status:        StatusOpen,
		Failed:        true,
		Error:         msg,
	}
}

// DateString formats the date as YYYY-MM-DD, or "" when absent
func (r Record) DateString() string {
	if r.Date == nil {
		return ""
	}
	return r.Date.Format(time.DateOnly)
}
