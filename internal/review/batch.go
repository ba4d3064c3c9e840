package review

import (
	"slices"
	"time"

	"github.com/zombor/beleg-scanner/internal/extraction"
)

// State is the lifecycle state of a batch
type State string

const (
	StateRunning   State = "running"
	StateDone      State = "done"
	StateCancelled State = "cancelled"
)

// Batch is one review session: the documents of a single upload and their
// extracted records
type Batch struct {
	ID        string              `json:"id"`
	State     State               `json:"state"`
	Progress  extraction.Progress `json:"progress"`
	Records   []extraction.Record `json:"records"`
	Total     float64             `json:"total"`
	Failed    int                 `json:"failed"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func (b *Batch) clone() *Batch {
	c := *b
	c.Records = slices.Clone(b.Records)
	return &c
}

// summarize recomputes the derived totals after records change
func (b *Batch) summarize() {
	b.Total = extraction.TotalAmount(b.Records)
	b.Failed = 0
	for _, r := range b.Records {
		if r.Failed {
			b.Failed++
		}
	}
}

// RecordEdit is a partial update of one record. Nil fields are left untouched.
type RecordEdit struct {
	Date          *string  `json:"date"`
	InvoiceNumber *string  `json:"invoice_number"`
	Vendor        *string  `json:"vendor"`
	Category      *string  `json:"category"`
	Description   *string  `json:"description"`
	Amount        *float64 `json:"amount"`
	Net           *float64 `json:"net"`
	Tax           *float64 `json:"tax"`
	VATRate       *string  `json:"vat_rate"`
	IBAN          *string  `json:"iban"`
	PaymentStatus *string  `json:"payment_status"`
	Status        *string  `json:"status"`
	Failed        *bool    `json:"failed"`
}
