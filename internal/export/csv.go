package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/zombor/beleg-scanner/internal/extraction"
)

// BOM lets Excel on Windows detect UTF-8
var BOM = []byte{0xEF, 0xBB, 0xBF}

// Columns is the canonical column order of every export
var Columns = []string{
	"Datei-Name",
	"datum",
	"lieferant",
	"betrag",
	"rechnungsnummer",
	"beschreibung",
	"kategorie",
	"status",
	"netto",
	"steuer",
	"ust_satz",
	"iban",
	"zahlungsstatus",
	"fehler",
}

// WriteCSV writes the header and one row per record
func WriteCSV(w io.Writer, records []extraction.Record, withBOM bool) error {
	if withBOM {
		if _, err := w.Write(BOM); err != nil {
			return err
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for i := range records {
		if err := cw.Write(Row(&records[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Row converts a record to its column values
func Row(r *extraction.Record) []string {
	return []string{
		r.Filename,
		r.DateString(),
		r.Vendor,
		formatMoney(r.Amount),
		r.InvoiceNumber,
		r.Description,
		r.Category,
		string(r.Status),
		formatMoney(r.Net),
		formatMoney(r.Tax),
		r.VATRate,
		r.IBAN,
		r.PaymentStatus,
		r.Error,
	}
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
