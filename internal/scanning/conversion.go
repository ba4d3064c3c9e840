package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// extractionPrompt is the instruction sent with every document, regardless of provider
const extractionPrompt = `Du bist ein Buchhaltungs-Experte.
Analysiere dieses Dokument (Beleg, Quittung oder Rechnung). Extrahiere die folgenden Felder als JSON-Objekt:
- datum (Rechnungs- oder Belegdatum, Format YYYY-MM-DD)
- rechnungsnummer (Rechnungs- oder Belegnummer)
- betrag (Gesamtbetrag brutto als Zahl, Punkt als Dezimaltrenner, z.B. 1234.56)
- netto (Nettobetrag als Zahl, falls vorhanden)
- steuer (Umsatzsteuerbetrag als Zahl, falls vorhanden)
- ust_satz (Umsatzsteuersatz, z.B. "19%")
- lieferant (Firmenname des Ausstellers)
- kategorie (Vorschlag: Supermarkt, Versicherung, Tech, Sonstiges)
- beschreibung (WICHTIG: eine extrem kurze Zusammenfassung des Inhalts in max. 6 Wörtern, z.B. "2x Monitor & Maus" oder "Zugfahrt Berlin-München")
- iban (IBAN des Empfängers, falls angegeben)
- zahlungsstatus (z.B. "bezahlt", "offen" oder "Angebot", wenn erkennbar)

Wichtig:
- Wenn ein Feld nicht gefunden wird, verwende null
- Gib NUR das JSON-Objekt zurück, ohne Text davor oder danach`

// pdfToImage converts the first page of a PDF to a PNG image
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Receipts are almost always a single page
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// imageToPNG converts any supported image format to PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// Go's image package has no HEIC support (common on iPhones)
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, HEIC, HEIF, PDF. Error: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// isHEICFormat checks the ftyp box brand of the data
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

func normalizeMimeType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return mimeType
}

// preparePayload returns the bytes and MIME type to send to a model that
// accepts PDFs natively. JPEG and PNG pass through; other images become PNG.
func preparePayload(doc *Document) ([]byte, string, error) {
	mimeType := normalizeMimeType(doc.ContentType)
	if len(doc.Data) == 0 {
		return nil, "", fmt.Errorf("document %q is empty", doc.Name)
	}

	switch {
	case mimeType == "application/pdf":
		return doc.Data, mimeType, nil
	case (mimeType == "image/jpeg" || mimeType == "image/png") && !isHEICFormat(doc.Data):
		return doc.Data, mimeType, nil
	case strings.HasPrefix(mimeType, "image/"):
		pngData, err := imageToPNG(doc.Data, mimeType)
		if err != nil {
			return nil, "", fmt.Errorf("converting image to PNG: %w", err)
		}
		return pngData, "image/png", nil
	default:
		return nil, "", fmt.Errorf("unsupported content type: %s", mimeType)
	}
}

// prepareImage returns the document as PNG, rendering PDFs to their first page.
// Used for vision models that accept images only.
func prepareImage(doc *Document) ([]byte, error) {
	mimeType := normalizeMimeType(doc.ContentType)
	if len(doc.Data) == 0 {
		return nil, fmt.Errorf("document %q is empty", doc.Name)
	}

	switch {
	case mimeType == "application/pdf":
		pngData, err := pdfToImage(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return pngData, nil
	case mimeType == "image/png" && !isHEICFormat(doc.Data):
		return doc.Data, nil
	case strings.HasPrefix(mimeType, "image/"):
		pngData, err := imageToPNG(doc.Data, mimeType)
		if err != nil {
			return nil, fmt.Errorf("converting image to PNG: %w", err)
		}
		return pngData, nil
	default:
		return nil, fmt.Errorf("unsupported content type: %s", mimeType)
	}
}
