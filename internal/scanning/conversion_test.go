package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	return img
}

func encodePNG() []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, testImage())).To(Succeed())
	return buf.Bytes()
}

func encodeJPEG() []byte {
	var buf bytes.Buffer
	Expect(jpeg.Encode(&buf, testImage(), nil)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Conversion", func() {
	Describe("preparePayload", func() {
		var (
			doc      *Document
			data     []byte
			mimeType string
			err      error
		)

		JustBeforeEach(func() {
			data, mimeType, err = preparePayload(doc)
		})

		When("the document is a PDF", func() {
			BeforeEach(func() {
				doc = &Document{Name: "rechnung.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4 fake")}
			})

			It("should pass the PDF through untouched", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(mimeType).To(Equal("application/pdf"))
				Expect(data).To(Equal(doc.Data))
			})
		})

		When("the document is a JPEG", func() {
			BeforeEach(func() {
				doc = &Document{Name: "beleg.jpg", ContentType: "image/jpeg", Data: encodeJPEG()}
			})

			It("should pass the JPEG through untouched", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(mimeType).To(Equal("image/jpeg"))
				Expect(data).To(Equal(doc.Data))
			})
		})

		When("the document is a GIF-typed JPEG", func() {
			BeforeEach(func() {
				doc = &Document{Name: "beleg.gif", ContentType: "image/gif", Data: encodeJPEG()}
			})

			It("should convert it to PNG", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(mimeType).To(Equal("image/png"))
				Expect(data[:4]).To(Equal(pngMagic))
			})
		})

		When("the image cannot be decoded", func() {
			BeforeEach(func() {
				doc = &Document{Name: "beleg.webp", ContentType: "image/webp", Data: []byte("garbage")}
			})

			It("returns the error", func() {
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("converting image to PNG"))
			})
		})

		When("the content type is not supported", func() {
			BeforeEach(func() {
				doc = &Document{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hello")}
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(ContainSubstring("unsupported content type")))
			})
		})

		When("the document is empty", func() {
			BeforeEach(func() {
				doc = &Document{Name: "leer.png", ContentType: "image/png"}
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(ContainSubstring("is empty")))
			})
		})
	})

	Describe("prepareImage", func() {
		It("should convert a JPEG to PNG", func() {
			data, err := prepareImage(&Document{Name: "beleg.jpg", ContentType: "image/jpeg", Data: encodeJPEG()})
			Expect(err).NotTo(HaveOccurred())
			Expect(data[:4]).To(Equal(pngMagic))
		})

		It("should pass a PNG through", func() {
			original := encodePNG()
			data, err := prepareImage(&Document{Name: "beleg.png", ContentType: "image/png", Data: original})
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(original))
		})
	})

	Describe("isHEICFormat", func() {
		It("should detect the heic brand", func() {
			data := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000")...)
			Expect(isHEICFormat(data)).To(BeTrue())
		})

		It("should reject short data", func() {
			Expect(isHEICFormat([]byte("ftyp"))).To(BeFalse())
		})

		It("should reject other brands", func() {
			data := append([]byte{0, 0, 0, 24}, []byte("ftypisom0000")...)
			Expect(isHEICFormat(data)).To(BeFalse())
		})
	})
})
