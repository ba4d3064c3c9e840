package review

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/beleg-scanner/internal/extraction"
)

var _ = Describe("Server", func() {
	var (
		extractor   *mockExtractor
		service     *Service
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		extractor = &mockExtractor{}
	})

	JustBeforeEach(func() {
		runner := extraction.NewRunner(extractor, nil, extraction.Config{Concurrency: 2, InputOrder: true})
		service = NewServiceWithDeps(NewMemoryDB(), runner, &mockIDGenerator{},
			&mockTimeSource{now: time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, http.NewServeMux())

		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(".*"), server.ServeHTTP)
		}
	})

	AfterEach(func() {
		if extractor.release != nil {
			select {
			case <-extractor.release:
			default:
				close(extractor.release)
			}
		}
		service.Shutdown()
		ghttpServer.Close()
	})

	upload := func(field string, names ...string) *http.Response {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		for _, name := range names {
			part, err := writer.CreateFormFile(field, name)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte{0xFF, 0xD8, 0xFF})
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghttpServer.URL()+"/api/batches", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeBatch := func(resp *http.Response) *Batch {
		defer resp.Body.Close()
		var batch Batch
		Expect(json.NewDecoder(resp.Body).Decode(&batch)).To(Succeed())
		return &batch
	}

	uploadAndWait := func(names ...string) *Batch {
		resp := upload("files", names...)
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
		batch := decodeBatch(resp)
		return waitForState(service, batch.ID, StateDone)
	}

	Describe("POST /api/batches", func() {
		When("files are uploaded", func() {
			It("should accept the batch", func() {
				resp := upload("files", "a.jpg", "b.jpg")
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
				batch := decodeBatch(resp)
				Expect(batch.ID).To(Equal("batch-1"))
				Expect(batch.Progress.Total).To(Equal(2))
			})

			It("should set CORS headers", func() {
				resp := upload("files", "a.jpg")
				defer resp.Body.Close()
				Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			})
		})

		When("a single file is uploaded as 'file'", func() {
			It("should accept the batch", func() {
				resp := upload("file", "a.jpg")
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
				resp.Body.Close()
			})
		})

		When("an unsupported file is uploaded", func() {
			It("should flag it instead of rejecting the upload", func() {
				batch := uploadAndWait("a.jpg", "notes.txt")
				Expect(batch.Records).To(HaveLen(2))
				Expect(batch.Records[1].Failed).To(BeTrue())
				Expect(batch.Records[1].Error).To(ContainSubstring("unsupported"))
			})

			It("should log a warning for it", func() {
				logs := gbytes.NewBuffer()
				slog.SetDefault(slog.New(slog.NewTextHandler(logs, nil)))
				DeferCleanup(func() {
					slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
				})

				resp := upload("files", "notes.txt")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
				Expect(logs).To(gbytes.Say(`Unsupported file type.*filename=notes.txt`))
			})
		})

		When("no files are uploaded", func() {
			It("should return Bad Request", func() {
				resp := upload("files")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			})
		})

		When("the body is not multipart", func() {
			It("should return Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/batches", "application/json", strings.NewReader("{}"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("GET /api/batches/{id}", func() {
		It("should return the finished batch", func() {
			batch := uploadAndWait("a.jpg", "error.jpg")

			resp, err := http.Get(ghttpServer.URL() + "/api/batches/" + batch.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			got := decodeBatch(resp)
			Expect(got.State).To(Equal(StateDone))
			Expect(got.Records).To(HaveLen(2))
			Expect(got.Failed).To(Equal(1))
		})

		It("should return Not Found for unknown batches", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/batches/missing")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("PATCH /api/batches/{id}/records/{index}", func() {
		patch := func(path string, body string) *http.Response {
			req, err := http.NewRequest(http.MethodPatch, ghttpServer.URL()+path, strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("should return the updated record", func() {
			batch := uploadAndWait("a.jpg")

			resp := patch("/api/batches/"+batch.ID+"/records/0", `{"vendor": "Eisenwaren Müller", "amount": 12.5}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var record extraction.Record
			Expect(json.NewDecoder(resp.Body).Decode(&record)).To(Succeed())
			Expect(record.Vendor).To(Equal("Eisenwaren Müller"))
			Expect(record.Amount).To(Equal(12.5))
		})

		It("should return Bad Request for invalid edits", func() {
			batch := uploadAndWait("a.jpg")

			resp := patch("/api/batches/"+batch.ID+"/records/0", `{"amount": -3}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should return Bad Request for a non-numeric index", func() {
			batch := uploadAndWait("a.jpg")

			resp := patch("/api/batches/"+batch.ID+"/records/first", `{}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should return Not Found for unknown records", func() {
			batch := uploadAndWait("a.jpg")

			resp := patch("/api/batches/"+batch.ID+"/records/9", `{}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		When("the batch is still running", func() {
			BeforeEach(func() {
				extractor.release = make(chan struct{})
			})

			It("should return Conflict", func() {
				resp := upload("files", "a.jpg")
				batch := decodeBatch(resp)

				resp = patch("/api/batches/"+batch.ID+"/records/0", `{}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			})
		})
	})

	Describe("DELETE /api/batches/{id}", func() {
		It("should discard the batch", func() {
			batch := uploadAndWait("a.jpg")

			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/batches/"+batch.ID, nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			_, err = service.GetBatch(batch.ID)
			Expect(err).To(MatchError(ErrBatchNotFound))
		})
	})

	Describe("GET /api/batches/{id}/export", func() {
		It("should download a CSV with a dated filename", func() {
			batch := uploadAndWait("a.jpg", "error.jpg")

			resp, err := http.Get(ghttpServer.URL() + "/api/batches/" + batch.ID + "/export.csv")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/csv"))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("belege_2024-03-20.csv"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			lines := strings.Split(strings.TrimSpace(string(body)), "\n")
			Expect(lines).To(HaveLen(3))
		})

		It("should download an XLSX workbook", func() {
			batch := uploadAndWait("a.jpg")

			resp, err := http.Get(ghttpServer.URL() + "/api/batches/" + batch.ID + "/export.xlsx")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("belege_2024-03-20.xlsx"))
		})

		It("should return Not Found for unknown batches", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/batches/missing/export.csv")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("OPTIONS preflight", func() {
		It("should answer with No Content and CORS headers", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/batches", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PATCH"))
		})
	})
})
