package review

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/beleg-scanner/internal/extraction"
)

var _ = Describe("DB", func() {
	sampleBatch := func(id string) *Batch {
		date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
		return &Batch{
			ID:    id,
			State: StateDone,
			Records: []extraction.Record{
				{Index: 0, Filename: "a.jpg", Date: &date, Vendor: "Baumarkt", Amount: 119, Status: extraction.StatusSettled},
			},
			Total:     119,
			CreatedAt: date,
			UpdatedAt: date,
		}
	}

	// behavesLikeDB runs the shared storage contract against a DB
	behavesLikeDB := func(newDB func() DB) {
		var db DB

		BeforeEach(func() {
			db = newDB()
		})

		AfterEach(func() {
			Expect(db.Close()).To(Succeed())
		})

		It("should save and retrieve a batch", func() {
			Expect(db.SaveBatch(sampleBatch("b1"))).To(Succeed())

			got, err := db.GetBatch("b1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Records).To(HaveLen(1))
			Expect(got.Records[0].Vendor).To(Equal("Baumarkt"))
			Expect(got.Records[0].DateString()).To(Equal("2024-03-15"))
		})

		It("should replace a batch saved twice", func() {
			b := sampleBatch("b1")
			Expect(db.SaveBatch(b)).To(Succeed())
			b.State = StateCancelled
			Expect(db.SaveBatch(b)).To(Succeed())

			got, err := db.GetBatch("b1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.State).To(Equal(StateCancelled))
		})

		It("should not share records with the caller", func() {
			b := sampleBatch("b1")
			Expect(db.SaveBatch(b)).To(Succeed())
			b.Records[0].Vendor = "changed"

			got, err := db.GetBatch("b1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Records[0].Vendor).To(Equal("Baumarkt"))
		})

		It("should list all batches", func() {
			Expect(db.SaveBatch(sampleBatch("b1"))).To(Succeed())
			Expect(db.SaveBatch(sampleBatch("b2"))).To(Succeed())

			batches, err := db.ListBatches()
			Expect(err).NotTo(HaveOccurred())
			Expect(batches).To(HaveLen(2))
		})

		It("should delete a batch", func() {
			Expect(db.SaveBatch(sampleBatch("b1"))).To(Succeed())
			Expect(db.DeleteBatch("b1")).To(Succeed())

			_, err := db.GetBatch("b1")
			Expect(err).To(MatchError(ErrBatchNotFound))
		})

		It("should return ErrBatchNotFound for unknown IDs", func() {
			_, err := db.GetBatch("missing")
			Expect(err).To(MatchError(ErrBatchNotFound))
			Expect(db.DeleteBatch("missing")).To(MatchError(ErrBatchNotFound))
		})
	}

	Describe("MemoryDB", func() {
		behavesLikeDB(func() DB {
			return NewMemoryDB()
		})
	})

	Describe("BoltDB", func() {
		var dir string

		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "beleg-session-*")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(os.RemoveAll, dir)
		})

		behavesLikeDB(func() DB {
			db, err := NewBoltDB(filepath.Join(dir, "session.db"))
			Expect(err).NotTo(HaveOccurred())
			return db
		})

		It("should start every session empty", func() {
			// separate file: the shared contract above holds session.db open
			path := filepath.Join(dir, "reopen.db")
			db, err := NewBoltDB(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(db.SaveBatch(sampleBatch("b1"))).To(Succeed())
			Expect(db.Close()).To(Succeed())

			db, err = NewBoltDB(path)
			Expect(err).NotTo(HaveOccurred())
			defer db.Close()
			batches, err := db.ListBatches()
			Expect(err).NotTo(HaveOccurred())
			Expect(batches).To(BeEmpty())
		})
	})
})
