package memory_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/basegraph-labs/orchestrator/internal/domain"
	"github.com/basegraph-labs/orchestrator/internal/eventbus"
	"github.com/basegraph-labs/orchestrator/internal/memory"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func openRepo() memory.Repository {
	dir := GinkgoT().TempDir()
	repo, err := memory.Open(context.Background(), memory.Config{Path: filepath.Join(dir, "memory.db")}, eventbus.New())
	Expect(err).ToNot(HaveOccurred())
	return repo
}

var _ = Describe("Repository", func() {
	var (
		repo memory.Repository
		ctx  context.Context
	)

	BeforeEach(func() {
		repo = openRepo()
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(repo.Close()).To(Succeed())
	})

	It("lets the owning agent read back a stored record", func() {
		stored, err := repo.Put(ctx, domain.MemoryRecord{
			Key:         "design-decision",
			Category:    "architecture",
			Data:        `{"choice":"event bus"}`,
			AgentOrigin: "planner",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.RecordID).ToNot(BeEmpty())

		got, err := repo.Get(ctx, stored.RecordID, "planner")
		Expect(err).ToNot(HaveOccurred())
		Expect(got.Key).To(Equal("design-decision"))
		Expect(got.Data).To(Equal(`{"choice":"event bus"}`))
	})

	It("forbids an agent with no granted permission from reading", func() {
		stored, err := repo.Put(ctx, domain.MemoryRecord{Key: "k", Category: "c", Data: "d", AgentOrigin: "planner"})
		Expect(err).ToNot(HaveOccurred())

		_, err = repo.Get(ctx, stored.RecordID, "qa")
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrForbidden))
	})

	It("reports NotFound for a record that was never stored", func() {
		_, err := repo.Get(ctx, "mem_does_not_exist", "planner")
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrNotFound))
	})

	It("lets an owner grant another agent read access", func() {
		stored, err := repo.Put(ctx, domain.MemoryRecord{Key: "k", Category: "c", Data: "d", AgentOrigin: "planner"})
		Expect(err).ToNot(HaveOccurred())

		Expect(repo.GrantPermission(ctx, stored.RecordID, "planner", "qa", true, false, false)).To(Succeed())

		got, err := repo.Get(ctx, stored.RecordID, "qa")
		Expect(err).ToNot(HaveOccurred())
		Expect(got.RecordID).To(Equal(stored.RecordID))

		_, err = repo.Update(ctx, stored.RecordID, "qa", domain.MemoryPatch{})
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrForbidden))
	})

	It("refuses to let a grantor propagate a flag it does not itself hold", func() {
		stored, err := repo.Put(ctx, domain.MemoryRecord{Key: "k", Category: "c", Data: "d", AgentOrigin: "planner"})
		Expect(err).ToNot(HaveOccurred())

		Expect(repo.GrantPermission(ctx, stored.RecordID, "planner", "qa", false, true, false)).To(Succeed())

		err = repo.GrantPermission(ctx, stored.RecordID, "qa", "dev", false, false, true)
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrForbidden))

		_, err = repo.Get(ctx, stored.RecordID, "dev")
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrForbidden))
	})

	It("lets a grantor propagate only the flags it itself holds", func() {
		stored, err := repo.Put(ctx, domain.MemoryRecord{Key: "k", Category: "c", Data: "d", AgentOrigin: "planner"})
		Expect(err).ToNot(HaveOccurred())

		Expect(repo.GrantPermission(ctx, stored.RecordID, "planner", "qa", true, true, false)).To(Succeed())
		Expect(repo.GrantPermission(ctx, stored.RecordID, "qa", "dev", true, false, false)).To(Succeed())

		got, err := repo.Get(ctx, stored.RecordID, "dev")
		Expect(err).ToNot(HaveOccurred())
		Expect(got.RecordID).To(Equal(stored.RecordID))
	})

	It("updates data and bumps updatedAt without touching createdAt", func() {
		stored, err := repo.Put(ctx, domain.MemoryRecord{Key: "k", Category: "c", Data: "d", AgentOrigin: "planner"})
		Expect(err).ToNot(HaveOccurred())

		newData := `{"revised":true}`
		updated, err := repo.Update(ctx, stored.RecordID, "planner", domain.MemoryPatch{Data: &newData})
		Expect(err).ToNot(HaveOccurred())
		Expect(updated.Data).To(Equal(newData))
		Expect(updated.CreatedAt).To(BeTemporally("==", stored.CreatedAt))
		Expect(updated.UpdatedAt.After(stored.UpdatedAt) || updated.UpdatedAt.Equal(stored.UpdatedAt)).To(BeTrue())
	})

	It("deletes a record and then reports NotFound on further access", func() {
		stored, err := repo.Put(ctx, domain.MemoryRecord{Key: "k", Category: "c", Data: "d", AgentOrigin: "planner"})
		Expect(err).ToNot(HaveOccurred())

		Expect(repo.Delete(ctx, stored.RecordID, "planner")).To(Succeed())

		_, err = repo.Get(ctx, stored.RecordID, "planner")
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrNotFound))
	})

	It("refuses delete from an agent without delete permission", func() {
		stored, err := repo.Put(ctx, domain.MemoryRecord{Key: "k", Category: "c", Data: "d", AgentOrigin: "planner"})
		Expect(err).ToNot(HaveOccurred())
		Expect(repo.GrantPermission(ctx, stored.RecordID, "planner", "qa", true, false, false)).To(Succeed())

		err = repo.Delete(ctx, stored.RecordID, "qa")
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrForbidden))
	})

	Describe("SearchSimilar", func() {
		It("ranks text matches by occurrence count and filters by permission", func() {
			_, err := repo.Put(ctx, domain.MemoryRecord{Key: "auth flow", Category: "architecture", Data: "token token refresh", AgentOrigin: "planner"})
			Expect(err).ToNot(HaveOccurred())
			_, err = repo.Put(ctx, domain.MemoryRecord{Key: "design notes", Category: "architecture", Data: "single token", AgentOrigin: "planner"})
			Expect(err).ToNot(HaveOccurred())
			hidden, err := repo.Put(ctx, domain.MemoryRecord{Key: "token secret", Category: "architecture", Data: "token token token", AgentOrigin: "qa"})
			Expect(err).ToNot(HaveOccurred())

			results, err := repo.SearchSimilar(ctx, "planner", memory.SearchQuery{Mode: memory.SearchModeText, Text: "token", Limit: -1})
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Key).To(Equal("auth flow")) // 2 occurrences beats 1
			for _, r := range results {
				Expect(r.RecordID).ToNot(Equal(hidden.RecordID))
			}
		})

		It("returns no results when Limit is explicitly zero", func() {
			_, err := repo.Put(ctx, domain.MemoryRecord{Key: "auth flow", Category: "architecture", Data: "token token refresh", AgentOrigin: "planner"})
			Expect(err).ToNot(HaveOccurred())

			results, err := repo.SearchSimilar(ctx, "planner", memory.SearchQuery{Mode: memory.SearchModeText, Text: "token", Limit: 0})
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("ranks vector matches by cosine similarity", func() {
			close, err := repo.Put(ctx, domain.MemoryRecord{
				Key: "close", Category: "c", Data: "d", AgentOrigin: "planner",
				EmbeddingVector: []float64{1, 0, 0},
			})
			Expect(err).ToNot(HaveOccurred())
			far, err := repo.Put(ctx, domain.MemoryRecord{
				Key: "far", Category: "c", Data: "d", AgentOrigin: "planner",
				EmbeddingVector: []float64{0, 1, 0},
			})
			Expect(err).ToNot(HaveOccurred())

			results, err := repo.SearchSimilar(ctx, "planner", memory.SearchQuery{Mode: memory.SearchModeVector, Vector: []float64{1, 0, 0}, Limit: -1})
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].RecordID).To(Equal(close.RecordID))
			Expect(results[1].RecordID).To(Equal(far.RecordID))
		})
	})

	Describe("seeding", func() {
		It("loads records from the seed directory that aren't already present", func() {
			dir := GinkgoT().TempDir()
			seedRecord := domain.MemoryRecord{RecordID: "mem_seed_1", Key: "bootstrap", Category: "seed", Data: "{}"}
			b, err := json.Marshal(seedRecord)
			Expect(err).ToNot(HaveOccurred())
			Expect(os.WriteFile(filepath.Join(dir, "record.json"), b, 0o644)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(dir, "not-json.txt"), []byte("ignored"), 0o644)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not valid"), 0o644)).To(Succeed())

			dbDir := GinkgoT().TempDir()
			seeded, err := memory.Open(ctx, memory.Config{Path: filepath.Join(dbDir, "memory.db"), SeedDirectory: dir}, eventbus.New())
			Expect(err).ToNot(HaveOccurred())
			defer seeded.Close()

			got, err := seeded.Get(ctx, "mem_seed_1", "seed")
			Expect(err).ToNot(HaveOccurred())
			Expect(got.Key).To(Equal("bootstrap"))
		})
	})
})
