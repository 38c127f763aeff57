package provider_test

import (
	"context"
	"time"

	"github.com/basegraph-labs/orchestrator/internal/domain"
	"github.com/basegraph-labs/orchestrator/internal/eventbus"
	"github.com/basegraph-labs/orchestrator/internal/provider"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func registerFast(reg *provider.Registry, name string, adapter provider.Adapter, maxRetries int) {
	registerWithBreaker(reg, name, adapter, maxRetries, provider.BreakerSettings{
		FailureThreshold: 2, SuccessThreshold: 1, Cooldown: 20 * time.Millisecond,
	})
}

func registerWithBreaker(reg *provider.Registry, name string, adapter provider.Adapter, maxRetries int, breaker provider.BreakerSettings) {
	reg.RegisterProvider(name, provider.RegisterOptions{
		Adapter:      adapter,
		MaxTokens:    1000,
		RefillRate:   1000,
		RefillPeriod: time.Millisecond,
		MaxRetries:   maxRetries,
		RetryDelay:   time.Millisecond,
		Breaker:      breaker,
	})
}

var _ = Describe("Registry.Complete", func() {
	var (
		reg *provider.Registry
		ctx context.Context
	)

	BeforeEach(func() {
		reg = provider.NewRegistry(eventbus.New())
		ctx = context.Background()
	})

	It("calls the active provider on a plain success", func() {
		a := &fakeAdapter{name: "primary"}
		registerFast(reg, "primary", a, 0)

		resp, err := reg.Complete(ctx, domain.LlmRequest{Messages: []domain.LlmMessage{{Role: "user", Content: "hi"}}})
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.Provider).To(Equal("primary"))
		Expect(a.callCount()).To(Equal(1))
	})

	It("prefers preferredProvider over activeProvider", func() {
		primary := &fakeAdapter{name: "primary"}
		secondary := &fakeAdapter{name: "secondary"}
		registerFast(reg, "primary", primary, 0)
		registerFast(reg, "secondary", secondary, 0)

		resp, err := reg.Complete(ctx, domain.LlmRequest{PreferredProvider: "secondary"})
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.Provider).To(Equal("secondary"))
	})

	It("retries a retryable error within the same provider up to maxRetries", func() {
		a := &fakeAdapter{name: "primary", errs: []error{
			domain.NewError(domain.ErrTransientServer, "boom", nil),
			domain.NewError(domain.ErrTransientServer, "boom again", nil),
		}}
		registerWithBreaker(reg, "primary", a, 2, provider.BreakerSettings{
			FailureThreshold: 10, SuccessThreshold: 1, Cooldown: 20 * time.Millisecond,
		})

		resp, err := reg.Complete(ctx, domain.LlmRequest{})
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.Provider).To(Equal("primary"))
		Expect(a.callCount()).To(Equal(3))
	})

	It("falls over to the next provider on a retryable error after exhausting retries", func() {
		primary := &fakeAdapter{name: "primary", errs: []error{
			domain.NewError(domain.ErrTransientServer, "down", nil),
		}}
		secondary := &fakeAdapter{name: "secondary"}
		registerFast(reg, "primary", primary, 0)
		registerFast(reg, "secondary", secondary, 0)

		resp, err := reg.Complete(ctx, domain.LlmRequest{})
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.Provider).To(Equal("secondary"))
	})

	It("stops immediately on a non-retryable error without trying the next provider", func() {
		primary := &fakeAdapter{name: "primary", errs: []error{
			domain.NewError(domain.ErrForbidden, "nope", nil),
		}}
		secondary := &fakeAdapter{name: "secondary"}
		registerFast(reg, "primary", primary, 0)
		registerFast(reg, "secondary", secondary, 0)

		_, err := reg.Complete(ctx, domain.LlmRequest{})
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrForbidden))
		Expect(secondary.callCount()).To(Equal(0))
	})

	It("fails with NoProvidersAvailable when the registry is empty", func() {
		_, err := reg.Complete(ctx, domain.LlmRequest{})
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrNoProvidersAvailable))
	})

	It("opens the breaker after consecutive failures and skips the provider thereafter", func() {
		primary := &fakeAdapter{name: "primary", errs: []error{
			domain.NewError(domain.ErrTransientServer, "e1", nil),
			domain.NewError(domain.ErrTransientServer, "e2", nil),
		}}
		secondary := &fakeAdapter{name: "secondary"}
		registerFast(reg, "primary", primary, 0)
		registerFast(reg, "secondary", secondary, 0)

		_, err := reg.Complete(ctx, domain.LlmRequest{PreferredProvider: "primary"})
		Expect(err).ToNot(HaveOccurred()) // falls over to secondary both times below
		_, err = reg.Complete(ctx, domain.LlmRequest{PreferredProvider: "primary"})
		Expect(err).ToNot(HaveOccurred())

		status, err := reg.Status("primary")
		Expect(err).ToNot(HaveOccurred())
		Expect(status.BreakerState).To(Equal(domain.BreakerOpen))

		// Third call: breaker open, should skip straight to secondary without
		// invoking primary's adapter again.
		callsBefore := primary.callCount()
		resp, err := reg.Complete(ctx, domain.LlmRequest{PreferredProvider: "primary"})
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.Provider).To(Equal("secondary"))
		Expect(primary.callCount()).To(Equal(callsBefore))
	})

	It("reports status for an unknown provider as NotFound", func() {
		_, err := reg.Status("ghost")
		Expect(err).To(HaveOccurred())
		Expect(domain.KindOf(err)).To(Equal(domain.ErrNotFound))
	})
})
