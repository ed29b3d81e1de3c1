package metrics_test

import (
	"fmt"
	"io"
	"net/http/httptest"
	"time"

	"github.com/catalogfi/otc/pkg/metrics"
	"github.com/catalogfi/otc/pkg/otc"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Collector", func() {
	It("should count operations by outcome", func() {
		c := metrics.NewCollector("")
		transfers := []otc.Transfer{{Asset: otc.Native("luna", decimal.NewFromInt(1))}}
		c.Observe("create_position", time.Now(), transfers, nil)
		c.Observe("create_position", time.Now(), transfers, fmt.Errorf("%w: late", otc.ErrExpired))

		count, err := testutil.GatherAndCount(c.Registry(), "otc_escrow_operations_total")
		Expect(err).To(BeNil())
		Expect(count).To(Equal(2))
		count, err = testutil.GatherAndCount(c.Registry(), "otc_escrow_transfers_total")
		Expect(err).To(BeNil())
		Expect(count).To(Equal(1))

		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		body, err := io.ReadAll(rec.Body)
		Expect(err).To(BeNil())
		Expect(string(body)).To(ContainSubstring(`otc_escrow_operations_total{operation="create_position",outcome="expired"} 1`))
	})

	It("should map errors onto labels", func() {
		Expect(metrics.Outcome(nil)).To(Equal("ok"))
		Expect(metrics.Outcome(fmt.Errorf("wrapped: %w", otc.ErrNothingToClaim))).To(Equal("nothing_to_claim"))
		Expect(metrics.Outcome(fmt.Errorf("boom"))).To(Equal("error"))
	})
})
