package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBondMetricsObserve(t *testing.T) {
	m := Bond()
	before := testutil.ToFloat64(m.operations.WithLabelValues("vest", "error"))
	m.Observe("vest", time.Millisecond, "validation")
	after := testutil.ToFloat64(m.operations.WithLabelValues("vest", "error"))
	if after-before != 1 {
		t.Fatalf("expected error counter to increase by 1, got %v", after-before)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues("vest", "validation")); got < 1 {
		t.Fatalf("expected validation error recorded, got %v", got)
	}
}

func TestBondMetricsGauges(t *testing.T) {
	m := Bond()
	m.SetTotalEligible(big.NewInt(90))
	if got := testutil.ToFloat64(m.totalEligible); got != 90 {
		t.Fatalf("expected 90, got %v", got)
	}
	m.SetHoldings(" rsv ", big.NewInt(1000))
	if got := testutil.ToFloat64(m.holdings.WithLabelValues("RSV")); got != 1000 {
		t.Fatalf("expected 1000, got %v", got)
	}
	m.SetPaused(true)
	if got := testutil.ToFloat64(m.paused); got != 1 {
		t.Fatalf("expected paused gauge 1, got %v", got)
	}
	m.SetPaused(false)
	if got := testutil.ToFloat64(m.paused); got != 0 {
		t.Fatalf("expected paused gauge 0, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *BondMetrics
	m.Observe("vest", time.Second, "")
	m.SetTotalEligible(big.NewInt(1))
	var e *eventMetrics
	e.RecordEmitted("bond.deposit")
}
