package metrics

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypersettle/pkg/events"
)

func TestCollectorHandle(t *testing.T) {
	c := NewCollector()
	currency := common.HexToAddress("0xc0ffee")
	ev := events.Event{
		Kind:       events.KindBookBatchMatched,
		Currency:   currency,
		Gross:      big.NewInt(2500),
		Commission: big.NewInt(125),
		Legs: []events.Leg{
			{Role: events.RoleSeller},
			{Role: events.RoleBuyer},
			{Role: events.RoleBuyer},
		},
	}
	require.NoError(t, c.Handle(context.Background(), ev))
	require.NoError(t, c.Handle(context.Background(), events.Event{Kind: events.KindOrderCancelled}))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.settlements.WithLabelValues("book_batch_matched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.settlements.WithLabelValues("order_cancelled")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.legs.WithLabelValues("book_batch_matched", "buyer")))
	assert.Equal(t, 2500.0, testutil.ToFloat64(c.gross.WithLabelValues(currency.Hex())))
	assert.Equal(t, 125.0, testutil.ToFloat64(c.commission.WithLabelValues(currency.Hex())))
}

func TestCollectorRejections(t *testing.T) {
	c := NewCollector()
	c.ObserveRejection("match_single", "orderExpired")
	c.ObserveRejection("match_single", "orderExpired")
	c.ObserveRejection("cancel_single", "executorForbidden")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.rejections.WithLabelValues("match_single", "orderExpired")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.rejections))
}

func TestCollectorHandler(t *testing.T) {
	c := NewCollector()
	c.Gauge("mempool_pending", "Requests waiting for the sequencer.", func() float64 { return 3 })
	c.ObserveRejection("match_book", "outOfStock")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "hypersettle_mempool_pending 3"), body)
	assert.True(t, strings.Contains(body, `hypersettle_engine_rejections_total{code="outOfStock",op="match_book"} 1`), body)
}
