package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func fastRetry(c *Client) { c.retryDelay = time.Millisecond }

func TestGetProductAndCache(t *testing.T) {
	var hits int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/products/12", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":12,"name":"mug","base_price":1500,"stock":4,"shop_id":7}`)
	})
	c, err := NewCatalogClient(srv.URL, time.Second, 16, time.Minute, zerolog.Nop())
	require.NoError(t, err)

	p, err := c.GetProduct(context.Background(), 12)
	require.NoError(t, err)
	require.Equal(t, int64(1500), p.BasePrice)
	require.Equal(t, uint64(7), p.ShopID)

	_, err = c.GetProduct(context.Background(), 12)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// expired entries are fetched again
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = c.GetProduct(context.Background(), 12)
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestNotFoundIsNil(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	c, err := NewCatalogClient(srv.URL, time.Second, 0, 0, zerolog.Nop())
	require.NoError(t, err)

	p, err := c.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, p)

	v, err := c.GetVariant(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Nil(t, v)

	w, err := c.GetPromotion(context.Background(), 3)
	require.NoError(t, err)
	require.Nil(t, w)

	shops := NewShopClient(srv.URL, time.Second, zerolog.Nop())
	owned, err := shops.ShopOwnsProduct(context.Background(), 1, 2)
	require.NoError(t, err)
	require.False(t, owned)
}

func TestGetPromotionDecodesWindow(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/promotions/5", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":5,"product_id":9,"variant_id":2,"start_time":"2026-03-01T12:00:00Z","end_time":"2026-03-01T13:00:00Z","active":true,"promotional_price":800}`)
	})
	c, err := NewCatalogClient(srv.URL, time.Second, 0, 0, zerolog.Nop())
	require.NoError(t, err)

	w, err := c.GetPromotion(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, uint64(2), w.VariantID)
	require.True(t, w.Active)
	require.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), w.EndTime.UTC())
}

func TestVariantOfOtherProductIsNil(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":2,"product_id":99,"stock":1}`)
	})
	c, err := NewCatalogClient(srv.URL, time.Second, 0, 0, zerolog.Nop())
	require.NoError(t, err)

	v, err := c.GetVariant(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestRetryOnceOnServerError(t *testing.T) {
	var hits int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"owned":true}`)
	})
	shops := NewShopClient(srv.URL, time.Second, zerolog.Nop())
	fastRetry(shops.Client)

	owned, err := shops.ShopOwnsProduct(context.Background(), 1, 2)
	require.NoError(t, err)
	require.True(t, owned)
	require.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestPersistentFailureIsUnavailable(t *testing.T) {
	var hits int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	c, err := NewCatalogClient(srv.URL, time.Second, 0, 0, zerolog.Nop())
	require.NoError(t, err)
	fastRetry(c.Client)

	_, err = c.GetProduct(context.Background(), 1)
	require.ErrorIs(t, err, ErrUnavailable)
	require.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var hits int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	})
	c, err := NewCatalogClient(srv.URL, time.Second, 0, 0, zerolog.Nop())
	require.NoError(t, err)
	fastRetry(c.Client)

	_, err = c.GetProduct(context.Background(), 1)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadRequest, se.Status)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	c, err := NewCatalogClient(srv.URL, time.Second, 0, 0, zerolog.Nop())
	require.NoError(t, err)
	fastRetry(c.Client)

	for i := 0; i < 3; i++ {
		_, _ = c.GetProduct(context.Background(), 1)
	}
	// five consecutive failures trip the breaker; the sixth attempt never
	// reaches the server
	require.Equal(t, int32(5), atomic.LoadInt32(&hits))
	_, err = c.GetProduct(context.Background(), 1)
	require.ErrorIs(t, err, ErrUnavailable)
	require.Equal(t, int32(5), atomic.LoadInt32(&hits))
}
