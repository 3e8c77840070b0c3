package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShopContextRoundTrip(t *testing.T) {
	assert.Empty(t, ShopIDFromContext(context.Background()))
	assert.Empty(t, ShopNameFromContext(nil))

	ctx := WithShop(nil, "shop-1", "acme")
	assert.Equal(t, "shop-1", ShopIDFromContext(ctx))
	assert.Equal(t, "acme", ShopNameFromContext(ctx))

	ctx = WithShop(ctx, "shop-2", "globex")
	assert.Equal(t, "shop-2", ShopIDFromContext(ctx))
	assert.Equal(t, "globex", ShopNameFromContext(ctx))
}

func TestRequestIDTrustsOnlyWellFormedIDs(t *testing.T) {
	cases := map[string]bool{
		"req-12345678":           true,
		"short":                  false,
		"has spaces in it oops":  false,
		"bad\nnewline-injection": false,
	}
	for inbound, trusted := range cases {
		var seen string
		h := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestIDFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, inbound)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.NotEmpty(t, seen, inbound)
		assert.Equal(t, seen, rec.Header().Get(requestIDHeader), inbound)
		if trusted {
			assert.Equal(t, inbound, seen)
		} else {
			assert.NotEqual(t, inbound, seen)
		}
	}
}
