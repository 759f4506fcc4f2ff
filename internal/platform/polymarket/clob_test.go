package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarlsen/updown/internal/domain"
)

func clobServer(t *testing.T, body string) *ClobClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClobClient(srv.URL)
}

func TestMidpoint_MidField(t *testing.T) {
	c := clobServer(t, `{"mid": "0.57"}`)
	p, err := c.Midpoint(context.Background(), "111")
	require.NoError(t, err)
	assert.InDelta(t, 0.57, p, 1e-9)
}

func TestMidpoint_NumericMid(t *testing.T) {
	c := clobServer(t, `{"mid": 0.42}`)
	p, err := c.Midpoint(context.Background(), "111")
	require.NoError(t, err)
	assert.InDelta(t, 0.42, p, 1e-9)
}

func TestMidpoint_KeyedByTokenID(t *testing.T) {
	c := clobServer(t, `{"111": "0.63"}`)
	p, err := c.Midpoint(context.Background(), "111")
	require.NoError(t, err)
	assert.InDelta(t, 0.63, p, 1e-9)
}

func TestMidpoint_BidAskPair(t *testing.T) {
	c := clobServer(t, `{"bid": "0.50", "ask": "0.60"}`)
	p, err := c.Midpoint(context.Background(), "111")
	require.NoError(t, err)
	assert.InDelta(t, 0.55, p, 1e-9)
}

func TestMidpoint_InvalidValuesAreNoData(t *testing.T) {
	cases := []string{
		`{}`,
		`{"mid": null}`,
		`{"mid": "0"}`,
		`{"mid": 0.0005}`, // at/below validity threshold
		`{"mid": "garbage"}`,
		`{"222": "0.5"}`, // keyed by a different token
	}
	for _, body := range cases {
		c := clobServer(t, body)
		_, err := c.Midpoint(context.Background(), "111")
		assert.ErrorIsf(t, err, domain.ErrNoData, "body %s", body)
	}
}

func TestMidpoint_EmptyTokenID(t *testing.T) {
	c := clobServer(t, `{"mid": "0.5"}`)
	_, err := c.Midpoint(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrNoData)
}
