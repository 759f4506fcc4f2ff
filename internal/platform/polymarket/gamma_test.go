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

func gammaServer(t *testing.T, body string, status int) *GammaClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewGammaClient(srv.URL)
}

func TestGetMarketBySlug_ArrayResponse(t *testing.T) {
	body := `[{
		"id": "77",
		"question": "Bitcoin Up or Down - 5 minute window?",
		"slug": "btc-up-or-down-in-5-minutes-1700000100",
		"active": true,
		"closed": false,
		"tokens": [
			{"token_id": "111", "outcome": "Up"},
			{"token_id": "222", "outcome": "Down"}
		]
	}]`

	g := gammaServer(t, body, http.StatusOK)
	info, err := g.GetMarketBySlug(context.Background(), "btc-up-or-down-in-5-minutes-1700000100")
	require.NoError(t, err)

	assert.Equal(t, "Bitcoin Up or Down - 5 minute window?", info.Question)
	assert.False(t, info.Closed)
	assert.Equal(t, "111", info.Tokens.UpTokenID)
	assert.Equal(t, "222", info.Tokens.DownTokenID)
	assert.False(t, info.Tokens.LabelsInferred)
	assert.Equal(t, domain.OutcomeUnknown, info.WinnerHint)
}

func TestGetMarketBySlug_SingleObjectResponse(t *testing.T) {
	body := `{
		"id": "78",
		"question": "BTC up or down?",
		"slug": "btc-up-or-down-in-5-minutes-1700000400",
		"tokens": [
			{"tokenId": "333", "outcome": "Up"},
			{"tokenId": "444", "outcome": "Down"}
		]
	}`

	g := gammaServer(t, body, http.StatusOK)
	info, err := g.GetMarketBySlug(context.Background(), "btc-up-or-down-in-5-minutes-1700000400")
	require.NoError(t, err)

	// tokenId field name variant must be accepted.
	assert.Equal(t, "333", info.Tokens.UpTokenID)
	assert.Equal(t, "444", info.Tokens.DownTokenID)
}

func TestGetMarketBySlug_ClosedWithWinner(t *testing.T) {
	body := `[{
		"id": "79",
		"question": "BTC up or down?",
		"slug": "s",
		"closed": "true",
		"tokens": [
			{"token_id": "111", "outcome": "Up", "winner": false},
			{"token_id": "222", "outcome": "Down", "winner": true}
		]
	}]`

	g := gammaServer(t, body, http.StatusOK)
	info, err := g.GetMarketBySlug(context.Background(), "s")
	require.NoError(t, err)

	assert.True(t, info.Closed)
	assert.Equal(t, domain.OutcomeDown, info.WinnerHint)
}

func TestGetMarketBySlug_PositionalFallbackFlagged(t *testing.T) {
	body := `[{
		"id": "80",
		"question": "q",
		"slug": "s",
		"tokens": [
			{"token_id": "111", "outcome": "Yes"},
			{"token_id": "222", "outcome": "No"}
		]
	}]`

	g := gammaServer(t, body, http.StatusOK)
	info, err := g.GetMarketBySlug(context.Background(), "s")
	require.NoError(t, err)

	assert.Equal(t, "111", info.Tokens.UpTokenID)
	assert.Equal(t, "222", info.Tokens.DownTokenID)
	assert.True(t, info.Tokens.LabelsInferred)
}

func TestGetMarketBySlug_ClobTokenIDsReconstruction(t *testing.T) {
	body := `[{
		"id": "81",
		"question": "q",
		"slug": "s",
		"outcomes": "[\"Up\",\"Down\"]",
		"clobTokenIds": "[\"555\",\"666\"]"
	}]`

	g := gammaServer(t, body, http.StatusOK)
	info, err := g.GetMarketBySlug(context.Background(), "s")
	require.NoError(t, err)

	assert.Equal(t, "555", info.Tokens.UpTokenID)
	assert.Equal(t, "666", info.Tokens.DownTokenID)
	assert.False(t, info.Tokens.LabelsInferred)
}

func TestGetMarketBySlug_NotFound(t *testing.T) {
	for _, body := range []string{`[]`, `{}`} {
		g := gammaServer(t, body, http.StatusOK)
		_, err := g.GetMarketBySlug(context.Background(), "x-9999999999")
		assert.ErrorIsf(t, err, domain.ErrNotFound, "body %s", body)
	}

	g := gammaServer(t, `{"error":"not found"}`, http.StatusNotFound)
	_, err := g.GetMarketBySlug(context.Background(), "x-9999999999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetMarketBySlug_IncompleteTokens(t *testing.T) {
	// A market with a single token keeps the missing side empty rather
	// than failing.
	body := `[{
		"id": "82",
		"question": "q",
		"slug": "s",
		"tokens": [{"token_id": "111", "outcome": "Up"}]
	}]`

	g := gammaServer(t, body, http.StatusOK)
	info, err := g.GetMarketBySlug(context.Background(), "s")
	require.NoError(t, err)

	assert.Equal(t, "111", info.Tokens.UpTokenID)
	assert.Empty(t, info.Tokens.DownTokenID)
	assert.False(t, info.Tokens.Complete())
}
