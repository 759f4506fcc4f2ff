package polymarket

import (
	"encoding/json"
	"strings"

	"github.com/mkarlsen/updown/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "closed" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
// Token metadata arrives in one of two shapes: a tokens array with outcome
// labels, or the index-aligned clobTokenIds/outcomes string pair.
type APIMarket struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	Slug         string   `json:"slug"`
	Active       flexBool `json:"active"`
	Closed       flexBool `json:"closed"`
	Tokens       []Token  `json:"tokens"`
	Outcomes     string   `json:"outcomes"`      // JSON-encoded: e.g. "[\"Up\",\"Down\"]"
	ClobTokenIDs string   `json:"clobTokenIds"`  // JSON-encoded: e.g. "[\"123\",\"456\"]"
	EndDateISO   string   `json:"end_date_iso"`
}

// Token is a token entry inside the Gamma API market response. The ID field
// name varies across API versions.
type Token struct {
	TokenID    string `json:"token_id"`
	TokenIDAlt string `json:"tokenId"`
	Outcome    string `json:"outcome"`
	Winner     bool   `json:"winner"`
}

// ID returns the token ID regardless of which field name the API used.
func (t Token) ID() string {
	if t.TokenID != "" {
		return t.TokenID
	}
	return t.TokenIDAlt
}

// ToMarketInfo maps the raw Gamma payload into the domain metadata the
// tracker consumes, resolving the up/down token pair and any settled winner.
func (m *APIMarket) ToMarketInfo() domain.MarketInfo {
	info := domain.MarketInfo{
		Slug:       m.Slug,
		Question:   m.Question,
		Closed:     bool(m.Closed),
		Tokens:     m.resolveTokenPair(),
		WinnerHint: domain.OutcomeUnknown,
	}

	for _, t := range m.Tokens {
		if !t.Winner {
			continue
		}
		switch strings.ToLower(t.Outcome) {
		case "up":
			info.WinnerHint = domain.OutcomeUp
		case "down":
			info.WinnerHint = domain.OutcomeDown
		}
		break
	}

	return info
}

// resolveTokenPair assigns up/down token IDs. Explicit outcome labels win;
// any side still missing afterwards is filled positionally (first token =
// up, second = down) and the pair is flagged as inferred, since positional
// order is a known source of misclassification.
func (m *APIMarket) resolveTokenPair() domain.TokenPair {
	tokens := m.Tokens
	if len(tokens) == 0 {
		tokens = m.reconstructTokens()
	}

	var pair domain.TokenPair
	for _, t := range tokens {
		switch strings.ToLower(t.Outcome) {
		case "up":
			pair.UpTokenID = t.ID()
		case "down":
			pair.DownTokenID = t.ID()
		}
	}

	if pair.UpTokenID == "" && len(tokens) > 0 {
		pair.UpTokenID = tokens[0].ID()
		pair.LabelsInferred = true
	}
	if pair.DownTokenID == "" && len(tokens) > 1 {
		pair.DownTokenID = tokens[1].ID()
		pair.LabelsInferred = true
	}

	return pair
}

// reconstructTokens rebuilds a tokens array from the index-aligned
// clobTokenIds/outcomes string pair used by newer Gamma responses.
func (m *APIMarket) reconstructTokens() []Token {
	if m.ClobTokenIDs == "" {
		return nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err != nil {
		return nil
	}

	var outcomes []string
	// Outcomes may be absent; positional fallback handles that.
	_ = json.Unmarshal([]byte(m.Outcomes), &outcomes)

	tokens := make([]Token, 0, len(ids))
	for i, id := range ids {
		t := Token{TokenID: id}
		if i < len(outcomes) {
			t.Outcome = outcomes[i]
		}
		tokens = append(tokens, t)
	}
	return tokens
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSCommand is the JSON payload sent to the WebSocket to subscribe or
// unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// PriceMessage represents a price update for an asset, delivered on either
// the last_trade_price or price_change channel.
type PriceMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}
