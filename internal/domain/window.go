// Package domain defines the core types shared across the tracker: market
// windows, quote pairs, outcomes, and the observation record that summarizes
// one finished window.
package domain

// WindowID identifies a recurring market window by its start boundary, as a
// Unix timestamp aligned to the window period (WindowID % period == 0).
type WindowID int64

// Unix returns the window start as a plain Unix timestamp.
func (w WindowID) Unix() int64 { return int64(w) }

// Outcome is the settlement result of an up/down window.
type Outcome string

const (
	OutcomeUp      Outcome = "UP"
	OutcomeDown    Outcome = "DOWN"
	OutcomeUnknown Outcome = "UNKNOWN"
)

// TokenPair holds the CLOB token IDs for the two sides of a binary market.
// An empty ID means the market metadata did not expose that side.
// LabelsInferred is set when the up/down assignment came from token position
// rather than explicit outcome labels, and should be treated as less
// trustworthy by consumers.
type TokenPair struct {
	UpTokenID      string `json:"upTokenId"`
	DownTokenID    string `json:"downTokenId"`
	LabelsInferred bool   `json:"labelsInferred,omitempty"`
}

// Complete reports whether both sides of the pair are known.
func (p TokenPair) Complete() bool {
	return p.UpTokenID != "" && p.DownTokenID != ""
}

// IDs returns the non-empty token IDs of the pair.
func (p TokenPair) IDs() []string {
	ids := make([]string, 0, 2)
	if p.UpTokenID != "" {
		ids = append(ids, p.UpTokenID)
	}
	if p.DownTokenID != "" {
		ids = append(ids, p.DownTokenID)
	}
	return ids
}

// PricePoint is one sampled quote pair, bound to the sampling tick that
// produced it. A nil price means no data was available for that side on that
// tick. JSON field names match the session files the web UI consumes.
type PricePoint struct {
	ObservedAt     int64    `json:"t"`
	ElapsedSeconds int64    `json:"elapsed"`
	Up             *float64 `json:"up"`
	Down           *float64 `json:"down"`
}

// ObservationRecord is the durable, immutable artifact summarizing one
// window: its question, final outcome, and the full sampled price history.
// Exactly one record is produced per window; delivery to the store is an
// upsert keyed by WindowID.
type ObservationRecord struct {
	WindowID       WindowID     `json:"windowId"`
	Slug           string       `json:"slug"`
	ResolutionTime int64        `json:"resolutionTs"`
	Question       string       `json:"question"`
	Outcome        Outcome      `json:"outcome"`
	Confident      bool         `json:"confident"`
	PriceHistory   []PricePoint `json:"priceHistory"`
	SavedAt        int64        `json:"savedAt"`
}
