package domain

// MarketInfo is the metadata the tracker needs about one window's market,
// as resolved from the metadata service.
type MarketInfo struct {
	Slug     string
	Question string
	Closed   bool
	Tokens   TokenPair

	// WinnerHint carries the settled outcome when the metadata already
	// reports the market closed. OutcomeUnknown means no winner was
	// reported.
	WinnerHint Outcome
}
