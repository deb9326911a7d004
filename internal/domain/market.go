package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the outcome side of a binary up/down market.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// ParseDirection accepts "up"/"down" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up":
		return DirectionUp, nil
	case "down":
		return DirectionDown, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Opposite returns the other outcome.
func (d Direction) Opposite() Direction {
	if d == DirectionUp {
		return DirectionDown
	}
	return DirectionUp
}

// Market mirrors one short-cycle binary market as reported by the exchange.
// It is never mutated locally; a fresh copy replaces it on re-fetch.
type Market struct {
	Timestamp       int64           `json:"timestamp"` // window start, unix seconds
	Slug            string          `json:"slug"`
	Title           string          `json:"title"`
	UpTokenID       string          `json:"up_token_id"`
	DownTokenID     string          `json:"down_token_id"`
	UpPrice         decimal.Decimal `json:"up_price"`
	DownPrice       decimal.Decimal `json:"down_price"`
	Volume          decimal.Decimal `json:"volume"`
	AcceptingOrders bool            `json:"accepting_orders"`
	Closed          bool            `json:"closed"`
	Resolved        bool            `json:"resolved"`
	Outcome         Direction       `json:"outcome,omitempty"` // empty until resolved
	TakerFeeBps     int             `json:"taker_fee_bps"`
	FetchedAt       time.Time       `json:"fetched_at"`
}

// TokenFor returns the outcome token traded for a direction.
func (m *Market) TokenFor(d Direction) string {
	if d == DirectionUp {
		return m.UpTokenID
	}
	return m.DownTokenID
}

// PriceFor returns the last reported outcome price for a direction.
func (m *Market) PriceFor(d Direction) decimal.Decimal {
	if d == DirectionUp {
		return m.UpPrice
	}
	return m.DownPrice
}

// IsSettled reports whether the market is closed with a known outcome.
func (m *Market) IsSettled() bool {
	return m.Closed && m.Outcome != ""
}

// InWindow reports whether now falls inside [Timestamp, Timestamp+size).
func (m *Market) InWindow(now time.Time, size time.Duration) bool {
	start := time.Unix(m.Timestamp, 0)
	return !now.Before(start) && now.Before(start.Add(size))
}

// WindowStart aligns t down to its window boundary.
func WindowStart(t time.Time, size time.Duration) int64 {
	secs := int64(size / time.Second)
	if secs <= 0 {
		return t.Unix()
	}
	return t.Unix() - t.Unix()%secs
}

// UpcomingWindows returns the current window start followed by the next n-1.
func UpcomingWindows(t time.Time, size time.Duration, n int) []int64 {
	start := WindowStart(t, size)
	secs := int64(size / time.Second)
	out := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, start+int64(i)*secs)
	}
	return out
}

// WindowSlug builds the market slug, e.g. "btc-updown-5m-1700000100".
func WindowSlug(prefix string, ts int64) string {
	return fmt.Sprintf("%s-%d", prefix, ts)
}
