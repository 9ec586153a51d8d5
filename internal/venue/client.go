// Package venue implements order-book and listing access for each venue family.
package venue

import (
	"context"
	"errors"
	"fmt"
	"net"

	"spread-scanner/internal/market"
)

// Client is the capability every venue family provides.
type Client interface {
	Name() string
	// FetchOrderBook returns a validated snapshot with at most depth levels per side.
	// symbol is canonical BASE/QUOTE.
	FetchOrderBook(ctx context.Context, symbol string, depth int) (market.OrderBook, error)
	// ListSymbols returns the instruments the venue currently lists.
	ListSymbols(ctx context.Context) (market.Listing, error)
}

// Kind classifies a venue failure.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindNotListed   Kind = "not_listed"
	KindAuth        Kind = "auth"
	KindUnknown     Kind = "unknown"
)

// Kinds lists every failure kind in reporting order.
var Kinds = []Kind{KindTimeout, KindRateLimited, KindNotListed, KindAuth, KindUnknown}

// Error is a classified venue failure.
type Error struct {
	Venue string
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Venue, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(venue string, kind Kind, err error) *Error {
	return &Error{Venue: venue, Kind: kind, Err: err}
}

// Classify maps any error returned by a Client, or by the context bounding
// the call, to a Kind.
func Classify(err error) Kind {
	var verr *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Kind
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTimeout
	}
	return KindUnknown
}
