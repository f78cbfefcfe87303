package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidPrice is returned when the feed reports a price <= 0.
	ErrInvalidPrice = errors.New("oracle: invalid price")
	// ErrStalePrice is returned when the latest price is older than the adapter's MaxAge.
	ErrStalePrice = errors.New("oracle: stale price")
	// ErrAmountOutOfRange is returned when a conversion rounds to zero or overflows int64.
	ErrAmountOutOfRange = errors.New("oracle: converted amount out of range")
)

// Feed supplies the USD value of one whole payment token.
type Feed interface {
	LatestPrice(ctx context.Context) (price decimal.Decimal, updatedAt time.Time, err error)
}

// Adapter converts USD amounts into token base units using a Feed.
type Adapter struct {
	Feed     Feed
	Decimals int32
	// MaxAge bounds how old a price may be. Zero disables the check.
	MaxAge time.Duration
	Now    func() time.Time
}

// NewAdapter returns an Adapter with the wall clock.
func NewAdapter(feed Feed, decimals int32, maxAge time.Duration) *Adapter {
	return &Adapter{Feed: feed, Decimals: decimals, MaxAge: maxAge, Now: time.Now}
}

// Price returns the current price after the validity and staleness checks.
func (a *Adapter) Price(ctx context.Context) (decimal.Decimal, error) {
	price, updatedAt, err := a.Feed.LatestPrice(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: latest price: %w", err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	if a.MaxAge > 0 {
		now := time.Now
		if a.Now != nil {
			now = a.Now
		}
		if age := now().Sub(updatedAt); age > a.MaxAge {
			return decimal.Zero, fmt.Errorf("%w: updated %s ago", ErrStalePrice, age.Round(time.Second))
		}
	}
	return price, nil
}

// ToTokens converts usd into token base units at the current price, truncating toward zero.
func (a *Adapter) ToTokens(ctx context.Context, usd decimal.Decimal) (int64, error) {
	price, err := a.Price(ctx)
	if err != nil {
		return 0, err
	}
	return Convert(usd, price, a.Decimals)
}

// Convert is the pure conversion used by ToTokens.
func Convert(usd, price decimal.Decimal, decimals int32) (int64, error) {
	if !price.IsPositive() {
		return 0, ErrInvalidPrice
	}
	units := usd.Shift(decimals).Div(price).Truncate(0)
	if !units.IsPositive() || units.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("%w: %s USD at %s", ErrAmountOutOfRange, usd, price)
	}
	return units.IntPart(), nil
}

// StaticFeed is a fixed price, settable at runtime. Used in development and tests.
type StaticFeed struct {
	mu        sync.RWMutex
	price     decimal.Decimal
	updatedAt time.Time
}

func NewStaticFeed(price decimal.Decimal, updatedAt time.Time) *StaticFeed {
	return &StaticFeed{price: price, updatedAt: updatedAt}
}

func (f *StaticFeed) Set(price decimal.Decimal, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
	f.updatedAt = updatedAt
}

func (f *StaticFeed) LatestPrice(context.Context) (decimal.Decimal, time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.price, f.updatedAt, nil
}
