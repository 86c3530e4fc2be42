package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Asset identifies a tracked coin. The set of assets is compiled in;
// identifiers follow the lowercase naming used by the market providers.
type Asset struct {
	ID     string
	Symbol string
	Name   string
}

// Fiat is a supported quote currency.
type Fiat string

const (
	FiatUSD Fiat = "USD"
	FiatEUR Fiat = "EUR"
	FiatRUB Fiat = "RUB"
)

// Fiats lists every supported quote currency, in display order.
func Fiats() []Fiat {
	return []Fiat{FiatUSD, FiatEUR, FiatRUB}
}

// Sign returns the currency symbol used in rendered messages.
func (f Fiat) Sign() string {
	switch f {
	case FiatUSD:
		return "$"
	case FiatEUR:
		return "€"
	case FiatRUB:
		return "₽"
	}
	return string(f)
}

// ParseFiat validates a fiat code. Codes are case-insensitive; config
// files and the store conventionally use the lowercase form.
func ParseFiat(code string) (Fiat, error) {
	for _, f := range Fiats() {
		if strings.EqualFold(string(f), code) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported fiat %q", code)
}

// Cadence is a subscriber's update frequency. Values are fixed at
// compile time; the scheduler registers one timer per cadence.
type Cadence string

const (
	Cadence15m Cadence = "15m"
	Cadence30m Cadence = "30m"
	Cadence1h  Cadence = "1h"
	Cadence2h  Cadence = "2h"
)

// Cadences lists every schedulable cadence.
func Cadences() []Cadence {
	return []Cadence{Cadence15m, Cadence30m, Cadence1h, Cadence2h}
}

// Duration converts the cadence into a timer interval.
func (c Cadence) Duration() time.Duration {
	switch c {
	case Cadence15m:
		return 15 * time.Minute
	case Cadence30m:
		return 30 * time.Minute
	case Cadence1h:
		return time.Hour
	case Cadence2h:
		return 2 * time.Hour
	}
	return 0
}

// ParseCadence validates a cadence value.
func ParseCadence(value string) (Cadence, error) {
	for _, c := range Cadences() {
		if string(c) == value {
			return c, nil
		}
	}
	return "", fmt.Errorf("unsupported cadence %q", value)
}

var assets = []Asset{
	{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"},
	{ID: "ethereum", Symbol: "ETH", Name: "Ethereum"},
	{ID: "solana", Symbol: "SOL", Name: "Solana"},
	{ID: "binancecoin", Symbol: "BNB", Name: "BNB"},
	{ID: "ripple", Symbol: "XRP", Name: "XRP"},
	{ID: "cardano", Symbol: "ADA", Name: "Cardano"},
	{ID: "dogecoin", Symbol: "DOGE", Name: "Dogecoin"},
	{ID: "polkadot", Symbol: "DOT", Name: "Polkadot"},
	{ID: "litecoin", Symbol: "LTC", Name: "Litecoin"},
	{ID: "chainlink", Symbol: "LINK", Name: "Chainlink"},
}

var byID = func() map[string]Asset {
	m := make(map[string]Asset, len(assets))
	for _, a := range assets {
		m[a.ID] = a
	}
	return m
}()

// Assets returns the full supported catalog.
func Assets() []Asset {
	out := make([]Asset, len(assets))
	copy(out, assets)
	return out
}

// Lookup resolves an asset id against the catalog.
func Lookup(id string) (Asset, bool) {
	a, ok := byID[id]
	return a, ok
}
