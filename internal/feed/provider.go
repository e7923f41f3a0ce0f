package feed

import (
	"context"
	"strings"

	"tiercache/internal/media"
)

// Provider reports the items a user is interested in. Items carry a logical
// path as the provider sees it, one or more reports, and optionally a size,
// last-activity time and consumed flag.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, user string) ([]media.Item, error)
}

// Source is one provider fetch.
type Source struct {
	Provider Provider
	User     string
}

// PinProvider reports manually pinned paths from configuration.
type PinProvider struct {
	pins []string
}

// NewPinProvider returns a provider for the given logical paths.
func NewPinProvider(pins []string) *PinProvider {
	cleaned := make([]string, 0, len(pins))
	for _, pin := range pins {
		if pin = strings.TrimSpace(pin); pin != "" {
			cleaned = append(cleaned, pin)
		}
	}
	return &PinProvider{pins: cleaned}
}

// Name implements Provider.
func (p *PinProvider) Name() string { return "pins" }

// Fetch implements Provider. Pins are not user scoped.
func (p *PinProvider) Fetch(ctx context.Context, _ string) ([]media.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items := make([]media.Item, 0, len(p.pins))
	for _, pin := range p.pins {
		items = append(items, media.Item{
			LogicalPath: pin,
			Reports:     []media.Report{{Signal: media.Signal{Kind: media.SignalPinned}}},
		})
	}
	return items, nil
}
