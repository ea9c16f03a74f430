// Package calendar derives bookable time slots from the clinic's
// operating-hours template. It is pure over the template: it never touches
// appointment state and holds no locks, so its answers are only ever a
// pre-filter for the atomic reserve in the ledger.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProviderLookup answers whether a provider exists and is bookable. The
// appointment repository satisfies it.
type ProviderLookup interface {
	ProviderAvailable(ctx context.Context, id uuid.UUID) (bool, error)
}

// Template is the fixed operating-hours grid: slots every SlotMinutes from
// OpenHour up to (not including) CloseHour, in the clinic's local timezone.
type Template struct {
	OpenHour    int
	CloseHour   int
	SlotMinutes int
	Location    *time.Location
}

type Slot struct {
	ProviderID uuid.UUID
	Date       time.Time
	StartTime  string
}

type Calendar struct {
	tmpl      Template
	providers ProviderLookup
	now       func() time.Time
}

func New(tmpl Template, providers ProviderLookup) *Calendar {
	if tmpl.SlotMinutes <= 0 {
		tmpl.SlotMinutes = 60
	}
	if tmpl.Location == nil {
		tmpl.Location = time.Local
	}
	return &Calendar{
		tmpl:      tmpl,
		providers: providers,
		now:       time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (c *Calendar) WithNow(now func() time.Time) *Calendar {
	c.now = now
	return c
}

// GenerateSlots returns the ordered template slots for a provider on a date.
// Unknown or disabled providers yield an empty sequence, never an error; a
// valid provider with a fully booked day still gets its full template here,
// occupancy is the ledger's business.
func (c *Calendar) GenerateSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Slot, error) {
	available, err := c.providers.ProviderAvailable(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("look up provider: %w", err)
	}
	if !available {
		return nil, nil
	}

	var slots []Slot
	for hour := c.tmpl.OpenHour; hour < c.tmpl.CloseHour; hour++ {
		for minute := 0; minute < 60; minute += c.tmpl.SlotMinutes {
			slots = append(slots, Slot{
				ProviderID: providerID,
				Date:       date,
				StartTime:  fmt.Sprintf("%02d:%02d", hour, minute),
			})
		}
	}

	return slots, nil
}

// WithinTemplate reports whether startTime ("15:04") lands exactly on a
// template slot.
func (c *Calendar) WithinTemplate(startTime string) bool {
	t, err := time.Parse("15:04", startTime)
	if err != nil {
		return false
	}
	if t.Hour() < c.tmpl.OpenHour || t.Hour() >= c.tmpl.CloseHour {
		return false
	}
	return t.Minute()%c.tmpl.SlotMinutes == 0
}

// IsPastDay compares calendar days in the clinic timezone; today is never in
// the past regardless of the current hour.
func (c *Calendar) IsPastDay(date time.Time) bool {
	now := c.now().In(c.tmpl.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.tmpl.Location)
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, c.tmpl.Location)
	return d.Before(today)
}

// IsBookable reports whether the slot is within the template, on a
// non-past day, for a known and enabled provider.
func (c *Calendar) IsBookable(ctx context.Context, providerID uuid.UUID, date time.Time, startTime string) (bool, error) {
	if !c.WithinTemplate(startTime) || c.IsPastDay(date) {
		return false, nil
	}

	available, err := c.providers.ProviderAvailable(ctx, providerID)
	if err != nil {
		return false, fmt.Errorf("look up provider: %w", err)
	}

	return available, nil
}
