// Package priority computes the priority score of waiting items.
//
// There is exactly one scoring function. The optimizer, manual
// reprioritization and display estimates all call the same Calculator built
// from the same configuration, so identical inputs always produce identical
// numbers.
package priority

import (
	"time"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/config"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
)

// Calculator is a pure scoring function over configured constants.
// It is immutable after construction and safe for concurrent use.
type Calculator struct {
	base      map[domain.Category]int64
	factors   map[domain.Factor]int64
	perMinute int64
	waitCap   int64
	critical  map[domain.Category]bool
}

// Breakdown explains a score.
type Breakdown struct {
	Base        int64 `json:"base"`
	WaitMinutes int64 `json:"wait_minutes"`
	Wait        int64 `json:"wait"`
	Special     int64 `json:"special"`
	Total       int64 `json:"total"`
}

// New builds a Calculator. Category and factor names are normalized.
func New(cfg config.Scoring) (*Calculator, error) {
	if len(cfg.CategoryBase) == 0 {
		return nil, domain.NewConfigurationError("no category base scores configured")
	}
	if cfg.WaitBonusPerMinute < 0 || cfg.WaitBonusCap < 0 {
		return nil, domain.NewConfigurationError("wait bonus rate and cap must be non-negative")
	}

	c := &Calculator{
		base:      make(map[domain.Category]int64, len(cfg.CategoryBase)),
		factors:   make(map[domain.Factor]int64, len(cfg.SpecialFactorBonus)),
		perMinute: cfg.WaitBonusPerMinute,
		waitCap:   cfg.WaitBonusCap,
		critical:  make(map[domain.Category]bool, len(cfg.CriticalCategories)),
	}
	for name, score := range cfg.CategoryBase {
		c.base[domain.NormalizeCategory(name)] = score
	}
	for name, bonus := range cfg.SpecialFactorBonus {
		c.factors[domain.NormalizeFactor(name)] = bonus
	}
	for _, name := range cfg.CriticalCategories {
		cat := domain.NormalizeCategory(name)
		if _, ok := c.base[cat]; !ok {
			return nil, domain.NewConfigurationError("critical category %q has no base score", name)
		}
		c.critical[cat] = true
	}
	return c, nil
}

// Score returns the priority score of item at now.
func (c *Calculator) Score(item domain.WaitingItem, now time.Time) (int64, error) {
	b, err := c.Explain(item, now)
	if err != nil {
		return 0, err
	}
	return b.Total, nil
}

// Explain returns the score together with its components. An unknown
// category or factor is a configuration error; nothing is defaulted.
func (c *Calculator) Explain(item domain.WaitingItem, now time.Time) (Breakdown, error) {
	base, ok := c.base[domain.NormalizeCategory(string(item.Category))]
	if !ok {
		return Breakdown{}, &domain.Error{
			Code:     domain.ErrCodeConfiguration,
			Message:  "unknown category " + string(item.Category),
			EntityID: item.ID,
		}
	}

	special, err := c.specialBonus(item)
	if err != nil {
		return Breakdown{}, err
	}

	minutes := WaitMinutes(item, now)
	wait := c.waitBonus(minutes)
	return Breakdown{
		Base:        base,
		WaitMinutes: minutes,
		Wait:        wait,
		Special:     special,
		Total:       base + wait + special,
	}, nil
}

// Critical reports whether events about items in category cat are critical.
func (c *Calculator) Critical(cat domain.Category) bool {
	return c.critical[domain.NormalizeCategory(string(cat))]
}

// Known reports whether cat has a configured base score.
func (c *Calculator) Known(cat domain.Category) bool {
	_, ok := c.base[domain.NormalizeCategory(string(cat))]
	return ok
}

func (c *Calculator) waitBonus(minutes int64) int64 {
	if c.perMinute == 0 || minutes <= 0 {
		return 0
	}
	// Compare before multiplying so very old items cannot overflow.
	if minutes >= c.waitCap/c.perMinute+1 {
		return c.waitCap
	}
	return min(c.perMinute*minutes, c.waitCap)
}

// specialBonus sums each distinct factor once.
func (c *Calculator) specialBonus(item domain.WaitingItem) (int64, error) {
	var total int64
	seen := make(map[domain.Factor]bool, len(item.Factors))
	for _, f := range item.Factors {
		f = domain.NormalizeFactor(string(f))
		if seen[f] {
			continue
		}
		seen[f] = true
		bonus, ok := c.factors[f]
		if !ok {
			return 0, &domain.Error{
				Code:     domain.ErrCodeConfiguration,
				Message:  "unknown special factor " + string(f),
				EntityID: item.ID,
			}
		}
		total += bonus
	}
	return total, nil
}

// WaitMinutes returns whole minutes elapsed since arrival, never negative.
func WaitMinutes(item domain.WaitingItem, now time.Time) int64 {
	d := now.Sub(item.ArrivedAt)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Minute)
}

// Before is the total ranking order over scored items: higher score first,
// then earlier arrival, then lower identifier.
func Before(a, b domain.WaitingItem) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.ArrivedAt.Equal(b.ArrivedAt) {
		return a.ArrivedAt.Before(b.ArrivedAt)
	}
	return a.ID < b.ID
}
