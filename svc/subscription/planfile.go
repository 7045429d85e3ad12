package subscription

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"
)

// ErrInvalidPlanFile is returned by LoadPlans for unreadable or inconsistent
// plan definitions.
var ErrInvalidPlanFile = errors.New("invalid plan file")

type planFile struct {
	Plans []struct {
		ID            string `yaml:"id"`
		Name          string `yaml:"name"`
		Amount        int64  `yaml:"amount"`
		Currency      string `yaml:"currency"`
		Frequency     int    `yaml:"frequency"`
		FrequencyType string `yaml:"frequency_type"`
		RemotePriceID string `yaml:"remote_price_id"`
		RemoteProduct string `yaml:"remote_product"`
		Active        *bool  `yaml:"active"`
	} `yaml:"plans"`
}

// LoadPlans reads plan definitions in YAML:
//
//	plans:
//	  - id: monthly
//	    name: Monthly
//	    amount: 95000        # minor units
//	    currency: usd
//	    frequency: 1
//	    frequency_type: months
//	    remote_price_id: pri_01h...
//
// Currencies are normalised to upper-case ISO 4217 codes. Plans are active
// unless they say otherwise.
func LoadPlans(r io.Reader) ([]Plan, error) {
	var f planFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Join(ErrInvalidPlanFile, err)
	}

	seen := make(map[string]struct{}, len(f.Plans))
	plans := make([]Plan, 0, len(f.Plans))
	for i, p := range f.Plans {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: plan #%d has no id", ErrInvalidPlanFile, i+1)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate plan id %q", ErrInvalidPlanFile, p.ID)
		}
		seen[p.ID] = struct{}{}

		if p.Amount < 0 {
			return nil, fmt.Errorf("%w: plan %q has a negative amount", ErrInvalidPlanFile, p.ID)
		}
		unit, err := currency.ParseISO(strings.TrimSpace(p.Currency))
		if err != nil {
			return nil, fmt.Errorf("%w: plan %q: %w", ErrInvalidPlanFile, p.ID, err)
		}

		freqType := p.FrequencyType
		switch freqType {
		case "":
			freqType = FrequencyMonths
		case FrequencyDays, FrequencyWeeks, FrequencyMonths, FrequencyYears:
		default:
			return nil, fmt.Errorf("%w: plan %q has unknown frequency type %q", ErrInvalidPlanFile, p.ID, freqType)
		}

		plan := Plan{
			ID:            p.ID,
			Name:          p.Name,
			Price:         Money{Amount: p.Amount, Currency: unit.String()},
			RemotePriceID: p.RemotePriceID,
			RemoteProduct: p.RemoteProduct,
			Active:        p.Active == nil || *p.Active,
			Recurrence: Recurrence{
				Frequency:     max(p.Frequency, 1),
				FrequencyType: freqType,
				Amount:        p.Amount,
				Currency:      unit.String(),
			},
		}
		if plan.Name == "" {
			plan.Name = plan.ID
		}
		plans = append(plans, plan)
	}
	return plans, nil
}
