package execution

import (
	"fmt"
	"strings"

	"github.com/canvasshq/canvass"
)

// SearchCriteria is the immutable input captured when an execution is
// created. Optional fields are pointers; absent values are persisted as
// nulls.
type SearchCriteria struct {
	Location      string   `json:"location"`
	PropertyType  string   `json:"property_type"`
	Bedrooms      *int     `json:"bedrooms,omitempty"`
	Bathrooms     *int     `json:"bathrooms,omitempty"`
	MaxPrice      *float64 `json:"max_price,omitempty"`
	RentFrequency string   `json:"rent_frequency"`
	Requirements  string   `json:"additional_requirements,omitempty"`
}

// Normalize fills defaulted fields and validates the criteria.
func (c *SearchCriteria) Normalize() error {
	c.Location = strings.TrimSpace(c.Location)
	if c.Location == "" {
		return fmt.Errorf("%w: location is required", canvass.ErrValidation)
	}
	if c.PropertyType == "" {
		c.PropertyType = "apartment"
	}
	if c.RentFrequency == "" {
		c.RentFrequency = "monthly"
	}
	return nil
}
