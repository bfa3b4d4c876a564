package execution

import "github.com/canvasshq/canvass/id"

// PropertyRecord is an extracted listing, immutable once produced and
// owned by the execution that extracted it. Fields the extractor could
// not fill stay nil and are named in Gaps — missing data is recorded,
// never treated as failure.
type PropertyRecord struct {
	ID            id.PropertyID `json:"id"`
	Address       string        `json:"address"`
	PropertyType  string        `json:"property_type,omitempty"`
	Bedrooms      *int          `json:"bedrooms,omitempty"`
	Bathrooms     *int          `json:"bathrooms,omitempty"`
	Price         *float64      `json:"price,omitempty"`
	RentFrequency string        `json:"rent_frequency,omitempty"`
	ImageURLs     []string      `json:"image_urls,omitempty"`
	ContactName   *string       `json:"contact_name,omitempty"`
	ContactPhone  *string       `json:"contact_phone,omitempty"`
	SourceURL     string        `json:"source_url,omitempty"`

	// Gaps lists the field names the extractor left empty.
	Gaps []string `json:"gaps,omitempty"`
}

// LocationIntelligence is the location analyzer's result for one
// property. Partial results carry a reason instead of failing the
// execution.
type LocationIntelligence struct {
	Summary       string   `json:"summary,omitempty"`
	Amenities     []string `json:"amenities,omitempty"`
	Partial       bool     `json:"partial,omitempty"`
	PartialReason string   `json:"partial_reason,omitempty"`
}

// DataGap marks a missing piece of extraction or analysis data. Gaps
// are logged and recorded; the execution proceeds.
type DataGap struct {
	Stage      string `json:"stage"`
	PropertyID string `json:"property_id,omitempty"`
	Detail     string `json:"detail"`
}
