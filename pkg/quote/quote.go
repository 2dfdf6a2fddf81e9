// Package quote defines the price quote model shared by the cache, the fetch
// pipeline and the persistence stores, plus decoding of pricing API responses.
package quote

import (
	"time"
)

// Tiered holds a statistic split by quality tier.
type Tiered struct {
	All float64 `json:"all"`
	NQ  float64 `json:"nq"`
	HQ  float64 `json:"hq"`
}

// Histogram holds stack size histograms split by quality tier.
type Histogram struct {
	All map[string]int `json:"all,omitempty"`
	NQ  map[string]int `json:"nq,omitempty"`
	HQ  map[string]int `json:"hq,omitempty"`
}

// Listing is an active market board listing.
type Listing struct {
	ListingID      string    `json:"listing_id,omitempty"`
	PricePerUnit   uint32    `json:"price_per_unit"`
	Quantity       uint32    `json:"quantity"`
	Total          uint32    `json:"total"`
	Tax            uint32    `json:"tax"`
	HQ             bool      `json:"hq"`
	IsCrafted      bool      `json:"is_crafted"`
	OnMannequin    bool      `json:"on_mannequin"`
	RetainerName   string    `json:"retainer_name,omitempty"`
	RetainerCity   int       `json:"retainer_city,omitempty"`
	CreatorName    string    `json:"creator_name,omitempty"`
	StainID        int       `json:"stain_id,omitempty"`
	LastReviewTime time.Time `json:"last_review_time"`
}

// Sale is an entry of the recent sale history.
type Sale struct {
	PricePerUnit uint32    `json:"price_per_unit"`
	Quantity     uint32    `json:"quantity"`
	Total        uint32    `json:"total"`
	HQ           bool      `json:"hq"`
	OnMannequin  bool      `json:"on_mannequin"`
	BuyerName    string    `json:"buyer_name,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Quote is the price and statistics snapshot for one (item, world) pair.
// A Quote is never mutated after construction; updates replace it wholesale.
type Quote struct {
	ItemID  uint32 `json:"item_id"`
	WorldID uint32 `json:"world_id"`

	// LastUploadTime is the API's upload timestamp in milliseconds since epoch.
	LastUploadTime int64 `json:"last_upload_time"`

	// LastUpdate is when this process received the quote. Staleness is measured from here.
	LastUpdate time.Time `json:"last_update"`

	// LastSellDate is the timestamp of the newest recent sale, if any.
	LastSellDate *time.Time `json:"last_sell_date,omitempty"`

	CurrentAverage Tiered    `json:"current_average"`
	Average        Tiered    `json:"average"`
	Min            Tiered    `json:"min"`
	Max            Tiered    `json:"max"`
	SaleVelocity   Tiered    `json:"sale_velocity"`
	StackSizes     Histogram `json:"stack_sizes"`

	Listings      []Listing `json:"listings,omitempty"`
	RecentHistory []Sale    `json:"recent_history,omitempty"`

	WorldName          string `json:"world_name,omitempty"`
	ListingsCount      int    `json:"listings_count"`
	RecentHistoryCount int    `json:"recent_history_count"`
	UnitsForSale       int    `json:"units_for_sale"`
	UnitsSold          int    `json:"units_sold"`
	HasData            bool   `json:"has_data"`

	// Available is the number of listings carried by this quote.
	Available int `json:"available"`
}

// Key returns the quote's cache key.
func (q *Quote) Key() Key {
	return Key{ItemID: q.ItemID, WorldID: q.WorldID}
}

// Age returns how long ago the quote was received.
func (q *Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.LastUpdate)
}

// IsStale reports whether the quote is older than maxAge.
// A non-positive maxAge disables staleness.
func (q *Quote) IsStale(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	return q.Age(now) > maxAge
}

// CheapestListing returns the lowest priced listing. When hq is non-nil only
// listings of that quality are considered.
func (q *Quote) CheapestListing(hq *bool) (Listing, bool) {
	var (
		best  Listing
		found bool
	)
	for _, l := range q.Listings {
		if hq != nil && l.HQ != *hq {
			continue
		}
		if !found || l.PricePerUnit < best.PricePerUnit {
			best = l
			found = true
		}
	}
	return best, found
}
