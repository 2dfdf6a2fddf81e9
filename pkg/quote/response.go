package quote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrMalformedResponse indicates the API body is not valid or not in the expected shape.
var ErrMalformedResponse = errors.New("malformed pricing response")

// ListingResponse is a listing as returned by the pricing API.
type ListingResponse struct {
	LastReviewTime int64           `json:"lastReviewTime"`
	PricePerUnit   uint32          `json:"pricePerUnit"`
	Quantity       uint32          `json:"quantity"`
	StainID        int             `json:"stainID"`
	CreatorName    string          `json:"creatorName"`
	CreatorID      json.RawMessage `json:"creatorID"`
	HQ             bool            `json:"hq"`
	IsCrafted      bool            `json:"isCrafted"`
	ListingID      json.RawMessage `json:"listingID"`
	OnMannequin    bool            `json:"onMannequin"`
	RetainerCity   int             `json:"retainerCity"`
	RetainerID     string          `json:"retainerID"`
	RetainerName   string          `json:"retainerName"`
	SellerID       string          `json:"sellerID"`
	Total          uint32          `json:"total"`
	Tax            uint32          `json:"tax"`
}

// SaleResponse is a recent history entry as returned by the pricing API.
type SaleResponse struct {
	HQ           bool   `json:"hq"`
	PricePerUnit uint32 `json:"pricePerUnit"`
	Quantity     uint32 `json:"quantity"`
	Timestamp    int64  `json:"timestamp"`
	OnMannequin  bool   `json:"onMannequin"`
	BuyerName    string `json:"buyerName"`
	Total        uint32 `json:"total"`
}

// ItemResponse is the per-item object of the pricing API.
type ItemResponse struct {
	ItemID         uint32            `json:"itemID"`
	WorldID        uint32            `json:"worldID"`
	LastUploadTime int64             `json:"lastUploadTime"`
	Listings       []ListingResponse `json:"listings"`
	RecentHistory  []SaleResponse    `json:"recentHistory"`

	CurrentAveragePrice   float64 `json:"currentAveragePrice"`
	CurrentAveragePriceNQ float64 `json:"currentAveragePriceNQ"`
	CurrentAveragePriceHQ float64 `json:"currentAveragePriceHQ"`
	AveragePrice          float64 `json:"averagePrice"`
	AveragePriceNQ        float64 `json:"averagePriceNQ"`
	AveragePriceHQ        float64 `json:"averagePriceHQ"`
	MinPrice              float64 `json:"minPrice"`
	MinPriceNQ            float64 `json:"minPriceNQ"`
	MinPriceHQ            float64 `json:"minPriceHQ"`
	MaxPrice              float64 `json:"maxPrice"`
	MaxPriceNQ            float64 `json:"maxPriceNQ"`
	MaxPriceHQ            float64 `json:"maxPriceHQ"`

	RegularSaleVelocity float64 `json:"regularSaleVelocity"`
	NQSaleVelocity      float64 `json:"nqSaleVelocity"`
	HQSaleVelocity      float64 `json:"hqSaleVelocity"`

	StackSizeHistogram   map[string]int `json:"stackSizeHistogram"`
	StackSizeHistogramNQ map[string]int `json:"stackSizeHistogramNQ"`
	StackSizeHistogramHQ map[string]int `json:"stackSizeHistogramHQ"`

	WorldName          string `json:"worldName"`
	ListingsCount      int    `json:"listingsCount"`
	RecentHistoryCount int    `json:"recentHistoryCount"`
	UnitsForSale       int    `json:"unitsForSale"`
	UnitsSold          int    `json:"unitsSold"`
	HasData            bool   `json:"hasData"`
}

// MultiResponse is the body returned for a request with more than one item id.
type MultiResponse struct {
	ItemIDs []json.Number           `json:"itemIDs"`
	Items   map[string]ItemResponse `json:"items"`
}

// Response is the decoded body of a pricing request. Exactly one of Single
// and Multi is set.
type Response struct {
	Single *ItemResponse
	Multi  *MultiResponse
}

// Limits bounds the lists carried by a normalized quote. Zero means unbounded.
type Limits struct {
	MaxListings int
	MaxHistory  int
}

// DecodeResponse decodes body according to the number of item ids requested:
// a single id yields a bare object, several ids yield an id-keyed dictionary.
func DecodeResponse(body []byte, requested int) (Response, error) {
	if requested == 1 {
		var item ItemResponse
		if err := json.Unmarshal(body, &item); err != nil {
			return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if item.ItemID == 0 {
			return Response{}, fmt.Errorf("%w: missing itemID", ErrMalformedResponse)
		}
		return Response{Single: &item}, nil
	}

	var multi MultiResponse
	if err := json.Unmarshal(body, &multi); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if multi.Items == nil {
		return Response{}, fmt.Errorf("%w: missing items", ErrMalformedResponse)
	}
	return Response{Multi: &multi}, nil
}

// Quotes normalizes the response into one Quote per item id.
func (r Response) Quotes(worldID uint32, now time.Time, limits Limits) map[uint32]*Quote {
	out := make(map[uint32]*Quote)

	if r.Single != nil {
		q := FromResponse(*r.Single, worldID, now, limits)
		out[q.ItemID] = q
		return out
	}

	if r.Multi != nil {
		for id, item := range r.Multi.Items {
			if item.ItemID == 0 {
				parsed, err := strconv.ParseUint(id, 10, 32)
				if err != nil {
					continue
				}
				item.ItemID = uint32(parsed)
			}
			q := FromResponse(item, worldID, now, limits)
			out[q.ItemID] = q
		}
	}

	return out
}

// FromResponse maps an API item object onto a Quote.
func FromResponse(r ItemResponse, worldID uint32, now time.Time, limits Limits) *Quote {
	q := &Quote{
		ItemID:         r.ItemID,
		WorldID:        worldID,
		LastUploadTime: r.LastUploadTime,
		LastUpdate:     now,
		CurrentAverage: Tiered{All: r.CurrentAveragePrice, NQ: r.CurrentAveragePriceNQ, HQ: r.CurrentAveragePriceHQ},
		Average:        Tiered{All: r.AveragePrice, NQ: r.AveragePriceNQ, HQ: r.AveragePriceHQ},
		Min:            Tiered{All: r.MinPrice, NQ: r.MinPriceNQ, HQ: r.MinPriceHQ},
		Max:            Tiered{All: r.MaxPrice, NQ: r.MaxPriceNQ, HQ: r.MaxPriceHQ},
		SaleVelocity:   Tiered{All: r.RegularSaleVelocity, NQ: r.NQSaleVelocity, HQ: r.HQSaleVelocity},
		StackSizes: Histogram{
			All: r.StackSizeHistogram,
			NQ:  r.StackSizeHistogramNQ,
			HQ:  r.StackSizeHistogramHQ,
		},
		WorldName:          r.WorldName,
		ListingsCount:      r.ListingsCount,
		RecentHistoryCount: r.RecentHistoryCount,
		UnitsForSale:       r.UnitsForSale,
		UnitsSold:          r.UnitsSold,
		HasData:            r.HasData,
	}

	listings := r.Listings
	if limits.MaxListings > 0 && len(listings) > limits.MaxListings {
		listings = listings[:limits.MaxListings]
	}
	if len(listings) > 0 {
		q.Listings = make([]Listing, 0, len(listings))
		for _, l := range listings {
			q.Listings = append(q.Listings, Listing{
				ListingID:      rawString(l.ListingID),
				PricePerUnit:   l.PricePerUnit,
				Quantity:       l.Quantity,
				Total:          l.Total,
				Tax:            l.Tax,
				HQ:             l.HQ,
				IsCrafted:      l.IsCrafted,
				OnMannequin:    l.OnMannequin,
				RetainerName:   l.RetainerName,
				RetainerCity:   l.RetainerCity,
				CreatorName:    l.CreatorName,
				StainID:        l.StainID,
				LastReviewTime: time.Unix(l.LastReviewTime, 0).UTC(),
			})
		}
	}
	q.Available = len(q.Listings)

	history := r.RecentHistory
	if limits.MaxHistory > 0 && len(history) > limits.MaxHistory {
		history = history[:limits.MaxHistory]
	}
	if len(history) > 0 {
		q.RecentHistory = make([]Sale, 0, len(history))
		var newest time.Time
		for _, s := range history {
			ts := time.Unix(s.Timestamp, 0).UTC()
			if ts.After(newest) {
				newest = ts
			}
			q.RecentHistory = append(q.RecentHistory, Sale{
				PricePerUnit: s.PricePerUnit,
				Quantity:     s.Quantity,
				Total:        s.Total,
				HQ:           s.HQ,
				OnMannequin:  s.OnMannequin,
				BuyerName:    s.BuyerName,
				Timestamp:    ts,
			})
		}
		q.LastSellDate = &newest
	}

	return q
}

// rawString renders a JSON scalar that the API sends either as string or number.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
