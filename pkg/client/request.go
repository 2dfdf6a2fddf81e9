package client

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// MaxItemsPerRequest is the API's limit on item ids per call.
const MaxItemsPerRequest = 50

// BuildURL builds the request URL for a batch of item ids on one world.
// Path: {baseURL}/{apiVersion}/{escapedWorld}/{id,id,...}
// Duplicate ids are removed, order of first appearance is kept.
func (c Config) BuildURL(world string, itemIDs []uint32) (string, error) {
	world = strings.TrimSpace(world)
	if world == "" {
		return "", fmt.Errorf("world name is required")
	}
	if len(itemIDs) == 0 {
		return "", fmt.Errorf("at least one item id is required")
	}

	ids := make([]string, 0, len(itemIDs))
	for _, id := range dedupe(itemIDs) {
		ids = append(ids, strconv.FormatUint(uint64(id), 10))
	}
	if len(ids) > MaxItemsPerRequest {
		return "", fmt.Errorf("too many item ids: %d (max %d)", len(ids), MaxItemsPerRequest)
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(c.BaseURL, "/"))
	if c.APIVersion != "" {
		b.WriteString("/")
		b.WriteString(strings.Trim(c.APIVersion, "/"))
	}
	b.WriteString("/")
	b.WriteString(url.PathEscape(world))
	b.WriteString("/")
	b.WriteString(strings.Join(ids, ","))

	if query := c.query().Encode(); query != "" {
		b.WriteString("?")
		b.WriteString(query)
	}

	return b.String(), nil
}

// query returns the configured query parameters. Unset parameters are omitted.
func (c Config) query() url.Values {
	q := url.Values{}
	if c.Listings > 0 {
		q.Set("listings", strconv.Itoa(c.Listings))
	}
	if c.Entries > 0 {
		q.Set("entries", strconv.Itoa(c.Entries))
	}
	if c.HQ != nil {
		q.Set("hq", strconv.FormatBool(*c.HQ))
	}
	if c.StatsWithin > 0 {
		q.Set("statsWithin", strconv.FormatInt(c.StatsWithin.Milliseconds(), 10))
	}
	if c.EntriesWithin > 0 {
		q.Set("entriesWithin", strconv.FormatInt(c.EntriesWithin.Milliseconds(), 10))
	}
	if fields := nonEmpty(c.Fields); len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}
	return q
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// dedupe removes duplicate ids keeping the order of first appearance.
func dedupe(itemIDs []uint32) []uint32 {
	seen := make(map[uint32]struct{}, len(itemIDs))
	out := make([]uint32, 0, len(itemIDs))
	for _, id := range itemIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
