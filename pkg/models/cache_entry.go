package models

import (
	"fmt"
	"time"
)

// CacheCategory partitions the cache by the stage output it holds.
type CacheCategory string

const (
	CacheCategoryCollection  CacheCategory = "collection"
	CacheCategoryPatterns    CacheCategory = "patterns"
	CacheCategoryMappings    CacheCategory = "mappings"
	CacheCategorySuggestions CacheCategory = "suggestions"
)

// AllCacheCategories returns the categories in dependency order.
func AllCacheCategories() []CacheCategory {
	return []CacheCategory{
		CacheCategoryCollection,
		CacheCategoryPatterns,
		CacheCategoryMappings,
		CacheCategorySuggestions,
	}
}

// Downstream returns the categories whose entries are derived from this one.
func (c CacheCategory) Downstream() []CacheCategory {
	all := AllCacheCategories()
	for i, cat := range all {
		if cat == c {
			return all[i+1:]
		}
	}
	return nil
}

// ParseCacheCategory validates a category name.
func ParseCacheCategory(s string) (CacheCategory, error) {
	for _, c := range AllCacheCategories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown cache category %q", s)
}

// CacheEntry is a stored stage output.
type CacheEntry struct {
	Category  CacheCategory `json:"category"`
	Key       string        `json:"key"`
	Payload   []byte        `json:"payload"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
	// ExplicitTTL marks a TTL chosen by the writer. Such entries expire on TTL;
	// the rest follow the category's current TTL.
	ExplicitTTL bool   `json:"explicit_ttl,omitempty"`
	Checksum    string `json:"checksum"`
}

// Expired reports whether now is past the entry's time-to-live.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// ExpiresAt returns the instant after which the entry is a miss.
func (e *CacheEntry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}
