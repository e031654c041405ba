package model

import (
	"time"

	"github.com/ncku-metabolomics/classyfire-cli/pkg/classyfire"
)

// CacheStatus records what ClassyFire answered for a key.
type CacheStatus string

const (
	CacheStatusFound   CacheStatus = "found"
	CacheStatusMissing CacheStatus = "missing"
)

// CacheEntry is a cached classification for one InChIKey.
type CacheEntry struct {
	InChIKey  string              `json:"inchikey"`
	Status    CacheStatus         `json:"status"`
	Taxonomy  classyfire.Taxonomy `json:"taxonomy"`
	CachedAt  time.Time           `json:"cached_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// CacheStats summarises the classification cache.
type CacheStats struct {
	Total   int `json:"total"`
	Found   int `json:"found"`
	Missing int `json:"missing"`
	Expired int `json:"expired"`
}
