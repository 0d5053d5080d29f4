package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/models"
)

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func sealEntry(key Key, payload []byte, createdAt time.Time, ttl time.Duration, explicit bool) ([]byte, error) {
	entry := models.CacheEntry{
		Category:    key.Category,
		Key:         key.String(),
		Payload:     payload,
		CreatedAt:   createdAt.UTC(),
		TTL:         ttl,
		ExplicitTTL: explicit,
		Checksum:    checksum(payload),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode cache envelope: %w", err)
	}
	return data, nil
}

// openEntry decodes and verifies a stored envelope. Any failure wraps ErrCacheCorruption.
func openEntry(key string, data []byte) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode envelope for %s: %v: %w", key, err, apperrors.ErrCacheCorruption)
	}
	if entry.Key != key {
		return nil, fmt.Errorf("envelope for %s names key %q: %w", key, entry.Key, apperrors.ErrCacheCorruption)
	}
	if entry.Checksum != checksum(entry.Payload) {
		return nil, fmt.Errorf("checksum mismatch for %s: %w", key, apperrors.ErrCacheCorruption)
	}
	return &entry, nil
}
