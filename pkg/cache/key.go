package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/models"
)

const (
	keyNamespace = "querysight"
	keyVersion   = "v1"
	digestLen    = 32
)

// Key identifies a cache entry. Root is the digest of the collection entry the
// value was derived from, so a collection key has Root == Digest.
type Key struct {
	Category models.CacheCategory
	Root     string
	Digest   string
}

// String renders the key as querysight:v1:<category>:<root>:<digest>.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", keyNamespace, keyVersion, k.Category, k.Root, k.Digest)
}

// IsZero reports whether the key was never built.
func (k Key) IsZero() bool {
	return k.Digest == ""
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 5 || parts[0] != keyNamespace || parts[1] != keyVersion {
		return Key{}, fmt.Errorf("malformed cache key %q: %w", s, apperrors.ErrInvalidArgument)
	}
	category, err := models.ParseCacheCategory(parts[2])
	if err != nil {
		return Key{}, fmt.Errorf("%v: %w", err, apperrors.ErrInvalidArgument)
	}
	if parts[3] == "" || parts[4] == "" {
		return Key{}, fmt.Errorf("malformed cache key %q: %w", s, apperrors.ErrInvalidArgument)
	}
	return Key{Category: category, Root: parts[3], Digest: parts[4]}, nil
}

func categoryPrefix(category models.CacheCategory) string {
	return fmt.Sprintf("%s:%s:%s:", keyNamespace, keyVersion, category)
}

func rootPrefix(category models.CacheCategory, root string) string {
	return categoryPrefix(category) + root + ":"
}

// KeyBuilder collects everything a stage output depends on and hashes it into a Key.
// Inputs and filters are encoded as JSON objects, which encoding/json writes with
// sorted keys, so the call order never changes the digest.
type KeyBuilder struct {
	stage    models.Stage
	category models.CacheCategory
	root     string
	inputs   map[string]string
	filters  map[string]any
}

// NewKeyBuilder starts a key for the output of stage.
func NewKeyBuilder(stage models.Stage) *KeyBuilder {
	return &KeyBuilder{
		stage:    stage,
		category: stage.Category(),
		inputs:   make(map[string]string),
		filters:  make(map[string]any),
	}
}

// Input records the fingerprint of a named upstream input.
func (b *KeyBuilder) Input(name, fingerprint string) *KeyBuilder {
	b.inputs[name] = fingerprint
	return b
}

// Filter records a user-supplied parameter. Values must be JSON-encodable; slices
// are hashed in the order given, so callers pass sorted slices for set semantics.
func (b *KeyBuilder) Filter(name string, value any) *KeyBuilder {
	b.filters[name] = value
	return b
}

// DerivedFrom makes the key inherit the lineage root of parent.
func (b *KeyBuilder) DerivedFrom(parent Key) *KeyBuilder {
	b.root = parent.Root
	return b
}

// Build hashes the collected parts. Keys for any stage but collection must name
// the collection entry they descend from with DerivedFrom.
func (b *KeyBuilder) Build() (Key, error) {
	payload, err := json.Marshal(struct {
		Stage   models.Stage      `json:"stage"`
		Inputs  map[string]string `json:"inputs"`
		Filters map[string]any    `json:"filters"`
	}{b.stage, b.inputs, b.filters})
	if err != nil {
		return Key{}, fmt.Errorf("encode cache key for %s: %w", b.stage, err)
	}
	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])[:digestLen]

	root := b.root
	if b.category == models.CacheCategoryCollection {
		root = digest
	}
	if root == "" {
		return Key{}, fmt.Errorf("cache key for %s has no lineage root: %w", b.stage, apperrors.ErrInvalidArgument)
	}
	return Key{Category: b.category, Root: root, Digest: digest}, nil
}

// ContentFingerprint hashes the JSON encoding of a stage output. Downstream keys
// use it as their input fingerprint, so a changed upstream result gives new keys.
func ContentFingerprint(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode content fingerprint: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:digestLen], nil
}
