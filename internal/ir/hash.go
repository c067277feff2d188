package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests. The version suffix leaves room for
// algorithm migration.
const (
	DomainQueryKey = "normcache/query-key/v1"
	DomainEntity   = "normcache/entity/v1"
	DomainValue    = "normcache/value/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// QueryKey addresses one cached request result. It is opaque to the cache
// and only used as a map key.
type QueryKey string

// QueryKeyOf derives a QueryKey from a tuple such as ["project", "proj-1"].
// The canonical JSON of the tuple is used verbatim so keys stay readable
// and equal tuples always yield equal keys.
func QueryKeyOf(parts ...any) (QueryKey, error) {
	tuple := make([]any, len(parts))
	copy(tuple, parts)
	b, err := MarshalCanonical(tuple)
	if err != nil {
		return "", fmt.Errorf("QueryKeyOf: %w", err)
	}
	return QueryKey(b), nil
}

// MustQueryKey is like QueryKeyOf but panics on error.
// Use only in tests or when parts are known to be valid.
func MustQueryKey(parts ...any) QueryKey {
	q, err := QueryKeyOf(parts...)
	if err != nil {
		panic(err)
	}
	return q
}

// QueryDigest returns a fixed-length hash of a query key, suitable for
// log fields and journal columns.
func QueryDigest(q QueryKey) string {
	return hashWithDomain(DomainQueryKey, []byte(q))
}

// EntityDigest hashes an entity's key and attributes. Equal attribute sets
// produce equal digests regardless of map iteration order.
func EntityDigest(k Key, attrs Object) (string, error) {
	canonical, err := MarshalCanonical(Object{
		"key":   String(k.String()),
		"attrs": attrs,
	})
	if err != nil {
		return "", fmt.Errorf("EntityDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEntity, canonical), nil
}

// ValueDigest hashes a materialized value. A cyclic value is hashed with
// each re-entry cut to null, so the digest is still deterministic.
func ValueDigest(v Value) (string, error) {
	canonical, err := MarshalCanonical(ToAny(v))
	if err != nil {
		return "", fmt.Errorf("ValueDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainValue, canonical), nil
}
