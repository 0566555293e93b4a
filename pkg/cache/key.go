package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// BuildCacheKey derives the content-addressed cache key for a document under
// a given prompt revision and chunk schema version. Two uploads that
// normalize to the same (source_type, text, ingestion_metadata) triple, run
// under the same prompt and chunk schema, always collide on this key.
func BuildCacheKey(sourceType, text string, ingestionMetadata map[string]interface{}, promptRev, chunkSchemaVersion string) (string, error) {
	canonical, err := canonicalJSON(map[string]interface{}{
		"source_type":        sourceType,
		"text":               text,
		"ingestion_metadata": ingestionMetadata,
	})
	if err != nil {
		return "", fmt.Errorf("cache: canonicalize document: %w", err)
	}

	sum := sha256.Sum256(canonical)
	docHash := hex.EncodeToString(sum[:])

	return "review:" + docHash + ":" + promptRev + ":" + chunkSchemaVersion, nil
}

// canonicalJSON marshals v with object keys sorted and no insignificant
// whitespace, so the same logical document always hashes to the same bytes
// regardless of map iteration order.
func canonicalJSON(v interface{}) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// normalize recursively converts maps to sorted key/value pair slices so
// that the encoded byte sequence has an explicit, stable key order at every
// nesting level, including nested map[string]interface{} values that arrive
// from decoded JSON.
func normalize(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			child, err := normalize(val[k])
			if err != nil {
				return nil, err
			}
			ordered = append(ordered, kv{key: k, value: child})
		}
		return ordered, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			child, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = child
		}
		return out, nil
	default:
		return val, nil
	}
}

type kv struct {
	key   string
	value interface{}
}

// orderedMap marshals as a JSON object preserving insertion order, which
// normalize() has already sorted by key.
type orderedMap []kv

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, pair := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(pair.key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(pair.value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}
