// Package fingerprint derives the stable request hash that keys analytics
// counters and tracking tokens.
package fingerprint

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Sanitize coerces a loosely typed key/value map into plain strings.
// Keys and scalar values are trimmed; blank keys, nil, empty, map and slice
// values are dropped. The input is not modified.
func Sanitize(values map[string]any) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		s, ok := scalar(v)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[k] = s
	}
	return out
}

func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint:
		return strconv.FormatUint(uint64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case map[string]any, []any, map[string]string, []string:
		return "", false
	case fmt.Stringer:
		return t.String(), true
	default:
		return "", false
	}
}

// Request holds the request parameters that identify a delivery.
type Request struct {
	PlacementID string
	KVs         map[string]string
}

// canonical is marshalled with sorted keys; encoding/json sorts map keys.
type canonical struct {
	PID string            `json:"pid"`
	KV  map[string]string `json:"kv,omitempty"`
}

// Canonical returns the deterministic JSON form of r. Equal inputs produce
// byte-identical output regardless of map iteration order.
func Canonical(r Request) []byte {
	c := canonical{PID: r.PlacementID}
	if len(r.KVs) > 0 {
		c.KV = r.KVs
	}
	b, err := json.Marshal(c)
	if err != nil {
		// map[string]string and strings always marshal
		panic(fmt.Sprintf("fingerprint: marshal canonical request: %v", err))
	}
	return b
}

// Hash returns the 16 hex digit xxhash64 of the canonical request.
func Hash(r Request) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(Canonical(r)))
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
