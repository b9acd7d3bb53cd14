package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Fingerprint renders arguments into a stable cache-key suffix. Primitive
// values are formatted literally; anything else is hashed over its JSON
// form so the key stays short and deterministic.
func Fingerprint(args ...any) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		switch v := arg.(type) {
		case nil:
			parts = append(parts, "nil")
		case string:
			parts = append(parts, v)
		case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			parts = append(parts, fmt.Sprintf("%v", v))
		default:
			data, err := json.Marshal(v)
			if err != nil {
				parts = append(parts, fmt.Sprintf("%T", v))
				continue
			}
			sum := md5.Sum(data)
			parts = append(parts, hex.EncodeToString(sum[:]))
		}
	}
	return strings.Join(parts, ":")
}

// Wrap memoizes a single-argument fetch-shaped function through a backend.
// name binds the function identity into the key; results are serialized as
// JSON. Cache failures fall through to the wrapped function.
func Wrap[A any, R any](name string, ttl time.Duration, backend Backend, fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	return func(ctx context.Context, arg A) (R, error) {
		key := name + ":" + Fingerprint(arg)

		if data, ok := backend.Get(key); ok {
			var cached R
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
			// Unreadable entry; drop it and recompute.
			backend.Delete(key)
		}

		result, err := fn(ctx, arg)
		if err != nil {
			return result, err
		}

		if data, err := json.Marshal(result); err == nil {
			backend.Set(key, data, ttl)
		}
		return result, nil
	}
}
