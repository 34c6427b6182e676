package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"routeopt/internal/metrics"
)

// RedisKeyPrefix prefixes the list holding JSON raw signals for one ref.
const RedisKeyPrefix = "signals:"

// RedisSource reads signals pushed by an upstream producer into Redis lists,
// one pipelined LRANGE per ref.
type RedisSource struct {
	rdb redis.Cmdable
}

func NewRedisSource(rdb redis.Cmdable) *RedisSource { return &RedisSource{rdb: rdb} }

func (r *RedisSource) FetchSignals(ctx context.Context, refs []string, _ time.Time) ([]RawSignal, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.StringSliceCmd, len(refs))
	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, ref := range refs {
			cmds[i] = p.LRange(ctx, RedisKeyPrefix+ref, 0, -1)
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("prediction: redis pipeline: %w", err)
	}
	var out []RawSignal
	for _, cmd := range cmds {
		items, err := cmd.Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("prediction: redis lrange: %w", err)
		}
		for _, item := range items {
			var raw RawSignal
			if err := json.Unmarshal([]byte(item), &raw); err != nil {
				metrics.PredictionDiscarded.WithLabelValues("malformed").Inc()
				continue
			}
			out = append(out, raw)
		}
	}
	return out, nil
}
