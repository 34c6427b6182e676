package prediction

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"routeopt/internal/metrics"
)

const maxPerRef = 32

type feedEntry struct {
	raw        RawSignal
	receivedAt time.Time
}

// NATSFeed keeps the most recent signals published on a subject, per ref.
// Messages carry either one raw signal object or an array of them.
type NATSFeed struct {
	mu     sync.Mutex
	byRef  map[string][]feedEntry
	maxAge time.Duration
	sub    *nats.Subscription
	log    *zap.Logger
	now    func() time.Time
}

// NewNATSFeed subscribes to subject on nc. Entries older than maxAge are
// dropped when read.
func NewNATSFeed(nc *nats.Conn, subject string, maxAge time.Duration, log *zap.Logger) (*NATSFeed, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	f := &NATSFeed{byRef: make(map[string][]feedEntry), maxAge: maxAge, log: log, now: time.Now}
	sub, err := nc.Subscribe(subject, f.handle)
	if err != nil {
		return nil, err
	}
	f.sub = sub
	return f, nil
}

func (f *NATSFeed) handle(msg *nats.Msg) {
	var batch []RawSignal
	if err := json.Unmarshal(msg.Data, &batch); err != nil {
		var one RawSignal
		if err := json.Unmarshal(msg.Data, &one); err != nil {
			metrics.PredictionDiscarded.WithLabelValues("malformed").Inc()
			f.log.Debug("dropping malformed prediction message", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		batch = []RawSignal{one}
	}
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, raw := range batch {
		ref, _ := raw["ref"].(string)
		if ref == "" {
			metrics.PredictionDiscarded.WithLabelValues("invalid").Inc()
			continue
		}
		list := append(f.byRef[ref], feedEntry{raw: raw, receivedAt: now})
		if len(list) > maxPerRef {
			list = list[len(list)-maxPerRef:]
		}
		f.byRef[ref] = list
	}
}

func (f *NATSFeed) FetchSignals(ctx context.Context, refs []string, _ time.Time) ([]RawSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cutoff := f.now().Add(-f.maxAge)
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RawSignal
	for _, ref := range refs {
		list := f.byRef[ref]
		kept := list[:0]
		for _, e := range list {
			if e.receivedAt.Before(cutoff) {
				continue
			}
			kept = append(kept, e)
			out = append(out, e.raw)
		}
		if len(kept) == 0 {
			delete(f.byRef, ref)
		} else {
			f.byRef[ref] = kept
		}
	}
	return out, nil
}

// Close stops the subscription.
func (f *NATSFeed) Close() error {
	if f.sub == nil {
		return nil
	}
	return f.sub.Unsubscribe()
}
