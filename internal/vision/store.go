package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recentKey       = "detections:recent"
	detectionsTopic = "detections"
)

// Store keeps a bounded, expiring history of detection reports in a sorted
// set scored by timestamp and publishes each report for other subscribers.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
	size  int64
}

func NewStore(redisClient *redis.Client, ttl time.Duration, size int) *Store {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	if size <= 0 {
		size = 100
	}
	return &Store{
		redis: redisClient,
		ttl:   ttl,
		size:  int64(size),
	}
}

func (s *Store) Record(ctx context.Context, report *Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	pipe := s.redis.Pipeline()
	pipe.ZAdd(ctx, recentKey, redis.Z{Score: float64(report.Timestamp), Member: data})
	pipe.ZRemRangeByRank(ctx, recentKey, 0, -s.size-1)
	pipe.Expire(ctx, recentKey, s.ttl)
	pipe.Publish(ctx, detectionsTopic, data)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to limit reports, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 || int64(limit) > s.size {
		limit = int(s.size)
	}

	members, err := s.redis.ZRevRange(ctx, recentKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(members))
	for _, m := range members {
		var r Report
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// Subscribe streams reports published by Record until ctx is done.
func (s *Store) Subscribe(ctx context.Context) <-chan Report {
	out := make(chan Report, 16)
	sub := s.redis.Subscribe(ctx, detectionsTopic)

	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var r Report
				if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
					continue
				}
				select {
				case out <- r:
				default:
				}
			}
		}
	}()

	return out
}

func (s *Store) Clear(ctx context.Context) error {
	return s.redis.Del(ctx, recentKey).Err()
}
