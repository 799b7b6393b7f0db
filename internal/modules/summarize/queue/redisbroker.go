package queue

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tldrify/core/internal/pkg/errkind"
	pkgredis "github.com/tldrify/core/internal/pkg/redis"
)

const (
	readyKey        = "tldr:queue:ready"
	delayedKey      = "tldr:queue:delayed"
	cancelKeyPrefix = "tldr:queue:cancel:"
	cancelFlagTTL   = 10 * time.Minute
)

// brokerEpoch anchors ready scores so the FIFO tiebreak fits under the
// priority bits for decades.
var brokerEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// RedisBroker orders job ids in two sorted sets: delayed (scored by
// ready-at ms) and ready (scored by priority then enqueue time). ZPOPMIN
// gives each id to exactly one worker across processes.
type RedisBroker struct {
	rc    *pkgredis.Client
	limit int
}

func NewRedisBroker(rc *pkgredis.Client, limit int) *RedisBroker {
	return &RedisBroker{rc: rc, limit: limit}
}

// readyScore packs priority into the high bits so a more urgent job
// always sorts before an older, less urgent one.
func readyScore(priority int, at time.Time) float64 {
	elapsed := at.Sub(brokerEpoch).Milliseconds()
	return float64(int64(ClampPriority(priority))<<40 + elapsed)
}

func (b *RedisBroker) Enqueue(ctx context.Context, requestID string, priority int, delay time.Duration) error {
	if b.limit > 0 {
		depth, err := b.Len(ctx)
		if err != nil {
			return errkind.Wrap(errkind.Internal, err, "queue depth")
		}
		if depth >= int64(b.limit) {
			return errkind.Newf(errkind.Overloaded, "job queue full (%d)", b.limit)
		}
	}

	rdb := b.rc.Raw()
	now := time.Now()
	if delay > 0 {
		member := goredis.Z{
			Score:  float64(now.Add(delay).UnixMilli()),
			Member: encodeDelayed(requestID, priority),
		}
		return rdb.ZAdd(ctx, delayedKey, member).Err()
	}
	return rdb.ZAdd(ctx, readyKey, goredis.Z{
		Score:  readyScore(priority, now),
		Member: requestID,
	}).Err()
}

func (b *RedisBroker) Dequeue(ctx context.Context) (string, bool, error) {
	rdb := b.rc.Raw()
	for {
		popped, err := rdb.ZPopMin(ctx, readyKey, 1).Result()
		if err != nil {
			return "", false, errkind.Wrap(errkind.Internal, err, "pop ready queue")
		}
		if len(popped) == 0 {
			return "", false, nil
		}
		requestID, _ := popped[0].Member.(string)
		cancelled, err := b.Cancelled(ctx, requestID)
		if err != nil {
			return "", false, err
		}
		if cancelled {
			continue
		}
		return requestID, true, nil
	}
}

func (b *RedisBroker) Promote(ctx context.Context) (int, error) {
	rdb := b.rc.Raw()
	nowMs := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := rdb.ZRangeByScore(ctx, delayedKey, &goredis.ZRangeBy{
		Min: "-inf", Max: nowMs, Count: 100,
	}).Result()
	if err != nil {
		return 0, errkind.Wrap(errkind.Internal, err, "scan delayed queue")
	}

	moved := 0
	now := time.Now()
	for _, member := range due {
		removed, err := rdb.ZRem(ctx, delayedKey, member).Result()
		if err != nil {
			return moved, errkind.Wrap(errkind.Internal, err, "remove delayed member")
		}
		if removed == 0 {
			// Another promoter won the race for this member.
			continue
		}
		requestID, priority := decodeDelayed(member)
		err = rdb.ZAdd(ctx, readyKey, goredis.Z{
			Score:  readyScore(priority, now),
			Member: requestID,
		}).Err()
		if err != nil {
			return moved, errkind.Wrap(errkind.Internal, err, "promote delayed member")
		}
		moved++
	}
	return moved, nil
}

func (b *RedisBroker) Len(ctx context.Context) (int64, error) {
	rdb := b.rc.Raw()
	ready, err := rdb.ZCard(ctx, readyKey).Result()
	if err != nil {
		return 0, err
	}
	delayed, err := rdb.ZCard(ctx, delayedKey).Result()
	if err != nil {
		return 0, err
	}
	return ready + delayed, nil
}

func (b *RedisBroker) MarkCancelled(ctx context.Context, requestID string) error {
	return b.rc.Set(ctx, cancelKeyPrefix+requestID, "1", cancelFlagTTL)
}

func (b *RedisBroker) Cancelled(ctx context.Context, requestID string) (bool, error) {
	key := cancelKeyPrefix + requestID
	val, err := b.rc.Get(ctx, key)
	if err != nil {
		return false, errkind.Wrap(errkind.Internal, err, "read cancel flag")
	}
	if val == "" {
		return false, nil
	}
	_ = b.rc.Del(ctx, key)
	return true, nil
}

// Delayed members carry the priority so promotion preserves ordering.
// Format: "<priority>|<request_id>"; request ids are uuids, so the pipe
// is unambiguous.
func encodeDelayed(requestID string, priority int) string {
	return strconv.Itoa(ClampPriority(priority)) + "|" + requestID
}

func decodeDelayed(member string) (requestID string, priority int) {
	for i := 0; i < len(member); i++ {
		if member[i] == '|' {
			p, err := strconv.Atoi(member[:i])
			if err != nil {
				return member, PriorityDefault
			}
			return member[i+1:], p
		}
	}
	return member, PriorityDefault
}
