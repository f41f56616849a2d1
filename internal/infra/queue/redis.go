package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.JobQueue = (*RedisQueue)(nil)

// RedisQueue keeps each job as a JSON string and tracks its state with
// lists and sorted sets:
//
//	<prefix>:job:<id>   job JSON
//	<prefix>:wait       list, LPUSH new / BRPOPLPUSH to active
//	<prefix>:active     list of reserved ids
//	<prefix>:reserved   zset id -> reservation time (ms)
//	<prefix>:delayed    zset id -> run at (ms)
//	<prefix>:completed  zset id -> finished at (ms)
//	<prefix>:failed     zset id -> finished at (ms)
type RedisQueue struct {
	cli       *redis.Client
	prefix    string
	policy    Policy
	retention Retention
	now       func() time.Time
	log       *zerolog.Logger
}

func NewRedisQueue(cli *redis.Client, prefix string, policy Policy, retention Retention, logger *zerolog.Logger) *RedisQueue {
	l := logger.With().Str("component", "RedisQueue").Logger()
	if prefix == "" {
		prefix = "pipeline"
	}
	return &RedisQueue{cli: cli, prefix: prefix, policy: policy, retention: retention, now: time.Now, log: &l}
}

func (q *RedisQueue) key(parts ...string) string {
	k := q.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *RedisQueue) jobKey(id string) string { return q.key("job", id) }

func ms(t time.Time) float64 { return float64(t.UnixMilli()) }

// promoteScript moves due delayed ids onto the wait list atomically.
var promoteScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 100)
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("LPUSH", KEYS[2], id)
end
return #ids`)

// releaseScript takes a reserved id off the active list. It returns 0 when
// another caller released the id first.
var releaseScript = redis.NewScript(`
local n = redis.call("LREM", KEYS[1], 1, ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return n`)

func (q *RedisQueue) load(ctx context.Context, id string) (*model.Job, error) {
	raw, err := q.cli.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, p model.Payload, opts *adapter.EnqueueOptions) (*model.Job, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	job := newJob(p, raw, opts, q.policy, q.now())
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	_, err = q.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), data, 0)
		if job.State == model.JobDelayed {
			pipe.ZAdd(ctx, q.key("delayed"), &redis.Z{Score: ms(job.RunAt), Member: job.ID})
		} else {
			pipe.LPush(ctx, q.key("wait"), job.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", job.Type, err)
	}
	q.log.Debug().Str("job_id", job.ID).Str("type", string(job.Type)).Msg("job enqueued")
	return job, nil
}

func (q *RedisQueue) Status(ctx context.Context, id string) (*model.JobStatus, error) {
	job, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return job.Status(), nil
}

func (q *RedisQueue) Remove(ctx context.Context, id string) error {
	n, err := q.cli.Exists(ctx, q.jobKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	_, err = q.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, q.jobKey(id))
		pipe.LRem(ctx, q.key("wait"), 0, id)
		pipe.LRem(ctx, q.key("active"), 0, id)
		for _, z := range []string{"reserved", "delayed", "completed", "failed"} {
			pipe.ZRem(ctx, q.key(z), id)
		}
		return nil
	})
	return err
}

func (q *RedisQueue) Reserve(ctx context.Context, wait time.Duration) (*model.Job, error) {
	deadline := time.Now().Add(wait)
	for {
		if err := promoteScript.Run(ctx, q.cli, []string{q.key("delayed"), q.key("wait")}, ms(q.now())).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("promote delayed jobs: %w", err)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, domain.ErrNotFound
		}
		// Short blocks so due delayed jobs are promoted promptly.
		block := remaining
		if block > time.Second {
			block = time.Second
		}
		id, err := q.cli.BRPopLPush(ctx, q.key("wait"), q.key("active"), block).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("reserve: %w", err)
		}

		job, err := q.load(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			// removed while waiting
			q.cli.LRem(ctx, q.key("active"), 1, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		now := q.now()
		job.State = model.JobActive
		job.ProcessedAt = &now
		if err := q.save(ctx, job, func(pipe redis.Pipeliner) {
			pipe.ZAdd(ctx, q.key("reserved"), &redis.Z{Score: ms(now), Member: job.ID})
		}); err != nil {
			return nil, err
		}
		return job, nil
	}
}

func (q *RedisQueue) save(ctx context.Context, job *model.Job, extra func(pipe redis.Pipeliner)) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = q.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), data, 0)
		if extra != nil {
			extra(pipe)
		}
		return nil
	})
	return err
}

func (q *RedisQueue) active(ctx context.Context, job *model.Job) (*model.Job, error) {
	stored, err := q.load(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if stored.State != model.JobActive {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidArgument, job.ID, stored.State)
	}
	return stored, nil
}

func (q *RedisQueue) Complete(ctx context.Context, job *model.Job, result json.RawMessage) error {
	stored, err := q.active(ctx, job)
	if err != nil {
		return err
	}
	now := q.now()
	applyComplete(stored, result, now)
	err = q.save(ctx, stored, func(pipe redis.Pipeliner) {
		pipe.LRem(ctx, q.key("active"), 1, stored.ID)
		pipe.ZRem(ctx, q.key("reserved"), stored.ID)
		pipe.ZAdd(ctx, q.key("completed"), &redis.Z{Score: ms(now), Member: stored.ID})
	})
	if err != nil {
		return err
	}
	*job = *stored
	q.prune(ctx, "completed", q.retention.CompletedAge, q.retention.CompletedCount)
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, job *model.Job, cause error) (bool, error) {
	stored, err := q.active(ctx, job)
	if err != nil {
		return false, err
	}
	now := q.now()
	retried := applyFailure(stored, cause, now)
	err = q.save(ctx, stored, func(pipe redis.Pipeliner) {
		pipe.LRem(ctx, q.key("active"), 1, stored.ID)
		pipe.ZRem(ctx, q.key("reserved"), stored.ID)
		if retried {
			pipe.ZAdd(ctx, q.key("delayed"), &redis.Z{Score: ms(stored.RunAt), Member: stored.ID})
		} else {
			pipe.ZAdd(ctx, q.key("failed"), &redis.Z{Score: ms(now), Member: stored.ID})
		}
	})
	if err != nil {
		return false, err
	}
	*job = *stored
	if !retried {
		q.prune(ctx, "failed", q.retention.FailedAge, q.retention.FailedCount)
	}
	return retried, nil
}

// RecoverStalled fails the current attempt of reserved jobs whose worker has
// gone silent, scheduling a retry while attempts remain. An id on the active
// list without a reservation time was popped by a worker that died before
// recording it; those are recovered too.
func (q *RedisQueue) RecoverStalled(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := q.cli.LRange(ctx, q.key("active"), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	cutoff := ms(q.now().Add(-olderThan))
	n := 0
	for _, id := range ids {
		score, err := q.cli.ZScore(ctx, q.key("reserved"), id).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return n, err
		}
		if err == nil && score > cutoff {
			continue
		}
		job, err := q.load(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			q.cli.LRem(ctx, q.key("active"), 1, id)
			continue
		}
		if err != nil {
			return n, err
		}
		moved, err := releaseScript.Run(ctx, q.cli, []string{q.key("active"), q.key("reserved")}, id).Int()
		if err != nil {
			return n, err
		}
		if moved == 0 {
			continue
		}
		now := q.now()
		retried := applyFailure(job, errStalled, now)
		err = q.save(ctx, job, func(pipe redis.Pipeliner) {
			if retried {
				pipe.ZAdd(ctx, q.key("delayed"), &redis.Z{Score: ms(job.RunAt), Member: job.ID})
			} else {
				pipe.ZAdd(ctx, q.key("failed"), &redis.Z{Score: ms(now), Member: job.ID})
			}
		})
		if err != nil {
			return n, err
		}
		q.log.Warn().Str("job_id", id).Str("type", string(job.Type)).Int("attempts_made", job.AttemptsMade).Bool("retried", retried).Msg("stalled job recovered")
		if !retried {
			q.prune(ctx, "failed", q.retention.FailedAge, q.retention.FailedCount)
		}
		n++
	}
	return n, nil
}

func (q *RedisQueue) Counts(ctx context.Context) (map[model.JobState]int, error) {
	pipe := q.cli.Pipeline()
	wait := pipe.LLen(ctx, q.key("wait"))
	active := pipe.LLen(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return map[model.JobState]int{
		model.JobWaiting:   int(wait.Val()),
		model.JobActive:    int(active.Val()),
		model.JobDelayed:   int(delayed.Val()),
		model.JobCompleted: int(completed.Val()),
		model.JobFailed:    int(failed.Val()),
	}, nil
}

// prune applies retention to a finished set. Errors are logged only.
func (q *RedisQueue) prune(ctx context.Context, set string, maxAge time.Duration, maxCount int) {
	key := q.key(set)
	var victims []string
	if maxAge > 0 {
		old, err := q.cli.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: "-inf",
			Max: fmt.Sprintf("%d", q.now().Add(-maxAge).UnixMilli()),
		}).Result()
		if err != nil {
			q.log.Warn().Err(err).Str("set", set).Msg("prune by age")
			return
		}
		victims = append(victims, old...)
	}
	if maxCount > 0 {
		total, err := q.cli.ZCard(ctx, key).Result()
		if err != nil {
			q.log.Warn().Err(err).Str("set", set).Msg("prune by count")
			return
		}
		if over := total - int64(maxCount); over > 0 {
			oldest, err := q.cli.ZRange(ctx, key, 0, over-1).Result()
			if err != nil {
				q.log.Warn().Err(err).Str("set", set).Msg("prune by count")
				return
			}
			victims = append(victims, oldest...)
		}
	}
	if len(victims) == 0 {
		return
	}
	_, err := q.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range victims {
			pipe.ZRem(ctx, key, id)
			pipe.Del(ctx, q.jobKey(id))
		}
		return nil
	})
	if err != nil {
		q.log.Warn().Err(err).Str("set", set).Msg("prune finished jobs")
	}
}
