package jobstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemtranscriber/api/internal/model"
)

const (
	keyPrefix = "stemtranscriber:job:"
	activeKey = "stemtranscriber:jobs:active"
)

// updateScript merges field/value pairs into an existing, non-terminal job hash.
// ARGV[3] is the retention in seconds, applied only once the job turns terminal.
// Returns 0 when the hash does not exist, -1 when the job is terminal, 1 on success.
var updateScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	return 0
end
if state == 'succeeded' or state == 'failed' then
	return -1
end
local fields = {'updated_at', ARGV[2]}
local target = state
for i = 4, #ARGV, 2 do
	fields[#fields + 1] = ARGV[i]
	fields[#fields + 1] = ARGV[i + 1]
	if ARGV[i] == 'state' then
		target = ARGV[i + 1]
	end
end
redis.call('HSET', KEYS[1], unpack(fields))
if target == 'succeeded' or target == 'failed' then
	redis.call('SREM', KEYS[2], ARGV[1])
	local ttl = tonumber(ARGV[3])
	if ttl > 0 then
		redis.call('EXPIRE', KEYS[1], ttl)
	end
end
return 1
`)

// RedisStore keeps one hash per job so concurrent writers merge fields
// instead of overwriting whole records.
type RedisStore struct {
	redis     *redis.Client
	retention time.Duration
}

// NewRedisStore creates a store. Finished jobs expire after retention; live
// jobs never do. A zero retention keeps records forever.
func NewRedisStore(redisClient *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{
		redis:     redisClient,
		retention: retention,
	}
}

func jobKey(jobID string) string {
	return keyPrefix + jobID
}

func (s *RedisStore) Create(ctx context.Context, jobID, projectID string, kind model.JobKind, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	key := jobKey(jobID)

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"project_id", projectID,
		"kind", string(kind),
		"state", string(model.JobStateQueued),
		"progress", 0,
		"message", message,
		"created_at", now,
		"updated_at", now,
	)
	pipe.Persist(ctx, key)
	pipe.SAdd(ctx, activeKey, jobID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create job %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, jobID string, u model.JobUpdate) error {
	u = normalize(u)

	args := []interface{}{jobID, time.Now().UTC().Format(time.RFC3339Nano), s.retentionSeconds()}
	if u.State != nil {
		args = append(args, "state", string(*u.State))
	}
	if u.Progress != nil {
		args = append(args, "progress", *u.Progress)
	}
	if u.Message != nil {
		args = append(args, "message", *u.Message)
	}

	res, err := updateScript.Run(ctx, s.redis, []string{jobKey(jobID), activeKey}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}

	switch res {
	case 0:
		return ErrNotFound
	case -1:
		return ErrTerminal
	}
	return nil
}

func (s *RedisStore) retentionSeconds() int64 {
	if s.retention <= 0 {
		return 0
	}
	secs := int64(s.retention / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	fields, err := s.redis.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeJob(jobID, fields), nil
}

// Active returns every job that has not reached a terminal state. Ids whose
// hash is gone are pruned from the active set.
func (s *RedisStore) Active(ctx context.Context) ([]*model.Job, error) {
	ids, err := s.redis.SMembers(ctx, activeKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	var jobs []*model.Job
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.redis.SRem(ctx, activeKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if job.State.Terminal() {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func decodeJob(jobID string, fields map[string]string) *model.Job {
	progress, _ := strconv.Atoi(fields["progress"])
	createdAt, _ := time.Parse(time.RFC3339Nano, fields["created_at"])
	updatedAt, _ := time.Parse(time.RFC3339Nano, fields["updated_at"])

	return &model.Job{
		ID:        jobID,
		ProjectID: fields["project_id"],
		Kind:      model.JobKind(fields["kind"]),
		State:     model.JobState(fields["state"]),
		Progress:  progress,
		Message:   fields["message"],
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}
