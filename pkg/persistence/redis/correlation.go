// Package redis stores wait groups and buffered notify responses in Redis, letting several
// workers share correlation state while executions stay in the primary persistence.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
	rd "github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "stagehand"

	// saveResponseScript buffers a response unless the id was notified before.
	saveResponseScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'consumed', '0', 'received_at', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 1
`

	// claimWaitScript deletes the wait and marks its responses consumed when every response
	// is buffered. KEYS are the wait, then each response, then each waits index, in the order
	// of ARGV[2], the id list the caller read. It returns id/data pairs, or an empty list when
	// nothing was claimed.
	claimWaitScript = `
if redis.call('HGET', KEYS[1], 'ids') ~= ARGV[2] then
	return {}
end
local ids = cjson.decode(ARGV[2])
local n = #ids
local out = {}
for i, id in ipairs(ids) do
	local r = redis.call('HMGET', KEYS[1 + i], 'data', 'consumed')
	if not r[1] or r[2] == '1' then
		return {}
	end
	table.insert(out, id)
	table.insert(out, r[1])
end
for i = 1, n do
	redis.call('HSET', KEYS[1 + i], 'consumed', '1')
	redis.call('SREM', KEYS[1 + n + i], ARGV[1])
end
redis.call('DEL', KEYS[1])
return out
`

	// restoreWaitScript undoes a claim. KEYS follow claimWaitScript.
	restoreWaitScript = `
redis.call('HSET', KEYS[1], 'ids', ARGV[2], 'callback', ARGV[3], 'created_at', ARGV[4])
local n = (#KEYS - 1) / 2
for i = 1, n do
	if redis.call('EXISTS', KEYS[1 + i]) == 1 then
		redis.call('HSET', KEYS[1 + i], 'consumed', '0')
	end
	redis.call('SADD', KEYS[1 + n + i], ARGV[1])
end
return 1
`
)

var _ persistence.CorrelationRepository = (*CorrelationRepository)(nil)

// CorrelationRepository uses the following keys:
//
//	{<prefix>}:wait:<id>            => hash of ids, callback and created_at
//	{<prefix>}:waits:<correlation>  => SET of wait ids joined on a correlation id
//	{<prefix>}:response:<id>        => hash of data, consumed and received_at
//	{<prefix>}:responses            => ZSET of correlation ids scored by received_at
//
// The braces are a hash tag: every key lands in one Redis Cluster slot, so the scripts and
// transactions touching several keys run on a cluster client too.
type CorrelationRepository struct {
	client       rd.UniversalClient
	tag          string
	logger       *slog.Logger
	saveResponse *rd.Script
	claimWait    *rd.Script
	restoreWait  *rd.Script
}

func NewCorrelationRepository(client rd.UniversalClient, prefix string, logger *slog.Logger) *CorrelationRepository {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &CorrelationRepository{
		client:       client,
		tag:          "{" + prefix + "}",
		logger:       logger.With("module", "redis_correlation"),
		saveResponse: rd.NewScript(saveResponseScript),
		claimWait:    rd.NewScript(claimWaitScript),
		restoreWait:  rd.NewScript(restoreWaitScript),
	}
}

func (r *CorrelationRepository) keyWait(id string) string {
	return r.tag + ":wait:" + id
}

func (r *CorrelationRepository) keyWaitsPrefix() string {
	return r.tag + ":waits:"
}

func (r *CorrelationRepository) keyResponsePrefix() string {
	return r.tag + ":response:"
}

func (r *CorrelationRepository) keyResponses() string {
	return r.tag + ":responses"
}

// waitKeys returns the wait key, then the response and waits index key of every id.
func (r *CorrelationRepository) waitKeys(waitID string, ids []string) []string {
	keys := make([]string, 0, 1+2*len(ids))
	keys = append(keys, r.keyWait(waitID))

	for _, id := range ids {
		keys = append(keys, r.keyResponsePrefix()+id)
	}

	for _, id := range ids {
		keys = append(keys, r.keyWaitsPrefix()+id)
	}

	return keys
}

func (r *CorrelationRepository) SaveWait(ctx context.Context, wait *models.WaitGroup) error {
	ids, err := json.Marshal(wait.CorrelationIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal correlation ids: %w", err)
	}

	callback, err := json.Marshal(wait.Callback)
	if err != nil {
		return fmt.Errorf("failed to marshal callback: %w", err)
	}

	createdAt := wait.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = r.client.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.HSet(ctx, r.keyWait(wait.ID),
			"ids", ids,
			"callback", callback,
			"created_at", createdAt.UnixMilli(),
		)

		for _, id := range wait.CorrelationIDs {
			pipe.SAdd(ctx, r.keyWaitsPrefix()+id, wait.ID)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save wait group: %w", err)
	}

	return nil
}

// WaitsFor drops index entries whose wait group no longer exists.
func (r *CorrelationRepository) WaitsFor(ctx context.Context, correlationID string) ([]*models.WaitGroup, error) {
	waitIDs, err := r.client.SMembers(ctx, r.keyWaitsPrefix()+correlationID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list waits for %s: %w", correlationID, err)
	}

	var waits []*models.WaitGroup

	for _, waitID := range waitIDs {
		wait, err := r.wait(ctx, waitID)
		if err != nil {
			if errors.Is(err, persistence.ErrWaitNotFound) {
				r.client.SRem(ctx, r.keyWaitsPrefix()+correlationID, waitID)

				continue
			}

			return nil, err
		}

		waits = append(waits, wait)
	}

	return waits, nil
}

func (r *CorrelationRepository) wait(ctx context.Context, waitID string) (*models.WaitGroup, error) {
	fields, err := r.client.HGetAll(ctx, r.keyWait(waitID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get wait group %s: %w", waitID, err)
	}

	if len(fields) == 0 {
		return nil, persistence.NewRecordError("Get", "wait", waitID, persistence.ErrWaitNotFound)
	}

	wait := &models.WaitGroup{ID: waitID}

	err = json.Unmarshal([]byte(fields["ids"]), &wait.CorrelationIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal correlation ids: %w", err)
	}

	err = json.Unmarshal([]byte(fields["callback"]), &wait.Callback)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal callback: %w", err)
	}

	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err == nil {
		wait.CreatedAt = time.UnixMilli(createdAt).UTC()
	}

	return wait, nil
}

func (r *CorrelationRepository) DeleteWait(ctx context.Context, waitID string) error {
	wait, err := r.wait(ctx, waitID)
	if err != nil {
		if errors.Is(err, persistence.ErrWaitNotFound) {
			return nil
		}

		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.Del(ctx, r.keyWait(waitID))

		for _, id := range wait.CorrelationIDs {
			pipe.SRem(ctx, r.keyWaitsPrefix()+id, waitID)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete wait group: %w", err)
	}

	return nil
}

func (r *CorrelationRepository) SaveResponse(ctx context.Context, correlationID string, data models.ResponseData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	saved, err := r.saveResponse.Run(ctx, r.client,
		[]string{r.keyResponsePrefix() + correlationID, r.keyResponses()},
		payload, time.Now().UTC().UnixMilli(), correlationID,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to save notify response: %w", err)
	}

	if saved != 1 {
		return persistence.NewRecordError("SaveResponse", "correlation", correlationID, persistence.ErrAlreadyNotified)
	}

	return nil
}

func (r *CorrelationRepository) PendingResponses(
	ctx context.Context, ids []string,
) (map[string]models.ResponseData, error) {
	cmds := make(map[string]*rd.SliceCmd, len(ids))

	_, err := r.client.Pipelined(ctx, func(pipe rd.Pipeliner) error {
		for _, id := range ids {
			cmds[id] = pipe.HMGet(ctx, r.keyResponsePrefix()+id, "data", "consumed")
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read notify responses: %w", err)
	}

	results := make(map[string]models.ResponseData)

	for id, cmd := range cmds {
		values := cmd.Val()
		if len(values) != 2 || values[0] == nil || values[1] == "1" {
			continue
		}

		payload, _ := values[0].(string)

		var data models.ResponseData

		err := json.Unmarshal([]byte(payload), &data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal response for %s: %w", id, err)
		}

		results[id] = data
	}

	return results, nil
}

func (r *CorrelationRepository) ClaimWait(
	ctx context.Context, waitID string,
) (bool, map[string]models.ResponseData, error) {
	rawIDs, err := r.client.HGet(ctx, r.keyWait(waitID), "ids").Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return false, nil, nil
		}

		return false, nil, fmt.Errorf("failed to read wait group %s: %w", waitID, err)
	}

	var ids []string

	err = json.Unmarshal([]byte(rawIDs), &ids)
	if err != nil {
		return false, nil, fmt.Errorf("failed to unmarshal correlation ids: %w", err)
	}

	reply, err := r.claimWait.Run(ctx, r.client, r.waitKeys(waitID, ids), waitID, rawIDs).StringSlice()
	if err != nil {
		return false, nil, fmt.Errorf("failed to claim wait group %s: %w", waitID, err)
	}

	if len(reply) == 0 {
		return false, nil, nil
	}

	results := make(map[string]models.ResponseData, len(reply)/2)

	for i := 0; i+1 < len(reply); i += 2 {
		var data models.ResponseData

		err := json.Unmarshal([]byte(reply[i+1]), &data)
		if err != nil {
			return false, nil, fmt.Errorf("failed to unmarshal response for %s: %w", reply[i], err)
		}

		results[reply[i]] = data
	}

	return true, results, nil
}

func (r *CorrelationRepository) RestoreWait(ctx context.Context, wait *models.WaitGroup) error {
	ids, err := json.Marshal(wait.CorrelationIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal correlation ids: %w", err)
	}

	callback, err := json.Marshal(wait.Callback)
	if err != nil {
		return fmt.Errorf("failed to marshal callback: %w", err)
	}

	err = r.restoreWait.Run(ctx, r.client, r.waitKeys(wait.ID, wait.CorrelationIDs),
		wait.ID, ids, callback, wait.CreatedAt.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to restore wait group %s: %w", wait.ID, err)
	}

	return nil
}

func (r *CorrelationRepository) CleanupExpiredResponses(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().UTC().Add(-maxAge).UnixMilli()

	ids, err := r.client.ZRangeByScore(ctx, r.keyResponses(), &rd.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to list expired responses: %w", err)
	}

	if len(ids) == 0 {
		return nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, r.keyResponsePrefix()+id)
			pipe.ZRem(ctx, r.keyResponses(), id)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete expired responses: %w", err)
	}

	r.logger.InfoContext(ctx, "Purged expired notify responses", "count", len(ids))

	return nil
}
