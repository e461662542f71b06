package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/go-redis/redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	redisIndexKey     = "dutchauction:receipt-index"
	redisAuctionKeyFm = "dutchauction:receipts:%s"
)

// RedisStore keeps one hash per auction (receipt id -> record JSON) and an
// index hash from receipt id to auction id.
type RedisStore struct {
	Client     *redis.Client
	Expiration time.Duration
	Log        *logrus.Entry
}

func NewRedisStore(ctx context.Context, redisURI string, expiration time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURI)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}
	return NewRedisStoreFromClient(client, expiration), nil
}

func NewRedisStoreFromClient(client *redis.Client, expiration time.Duration) *RedisStore {
	return &RedisStore{
		Client:     client,
		Expiration: expiration,
		Log: logrus.NewEntry(logrus.New()).WithFields(logrus.Fields{
			"package": "Store",
			"backend": "redis",
		}),
	}
}

func auctionKey(auctionID string) string {
	return fmt.Sprintf(redisAuctionKeyFm, auctionID)
}

// HSetObj stores value as JSON under key/field and refreshes the key's TTL.
func (r *RedisStore) HSetObj(ctx context.Context, key, field string, value any) error {
	marshalledValue, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := r.Client.HSet(ctx, key, field, marshalledValue).Err(); err != nil {
		return err
	}
	if r.Expiration <= 0 {
		return nil
	}
	return r.Client.Expire(ctx, key, r.Expiration).Err()
}

func (r *RedisStore) Put(ctx context.Context, rec Record) error {
	id := rec.Payload.ReceiptID
	exists, err := r.Client.HExists(ctx, redisIndexKey, id).Result()
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now().UTC()
	}
	if err := r.HSetObj(ctx, auctionKey(rec.Payload.AuctionID), id, rec); err != nil {
		return fmt.Errorf("store receipt %s: %w", id, err)
	}
	if err := r.Client.HSet(ctx, redisIndexKey, id, rec.Payload.AuctionID).Err(); err != nil {
		return fmt.Errorf("index receipt %s: %w", id, err)
	}
	r.Log.WithField("receipt", id).Debug("receipt cached")
	return nil
}

func (r *RedisStore) Get(ctx context.Context, receiptID string) (*Record, error) {
	auctionID, err := r.Client.HGet(ctx, redisIndexKey, receiptID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	value, err := r.Client.HGet(ctx, auctionKey(auctionID), receiptID).Result()
	if errors.Is(err, redis.Nil) {
		// The auction hash expired but the index entry did not.
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RedisStore) ListByAuction(ctx context.Context, auctionID string) ([]Record, error) {
	values, err := r.Client.HVals(ctx, auctionKey(auctionID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(values))
	for _, v := range values {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.Client.Close()
}
