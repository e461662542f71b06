package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/dutchauction/receipts"
)

func record(auctionID, receiptID string, unit uint64) Record {
	return Record{
		Payload: receipts.Payload{
			ReceiptID: receiptID,
			AuctionID: auctionID,
			Variant:   "native",
			Bidder:    "0x00000000000000000000000000000000000000B1",
			Creator:   "0x00000000000000000000000000000000000000c1",
			Amount:    "500",
			Price:     "450",
			TimeUnit:  unit,
			Hash:      "abc",
		},
		COSE: []byte{0xd2, 0x84, 0x01},
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s ReceiptStore) {
	t.Helper()
	ctx := context.Background()
	auctionID := uuid.NewString()
	first := uuid.NewString()
	second := uuid.NewString()

	_, err := s.Get(ctx, first)
	check.True(t, errors.Is(err, ErrNotFound))

	assert.NoError(t, s.Put(ctx, record(auctionID, second, 20)))
	assert.NoError(t, s.Put(ctx, record(auctionID, first, 10)))

	got, err := s.Get(ctx, first)
	assert.NoError(t, err)
	check.Equal(t, first, got.Payload.ReceiptID)
	check.Equal(t, "500", got.Payload.Amount)
	check.Equal(t, []byte{0xd2, 0x84, 0x01}, got.COSE)
	check.False(t, got.StoredAt.IsZero())

	// Putting the same id again keeps the original record.
	dup := record(auctionID, first, 10)
	dup.Payload.Amount = "999"
	assert.NoError(t, s.Put(ctx, dup))
	got, err = s.Get(ctx, first)
	assert.NoError(t, err)
	check.Equal(t, "500", got.Payload.Amount)

	list, err := s.ListByAuction(ctx, auctionID)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(list))
	check.Equal(t, first, list[0].Payload.ReceiptID)
	check.Equal(t, second, list[1].Payload.ReceiptID)

	empty, err := s.ListByAuction(ctx, uuid.NewString())
	assert.NoError(t, err)
	check.Equal(t, 0, len(empty))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	check.NoError(t, s.Close())
}

func TestRedisStore(t *testing.T) {
	uri := os.Getenv("DUTCH_AUCTION_TEST_REDIS_URI")
	if uri == "" {
		t.Skip("DUTCH_AUCTION_TEST_REDIS_URI not set")
	}
	s, err := NewRedisStore(context.Background(), uri, time.Minute)
	assert.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("DUTCH_AUCTION_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DUTCH_AUCTION_TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(url, PostgresOpts{MaxConnections: 4, MaxIdleConnections: 2, MaxIdleTimeConnection: time.Minute})
	assert.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Migrate())
	exerciseStore(t, s)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	assert.NoError(t, err)
	check.Equal(t, 2, len(entries))
}
