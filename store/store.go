// Package store keeps signed settlement receipts so they can be served
// after the auction that produced them has ended.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cloudx-io/dutchauction/receipts"
)

var ErrNotFound = errors.New("receipt not found")

// Record is a receipt payload with the COSE_Sign1 bytes that sign it.
type Record struct {
	Payload  receipts.Payload `json:"payload"`
	COSE     []byte           `json:"cose"`
	StoredAt time.Time        `json:"stored_at"`
}

type ReceiptStore interface {
	// Put is idempotent on the receipt id.
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, receiptID string) (*Record, error)
	// ListByAuction returns receipts in settlement order.
	ListByAuction(ctx context.Context, auctionID string) ([]Record, error)
	Close() error
}

type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]Record
	byAuction map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]Record),
		byAuction: make(map[string][]string),
	}
}

func (m *MemoryStore) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := rec.Payload.ReceiptID
	if _, ok := m.records[id]; ok {
		return nil
	}
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now().UTC()
	}
	m.records[id] = rec
	m.byAuction[rec.Payload.AuctionID] = append(m.byAuction[rec.Payload.AuctionID], id)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, receiptID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[receiptID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) ListByAuction(_ context.Context, auctionID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byAuction[auctionID]
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.records[id])
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func sortRecords(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Payload.TimeUnit != recs[j].Payload.TimeUnit {
			return recs[i].Payload.TimeUnit < recs[j].Payload.TimeUnit
		}
		return recs[i].Payload.ReceiptID < recs[j].Payload.ReceiptID
	})
}
