// Package badgerstore keeps chat history in an embedded BadgerDB.
package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/samber/lo"
)

// HistoryStore keys messages as "msg:{len(room)}:{room}:{seq padded to 20
// digits}" so a prefix scan walks exactly one room in seq order, whatever
// bytes the room id holds.
type HistoryStore struct {
	db    *badger.DB
	limit int
}

func Open(path string, limit int) (*HistoryStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return New(db, limit), nil
}

func New(db *badger.DB, limit int) *HistoryStore {
	if limit <= 0 {
		limit = 500
	}
	return &HistoryStore{db: db, limit: limit}
}

func (h *HistoryStore) Close() error { return h.db.Close() }

func roomPrefix(room domain.RoomID) []byte {
	return []byte(fmt.Sprintf("msg:%d:%s:", len(room), room))
}

func messageKey(msg domain.ChatMessage) []byte {
	return []byte(fmt.Sprintf("%s%020d", roomPrefix(msg.RoomID), msg.Seq))
}

func (h *HistoryStore) Append(_ context.Context, msg domain.ChatMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg), value)
	})
}

// Recent scans backwards from the newest key, capped at the store limit.
func (h *HistoryStore) Recent(_ context.Context, room domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 || limit > h.limit {
		limit = h.limit
	}
	var raw [][]byte
	err := h.db.View(func(txn *badger.Txn) error {
		prefix := roomPrefix(room)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// 0xFF sorts after every digit.
		for it.Seek(append(append([]byte{}, prefix...), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if len(raw) == limit {
				break
			}
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			raw = append(raw, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.ChatMessage, 0, len(raw))
	for _, b := range lo.Reverse(raw) {
		var msg domain.ChatMessage
		if err := json.Unmarshal(b, &msg); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}
