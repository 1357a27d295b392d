// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package paramcache persists consensus congestion control parameter
// documents across restarts with a simple boltdb based backend, keyed
// by consensus epoch.
package paramcache

import (
	"encoding/binary"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/congestion"
)

const paramsBucket = "params"

// ErrNotFound is returned when no document is cached for an epoch.
var ErrNotFound = errors.New("paramcache: no document for epoch")

// Cache is a bolt backed parameter document store.
type Cache struct {
	db *bolt.DB
}

// New opens or creates the cache database at the given path.
func New(f string) (*Cache, error) {
	var err error
	c := new(Cache)
	c.db, err = bolt.Open(f, 0600, nil)
	if err != nil {
		return nil, err
	}
	if err = c.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(paramsBucket))
		return err
	}); err != nil {
		_ = c.db.Close()
		return nil, err
	}
	return c, nil
}

func epochKey(epoch uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], epoch)
	return k[:]
}

// Store caches the document under its epoch, overwriting any previous
// document for that epoch.
func (c *Cache) Store(doc *congestion.ParamsDocument) error {
	b, err := doc.Marshal()
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(paramsBucket))
		return bkt.Put(epochKey(doc.Epoch), b)
	})
}

// Get returns the cached document for the given epoch.
func (c *Cache) Get(epoch uint64) (*congestion.ParamsDocument, error) {
	var raw []byte
	if err := c.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(paramsBucket))
		if b := bkt.Get(epochKey(epoch)); b != nil {
			raw = make([]byte, len(b))
			copy(raw, b)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w %d", ErrNotFound, epoch)
	}
	return congestion.UnmarshalParamsDocument(raw)
}

// Latest returns the cached document with the highest epoch.
func (c *Cache) Latest() (*congestion.ParamsDocument, error) {
	var raw []byte
	if err := c.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(paramsBucket))
		if k, v := bkt.Cursor().Last(); k != nil {
			raw = make([]byte, len(v))
			copy(raw, v)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: cache is empty", ErrNotFound)
	}
	return congestion.UnmarshalParamsDocument(raw)
}

// Close flushes and closes the database.
func (c *Cache) Close() {
	_ = c.db.Sync()
	_ = c.db.Close()
}
