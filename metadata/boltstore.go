package metadata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"
)

var (
	// Maps lookup key to JSON-encoded record.
	uploadsBucket = []byte("uploads")

	// Maps deletion key to lookup key.
	deletionKeysBucket = []byte("deletion_keys")
)

// BoltStore is an implementation of Store whose backend is a Bolt database.
// Both keys are indexed in their own bucket, and each bucket enforces
// uniqueness of its keys within a single update transaction.
type BoltStore bolt.DB

func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{uploadsBucket, deletionKeysBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("could not ensure bucket %q exists: %w", name, err)
			}
		}
		return nil
	})
	return (*BoltStore)(db), err
}

func (s *BoltStore) Insert(_ context.Context, r Record) error {
	value, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return (*bolt.DB)(s).Update(func(tx *bolt.Tx) error {
		uploads := tx.Bucket(uploadsBucket)
		deletionKeys := tx.Bucket(deletionKeysBucket)
		if uploads.Get([]byte(r.LookupKey)) != nil {
			return fmt.Errorf("lookup key %.10s: %w", r.LookupKey, ErrConflict)
		}
		if deletionKeys.Get([]byte(r.DeletionKey)) != nil {
			return fmt.Errorf("deletion key %.10s: %w", r.DeletionKey, ErrConflict)
		}
		if err := uploads.Put([]byte(r.LookupKey), value); err != nil {
			return fmt.Errorf("could not put %.10s: %w", r.LookupKey, err)
		}
		if err := deletionKeys.Put([]byte(r.DeletionKey), []byte(r.LookupKey)); err != nil {
			return fmt.Errorf("could not put %.10s: %w", r.DeletionKey, err)
		}
		return nil
	})
}

func (s *BoltStore) FindByLookupKey(_ context.Context, key string) (r Record, err error) {
	err = (*bolt.DB)(s).View(func(tx *bolt.Tx) error {
		r, err = getRecord(tx, []byte(key))
		return err
	})
	return r, err
}

func (s *BoltStore) FindByDeletionKey(_ context.Context, key string) (r Record, err error) {
	err = (*bolt.DB)(s).View(func(tx *bolt.Tx) error {
		lookupKey := tx.Bucket(deletionKeysBucket).Get([]byte(key))
		if lookupKey == nil {
			return fmt.Errorf("%.10s: %w", key, ErrNotFound)
		}
		r, err = getRecord(tx, lookupKey)
		return err
	})
	return r, err
}

func (s *BoltStore) DeleteByDeletionKey(_ context.Context, key string) error {
	return (*bolt.DB)(s).Update(func(tx *bolt.Tx) error {
		deletionKeys := tx.Bucket(deletionKeysBucket)
		lookupKey := deletionKeys.Get([]byte(key))
		if lookupKey == nil {
			return fmt.Errorf("%.10s: %w", key, ErrNotFound)
		}
		// The slice is only valid for the life of the transaction, and
		// deleting invalidates it right away.
		lookupKey = append([]byte(nil), lookupKey...)
		if err := deletionKeys.Delete([]byte(key)); err != nil {
			return fmt.Errorf("could not delete %.10s: %w", key, err)
		}
		if err := tx.Bucket(uploadsBucket).Delete(lookupKey); err != nil {
			return fmt.Errorf("could not delete %.10s: %w", lookupKey, err)
		}
		return nil
	})
}

func (s *BoltStore) List(_ context.Context) (records []Record, err error) {
	err = (*bolt.DB)(s).View(func(tx *bolt.Tx) error {
		return tx.Bucket(uploadsBucket).ForEach(func(k, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("could not decode %.10s: %w", k, err)
			}
			records = append(records, r)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) Close() error {
	return (*bolt.DB)(s).Close()
}

func getRecord(tx *bolt.Tx, lookupKey []byte) (r Record, err error) {
	value := tx.Bucket(uploadsBucket).Get(lookupKey)
	if value == nil {
		return r, fmt.Errorf("%.10s: %w", lookupKey, ErrNotFound)
	}
	if err := json.Unmarshal(value, &r); err != nil {
		return r, fmt.Errorf("could not decode %.10s: %w", lookupKey, err)
	}
	return r, nil
}
