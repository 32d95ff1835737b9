package recoverydb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/keyrecovery/recovery"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/kvdb"
)

var (
	// localProgressBkt holds the local recovery attempt of each account.
	//
	// maps: accountID -> tlv attempt
	localProgressBkt = []byte("recovery-local-progress")

	// serverRecoveryBkt holds the cached server recovery record of each
	// account.
	//
	// maps: accountID -> tlv server record
	serverRecoveryBkt = []byte("recovery-server-cache")

	// metadataBkt holds database wide metadata.
	//
	// maps: dbVersionKey -> uint32
	metadataBkt = []byte("recovery-metadata")

	// dbVersionKey is the key of the database version.
	dbVersionKey = []byte("version")

	byteOrder = binary.BigEndian

	// ErrUninitializedDB is returned when a bucket is missing.
	ErrUninitializedDB = errors.New("recovery db not initialized")

	// ErrCorruptRecord is returned when a stored record cannot be
	// decoded.
	ErrCorruptRecord = errors.New("corrupt recovery record")
)

// DB is the kvdb backed recovery store.
type DB struct {
	backend kvdb.Backend
}

// New initializes the buckets of the recovery store within backend and
// applies any pending migrations.
func New(backend kvdb.Backend) (*DB, error) {
	err := kvdb.Update(backend, func(tx kvdb.RwTx) error {
		for _, bkt := range [][]byte{
			localProgressBkt, serverRecoveryBkt,
		} {
			if _, err := tx.CreateTopLevelBucket(bkt); err != nil {
				return err
			}
		}

		return syncVersions(tx, dbVersions)
	}, func() {})
	if err != nil {
		return nil, fmt.Errorf("unable to initialize recovery db: %w",
			err)
	}

	return &DB{backend: backend}, nil
}

// LocalProgress returns the account's local attempt, if any.
func (d *DB) LocalProgress(
	accountID f8e.AccountID) (fn.Option[recovery.LocalRecoveryAttempt],
	error) {

	var attempt *recovery.LocalRecoveryAttempt
	err := kvdb.View(d.backend, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(localProgressBkt)
		if bucket == nil {
			return ErrUninitializedDB
		}

		var err error
		attempt, err = fetchAttempt(bucket, accountID)

		return err
	}, func() {
		attempt = nil
	})
	if err != nil {
		return fn.None[recovery.LocalRecoveryAttempt](), err
	}

	if attempt == nil {
		return fn.None[recovery.LocalRecoveryAttempt](), nil
	}

	return fn.Some(*attempt), nil
}

// SetLocalProgress applies progress to the stored attempt in a single
// transaction. Out of order writes are rejected with the errors of
// recovery.ApplyProgress and leave the stored attempt untouched.
func (d *DB) SetLocalProgress(accountID f8e.AccountID,
	progress recovery.Progress) (*recovery.LocalRecoveryAttempt, error) {

	var next *recovery.LocalRecoveryAttempt
	err := kvdb.Update(d.backend, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(localProgressBkt)
		if bucket == nil {
			return ErrUninitializedDB
		}

		current, err := fetchAttempt(bucket, accountID)
		if err != nil {
			return err
		}

		next, err = recovery.ApplyProgress(accountID, current, progress)
		if err != nil {
			return err
		}

		v, err := serializeAttempt(next)
		if err != nil {
			return err
		}

		log.Debugf("Writing recovery phase %v for %v", next.Phase,
			accountID)

		return bucket.Put([]byte(accountID), v)
	}, func() {
		next = nil
	})
	if err != nil {
		return nil, err
	}

	return next, nil
}

// ServerRecovery returns the cached server record, if any.
func (d *DB) ServerRecovery(
	accountID f8e.AccountID) (fn.Option[recovery.ServerRecovery], error) {

	var record *recovery.ServerRecovery
	err := kvdb.View(d.backend, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(serverRecoveryBkt)
		if bucket == nil {
			return ErrUninitializedDB
		}

		v := bucket.Get([]byte(accountID))
		if v == nil {
			return nil
		}

		var err error
		record, err = deserializeServerRecovery(accountID, v)

		return err
	}, func() {
		record = nil
	})
	if err != nil {
		return fn.None[recovery.ServerRecovery](), err
	}

	if record == nil {
		return fn.None[recovery.ServerRecovery](), nil
	}

	return fn.Some(*record), nil
}

// SetServerRecovery replaces the cached server record. None deletes it.
func (d *DB) SetServerRecovery(accountID f8e.AccountID,
	record fn.Option[recovery.ServerRecovery]) error {

	return kvdb.Update(d.backend, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(serverRecoveryBkt)
		if bucket == nil {
			return ErrUninitializedDB
		}

		if record.IsNone() {
			return bucket.Delete([]byte(accountID))
		}

		r := record.UnsafeFromSome()
		if err := r.Validate(); err != nil {
			return err
		}
		if r.AccountID != "" && r.AccountID != accountID {
			return fmt.Errorf("server recovery of %v stored "+
				"under %v", r.AccountID, accountID)
		}

		v, err := serializeServerRecovery(&r)
		if err != nil {
			return err
		}

		return bucket.Put([]byte(accountID), v)
	}, func() {})
}

// Clear removes the local attempt and the cached server record.
func (d *DB) Clear(accountID f8e.AccountID) error {
	return kvdb.Update(d.backend, func(tx kvdb.RwTx) error {
		for _, bkt := range [][]byte{
			localProgressBkt, serverRecoveryBkt,
		} {
			bucket := tx.ReadWriteBucket(bkt)
			if bucket == nil {
				return ErrUninitializedDB
			}

			if err := bucket.Delete([]byte(accountID)); err != nil {
				return err
			}
		}

		log.Infof("Cleared recovery state of %v", accountID)

		return nil
	}, func() {})
}

// Accounts lists every account with a local attempt or a cached server
// record.
func (d *DB) Accounts() ([]f8e.AccountID, error) {
	var accounts []f8e.AccountID
	err := kvdb.View(d.backend, func(tx kvdb.RTx) error {
		seen := make(map[f8e.AccountID]struct{})
		for _, bkt := range [][]byte{
			localProgressBkt, serverRecoveryBkt,
		} {
			bucket := tx.ReadBucket(bkt)
			if bucket == nil {
				return ErrUninitializedDB
			}

			err := bucket.ForEach(func(k, _ []byte) error {
				id := f8e.AccountID(k)
				if _, ok := seen[id]; ok {
					return nil
				}
				seen[id] = struct{}{}
				accounts = append(accounts, id)

				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	}, func() {
		accounts = nil
	})

	return accounts, err
}

// fetchAttempt reads the attempt of accountID, returning nil if none exists.
func fetchAttempt(bucket kvdb.RBucket,
	accountID f8e.AccountID) (*recovery.LocalRecoveryAttempt, error) {

	v := bucket.Get([]byte(accountID))
	if v == nil {
		return nil, nil
	}

	return deserializeAttempt(accountID, v)
}

var _ recovery.Store = (*DB)(nil)
