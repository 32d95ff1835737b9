package recoverydb

import (
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/kvdb"
)

// ErrDBReversion is returned when the stored version is newer than the
// version this binary knows.
var ErrDBReversion = errors.New("recovery db version is newer than " +
	"supported, refusing to downgrade")

// migration mutates the buckets of a prior version to arrive at the next.
type migration func(tx kvdb.RwTx) error

// version pairs a version number with the migration from the prior version.
type version struct {
	migration migration
}

// dbVersions lists every version of the recovery database.
var dbVersions = []version{}

// latestVersion returns the last known database version.
func latestVersion(versions []version) uint32 {
	return uint32(len(versions))
}

// syncVersions brings the database to the latest version, initializing the
// metadata bucket on first use.
func syncVersions(tx kvdb.RwTx, versions []version) error {
	metadata, err := tx.CreateTopLevelBucket(metadataBkt)
	if err != nil {
		return err
	}

	latest := latestVersion(versions)

	stored := metadata.Get(dbVersionKey)
	if stored == nil {
		return putVersion(metadata, latest)
	}
	if len(stored) != 4 {
		return fmt.Errorf("%w: version", ErrCorruptRecord)
	}

	current := byteOrder.Uint32(stored)
	switch {
	case current == latest:
		return nil

	case current > latest:
		return ErrDBReversion
	}

	log.Infof("Applying %d recovery db migrations from version %d",
		latest-current, current)

	for i := current; i < latest; i++ {
		if err := versions[i].migration(tx); err != nil {
			return fmt.Errorf("migration to version %d: %w",
				i+1, err)
		}
	}

	return putVersion(metadata, latest)
}

func putVersion(metadata kvdb.RwBucket, v uint32) error {
	var b [4]byte
	byteOrder.PutUint32(b[:], v)

	return metadata.Put(dbVersionKey, b[:])
}
