package socrec

import (
	"bytes"
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// enrollmentBkt holds the sealed PAKE session of each invitation.
	//
	// maps: relationshipID -> sealed session
	enrollmentBkt = []byte("socrec-enrollment-sessions")

	// challengeBkt holds one nested bucket per started challenge.
	//
	// maps: challengeID -> {challengeMetaKey -> tlv challenge,
	//                       relationshipID -> sealed session}
	challengeBkt = []byte("socrec-challenges")

	// challengeMetaKey is the key of a challenge's metadata.
	challengeMetaKey = []byte("meta")

	// stateBkt holds the last authentication state of each contact.
	//
	// maps: relationshipID -> state
	stateBkt = []byte("socrec-contact-states")

	// ErrSessionNotFound is returned when no PAKE session is stored.
	ErrSessionNotFound = errors.New("pake session not found")

	errUninitialized = errors.New("socrec store not initialized")
)

const (
	typeChallengeExpiry  tlv.Type = 0
	typeChallengeCounter tlv.Type = 1
)

// Store persists sealed PAKE sessions and contact states in a kvdb backend.
// It never sees plaintext session material.
type Store struct {
	db kvdb.Backend
}

// NewStore creates the store's buckets within db.
func NewStore(db kvdb.Backend) (*Store, error) {
	err := kvdb.Update(db, func(tx kvdb.RwTx) error {
		for _, bkt := range [][]byte{
			enrollmentBkt, challengeBkt, stateBkt,
		} {
			if _, err := tx.CreateTopLevelBucket(bkt); err != nil {
				return err
			}
		}

		return nil
	}, func() {})
	if err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// PutEnrollmentSession stores the sealed session of an invitation.
func (s *Store) PutEnrollmentSession(relationshipID string,
	sealed []byte) error {

	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(enrollmentBkt)
		if bucket == nil {
			return errUninitialized
		}

		return bucket.Put([]byte(relationshipID), sealed)
	}, func() {})
}

// EnrollmentSession returns the sealed session of an invitation.
func (s *Store) EnrollmentSession(relationshipID string) ([]byte, error) {
	var sealed []byte
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(enrollmentBkt)
		if bucket == nil {
			return errUninitialized
		}

		v := bucket.Get([]byte(relationshipID))
		if v == nil {
			return ErrSessionNotFound
		}
		sealed = append([]byte(nil), v...)

		return nil
	}, func() {
		sealed = nil
	})

	return sealed, err
}

// DeleteEnrollmentSession erases the session of an invitation.
func (s *Store) DeleteEnrollmentSession(relationshipID string) error {
	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(enrollmentBkt)
		if bucket == nil {
			return errUninitialized
		}

		return bucket.Delete([]byte(relationshipID))
	}, func() {})
}

// PutChallenge stores a started challenge with the sealed session of each
// contact.
func (s *Store) PutChallenge(challenge *Challenge,
	sessions map[string][]byte) error {

	var meta bytes.Buffer
	expiry := uint64(challenge.ExpiresAt.Unix())
	counter := challenge.Counter
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeChallengeExpiry, &expiry),
		tlv.MakePrimitiveRecord(typeChallengeCounter, &counter),
	)
	if err != nil {
		return err
	}
	if err := stream.Encode(&meta); err != nil {
		return err
	}

	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(challengeBkt)
		if bucket == nil {
			return errUninitialized
		}

		chBucket, err := bucket.CreateBucketIfNotExists(
			[]byte(challenge.ChallengeID),
		)
		if err != nil {
			return err
		}

		if err := chBucket.Put(challengeMetaKey, meta.Bytes()); err != nil {
			return err
		}

		for relationshipID, sealed := range sessions {
			err := chBucket.Put([]byte(relationshipID), sealed)
			if err != nil {
				return err
			}
		}

		return nil
	}, func() {})
}

// Challenge returns a stored challenge and the sealed session of each
// contact.
func (s *Store) Challenge(challengeID string) (*Challenge, map[string][]byte,
	error) {

	var (
		challenge *Challenge
		sessions  map[string][]byte
	)
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(challengeBkt)
		if bucket == nil {
			return errUninitialized
		}

		chBucket := bucket.NestedReadBucket([]byte(challengeID))
		if chBucket == nil {
			return ErrUnknownChallenge
		}

		var expiry, counter uint64
		stream, err := tlv.NewStream(
			tlv.MakePrimitiveRecord(typeChallengeExpiry, &expiry),
			tlv.MakePrimitiveRecord(typeChallengeCounter, &counter),
		)
		if err != nil {
			return err
		}

		meta := chBucket.Get(challengeMetaKey)
		if err := stream.Decode(bytes.NewReader(meta)); err != nil {
			return err
		}

		challenge = &Challenge{
			ChallengeID: challengeID,
			Counter:     counter,
			ExpiresAt:   time.Unix(int64(expiry), 0),
		}

		return chBucket.ForEach(func(k, v []byte) error {
			if bytes.Equal(k, challengeMetaKey) {
				return nil
			}
			sessions[string(k)] = append([]byte(nil), v...)

			return nil
		})
	}, func() {
		challenge = nil
		sessions = make(map[string][]byte)
	})
	if err != nil {
		return nil, nil, err
	}

	return challenge, sessions, nil
}

// DeleteChallenge erases a challenge and its sessions.
func (s *Store) DeleteChallenge(challengeID string) error {
	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(challengeBkt)
		if bucket == nil {
			return errUninitialized
		}

		err := bucket.DeleteNestedBucket([]byte(challengeID))
		if errors.Is(err, kvdb.ErrBucketNotFound) {
			return nil
		}

		return err
	}, func() {})
}

// SetState records the authentication state of a contact.
func (s *Store) SetState(relationshipID string,
	state AuthenticationState) error {

	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(stateBkt)
		if bucket == nil {
			return errUninitialized
		}

		return bucket.Put([]byte(relationshipID), []byte{byte(state)})
	}, func() {})
}

// States returns the recorded state of every contact.
func (s *Store) States() (map[string]AuthenticationState, error) {
	var states map[string]AuthenticationState
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(stateBkt)
		if bucket == nil {
			return errUninitialized
		}

		return bucket.ForEach(func(k, v []byte) error {
			if len(v) != 1 {
				return nil
			}
			states[string(k)] = AuthenticationState(v[0])

			return nil
		})
	}, func() {
		states = make(map[string]AuthenticationState)
	})

	return states, err
}
