package socrec

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/keyrecovery/logutil"
	"github.com/lightningnetwork/keyrecovery/sealing"
)

// ErrNoTrustedContacts is returned when a backup would not be recoverable by
// any trusted contact.
var ErrNoTrustedContacts = errors.New("no endorsed trusted contact with a " +
	"valid key certificate")

// SealPrivateKeyMaterial seals pkMat under a fresh private key encryption key
// (PKEK) and seals the PKEK to every endorsed contact whose certificate
// verifies against trusted. Contacts with a failing certificate are marked
// TAMPERED and left out of the backup.
func (e *Engine) SealPrivateKeyMaterial(ctx context.Context,
	accountID f8e.AccountID, pkMat []byte,
	trusted TrustedAuthKeys) (*ProtectedBackup, error) {

	relationships, err := e.cfg.Service.GetRelationships(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch relationships: %w", err)
	}

	pkek, err := sealing.NewSymmetricKey()
	if err != nil {
		return nil, err
	}
	defer pkek.Zero()

	backup := &ProtectedBackup{
		AccountID:   accountID,
		SealedPkeks: make(map[string][]byte),
	}
	for _, contact := range relationships.Endorsed {
		relID := contact.RelationshipID
		cert := contact.KeyCertificate

		if cert == nil || cert.Verify(accountID, trusted) != nil {
			log.Warnf("Not sealing backup to trusted contact %v: "+
				"certificate did not verify", relID)

			if err := e.recordState(relID, StateTampered); err != nil {
				return nil, err
			}

			continue
		}

		sealed, err := sealing.SealToPubKey(
			cert.DelegatedDecryptionKey, pkek[:], []byte(relID),
		)
		if err != nil {
			return nil, err
		}
		backup.SealedPkeks[relID] = sealed
	}

	if len(backup.SealedPkeks) == 0 {
		return nil, ErrNoTrustedContacts
	}

	backup.SealedPrivateKeyMaterial, err = sealing.Seal(
		pkek, pkMat, []byte(accountID),
	)
	if err != nil {
		return nil, err
	}

	log.InfoS(btclog.WithCtx(ctx, logutil.LogAccount(string(accountID))),
		"Sealed private key material",
		"contacts", len(backup.SealedPkeks))

	return backup, nil
}
