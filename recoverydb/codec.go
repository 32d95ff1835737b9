package recoverydb

import (
	"bytes"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/keyrecovery/recovery"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// Local attempt record types.
	typePhase               tlv.Type = 0
	typeLostFactor          tlv.Type = 1
	typeAppGlobalAuthKey    tlv.Type = 2
	typeAppRecoveryAuthKey  tlv.Type = 3
	typeHardwareAuthKey     tlv.Type = 4
	typeAppSpendingKey      tlv.Type = 5
	typeHardwareSpendingKey tlv.Type = 6
	typeSealedCsek          tlv.Type = 7
	typeSealedSsek          tlv.Type = 8
	typeKeysetID            tlv.Type = 9
	typeServerSpendingKey   tlv.Type = 10
	typeKeyboxID            tlv.Type = 11

	// Server record types.
	typeServerLostFactor         tlv.Type = 0
	typeDelayStart               tlv.Type = 1
	typeDelayEnd                 tlv.Type = 2
	typeServerAppGlobalAuthKey   tlv.Type = 3
	typeServerHardwareAuthKey    tlv.Type = 4
	typeServerAppRecoveryAuthKey tlv.Type = 5
	typeServerAppSpendingKey     tlv.Type = 6
	typeServerHwSpendingKey      tlv.Type = 7
)

// serializeAttempt encodes a local attempt as a tlv stream. The account id is
// the record's key and is not part of the value.
func serializeAttempt(a *recovery.LocalRecoveryAttempt) ([]byte, error) {
	var (
		phase      = uint8(a.Phase)
		lostFactor = uint8(a.Keybundles.LostFactor)
		bundles    = a.Keybundles
	)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typePhase, &phase),
		tlv.MakePrimitiveRecord(typeLostFactor, &lostFactor),
		tlv.MakePrimitiveRecord(
			typeAppGlobalAuthKey, &bundles.AppGlobalAuthKey,
		),
		tlv.MakePrimitiveRecord(
			typeAppRecoveryAuthKey, &bundles.AppRecoveryAuthKey,
		),
		tlv.MakePrimitiveRecord(
			typeHardwareAuthKey, &bundles.HardwareAuthKey,
		),
		tlv.MakePrimitiveRecord(
			typeAppSpendingKey, &bundles.AppSpendingKey,
		),
		tlv.MakePrimitiveRecord(
			typeHardwareSpendingKey, &bundles.HardwareSpendingKey,
		),
	}

	sealedCsek, sealedSsek := a.SealedCsek, a.SealedSsek
	if len(sealedCsek) > 0 {
		records = append(records,
			tlv.MakePrimitiveRecord(typeSealedCsek, &sealedCsek),
			tlv.MakePrimitiveRecord(typeSealedSsek, &sealedSsek),
		)
	}

	if a.Keyset != nil {
		keysetID := []byte(a.Keyset.KeysetID)
		serverKey := a.Keyset.ServerSpendingKey
		records = append(records,
			tlv.MakePrimitiveRecord(typeKeysetID, &keysetID),
			tlv.MakePrimitiveRecord(
				typeServerSpendingKey, &serverKey,
			),
		)
	}

	if a.KeyboxID != "" {
		keyboxID := []byte(a.KeyboxID)
		records = append(records,
			tlv.MakePrimitiveRecord(typeKeyboxID, &keyboxID),
		)
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeAttempt decodes a local attempt stored under accountID.
func deserializeAttempt(accountID f8e.AccountID,
	v []byte) (*recovery.LocalRecoveryAttempt, error) {

	var (
		phase, lostFactor  uint8
		bundles            recovery.PendingKeybundles
		sealedCsek         []byte
		sealedSsek         []byte
		keysetID, keyboxID []byte
		serverSpendingKey  *btcec.PublicKey
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typePhase, &phase),
		tlv.MakePrimitiveRecord(typeLostFactor, &lostFactor),
		tlv.MakePrimitiveRecord(
			typeAppGlobalAuthKey, &bundles.AppGlobalAuthKey,
		),
		tlv.MakePrimitiveRecord(
			typeAppRecoveryAuthKey, &bundles.AppRecoveryAuthKey,
		),
		tlv.MakePrimitiveRecord(
			typeHardwareAuthKey, &bundles.HardwareAuthKey,
		),
		tlv.MakePrimitiveRecord(
			typeAppSpendingKey, &bundles.AppSpendingKey,
		),
		tlv.MakePrimitiveRecord(
			typeHardwareSpendingKey, &bundles.HardwareSpendingKey,
		),
		tlv.MakePrimitiveRecord(typeSealedCsek, &sealedCsek),
		tlv.MakePrimitiveRecord(typeSealedSsek, &sealedSsek),
		tlv.MakePrimitiveRecord(typeKeysetID, &keysetID),
		tlv.MakePrimitiveRecord(
			typeServerSpendingKey, &serverSpendingKey,
		),
		tlv.MakePrimitiveRecord(typeKeyboxID, &keyboxID),
	)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(v))
	if err != nil {
		return nil, err
	}

	for _, typ := range []tlv.Type{
		typePhase, typeLostFactor, typeAppGlobalAuthKey,
		typeAppRecoveryAuthKey, typeHardwareAuthKey,
		typeAppSpendingKey, typeHardwareSpendingKey,
	} {
		if _, ok := parsed[typ]; !ok {
			return nil, fmt.Errorf("%w: attempt missing type %d",
				ErrCorruptRecord, typ)
		}
	}

	bundles.LostFactor = f8e.PhysicalFactor(lostFactor)
	attempt := &recovery.LocalRecoveryAttempt{
		AccountID:  accountID,
		Phase:      recovery.Phase(phase),
		Keybundles: bundles,
		SealedCsek: sealedCsek,
		SealedSsek: sealedSsek,
		KeyboxID:   string(keyboxID),
	}
	if _, ok := parsed[typeServerSpendingKey]; ok {
		attempt.Keyset = &recovery.SpendingKeyset{
			KeysetID:          string(keysetID),
			ServerSpendingKey: serverSpendingKey,
		}
	}

	if !attempt.Phase.Valid() {
		return nil, fmt.Errorf("%w: unknown phase %d",
			ErrCorruptRecord, phase)
	}

	return attempt, nil
}

// serializeServerRecovery encodes a cached server record.
func serializeServerRecovery(r *recovery.ServerRecovery) ([]byte, error) {
	var (
		lostFactor = uint8(r.LostFactor)
		delayStart = uint64(r.DelayStartTime.Unix())
		delayEnd   = uint64(r.DelayEndTime.Unix())
		appAuth    = r.AppGlobalAuthKey
		hwAuth     = r.HardwareAuthKey
	)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeServerLostFactor, &lostFactor),
		tlv.MakePrimitiveRecord(typeDelayStart, &delayStart),
		tlv.MakePrimitiveRecord(typeDelayEnd, &delayEnd),
		tlv.MakePrimitiveRecord(typeServerAppGlobalAuthKey, &appAuth),
		tlv.MakePrimitiveRecord(typeServerHardwareAuthKey, &hwAuth),
	}

	// Optional keys are only written when the server sent them.
	optional := []struct {
		typ tlv.Type
		key *btcec.PublicKey
	}{
		{typeServerAppRecoveryAuthKey, r.AppRecoveryAuthKey},
		{typeServerAppSpendingKey, r.AppSpendingKey},
		{typeServerHwSpendingKey, r.HardwareSpendingKey},
	}
	for _, opt := range optional {
		if opt.key == nil {
			continue
		}

		key := opt.key
		records = append(records, tlv.MakePrimitiveRecord(
			opt.typ, &key,
		))
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeServerRecovery decodes a cached server record of accountID.
func deserializeServerRecovery(accountID f8e.AccountID,
	v []byte) (*recovery.ServerRecovery, error) {

	var (
		lostFactor           uint8
		delayStart, delayEnd uint64
		r                    = recovery.ServerRecovery{
			AccountID: accountID,
		}
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeServerLostFactor, &lostFactor),
		tlv.MakePrimitiveRecord(typeDelayStart, &delayStart),
		tlv.MakePrimitiveRecord(typeDelayEnd, &delayEnd),
		tlv.MakePrimitiveRecord(
			typeServerAppGlobalAuthKey, &r.AppGlobalAuthKey,
		),
		tlv.MakePrimitiveRecord(
			typeServerHardwareAuthKey, &r.HardwareAuthKey,
		),
		tlv.MakePrimitiveRecord(
			typeServerAppRecoveryAuthKey, &r.AppRecoveryAuthKey,
		),
		tlv.MakePrimitiveRecord(
			typeServerAppSpendingKey, &r.AppSpendingKey,
		),
		tlv.MakePrimitiveRecord(
			typeServerHwSpendingKey, &r.HardwareSpendingKey,
		),
	)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(v))
	if err != nil {
		return nil, err
	}

	for _, typ := range []tlv.Type{
		typeServerLostFactor, typeDelayStart, typeDelayEnd,
		typeServerAppGlobalAuthKey, typeServerHardwareAuthKey,
	} {
		if _, ok := parsed[typ]; !ok {
			return nil, fmt.Errorf("%w: server recovery missing "+
				"type %d", ErrCorruptRecord, typ)
		}
	}

	r.LostFactor = f8e.PhysicalFactor(lostFactor)
	r.DelayStartTime = time.Unix(int64(delayStart), 0)
	r.DelayEndTime = time.Unix(int64(delayEnd), 0)

	return &r, nil
}
