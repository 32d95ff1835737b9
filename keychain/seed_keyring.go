package keychain

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// SeedKeyRing is a SecretKeyRing that derives every key from a single HD seed
// held in memory. Keys follow m/1017'/coinType'/keyFamily'/0/index.
type SeedKeyRing struct {
	coinType uint32

	// familyRoots caches the m/1017'/coinType'/keyFamily'/0 branch of
	// every family used so far.
	familyRoots map[KeyFamily]*hdkeychain.ExtendedKey
	master      *hdkeychain.ExtendedKey

	// nextIndex is the next unused index of every family.
	nextIndex map[KeyFamily]uint32

	mu sync.Mutex
}

// A compile time check to ensure SeedKeyRing implements the SecretKeyRing
// interface.
var _ SecretKeyRing = (*SeedKeyRing)(nil)

// NewSeedKeyRing creates a key ring from a BIP32 seed.
func NewSeedKeyRing(seed []byte, coinType uint32) (*SeedKeyRing, error) {
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("unable to create master key: %w", err)
	}

	return &SeedKeyRing{
		coinType:    coinType,
		master:      master,
		familyRoots: make(map[KeyFamily]*hdkeychain.ExtendedKey),
		nextIndex:   make(map[KeyFamily]uint32),
	}, nil
}

// familyRoot returns the external branch of the given family. The caller must
// hold the mutex.
func (s *SeedKeyRing) familyRoot(fam KeyFamily) (*hdkeychain.ExtendedKey,
	error) {

	if root, ok := s.familyRoots[fam]; ok {
		return root, nil
	}

	path := []uint32{
		hdkeychain.HardenedKeyStart + BIP0043Purpose,
		hdkeychain.HardenedKeyStart + s.coinType,
		hdkeychain.HardenedKeyStart + uint32(fam),
		0,
	}

	key := s.master
	for _, child := range path {
		var err error
		key, err = key.Derive(child)
		if err != nil {
			return nil, err
		}
	}

	s.familyRoots[fam] = key

	return key, nil
}

// privKey derives the private key at the locator. The caller must hold the
// mutex.
func (s *SeedKeyRing) privKey(loc KeyLocator) (*btcec.PrivateKey, error) {
	root, err := s.familyRoot(loc.Family)
	if err != nil {
		return nil, err
	}

	child, err := root.Derive(loc.Index)
	if err != nil {
		return nil, err
	}

	return child.ECPrivKey()
}

// DeriveNextKey derives the next unused key of the family.
//
// NOTE: This is part of the keychain.KeyRing interface.
func (s *SeedKeyRing) DeriveNextKey(keyFam KeyFamily) (KeyDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := KeyLocator{Family: keyFam, Index: s.nextIndex[keyFam]}
	priv, err := s.privKey(loc)
	if err != nil {
		return KeyDescriptor{}, err
	}
	s.nextIndex[keyFam]++

	return KeyDescriptor{KeyLocator: loc, PubKey: priv.PubKey()}, nil
}

// DeriveKey derives the key at the locator.
//
// NOTE: This is part of the keychain.KeyRing interface.
func (s *SeedKeyRing) DeriveKey(keyLoc KeyLocator) (KeyDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	priv, err := s.privKey(keyLoc)
	if err != nil {
		return KeyDescriptor{}, err
	}

	if keyLoc.Index >= s.nextIndex[keyLoc.Family] {
		s.nextIndex[keyLoc.Family] = keyLoc.Index + 1
	}

	return KeyDescriptor{KeyLocator: keyLoc, PubKey: priv.PubKey()}, nil
}

// DerivePrivKey derives the private key of the descriptor. When the public
// key is set and the locator does not point at it, the family is scanned for
// it.
//
// NOTE: This is part of the keychain.SecretKeyRing interface.
func (s *SeedKeyRing) DerivePrivKey(
	keyDesc KeyDescriptor) (*btcec.PrivateKey, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	priv, err := s.privKey(keyDesc.KeyLocator)
	if err != nil {
		return nil, err
	}

	if keyDesc.PubKey == nil || priv.PubKey().IsEqual(keyDesc.PubKey) {
		return priv, nil
	}
	priv.Zero()

	for i := uint32(0); i < MaxKeyRangeScan; i++ {
		if i == keyDesc.Index {
			continue
		}

		priv, err := s.privKey(KeyLocator{
			Family: keyDesc.Family,
			Index:  i,
		})
		if err != nil {
			return nil, err
		}

		if priv.PubKey().IsEqual(keyDesc.PubKey) {
			return priv, nil
		}
		priv.Zero()
	}

	return nil, ErrCannotDerivePrivKey
}

// ECDH returns sha256(k*P) for the private key k of the descriptor.
//
// NOTE: This is part of the keychain.ECDHRing interface.
func (s *SeedKeyRing) ECDH(keyDesc KeyDescriptor,
	pub *btcec.PublicKey) ([32]byte, error) {

	priv, err := s.DerivePrivKey(keyDesc)
	if err != nil {
		return [32]byte{}, err
	}
	defer priv.Zero()

	return sharedSecret(priv, pub), nil
}

// SignMessage signs msg with the key at the locator.
//
// NOTE: This is part of the keychain.MessageSignerRing interface.
func (s *SeedKeyRing) SignMessage(keyLoc KeyLocator, msg []byte,
	doubleHash bool) (*ecdsa.Signature, error) {

	priv, err := s.DerivePrivKey(KeyDescriptor{KeyLocator: keyLoc})
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	return ecdsa.Sign(priv, messageDigest(msg, doubleHash)), nil
}
