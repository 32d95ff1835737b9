package socrec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/keyrecovery/keychain"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/stretchr/testify/require"
)

const (
	customerAccount f8e.AccountID = "customer"

	invitationTTL = 7 * 24 * time.Hour
	challengeTTL  = 24 * time.Hour
)

var (
	testTime = time.Unix(1700000000, 0)

	errNotFound = errors.New("not found")
)

type fakeChallenge struct {
	challenge Challenge
	requests  map[string]ChallengeRequest
	responses []ChallengeResponse

	// sent counts the requests as received, repeats included.
	sent int
}

// fakeServer is an in-memory relationship server for a single protected
// customer and any number of trusted contacts.
type fakeServer struct {
	mu    sync.Mutex
	clock clock.Clock

	invitations  map[string]*Invitation
	pakeKeys     map[string][]byte
	byServerPart map[string]string
	contactOf    map[f8e.AccountID]string

	unendorsed map[string]*UnendorsedTrustedContact
	endorsed   map[string]*EndorsedTrustedContact
	order      []string

	challenges map[string]*fakeChallenge
	counter    uint64

	endorseErr error
}

var _ RelationshipsService = (*fakeServer)(nil)

func newFakeServer(clk clock.Clock) *fakeServer {
	return &fakeServer{
		clock:        clk,
		invitations:  make(map[string]*Invitation),
		pakeKeys:     make(map[string][]byte),
		byServerPart: make(map[string]string),
		contactOf:    make(map[f8e.AccountID]string),
		unendorsed:   make(map[string]*UnendorsedTrustedContact),
		endorsed:     make(map[string]*EndorsedTrustedContact),
		challenges:   make(map[string]*fakeChallenge),
	}
}

func (s *fakeServer) CreateInvitation(_ context.Context, _ f8e.AccountID,
	alias string, roles []Role, pakeKey []byte) (*Invitation, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	// Five hex digits fill a 20 bit invite code. The first ones start
	// with zeros.
	serverPart := fmt.Sprintf("%05x", len(s.byServerPart)*7919)
	invitation := &Invitation{
		RelationshipID: uuid.NewString(),
		Alias:          alias,
		Roles:          roles,
		ServerPart:     serverPart,
		CodeBitLength:  20,
		ExpiresAt:      s.clock.Now().Add(invitationTTL),
	}

	s.invitations[invitation.RelationshipID] = invitation
	s.pakeKeys[invitation.RelationshipID] = pakeKey
	s.byServerPart[serverPart] = invitation.RelationshipID

	inv := *invitation

	return &inv, nil
}

func (s *fakeServer) RetrieveInvitation(_ context.Context, _ f8e.AccountID,
	serverPart string) (*IncomingInvitation, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	relID, ok := s.byServerPart[serverPart]
	if !ok {
		return nil, errNotFound
	}
	invitation := s.invitations[relID]

	return &IncomingInvitation{
		RelationshipID:                     relID,
		Roles:                              invitation.Roles,
		ExpiresAt:                          invitation.ExpiresAt,
		ProtectedCustomerEnrollmentPakeKey: s.pakeKeys[relID],
	}, nil
}

func (s *fakeServer) AcceptInvitation(_ context.Context,
	accountID f8e.AccountID, relationshipID, customerAlias string,
	enrollment *Enrollment) (*ProtectedCustomer, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	invitation, ok := s.invitations[relationshipID]
	if !ok {
		return nil, f8e.NewSpecificClientError(
			f8e.CodeRelationshipAlreadyEstablished,
		)
	}
	if invitation.Expired(s.clock.Now()) {
		return nil, f8e.NewSpecificClientError(
			f8e.CodeInvitationExpired,
		)
	}

	delete(s.invitations, relationshipID)
	s.contactOf[accountID] = relationshipID
	s.unendorsed[relationshipID] = &UnendorsedTrustedContact{
		RelationshipID:      relationshipID,
		Alias:               invitation.Alias,
		Roles:               invitation.Roles,
		Enrollment:          *enrollment,
		AuthenticationState: StateAwaitingVerify,
	}
	s.order = append(s.order, relationshipID)

	return &ProtectedCustomer{
		RelationshipID: relationshipID,
		Alias:          customerAlias,
		Roles:          invitation.Roles,
	}, nil
}

func (s *fakeServer) GetRelationships(_ context.Context,
	_ f8e.AccountID) (*Relationships, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	rels := &Relationships{}
	for _, invitation := range s.invitations {
		rels.Invitations = append(rels.Invitations, *invitation)
	}
	for _, relID := range s.order {
		if c, ok := s.unendorsed[relID]; ok {
			rels.Unendorsed = append(rels.Unendorsed, *c)
		}
		if c, ok := s.endorsed[relID]; ok {
			rels.Endorsed = append(rels.Endorsed, *c)
		}
	}

	return rels, nil
}

func (s *fakeServer) EndorseTrustedContacts(_ context.Context,
	_ f8e.AccountID, endorsements []Endorsement) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.endorseErr != nil {
		return s.endorseErr
	}

	for _, e := range endorsements {
		if c, ok := s.unendorsed[e.RelationshipID]; ok {
			delete(s.unendorsed, e.RelationshipID)
			s.endorsed[e.RelationshipID] = &EndorsedTrustedContact{
				RelationshipID:      c.RelationshipID,
				Alias:               c.Alias,
				Roles:               c.Roles,
				KeyCertificate:      e.Certificate,
				AuthenticationState: StateVerified,
			}

			continue
		}

		c, ok := s.endorsed[e.RelationshipID]
		if !ok {
			return errNotFound
		}
		c.KeyCertificate = e.Certificate
	}

	return nil
}

func (s *fakeServer) GetKeyCertificates(_ context.Context,
	_ f8e.AccountID) ([]*KeyCertificate, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	var certs []*KeyCertificate
	for _, relID := range s.order {
		if c, ok := s.endorsed[relID]; ok {
			certs = append(certs, c.KeyCertificate)
		}
	}

	return certs, nil
}

func (s *fakeServer) StartChallenge(_ context.Context, _ f8e.AccountID,
	requests []ChallengeRequest) (*Challenge, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	ch := &fakeChallenge{
		challenge: Challenge{
			ChallengeID: uuid.NewString(),
			Counter:     s.counter,
			ExpiresAt:   s.clock.Now().Add(challengeTTL),
		},
		requests: make(map[string]ChallengeRequest),
	}
	for _, r := range requests {
		ch.requests[r.RelationshipID] = r
	}
	ch.sent = len(requests)
	s.challenges[ch.challenge.ChallengeID] = ch

	challenge := ch.challenge

	return &challenge, nil
}

func (s *fakeServer) GetChallenge(_ context.Context, accountID f8e.AccountID,
	counter uint64) (*IncomingChallenge, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	relID := s.contactOf[accountID]
	for _, ch := range s.challenges {
		if ch.challenge.Counter != counter {
			continue
		}
		request, ok := ch.requests[relID]
		if !ok {
			return nil, errNotFound
		}

		return &IncomingChallenge{
			ChallengeID:      ch.challenge.ChallengeID,
			ExpiresAt:        ch.challenge.ExpiresAt,
			ChallengeRequest: request,
		}, nil
	}

	return nil, errNotFound
}

func (s *fakeServer) RespondToChallenge(_ context.Context, _ f8e.AccountID,
	challengeID string, response *ChallengeResponse) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[challengeID]
	if !ok {
		return errNotFound
	}
	ch.responses = append(ch.responses, *response)

	return nil
}

func (s *fakeServer) FetchChallengeResponses(_ context.Context,
	_ f8e.AccountID, challengeID string) ([]ChallengeResponse, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[challengeID]
	if !ok {
		return nil, errNotFound
	}

	return append([]ChallengeResponse(nil), ch.responses...), nil
}

// editUnendorsed lets a test alter a stored enrollment.
func (s *fakeServer) editUnendorsed(relID string,
	edit func(*UnendorsedTrustedContact)) {

	s.mu.Lock()
	defer s.mu.Unlock()

	edit(s.unendorsed[relID])
}

// editResponses lets a test alter the responses of a challenge.
func (s *fakeServer) editResponses(challengeID string,
	edit func([]ChallengeResponse)) {

	s.mu.Lock()
	defer s.mu.Unlock()

	edit(s.challenges[challengeID].responses)
}

type countingRecorder struct {
	mu        sync.Mutex
	states    map[string]int
	responses map[bool]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		states:    make(map[string]int),
		responses: make(map[bool]int),
	}
}

func (r *countingRecorder) ObserveAuthentication(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[state]++
}

func (r *countingRecorder) ObserveChallengeResponse(valid bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.responses[valid]++
}

// participant is one device taking part in the protocol.
type participant struct {
	account f8e.AccountID
	keyRing *keychain.SeedKeyRing
	store   *Store
	engine  *Engine
	metrics *countingRecorder
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	backend, cleanup, err := kvdb.GetTestBackend(t.TempDir(), "socrec")
	require.NoError(t, err)
	t.Cleanup(cleanup)

	store, err := NewStore(backend)
	require.NoError(t, err)

	return store
}

func newParticipant(t *testing.T, server RelationshipsService,
	clk clock.Clock, account f8e.AccountID, seed byte) *participant {

	t.Helper()

	keyRing, err := keychain.NewSeedKeyRing(
		bytes.Repeat([]byte{seed}, 32), 0,
	)
	require.NoError(t, err)

	p := &participant{
		account: account,
		keyRing: keyRing,
		store:   newTestStore(t),
		metrics: newCountingRecorder(),
	}

	p.engine, err = NewEngine(Config{
		Service: server,
		KeyRing: keyRing,
		Store:   p.store,
		Clock:   clk,
		Metrics: p.metrics,
	})
	require.NoError(t, err)
	t.Cleanup(p.engine.Stop)

	return p
}

func (p *participant) ddk(t *testing.T) *btcec.PublicKey {
	t.Helper()

	desc, err := p.engine.DelegatedDecryptionKey()
	require.NoError(t, err)

	return desc.PubKey
}

func newTestSigners(t *testing.T) (Signers, TrustedAuthKeys) {
	t.Helper()

	app, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	hw, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	signers := Signers{
		App: keychain.NewPrivKeyMessageSigner(app, keychain.KeyLocator{
			Family: keychain.KeyFamilyAppGlobalAuth,
		}),
		Hardware: keychain.NewPrivKeyMessageSigner(
			hw, keychain.KeyLocator{},
		),
	}

	return signers, TrustedAuthKeys{
		App:      []*btcec.PublicKey{app.PubKey()},
		Hardware: []*btcec.PublicKey{hw.PubKey()},
	}
}

// testNetwork is a protected customer and the fake server both sides talk
// to.
type testNetwork struct {
	clock    *clock.TestClock
	server   *fakeServer
	customer *participant
	signers  Signers
	trusted  TrustedAuthKeys
}

func newTestNetwork(t *testing.T) *testNetwork {
	t.Helper()

	clk := clock.NewTestClock(testTime)
	server := newFakeServer(clk)
	signers, trusted := newTestSigners(t)

	return &testNetwork{
		clock:    clk,
		server:   server,
		customer: newParticipant(t, server, clk, customerAccount, 1),
		signers:  signers,
		trusted:  trusted,
	}
}

// enroll invites a new contact and lets it accept with the code it was
// given. It returns the contact and its relationship id.
func (n *testNetwork) enroll(t *testing.T, account f8e.AccountID,
	seed byte) (*participant, string) {

	t.Helper()

	ctx := context.Background()
	contact := newParticipant(t, n.server, n.clock, account, seed)

	invitation, err := n.customer.engine.CreateInvitation(
		ctx, customerAccount, string(account),
		[]Role{RoleSocialRecoveryContact},
	)
	require.NoError(t, err)

	incoming, err := contact.engine.RetrieveInvitation(
		ctx, account, invitation.Code,
	)
	require.NoError(t, err)
	require.Equal(t, invitation.RelationshipID, incoming.RelationshipID)

	_, err = contact.engine.AcceptInvitation(
		ctx, account, incoming, invitation.Code, "customer",
	)
	require.NoError(t, err)

	return contact, invitation.RelationshipID
}
