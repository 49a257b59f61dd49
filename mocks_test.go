package accounts_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	accounts "github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/mock"
)

// memIdentities is an in memory IdentityStore. When profiles is set, member
// identities materialize a profile the way the store trigger does.
type memIdentities struct {
	mu       sync.Mutex
	seq      int
	byID     map[string]*accounts.Identity
	secrets  map[string]string
	profiles *memProfiles

	// hideLookups makes FindIdentityByEmail miss, to simulate a race with
	// another writer.
	hideLookups bool
	createErr   error
	deleteErr   func(id string) error
	updateErr   error

	deleteCalls []string
}

func newMemIdentities(profiles *memProfiles) *memIdentities {
	return &memIdentities{
		byID:     map[string]*accounts.Identity{},
		secrets:  map[string]string{},
		profiles: profiles,
	}
}

func (m *memIdentities) CreateIdentity(ctx context.Context, email, secret string, metadata map[string]any) (*accounts.Identity, error) {
	m.mu.Lock()
	if m.createErr != nil {
		m.mu.Unlock()
		return nil, m.createErr
	}
	for _, identity := range m.byID {
		if identity.Email == email {
			m.mu.Unlock()
			return nil, accounts.NewIdentityConflictError(email)
		}
	}

	m.seq++
	identity := &accounts.Identity{
		ID:        fmt.Sprintf("id-%03d", m.seq),
		Email:     email,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	m.byID[identity.ID] = identity
	m.secrets[identity.ID] = secret
	m.mu.Unlock()

	if m.profiles != nil && metadata[accounts.MetadataRole] == accounts.RoleMember.String() {
		m.profiles.materializeMember(identity)
	}

	return identity, nil
}

func (m *memIdentities) FindIdentityByEmail(ctx context.Context, email string) (*accounts.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hideLookups {
		return nil, nil
	}
	for _, identity := range m.byID {
		if identity.Email == email {
			return identity, nil
		}
	}
	return nil, nil
}

func (m *memIdentities) DeleteIdentity(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteCalls = append(m.deleteCalls, id)
	if m.deleteErr != nil {
		if err := m.deleteErr(id); err != nil {
			return err
		}
	}
	if _, ok := m.byID[id]; !ok {
		return accounts.NewIdentityNotFoundError(id)
	}
	delete(m.byID, id)
	delete(m.secrets, id)
	return nil
}

func (m *memIdentities) UpdateCredential(ctx context.Context, id, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.byID[id]; !ok {
		return accounts.NewIdentityNotFoundError(id)
	}
	m.secrets[id] = secret
	return nil
}

func (m *memIdentities) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byID[id]
	return ok
}

func (m *memIdentities) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *memIdentities) secret(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secrets[id]
}

// verifyingIdentities adds CredentialVerifier on top of memIdentities.
type verifyingIdentities struct {
	*memIdentities
}

func (v verifyingIdentities) VerifyCredential(ctx context.Context, id, secret string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	stored, ok := v.secrets[id]
	if !ok {
		return accounts.NewIdentityNotFoundError(id)
	}
	if stored != secret {
		return accounts.NewInvalidCredentialsError(id)
	}
	return nil
}

// memProfiles is an in memory ProfileRepository.
type memProfiles struct {
	mu      sync.Mutex
	admins  map[string]*accounts.AdministratorProfile
	members map[string]*accounts.MemberProfile

	// materializeMembers disables the trigger when false.
	materializeMembers bool
	// memberVisibleAfter hides a new member profile for that many reads.
	memberVisibleAfter int
	memberReads        map[string]int

	insertAdminErr   error
	findErr          error
	markFailures     int
	markCalls        int
	deleteBatchCalls int
	adminSeq         int
}

func newMemProfiles() *memProfiles {
	return &memProfiles{
		admins:             map[string]*accounts.AdministratorProfile{},
		members:            map[string]*accounts.MemberProfile{},
		materializeMembers: true,
		memberReads:        map[string]int{},
	}
}

func (p *memProfiles) materializeMember(identity *accounts.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.materializeMembers {
		return
	}

	str := func(key string) string {
		v, _ := identity.Metadata[key].(string)
		return v
	}

	p.members[identity.ID] = &accounts.MemberProfile{
		IdentityID:         identity.ID,
		Email:              identity.Email,
		FullName:           str(accounts.MetadataFullName),
		Role:               accounts.RoleMember,
		MemberCode:         fmt.Sprintf("MBR-%08X", len(p.members)+1),
		MembershipTier:     str(accounts.MetadataMembershipTier),
		MembershipStatus:   str(accounts.MetadataMembershipStatus),
		Phone:              str(accounts.MetadataPhone),
		City:               str(accounts.MetadataCity),
		Country:            str(accounts.MetadataCountry),
		MustChangePassword: identity.Metadata[accounts.MetadataCreatedByAdmin] == true,
	}
}

func (p *memProfiles) ExistsByEmail(ctx context.Context, role accounts.Role, email string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if role == accounts.RoleAdministrator {
		for _, a := range p.admins {
			if a.Email == email {
				return true, nil
			}
		}
		return false, nil
	}
	for _, m := range p.members {
		if m.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (p *memProfiles) InsertAdministratorProfile(ctx context.Context, identityID string, req accounts.ProvisioningRequest) (*accounts.AdministratorProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.insertAdminErr != nil {
		return nil, p.insertAdminErr
	}

	p.adminSeq++
	profile := &accounts.AdministratorProfile{
		IdentityID:         identityID,
		Email:              req.Email,
		FullName:           req.FullName,
		Role:               accounts.RoleAdministrator,
		AdminCode:          fmt.Sprintf("ADM-%08X", p.adminSeq),
		Phone:              req.Phone,
		MustChangePassword: true,
	}
	p.admins[identityID] = profile
	return profile, nil
}

func (p *memProfiles) FindAdministratorProfile(ctx context.Context, identityID string) (*accounts.AdministratorProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.findErr != nil {
		return nil, p.findErr
	}
	return p.admins[identityID], nil
}

func (p *memProfiles) FindMemberProfile(ctx context.Context, identityID string) (*accounts.MemberProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.memberReads[identityID]++
	if p.memberReads[identityID] <= p.memberVisibleAfter {
		return nil, nil
	}
	return p.members[identityID], nil
}

func (p *memProfiles) FindProfiles(ctx context.Context, identityIDs []string) ([]accounts.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := []accounts.Profile{}
	for _, id := range identityIDs {
		if a, ok := p.admins[id]; ok {
			out = append(out, accounts.AdministratorVariant(a))
			continue
		}
		if m, ok := p.members[id]; ok {
			out = append(out, accounts.MemberVariant(m))
		}
	}
	return out, nil
}

func (p *memProfiles) DeleteProfile(ctx context.Context, role accounts.Role, identityID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if role == accounts.RoleAdministrator {
		delete(p.admins, identityID)
	} else {
		delete(p.members, identityID)
	}
	return nil
}

func (p *memProfiles) DeleteProfiles(ctx context.Context, profiles []accounts.Profile) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.deleteBatchCalls++
	var n int64
	for _, profile := range profiles {
		id := profile.IdentityID()
		if _, ok := p.admins[id]; ok {
			delete(p.admins, id)
			n++
		}
		if _, ok := p.members[id]; ok {
			delete(p.members, id)
			n++
		}
	}
	return n, nil
}

func (p *memProfiles) MarkCredentialRotated(ctx context.Context, role accounts.Role, identityID string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.markCalls++
	if p.markFailures > 0 {
		p.markFailures--
		return fmt.Errorf("profile store unavailable")
	}

	if role == accounts.RoleAdministrator {
		if a, ok := p.admins[identityID]; ok {
			a.MustChangePassword = false
			a.PasswordChangedAt = &at
			return nil
		}
	} else if m, ok := p.members[identityID]; ok {
		m.MustChangePassword = false
		m.PasswordChangedAt = &at
		return nil
	}
	return fmt.Errorf("profile %s not found", identityID)
}

func (p *memProfiles) addMember(id, email string, mustChange bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members[id] = &accounts.MemberProfile{
		IdentityID:         id,
		Email:              email,
		Role:               accounts.RoleMember,
		MemberCode:         "MBR-" + id,
		MustChangePassword: mustChange,
	}
}

func (p *memProfiles) addAdmin(id, email string, mustChange bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.admins[id] = &accounts.AdministratorProfile{
		IdentityID:         id,
		Email:              email,
		Role:               accounts.RoleAdministrator,
		AdminCode:          "ADM-" + id,
		MustChangePassword: mustChange,
	}
}

func (p *memProfiles) hasProfile(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, a := p.admins[id]
	_, m := p.members[id]
	return a || m
}

// seedIdentity adds an identity with a known secret and no saga involved.
func (m *memIdentities) seedIdentity(id, email, secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id] = &accounts.Identity{ID: id, Email: email}
	m.secrets[id] = secret
}

// MockNotifier implements accounts.NotificationDispatcher
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendWelcome(ctx context.Context, msg accounts.WelcomeNotification) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockCleaner implements accounts.DependentResourceCleaner
type MockCleaner struct {
	mock.Mock
	name string
}

func (m *MockCleaner) Resource() string {
	return m.name
}

func (m *MockCleaner) Clean(ctx context.Context, identityIDs []string) (int64, error) {
	args := m.Called(ctx, identityIDs)
	return args.Get(0).(int64), args.Error(1)
}

// recordingSink keeps every activity event.
type recordingSink struct {
	mu     sync.Mutex
	events []accounts.ActivityEvent
}

func (s *recordingSink) Record(ctx context.Context, event accounts.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []accounts.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]accounts.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func (s *recordingSink) last() accounts.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return accounts.ActivityEvent{}
	}
	return s.events[len(s.events)-1]
}

// sleepRecorder replaces real waits and records requested durations.
type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) calls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

func fixedClock() func() time.Time {
	t := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func testConfig() accounts.Config {
	cfg := accounts.DefaultConfig()
	cfg.MaterializationWarmup = 2500 * time.Millisecond
	cfg.MaterializationAttempts = 3
	cfg.MaterializationDelay = time.Second
	cfg.IdentityDeleteRate = 0
	return cfg
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
