package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// IdentityRecord is a row of the local identity store.
type IdentityRecord struct {
	bun.BaseModel `bun:"table:auth_identities,alias:aid"`

	ID           string         `bun:"id,pk" json:"id"`
	Email        string         `bun:"email,notnull,unique" json:"email"`
	PasswordHash string         `bun:"password_hash,notnull" json:"-"`
	Metadata     map[string]any `bun:"metadata,type:json" json:"metadata,omitempty"`
	CreatedAt    time.Time      `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time      `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

func (r *IdentityRecord) toIdentity() *accounts.Identity {
	return &accounts.Identity{
		ID:        r.ID,
		Email:     r.Email,
		Metadata:  r.Metadata,
		CreatedAt: r.CreatedAt,
	}
}

// IdentityStoreOption customizes the local identity store.
type IdentityStoreOption func(*IdentityStore)

// WithPasswordHasher replaces the bcrypt hasher.
func WithPasswordHasher(hasher accounts.PasswordHasher) IdentityStoreOption {
	return func(s *IdentityStore) {
		if hasher != nil {
			s.hasher = hasher
		}
	}
}

// WithHashedIdentityIDs derives identity ids from the email address.
func WithHashedIdentityIDs() IdentityStoreOption {
	return func(s *IdentityStore) {
		s.hashedIDs = true
	}
}

// WithIdentityClock injects a custom clock (useful for tests).
func WithIdentityClock(now func() time.Time) IdentityStoreOption {
	return func(s *IdentityStore) {
		if now != nil {
			s.now = now
		}
	}
}

// IdentityStore is a relational accounts.IdentityStore. Inserting an
// identity with role=member fires the member profile trigger.
type IdentityStore struct {
	db        bun.IDB
	hasher    accounts.PasswordHasher
	hashedIDs bool
	now       func() time.Time
}

var (
	_ accounts.IdentityStore      = (*IdentityStore)(nil)
	_ accounts.CredentialVerifier = (*IdentityStore)(nil)
)

// NewIdentityStore returns a store on db.
func NewIdentityStore(db bun.IDB, opts ...IdentityStoreOption) *IdentityStore {
	s := &IdentityStore{
		db:     db,
		hasher: accounts.BcryptHasher{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *IdentityStore) CreateIdentity(ctx context.Context, email, secret string, metadata map[string]any) (*accounts.Identity, error) {
	email = accounts.NormalizeEmail(email)

	hash, err := s.hasher.HashPassword(secret)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	if s.hashedIDs {
		if hid, err := hashid.NewUUID(email); err == nil {
			id = hid
		}
	}

	if metadata == nil {
		metadata = map[string]any{}
	}

	now := s.now().UTC()
	record := &IdentityRecord{
		ID:           id.String(),
		Email:        email,
		PasswordHash: hash,
		Metadata:     metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, accounts.NewIdentityConflictError(email)
		}
		return nil, err
	}

	return record.toIdentity(), nil
}

func (s *IdentityStore) FindIdentityByEmail(ctx context.Context, email string) (*accounts.Identity, error) {
	record, err := s.findBy(ctx, "email", accounts.NormalizeEmail(email))
	if err != nil || record == nil {
		return nil, err
	}
	return record.toIdentity(), nil
}

// FindIdentity returns nil, nil when id is unknown.
func (s *IdentityStore) FindIdentity(ctx context.Context, id string) (*accounts.Identity, error) {
	record, err := s.findBy(ctx, "id", id)
	if err != nil || record == nil {
		return nil, err
	}
	return record.toIdentity(), nil
}

func (s *IdentityStore) DeleteIdentity(ctx context.Context, id string) error {
	res, err := s.db.NewDelete().
		Model((*IdentityRecord)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return accounts.NewIdentityNotFoundError(id)
	}
	return nil
}

func (s *IdentityStore) UpdateCredential(ctx context.Context, id, secret string) error {
	hash, err := s.hasher.HashPassword(secret)
	if err != nil {
		return err
	}

	res, err := s.db.NewUpdate().
		Model((*IdentityRecord)(nil)).
		Set("password_hash = ?", hash).
		Set("updated_at = ?", s.now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return accounts.NewIdentityNotFoundError(id)
	}
	return nil
}

func (s *IdentityStore) VerifyCredential(ctx context.Context, id, secret string) error {
	record, err := s.findBy(ctx, "id", id)
	if err != nil {
		return err
	}
	if record == nil {
		return accounts.NewIdentityNotFoundError(id)
	}

	if err := s.hasher.ComparePasswordAndHash(secret, record.PasswordHash); err != nil {
		if errors.Is(err, accounts.ErrMismatchedHashAndPassword) {
			return accounts.NewInvalidCredentialsError(id)
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not compare credential")
	}
	return nil
}

// RemoteCredentialHash marks mirrored rows whose credential lives with the
// remote provider. It is never a valid bcrypt hash.
const RemoteCredentialHash = "!remote"

// MirrorIdentity inserts a row for an identity owned by a remote provider.
// The insert fires the member profile trigger like a local create does.
func (s *IdentityStore) MirrorIdentity(ctx context.Context, identity *accounts.Identity) error {
	if identity == nil || identity.ID == "" {
		return goerrors.New("mirrored identity requires an id", goerrors.CategoryBadInput)
	}

	metadata := identity.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	now := s.now().UTC()
	createdAt := identity.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	record := &IdentityRecord{
		ID:           identity.ID,
		Email:        accounts.NormalizeEmail(identity.Email),
		PasswordHash: RemoteCredentialHash,
		Metadata:     metadata,
		CreatedAt:    createdAt,
		UpdatedAt:    now,
	}

	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return accounts.NewIdentityConflictError(record.Email)
		}
		return err
	}
	return nil
}

// ForgetIdentity removes a mirrored row, ignoring unknown ids.
func (s *IdentityStore) ForgetIdentity(ctx context.Context, id string) error {
	_, err := s.db.NewDelete().
		Model((*IdentityRecord)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (s *IdentityStore) findBy(ctx context.Context, column, value string) (*IdentityRecord, error) {
	record := &IdentityRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// isUniqueViolation matches the unique constraint errors of the sqlite and
// postgres drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key value")
}
