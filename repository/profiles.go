package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const adminCodePrefix = "ADM-"

func NewAdministratorProfilesRepository(db *bun.DB) repository.Repository[*accounts.AdministratorProfile] {
	return repository.NewRepository(db, repository.ModelHandlers[*accounts.AdministratorProfile]{
		NewRecord: func() *accounts.AdministratorProfile {
			return &accounts.AdministratorProfile{}
		},
		GetID: func(record *accounts.AdministratorProfile) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *accounts.AdministratorProfile, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
		GetIdentifier: func() string {
			return "identity_id"
		},
	})
}

func NewMemberProfilesRepository(db *bun.DB) repository.Repository[*accounts.MemberProfile] {
	return repository.NewRepository(db, repository.ModelHandlers[*accounts.MemberProfile]{
		NewRecord: func() *accounts.MemberProfile {
			return &accounts.MemberProfile{}
		},
		GetID: func(record *accounts.MemberProfile) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *accounts.MemberProfile, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
		GetIdentifier: func() string {
			return "identity_id"
		},
	})
}

// ProfileStore implements accounts.ProfileRepository over the
// admin_profiles and member_profiles tables.
type ProfileStore struct {
	db      *bun.DB
	admins  repository.Repository[*accounts.AdministratorProfile]
	members repository.Repository[*accounts.MemberProfile]
	code    func() (string, error)
	now     func() time.Time
}

var _ accounts.ProfileRepository = (*ProfileStore)(nil)

// ProfileStoreOption customizes the profile store.
type ProfileStoreOption func(*ProfileStore)

// WithAdminCodeGenerator replaces the ADM- code generator.
func WithAdminCodeGenerator(fn func() (string, error)) ProfileStoreOption {
	return func(s *ProfileStore) {
		if fn != nil {
			s.code = fn
		}
	}
}

// WithProfileClock injects a custom clock (useful for tests).
func WithProfileClock(now func() time.Time) ProfileStoreOption {
	return func(s *ProfileStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewProfileStore(db *bun.DB, opts ...ProfileStoreOption) *ProfileStore {
	s := &ProfileStore{
		db:      db,
		admins:  NewAdministratorProfilesRepository(db),
		members: NewMemberProfilesRepository(db),
		code:    NewAdminCode,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Administrators exposes the generic administrator profile repository.
func (s *ProfileStore) Administrators() repository.Repository[*accounts.AdministratorProfile] {
	return s.admins
}

// Members exposes the generic member profile repository.
func (s *ProfileStore) Members() repository.Repository[*accounts.MemberProfile] {
	return s.members
}

func (s *ProfileStore) ExistsByEmail(ctx context.Context, role accounts.Role, email string) (bool, error) {
	q := s.db.NewSelect()
	switch role {
	case accounts.RoleAdministrator:
		q = q.Model((*accounts.AdministratorProfile)(nil))
	default:
		q = q.Model((*accounts.MemberProfile)(nil))
	}
	return q.Where("?TableAlias.email = ?", accounts.NormalizeEmail(email)).Exists(ctx)
}

func (s *ProfileStore) InsertAdministratorProfile(ctx context.Context, identityID string, req accounts.ProvisioningRequest) (*accounts.AdministratorProfile, error) {
	code, err := s.code()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	record := &accounts.AdministratorProfile{
		ID:                 uuid.New(),
		IdentityID:         identityID,
		Email:              accounts.NormalizeEmail(req.Email),
		FullName:           req.FullName,
		Role:               accounts.RoleAdministrator,
		AdminCode:          code,
		Phone:              req.Phone,
		MustChangePassword: true,
		CreatedAt:          &now,
		UpdatedAt:          &now,
	}

	return s.admins.CreateTx(ctx, s.db, record)
}

func (s *ProfileStore) FindAdministratorProfile(ctx context.Context, identityID string) (*accounts.AdministratorProfile, error) {
	record := &accounts.AdministratorProfile{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.identity_id = ?", identityID).
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

func (s *ProfileStore) FindMemberProfile(ctx context.Context, identityID string) (*accounts.MemberProfile, error) {
	record := &accounts.MemberProfile{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.identity_id = ?", identityID).
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

// FindProfiles issues one query per collection. An identity with rows in
// both collections is reported as an administrator.
func (s *ProfileStore) FindProfiles(ctx context.Context, identityIDs []string) ([]accounts.Profile, error) {
	if len(identityIDs) == 0 {
		return nil, nil
	}

	var admins []*accounts.AdministratorProfile
	if err := s.db.NewSelect().
		Model(&admins).
		Where("?TableAlias.identity_id IN (?)", bun.In(identityIDs)).
		Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var members []*accounts.MemberProfile
	if err := s.db.NewSelect().
		Model(&members).
		Where("?TableAlias.identity_id IN (?)", bun.In(identityIDs)).
		Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	seen := make(map[string]struct{}, len(admins))
	out := make([]accounts.Profile, 0, len(admins)+len(members))
	for _, a := range admins {
		seen[a.IdentityID] = struct{}{}
		out = append(out, accounts.AdministratorVariant(a))
	}
	for _, m := range members {
		if _, ok := seen[m.IdentityID]; ok {
			continue
		}
		out = append(out, accounts.MemberVariant(m))
	}
	return out, nil
}

func (s *ProfileStore) DeleteProfile(ctx context.Context, role accounts.Role, identityID string) error {
	q := s.db.NewDelete()
	switch role {
	case accounts.RoleAdministrator:
		q = q.Model((*accounts.AdministratorProfile)(nil))
	default:
		q = q.Model((*accounts.MemberProfile)(nil))
	}
	_, err := q.Where("identity_id = ?", identityID).Exec(ctx)
	return err
}

// DeleteProfiles removes profiles with at most one statement per collection,
// inside a single transaction.
func (s *ProfileStore) DeleteProfiles(ctx context.Context, profiles []accounts.Profile) (int64, error) {
	var adminIDs, memberIDs []string
	for _, p := range profiles {
		switch p.Kind {
		case accounts.RoleAdministrator:
			adminIDs = append(adminIDs, p.IdentityID())
		case accounts.RoleMember:
			memberIDs = append(memberIDs, p.IdentityID())
		}
	}

	var total int64
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if len(adminIDs) > 0 {
			res, err := tx.NewDelete().
				Model((*accounts.AdministratorProfile)(nil)).
				Where("identity_id IN (?)", bun.In(adminIDs)).
				Exec(ctx)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += n
		}

		if len(memberIDs) > 0 {
			res, err := tx.NewDelete().
				Model((*accounts.MemberProfile)(nil)).
				Where("identity_id IN (?)", bun.In(memberIDs)).
				Exec(ctx)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *ProfileStore) MarkCredentialRotated(ctx context.Context, role accounts.Role, identityID string, at time.Time) error {
	q := s.db.NewUpdate()
	switch role {
	case accounts.RoleAdministrator:
		q = q.Model((*accounts.AdministratorProfile)(nil))
	default:
		q = q.Model((*accounts.MemberProfile)(nil))
	}

	res, err := q.
		Set("must_change_password = ?", false).
		Set("password_changed_at = ?", at).
		Set("updated_at = ?", s.now().UTC()).
		Where("identity_id = ?", identityID).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"identity_id": identityID,
				"role":        role.String(),
			})
	}
	return nil
}

// NewAdminCode returns an ADM- code with eight random hex digits.
func NewAdminCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return adminCodePrefix + strings.ToUpper(hex.EncodeToString(buf)), nil
}
