package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Manager exposes the account stores backed by one database.
type Manager interface {
	repository.Validator
	repository.TransactionManager
	Identities() *IdentityStore
	Profiles() *ProfileStore
	Cleaners() []accounts.DependentResourceCleaner
}

type mngr struct {
	db         *bun.DB
	identities *IdentityStore
	profiles   *ProfileStore
	cleaners   []accounts.DependentResourceCleaner
}

// NewRepositoryManager wires the local identity store, the profile store and
// the default cleaners around db.
func NewRepositoryManager(db *bun.DB, opts ...IdentityStoreOption) Manager {
	return &mngr{
		db:         db,
		identities: NewIdentityStore(db, opts...),
		profiles:   NewProfileStore(db),
		cleaners:   DefaultCleaners(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.identities == nil {
		return errors.New("repository identities should be initialized")
	}

	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Identities() *IdentityStore {
	return m.identities
}

func (m mngr) Profiles() *ProfileStore {
	return m.profiles
}

func (m mngr) Cleaners() []accounts.DependentResourceCleaner {
	return m.cleaners
}
