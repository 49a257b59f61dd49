package repository

import (
	"context"

	accounts "github.com/goliatone/go-accounts"
	"github.com/uptrace/bun"
)

// CleanupAction is what a cleaner does with rows that reference an identity.
type CleanupAction int

const (
	// CleanupDelete removes the rows.
	CleanupDelete CleanupAction = iota
	// CleanupDetach sets the reference column to NULL.
	CleanupDetach
)

// TableCleaner is an accounts.DependentResourceCleaner for one table. Every
// column in Columns is matched against the identity ids in one statement.
type TableCleaner struct {
	db      bun.IDB
	Table   string
	Columns []string
	Action  CleanupAction
}

var _ accounts.DependentResourceCleaner = (*TableCleaner)(nil)

// NewDeleteCleaner removes the rows of table referencing an identity through
// any of columns.
func NewDeleteCleaner(db bun.IDB, table string, columns ...string) *TableCleaner {
	return &TableCleaner{db: db, Table: table, Columns: columns, Action: CleanupDelete}
}

// NewDetachCleaner nulls column on the rows of table that reference an identity.
func NewDetachCleaner(db bun.IDB, table, column string) *TableCleaner {
	return &TableCleaner{db: db, Table: table, Columns: []string{column}, Action: CleanupDetach}
}

func (c *TableCleaner) Resource() string {
	return c.Table
}

func (c *TableCleaner) Clean(ctx context.Context, identityIDs []string) (int64, error) {
	if len(identityIDs) == 0 || len(c.Columns) == 0 {
		return 0, nil
	}

	var total int64
	for _, column := range c.Columns {
		var q *bun.RawQuery
		switch c.Action {
		case CleanupDetach:
			q = c.db.NewRaw("UPDATE ? SET ? = NULL WHERE ? IN (?)",
				bun.Ident(c.Table), bun.Ident(column), bun.Ident(column), bun.In(identityIDs))
		default:
			q = c.db.NewRaw("DELETE FROM ? WHERE ? IN (?)",
				bun.Ident(c.Table), bun.Ident(column), bun.In(identityIDs))
		}

		res, err := q.Exec(ctx)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// DefaultCleaners returns the cleaners for the dependent tables shipped with
// the migrations: payments, enrollments, reviews, referrals and notification
// logs are deleted, course instructors, content uploaders and settings
// editors are detached.
func DefaultCleaners(db bun.IDB) []accounts.DependentResourceCleaner {
	return []accounts.DependentResourceCleaner{
		NewDeleteCleaner(db, "payments", "user_id"),
		NewDeleteCleaner(db, "course_enrollments", "user_id"),
		NewDeleteCleaner(db, "reviews", "user_id"),
		NewDeleteCleaner(db, "referrals", "referrer_id", "referred_id"),
		NewDeleteCleaner(db, "notification_logs", "user_id"),
		NewDetachCleaner(db, "courses", "instructor_id"),
		NewDetachCleaner(db, "content_items", "uploaded_by"),
		NewDetachCleaner(db, "settings", "updated_by"),
	}
}
