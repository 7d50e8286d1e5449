package mysql

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"payments/pkg/domain/model"
)

type PackageRepository struct {
	db sqlx.Ext
}

func (r *PackageRepository) Find(id uuid.UUID) (*model.Package, error) {
	var row struct {
		ID          string    `db:"id"`
		Slug        string    `db:"slug"`
		Title       string    `db:"title"`
		Price       int64     `db:"price"`
		Currency    string    `db:"currency"`
		IsBundle    bool      `db:"is_bundle"`
		IsPublished bool      `db:"is_published"`
		CreatedAt   time.Time `db:"created_at"`
		UpdatedAt   time.Time `db:"updated_at"`
	}
	err := sqlx.Get(r.db, &row, `
		SELECT id, slug, title, price, currency, is_bundle, is_published, created_at, updated_at
		FROM packages WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrPackageNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select package")
	}

	parsed, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, errors.Wrap(err, "parse package id")
	}
	return &model.Package{
		ID:          parsed,
		Slug:        row.Slug,
		Title:       row.Title,
		Price:       row.Price,
		Currency:    row.Currency,
		IsBundle:    row.IsBundle,
		IsPublished: row.IsPublished,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

func (r *PackageRepository) ChildPackageIDs(bundleID uuid.UUID) ([]uuid.UUID, error) {
	var raw []string
	err := sqlx.Select(r.db, &raw, `
		SELECT child_package_id FROM package_bundle_items
		WHERE bundle_id = ? ORDER BY sort_order`, bundleID.String())
	if err != nil {
		return nil, errors.Wrap(err, "select bundle children")
	}

	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errors.Wrap(err, "parse child package id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}
