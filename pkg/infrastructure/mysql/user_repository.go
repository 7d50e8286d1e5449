package mysql

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"payments/pkg/domain/model"
)

type UserRepository struct {
	db sqlx.Ext
}

type userRow struct {
	ID                        string         `db:"id"`
	Email                     string         `db:"email"`
	Name                      string         `db:"name"`
	HashedPassword            string         `db:"hashed_password"`
	Role                      string         `db:"role"`
	IsActive                  bool           `db:"is_active"`
	PasswordResetToken        sql.NullString `db:"password_reset_token"`
	PasswordResetTokenExpires sql.NullTime   `db:"password_reset_token_expires"`
	PasswordChangedAt         sql.NullTime   `db:"password_changed_at"`
	CreatedAt                 time.Time      `db:"created_at"`
	UpdatedAt                 time.Time      `db:"updated_at"`
}

const userColumns = `id, email, name, hashed_password, role, is_active,
	password_reset_token, password_reset_token_expires, password_changed_at,
	created_at, updated_at`

func (r *UserRepository) Create(user *model.User) error {
	_, err := r.db.Exec(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID.String(), user.Email, user.Name, user.HashedPassword, user.Role, user.IsActive,
		strPtrToNull(user.PasswordResetToken), timePtrToNull(user.PasswordResetTokenExpires),
		timePtrToNull(user.PasswordChangedAt), user.CreatedAt, user.UpdatedAt,
	)
	if isDuplicateEntry(err) {
		return model.ErrEmailTaken
	}
	return errors.Wrap(err, "insert user")
}

func (r *UserRepository) Update(user *model.User) error {
	_, err := r.db.Exec(`
		UPDATE users SET
			email = ?, name = ?, hashed_password = ?, role = ?, is_active = ?,
			password_reset_token = ?, password_reset_token_expires = ?, password_changed_at = ?,
			updated_at = ?
		WHERE id = ?`,
		user.Email, user.Name, user.HashedPassword, user.Role, user.IsActive,
		strPtrToNull(user.PasswordResetToken), timePtrToNull(user.PasswordResetTokenExpires),
		timePtrToNull(user.PasswordChangedAt), user.UpdatedAt,
		user.ID.String(),
	)
	return errors.Wrap(err, "update user")
}

func (r *UserRepository) Find(id uuid.UUID) (*model.User, error) {
	return r.findOne(`SELECT `+userColumns+` FROM users WHERE id = ?`, id.String())
}

func (r *UserRepository) FindByEmail(email string) (*model.User, error) {
	return r.findOne(`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (r *UserRepository) FindByResetTokenHash(tokenHash string) (*model.User, error) {
	return r.findOne(`SELECT `+userColumns+` FROM users WHERE password_reset_token = ?`, tokenHash)
}

func (r *UserRepository) findOne(query string, arg any) (*model.User, error) {
	var row userRow
	if err := sqlx.Get(r.db, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "select user")
	}

	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, errors.Wrap(err, "parse user id")
	}
	return &model.User{
		ID:                        id,
		Email:                     row.Email,
		Name:                      row.Name,
		HashedPassword:            row.HashedPassword,
		Role:                      row.Role,
		IsActive:                  row.IsActive,
		PasswordResetToken:        nullToStrPtr(row.PasswordResetToken),
		PasswordResetTokenExpires: nullToTimePtr(row.PasswordResetTokenExpires),
		PasswordChangedAt:         nullToTimePtr(row.PasswordChangedAt),
		CreatedAt:                 row.CreatedAt,
		UpdatedAt:                 row.UpdatedAt,
	}, nil
}
