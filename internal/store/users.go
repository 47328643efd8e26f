package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nurulloasawear/megasavdo/internal/apperr"
	"github.com/nurulloasawear/megasavdo/internal/models"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const userColumns = `id, username, name, email, phone_number, role, status, created_at, updated_at, version`

// userFieldColumns maps every mutable field name to its column.
var userFieldColumns = map[string]string{
	"username":     "username",
	"name":         "name",
	"phone_number": "phone_number",
	"email":        "email",
	"status":       "status",
	"role":         "role",
}

// mutableUserFields is the complete role to permitted-fields table. A role
// that is not listed may change nothing.
var mutableUserFields = map[string]map[string]bool{
	RoleAdmin: {"username": true, "name": true, "phone_number": true, "email": true, "status": true, "role": true},
	RoleUser:  {"username": true, "name": true, "phone_number": true, "email": true},
}

// Users is the local identity directory used when no identity service is
// configured.
type Users struct {
	db *sql.DB
}

func NewUsers(db *sql.DB) *Users {
	return &Users{db: db}
}

func scanUser(row rowScanner, user *models.User) error {
	return row.Scan(
		&user.ID,
		&user.Username,
		&user.Name,
		&user.Email,
		&user.PhoneNumber,
		&user.Role,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
}

func (u *Users) CreateUser(ctx context.Context, username, name, email, phone, role string) (*models.User, error) {
	if username == "" || email == "" {
		return nil, apperr.Validation("user", "username and email are required")
	}
	if role == "" {
		role = RoleUser
	}
	if _, ok := mutableUserFields[role]; !ok {
		return nil, apperr.Validation("role", fmt.Sprintf("unknown role %q", role))
	}

	user := &models.User{}
	err := scanUser(u.db.QueryRowContext(ctx,
		`INSERT INTO users (username, name, email, phone_number, role, status, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, 'active', NOW(), NOW(), 1)
		 RETURNING `+userColumns,
		username, name, email, phone, role), user)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", constraintErr("users", "user", err))
	}

	return user, nil
}

func (u *Users) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}

	err := scanUser(u.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id), user)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("user", id)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

// UpdateUser applies changes permitted for actorRole. Any field outside the
// role's entry in mutableUserFields rejects the whole update.
func (u *Users) UpdateUser(ctx context.Context, actorRole string, id int64, changes map[string]string) (*models.User, error) {
	if len(changes) == 0 {
		return nil, apperr.Validation("changes", "nothing to update")
	}

	permitted := mutableUserFields[actorRole]
	fields := make([]string, 0, len(changes))
	for field := range changes {
		if !permitted[field] {
			return nil, apperr.Validation(field, fmt.Sprintf("not mutable by role %q", actorRole))
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	if role, ok := changes["role"]; ok {
		if _, known := mutableUserFields[role]; !known {
			return nil, apperr.Validation("role", fmt.Sprintf("unknown role %q", role))
		}
	}

	sets := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for i, field := range fields {
		sets = append(sets, fmt.Sprintf("%s = $%d", userFieldColumns[field], i+1))
		args = append(args, changes[field])
	}
	args = append(args, id)

	query := fmt.Sprintf(
		`UPDATE users SET %s, updated_at = NOW(), version = version + 1 WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), userColumns)

	user := &models.User{}
	if err := scanUser(u.db.QueryRowContext(ctx, query, args...), user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("user", id)
		}
		return nil, fmt.Errorf("update user: %w", constraintErr("users", "user", err))
	}

	return user, nil
}

func (u *Users) ListUsers(ctx context.Context, page, pageSize int) (*OffsetPage[models.User], error) {
	var total int64
	err := u.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	offset := (page - 1) * pageSize
	rows, err := u.db.QueryContext(ctx,
		`SELECT `+userColumns+`
		 FROM users
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := scanUser(rows, &user); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(users, total, page, pageSize), nil
}
