package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tiktok-sheets/internal/models"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no account matches the id.
var ErrNotFound = errors.New("account not found")

const accountColumns = `id, app_key, app_secret, auth_code, access_token, refresh_token,
    access_token_expire_in, refresh_token_expire_in, shop_ciphers, enabled, spreadsheet_id,
    task_cron, task_active, task_last_run, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// CreateAccount inserts a new account. An empty ID is assigned a UUID.
func (db *DB) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	ciphers, err := encodeCiphers(account.ShopCiphers)
	if err != nil {
		return err
	}
	cron, active, lastRun := taskColumns(account.Task)

	query := `INSERT INTO accounts (` + accountColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, query,
		account.ID,
		account.AppKey,
		account.AppSecret,
		account.AuthCode,
		account.AccessToken,
		account.RefreshToken,
		account.AccessTokenExpireIn,
		account.RefreshTokenExpireIn,
		ciphers,
		account.Enabled,
		account.SpreadsheetID,
		cron,
		active,
		lastRun,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// FindAll returns every account, oldest first.
func (db *DB) FindAll(ctx context.Context) ([]*models.Account, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (db *DB) FindOne(ctx context.Context, id string) (*models.Account, error) {
	row := db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return account, err
}

// Update applies the non-nil fields of u and returns the stored account.
func (db *DB) Update(ctx context.Context, id string, u models.AccountUpdate) (*models.Account, error) {
	var (
		sets []string
		args []interface{}
	)
	set := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if u.AccessToken != nil {
		set("access_token", *u.AccessToken)
	}
	if u.RefreshToken != nil {
		set("refresh_token", *u.RefreshToken)
	}
	if u.AccessTokenExpireIn != nil {
		set("access_token_expire_in", *u.AccessTokenExpireIn)
	}
	if u.RefreshTokenExpireIn != nil {
		set("refresh_token_expire_in", *u.RefreshTokenExpireIn)
	}
	if u.SpreadsheetID != nil {
		set("spreadsheet_id", *u.SpreadsheetID)
	}
	if u.Enabled != nil {
		set("enabled", *u.Enabled)
	}
	if u.Task != nil {
		cron, active, lastRun := taskColumns(u.Task)
		set("task_cron", cron)
		set("task_active", active)
		set("task_last_run", lastRun)
	}
	if u.TaskLastRun != nil && u.Task == nil {
		set("task_last_run", *u.TaskLastRun)
	}
	set("updated_at", time.Now())

	args = append(args, id)
	query := `UPDATE accounts SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`

	var account *models.Account
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		account, err = scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (db *DB) DeleteAccount(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		a       models.Account
		ciphers string
		cron    sql.NullString
		active  bool
		lastRun sql.NullTime
	)
	err := row.Scan(
		&a.ID,
		&a.AppKey,
		&a.AppSecret,
		&a.AuthCode,
		&a.AccessToken,
		&a.RefreshToken,
		&a.AccessTokenExpireIn,
		&a.RefreshTokenExpireIn,
		&ciphers,
		&a.Enabled,
		&a.SpreadsheetID,
		&cron,
		&active,
		&lastRun,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	if ciphers != "" {
		if err := json.Unmarshal([]byte(ciphers), &a.ShopCiphers); err != nil {
			return nil, fmt.Errorf("decode shop ciphers for %s: %w", a.ID, err)
		}
	}
	if cron.Valid {
		task := &models.Task{CronExpression: cron.String, IsActive: active}
		if lastRun.Valid {
			t := lastRun.Time
			task.LastRun = &t
		}
		a.Task = task
	}
	return &a, nil
}

func encodeCiphers(ciphers []models.ShopCipher) (string, error) {
	if ciphers == nil {
		ciphers = []models.ShopCipher{}
	}
	b, err := json.Marshal(ciphers)
	if err != nil {
		return "", fmt.Errorf("encode shop ciphers: %w", err)
	}
	return string(b), nil
}

func taskColumns(task *models.Task) (sql.NullString, bool, sql.NullTime) {
	if task == nil {
		return sql.NullString{}, false, sql.NullTime{}
	}
	var lastRun sql.NullTime
	if task.LastRun != nil {
		lastRun = sql.NullTime{Time: *task.LastRun, Valid: true}
	}
	return sql.NullString{String: task.CronExpression, Valid: true}, task.IsActive, lastRun
}
