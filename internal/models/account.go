package models

import "time"

const (
	DefaultCronExpression = "0 0 * * *"
	DefaultRegion         = "VN"
)

// Task is the per-account schedule persisted alongside the account.
type Task struct {
	CronExpression string     `json:"cron_expression"`
	IsActive       bool       `json:"is_active"`
	LastRun        *time.Time `json:"last_run,omitempty"`
}

// DefaultTask is assigned to newly created accounts.
func DefaultTask() Task {
	return Task{CronExpression: DefaultCronExpression, IsActive: true}
}

// ShopCipher identifies one authorized shop of a seller.
type ShopCipher struct {
	Cipher     string `json:"cipher"`
	Code       string `json:"code"`
	ID         string `json:"id"`
	Name       string `json:"name"`
	Region     string `json:"region"`
	SellerType string `json:"seller_type"`
}

type Account struct {
	ID                   string       `json:"id"`
	AppKey               string       `json:"app_key"`
	AppSecret            string       `json:"-"`
	AuthCode             string       `json:"-"`
	AccessToken          string       `json:"-"`
	RefreshToken         string       `json:"-"`
	AccessTokenExpireIn  int64        `json:"access_token_expire_in"`
	RefreshTokenExpireIn int64        `json:"refresh_token_expire_in"`
	ShopCiphers          []ShopCipher `json:"shop_ciphers"`
	Enabled              bool         `json:"enabled"`
	SpreadsheetID        string       `json:"spreadsheet_id"`
	Task                 *Task        `json:"task,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// Eligible reports whether the account should have a recurring job.
func (a *Account) Eligible() bool {
	return a != nil && a.Enabled && a.Task != nil && a.Task.IsActive && a.Task.CronExpression != ""
}

// Region returns the first shop's region code.
func (a *Account) Region() string {
	for _, shop := range a.ShopCiphers {
		if shop.Region != "" {
			return shop.Region
		}
	}
	return DefaultRegion
}

// PrimaryCipher returns the cipher of the first shop, or empty.
func (a *Account) PrimaryCipher() string {
	if len(a.ShopCiphers) == 0 {
		return ""
	}
	return a.ShopCiphers[0].Cipher
}

// AccountUpdate carries a partial update; nil fields are left untouched.
type AccountUpdate struct {
	AccessToken          *string
	RefreshToken         *string
	AccessTokenExpireIn  *int64
	RefreshTokenExpireIn *int64
	SpreadsheetID        *string
	Enabled              *bool
	Task                 *Task

	// TaskLastRun sets only the task's last run, leaving cron and activity
	// as stored. Ignored when Task is set.
	TaskLastRun *time.Time
}

// IsEmpty reports whether the update would change nothing.
func (u AccountUpdate) IsEmpty() bool {
	return u.AccessToken == nil && u.RefreshToken == nil && u.AccessTokenExpireIn == nil &&
		u.RefreshTokenExpireIn == nil && u.SpreadsheetID == nil && u.Enabled == nil && u.Task == nil &&
		u.TaskLastRun == nil
}
