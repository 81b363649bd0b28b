package domain

import (
	"context"
	"time"

	"tiktok-sheets/internal/marketplace"
	"tiktok-sheets/internal/models"
)

type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	FindAll(ctx context.Context) ([]*models.Account, error)
	FindOne(ctx context.Context, id string) (*models.Account, error)
	Update(ctx context.Context, id string, u models.AccountUpdate) (*models.Account, error)
	DeleteAccount(ctx context.Context, id string) error
}

// RunLock serializes ingestion runs per account.
type RunLock interface {
	Acquire(ctx context.Context, accountID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, accountID string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// TokenClient covers the marketplace authorization endpoints.
type TokenClient interface {
	ExchangeCode(ctx context.Context, appKey, appSecret, authCode string) (*marketplace.TokenResult, error)
	RefreshToken(ctx context.Context, appKey, appSecret, refreshToken string) (*marketplace.TokenResult, error)
	GetShopInfo(ctx context.Context, appKey, appSecret, accessToken string) ([]models.ShopCipher, error)
}

// SheetGateway is a spreadsheet destination for report rows.
type SheetGateway interface {
	WriteAndFormatSheet(ctx context.Context, spreadsheetID, sheetName string, header []interface{}, rows [][]interface{}, numericColumns []string) error
	ListSheets(ctx context.Context, spreadsheetID string) ([]string, error)
	DeleteSheet(ctx context.Context, spreadsheetID, title string) error
	CreateSpreadsheet(ctx context.Context, title string) (string, error)
}

// Runner executes ingestion for one account.
type Runner interface {
	RunScheduled(ctx context.Context, account *models.Account) error
	RunFullYear(ctx context.Context, account *models.Account) error
}

type RunQueue interface {
	Enqueue(ctx context.Context, req *models.RunRequest) error
}
