package service

import (
	"context"
	"time"

	"tiktok-sheets/internal/marketplace"
	"tiktok-sheets/internal/models"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateAccount(ctx context.Context, account *models.Account) error {
	args := m.Called(ctx, account)
	if args.Error(0) == nil && account.ID == "" {
		account.ID = "generated"
		account.CreatedAt = time.Now()
	}
	return args.Error(0)
}

func (m *MockStore) FindAll(ctx context.Context) ([]*models.Account, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Account), args.Error(1)
}

func (m *MockStore) FindOne(ctx context.Context, id string) (*models.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockStore) Update(ctx context.Context, id string, u models.AccountUpdate) (*models.Account, error) {
	args := m.Called(ctx, id, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockStore) DeleteAccount(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockTokens struct {
	mock.Mock
}

func (m *MockTokens) ExchangeCode(ctx context.Context, appKey, appSecret, authCode string) (*marketplace.TokenResult, error) {
	args := m.Called(ctx, appKey, appSecret, authCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*marketplace.TokenResult), args.Error(1)
}

func (m *MockTokens) RefreshToken(ctx context.Context, appKey, appSecret, refreshToken string) (*marketplace.TokenResult, error) {
	args := m.Called(ctx, appKey, appSecret, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*marketplace.TokenResult), args.Error(1)
}

func (m *MockTokens) GetShopInfo(ctx context.Context, appKey, appSecret, accessToken string) ([]models.ShopCipher, error) {
	args := m.Called(ctx, appKey, appSecret, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ShopCipher), args.Error(1)
}

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, req *models.RunRequest) error {
	args := m.Called(ctx, req)
	if args.Error(0) == nil {
		req.ID = "req-1"
	}
	return args.Error(0)
}
