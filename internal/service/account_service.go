package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tiktok-sheets/internal/domain"
	"tiktok-sheets/internal/events"
	"tiktok-sheets/internal/models"
	"tiktok-sheets/internal/scheduler"

	"github.com/rs/zerolog"
)

// ErrInvalidInput marks caller mistakes the API reports as 400.
var ErrInvalidInput = errors.New("invalid input")

// TaskPatch changes part of an account's task; nil fields are kept.
type TaskPatch struct {
	CronExpression *string `json:"cron_expression"`
	IsActive       *bool   `json:"is_active"`
}

type AccountService struct {
	store  domain.AccountStore
	tokens domain.TokenClient
	events domain.EventPublisher
	queue  domain.RunQueue
	logger *zerolog.Logger
}

func NewAccountService(store domain.AccountStore, tokens domain.TokenClient, publisher domain.EventPublisher, queue domain.RunQueue, logger *zerolog.Logger) *AccountService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AccountService{
		store:  store,
		tokens: tokens,
		events: publisher,
		queue:  queue,
		logger: logger,
	}
}

func (s *AccountService) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	return s.store.FindAll(ctx)
}

func (s *AccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return s.store.FindOne(ctx, id)
}

// CreateAccount authorizes a seller and stores the account with the default task.
func (s *AccountService) CreateAccount(ctx context.Context, appKey, appSecret, authCode string) (*models.Account, error) {
	appKey, appSecret, authCode = strings.TrimSpace(appKey), strings.TrimSpace(appSecret), strings.TrimSpace(authCode)
	if appKey == "" || appSecret == "" || authCode == "" {
		return nil, fmt.Errorf("%w: app_key, app_secret and auth_code are required", ErrInvalidInput)
	}

	token, err := s.tokens.ExchangeCode(ctx, appKey, appSecret, authCode)
	if err != nil {
		return nil, fmt.Errorf("exchange auth code: %w", err)
	}
	shops, err := s.tokens.GetShopInfo(ctx, appKey, appSecret, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("load shops: %w", err)
	}

	task := models.DefaultTask()
	account := &models.Account{
		AppKey:               appKey,
		AppSecret:            appSecret,
		AuthCode:             authCode,
		AccessToken:          token.AccessToken,
		RefreshToken:         token.RefreshToken,
		AccessTokenExpireIn:  token.AccessTokenExpireIn,
		RefreshTokenExpireIn: token.RefreshTokenExpireIn,
		ShopCiphers:          shops,
		Enabled:              true,
		Task:                 &task,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("store account: %w", err)
	}

	s.logger.Info().Str("account_id", account.ID).Int("shops", len(shops)).Str("seller", token.SellerName).Msg("account created")
	s.publish(events.EventAccountCreated, account.ID)
	return account, nil
}

// UpdateTask merges patch into the account's task.
func (s *AccountService) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*models.Account, error) {
	if patch.CronExpression == nil && patch.IsActive == nil {
		return nil, fmt.Errorf("%w: empty task patch", ErrInvalidInput)
	}
	account, err := s.store.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}

	task := models.DefaultTask()
	if account.Task != nil {
		task = *account.Task
	}
	if patch.CronExpression != nil {
		expr := strings.TrimSpace(*patch.CronExpression)
		if err := scheduler.ValidateCron(expr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		task.CronExpression = expr
	}
	if patch.IsActive != nil {
		task.IsActive = *patch.IsActive
	}

	updated, err := s.store.Update(ctx, id, models.AccountUpdate{Task: &task})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("account_id", id).Str("cron", task.CronExpression).Bool("active", task.IsActive).Msg("task updated")
	s.publish(events.EventAccountTaskUpdated, id)
	return updated, nil
}

func (s *AccountService) SetEnabled(ctx context.Context, id string, enabled bool) (*models.Account, error) {
	updated, err := s.store.Update(ctx, id, models.AccountUpdate{Enabled: &enabled})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("account_id", id).Bool("enabled", enabled).Msg("account status changed")
	s.publish(events.EventAccountUpdated, id)
	return updated, nil
}

func (s *AccountService) DeleteAccount(ctx context.Context, id string) error {
	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("account_id", id).Msg("account deleted")
	s.publish(events.EventAccountDeleted, id)
	return nil
}

// RequestRun queues an out-of-schedule run for an existing account.
func (s *AccountService) RequestRun(ctx context.Context, id string, fullYear bool) (*models.RunRequest, error) {
	if _, err := s.store.FindOne(ctx, id); err != nil {
		return nil, err
	}
	req := &models.RunRequest{AccountID: id, FullYear: fullYear}
	if err := s.queue.Enqueue(ctx, req); err != nil {
		return nil, fmt.Errorf("enqueue run: %w", err)
	}
	s.logger.Info().Str("account_id", id).Str("request_id", req.ID).Bool("full_year", fullYear).Msg("run requested")
	return req, nil
}

// publish reports listener failures in the log; the store change already happened.
func (s *AccountService) publish(eventType, accountID string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJSON(eventType, events.AccountEventPayload{AccountID: accountID}); err != nil {
		s.logger.Warn().Err(err).Str("account_id", accountID).Str("event", eventType).Msg("event handler failed")
	}
}
