package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tiktok-sheets/internal/config"
	"tiktok-sheets/internal/metrics"
	"tiktok-sheets/internal/models"

	"github.com/rs/zerolog"
)

const (
	pathTokenGet     = "/api/v2/token/get"
	pathTokenRefresh = "/api/v2/token/refresh"
	pathShops        = "/authorization/202309/shops"
	pathOrderSearch  = "/order/202309/orders/search"

	headerAccessToken = "x-tts-access-token"

	grantAuthorizedCode = "authorized_code"
	grantRefreshToken   = "refresh_token"

	defaultPageSize  = 100
	defaultSortField = "create_time"
)

// Client talks to the marketplace auth and open APIs. It does not retry.
type Client struct {
	http    *http.Client
	authURL string
	apiURL  string
	logger  *zerolog.Logger
	now     func() time.Time
}

func NewClient(cfg config.MarketplaceConfig, httpClient *http.Client, logger *zerolog.Logger) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		http:    httpClient,
		authURL: strings.TrimRight(cfg.AuthBaseURL, "/"),
		apiURL:  strings.TrimRight(cfg.APIBaseURL, "/"),
		logger:  logger,
		now:     time.Now,
	}
}

// ExchangeCode trades an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, appKey, appSecret, authCode string) (*TokenResult, error) {
	query := map[string]string{
		"auth_code":  authCode,
		"app_secret": appSecret,
		"app_key":    appKey,
		"grant_type": grantAuthorizedCode,
	}
	var out TokenResult
	if err := c.do(ctx, "token_get", http.MethodGet, c.authURL+pathTokenGet, query, nil, "", appSecret, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshToken obtains a fresh access token.
func (c *Client) RefreshToken(ctx context.Context, appKey, appSecret, refreshToken string) (*TokenResult, error) {
	query := map[string]string{
		"refresh_token": refreshToken,
		"app_secret":    appSecret,
		"app_key":       appKey,
		"grant_type":    grantRefreshToken,
	}
	var out TokenResult
	if err := c.do(ctx, "token_refresh", http.MethodGet, c.authURL+pathTokenRefresh, query, nil, "", appSecret, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetShopInfo lists the shops authorized for the access token.
func (c *Client) GetShopInfo(ctx context.Context, appKey, appSecret, accessToken string) ([]models.ShopCipher, error) {
	query := map[string]string{"app_key": appKey}
	var out shopsData
	if err := c.do(ctx, "shops", http.MethodGet, c.apiURL+pathShops, query, nil, accessToken, appSecret, &out); err != nil {
		return nil, err
	}
	return out.Shops, nil
}

// SearchOrders fetches one page of orders.
func (c *Client) SearchOrders(ctx context.Context, creds Credentials, params SearchParams, filters SearchFilters) (*SearchResult, error) {
	switch {
	case creds.AppKey == "":
		return nil, missingCredential("app_key")
	case creds.AppSecret == "":
		return nil, missingCredential("app_secret")
	case creds.ShopCipher == "":
		return nil, missingCredential("shop_cipher")
	case creds.AccessToken == "":
		return nil, missingCredential("access_token")
	}

	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	sortField := params.SortField
	if sortField == "" {
		sortField = defaultSortField
	}

	query := map[string]string{
		"app_key":     creds.AppKey,
		"shop_cipher": creds.ShopCipher,
		"page_size":   strconv.Itoa(pageSize),
		"sort_field":  sortField,
	}
	if params.SortOrder != "" {
		query["sort_order"] = string(params.SortOrder)
	}
	if params.PageToken != "" {
		query["page_token"] = params.PageToken
	}

	body, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("encode search filters: %w", err)
	}

	var out SearchResult
	if err := c.do(ctx, "orders_search", http.MethodPost, c.apiURL+pathOrderSearch, query, body, creds.AccessToken, creds.AppSecret, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(
	ctx context.Context,
	endpoint, method, uri string,
	query map[string]string,
	body []byte,
	accessToken, secret string,
	out interface{},
) error {
	signed := make(map[string]string, len(query)+2)
	for k, v := range query {
		signed[k] = v
	}
	if signed["timestamp"] == "" {
		signed["timestamp"] = strconv.FormatInt(c.now().Unix(), 10)
	}
	const contentType = "application/json"
	signed["sign"] = Sign(uri, signed, body, contentType, secret)

	values := url.Values{}
	for k, v := range signed {
		values.Set(k, v)
	}

	var reader io.Reader
	if method != http.MethodGet && hasBody(body) {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, uri+"?"+values.Encode(), reader)
	if err != nil {
		return transportError(err)
	}
	req.Header.Set("Content-Type", contentType)
	if accessToken != "" {
		req.Header.Set(headerAccessToken, accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncMarketplace(endpoint, "transport_error")
		return transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IncMarketplace(endpoint, "transport_error")
		return transportError(err)
	}

	if resp.StatusCode >= 400 {
		metrics.IncMarketplace(endpoint, "http_error")
		msg := http.StatusText(resp.StatusCode)
		var env envelope
		if json.Unmarshal(raw, &env) == nil && env.Message != "" {
			msg = env.Message
		}
		return &APIError{Code: resp.StatusCode, Message: msg, RequestID: env.RequestID}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.IncMarketplace(endpoint, "decode_error")
		return &APIError{Code: CodeUnknown, Message: "decode response", Err: err}
	}
	if env.Code != 0 {
		metrics.IncMarketplace(endpoint, "api_error")
		c.logger.Debug().
			Str("endpoint", endpoint).
			Int("code", env.Code).
			Str("request_id", env.RequestID).
			Msg("marketplace returned error code")
		return &APIError{Code: env.Code, Message: env.Message, RequestID: env.RequestID}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			metrics.IncMarketplace(endpoint, "decode_error")
			return &APIError{Code: CodeUnknown, Message: "decode data", RequestID: env.RequestID, Err: err}
		}
	}
	metrics.IncMarketplace(endpoint, "ok")
	return nil
}
