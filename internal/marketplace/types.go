package marketplace

import (
	"encoding/json"

	"tiktok-sheets/internal/models"
)

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// TokenResult is returned by code exchange and refresh.
type TokenResult struct {
	AccessToken          string `json:"access_token"`
	AccessTokenExpireIn  int64  `json:"access_token_expire_in"`
	RefreshToken         string `json:"refresh_token"`
	RefreshTokenExpireIn int64  `json:"refresh_token_expire_in"`
	OpenID               string `json:"open_id"`
	SellerName           string `json:"seller_name"`
	SellerBaseRegion     string `json:"seller_base_region"`
}

// Credentials authorize calls against one shop.
type Credentials struct {
	AppKey      string
	AppSecret   string
	AccessToken string
	ShopCipher  string
}

// CredentialsFor builds shop credentials from a stored account.
func CredentialsFor(a *models.Account) Credentials {
	return Credentials{
		AppKey:      a.AppKey,
		AppSecret:   a.AppSecret,
		AccessToken: a.AccessToken,
		ShopCipher:  a.PrimaryCipher(),
	}
}

type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// SearchParams are the query-string parameters of an order search.
type SearchParams struct {
	PageSize  int
	PageToken string
	SortOrder SortOrder
	SortField string
}

// SearchFilters is the JSON body of an order search. Fields left zero are omitted.
type SearchFilters struct {
	OrderStatus          string   `json:"order_status,omitempty"`
	CreateTimeGE         int64    `json:"create_time_ge,omitempty"`
	CreateTimeLT         int64    `json:"create_time_lt,omitempty"`
	UpdateTimeGE         int64    `json:"update_time_ge,omitempty"`
	UpdateTimeLT         int64    `json:"update_time_lt,omitempty"`
	ShippingType         string   `json:"shipping_type,omitempty"`
	BuyerUserID          string   `json:"buyer_user_id,omitempty"`
	IsBuyerRequestCancel *bool    `json:"is_buyer_request_cancel,omitempty"`
	WarehouseIDs         []string `json:"warehouse_ids,omitempty"`
}

// SearchResult is one page of orders.
type SearchResult struct {
	NextPageToken string         `json:"next_page_token"`
	TotalCount    int            `json:"total_count"`
	Orders        []models.Order `json:"orders"`
}

type shopsData struct {
	Shops []models.ShopCipher `json:"shops"`
}
