// Package venue implements the REST client for the trading venue's P2P
// API: ad search, ad publish, order placement, and order status queries.
package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"p2pmaker/internal/core"
	apperrors "p2pmaker/pkg/errors"
	httpclient "p2pmaker/pkg/http"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// MaxSearchRows is the venue's page-size cap on the ad-search endpoint.
const MaxSearchRows = 20

// Client implements core.IVenue for one merchant account.
type Client struct {
	merchantID string
	market     *httpclient.Client // transparent retries for idempotent reads and publishes
	orders     *httpclient.Client // no transport retries; the dispatch queue owns attempt accounting
	limiter    *rate.Limiter
	logger     core.ILogger
}

// NewClient creates a venue client. Every call carries a bounded timeout
// via the underlying HTTP clients and waits on a shared rate limiter so
// the engine respects the venue's per-key limits.
func NewClient(merchantID, baseURL string, timeout time.Duration, signer *Signer, logger core.ILogger) *Client {
	return &Client{
		merchantID: merchantID,
		market:     httpclient.NewClient(baseURL, timeout, signer, 3),
		orders:     httpclient.NewClient(baseURL, timeout, signer, 0),
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		logger:     logger.WithField("component", "venue_client").WithField("merchant", merchantID),
	}
}

// SearchAds queries the venue's public ad listings. The request side is
// the venue search-tab side; invert with SearchSide before calling.
func (c *Client) SearchAds(ctx context.Context, req core.SearchAdsRequest) ([]core.CompetitorAd, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	rows := req.Rows
	if rows <= 0 || rows > MaxSearchRows {
		rows = MaxSearchRows
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}

	body, err := c.market.Get(ctx, "/p2p/ads/search", map[string]string{
		"asset": req.Asset,
		"fiat":  req.FiatCurrency,
		"side":  string(req.Side),
		"page":  strconv.Itoa(page),
		"rows":  strconv.Itoa(rows),
	})
	if err != nil {
		return nil, fmt.Errorf("search ads: %w", c.mapError(err, false))
	}

	var resp searchAdsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("search ads: decode response: %w", err)
	}

	ads := make([]core.CompetitorAd, 0, len(resp.Data))
	for _, rec := range resp.Data {
		ad, err := adFromRecord(rec)
		if err != nil {
			c.logger.Warn("Skipping malformed ad record", "advertiser", rec.AdvertiserID, "error", err.Error())
			continue
		}
		ads = append(ads, ad)
	}
	return ads, nil
}

// PublishAdPrice republishes the merchant's ad at a new price.
func (c *Client) PublishAdPrice(ctx context.Context, merchantID, adID string, price decimal.Decimal) error {
	if err := c.checkMerchant(merchantID); err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := c.market.Post(ctx, "/p2p/ads/publish", publishAdRequest{
		AdID:  adID,
		Price: price.String(),
	}, nil)
	if err != nil {
		return fmt.Errorf("publish ad %s: %w", adID, c.mapError(err, false))
	}
	return nil
}

// PlaceOrder places a counter-order. The idempotency token travels as a
// header; a replayed token returns the original order.
func (c *Client) PlaceOrder(ctx context.Context, req core.PlaceOrderRequest) (*core.Order, error) {
	if err := c.checkMerchant(req.MerchantID); err != nil {
		return nil, err
	}
	if req.IdempotencyToken == "" {
		return nil, fmt.Errorf("place order: %w: missing idempotency token", apperrors.ErrValidationRejected)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	wire := placeOrderRequest{
		Asset:        req.Asset,
		FiatCurrency: req.FiatCurrency,
		Side:         string(req.Side),
		AdID:         req.AdID,
	}
	if !req.Amount.IsZero() {
		wire.Amount = req.Amount.String()
	}
	if !req.Quantity.IsZero() {
		wire.Quantity = req.Quantity.String()
	}

	body, err := c.orders.Post(ctx, "/p2p/orders", wire, map[string]string{
		"X-Idempotency-Token": req.IdempotencyToken,
	})
	if err != nil {
		// A lost response after a sent placement is ambiguous, not failed.
		return nil, fmt.Errorf("place order: %w", c.mapError(err, true))
	}

	var rec orderRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("place order: decode response: %w", err)
	}
	order, err := orderFromRecord(rec, req.MerchantID)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	return order, nil
}

// GetOrder returns the venue's current view of one order.
func (c *Client) GetOrder(ctx context.Context, merchantID, orderNumber string) (*core.Order, error) {
	if err := c.checkMerchant(merchantID); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := c.market.Get(ctx, "/p2p/orders/"+orderNumber, nil)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderNumber, c.mapError(err, false))
	}

	var rec orderRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("get order %s: decode response: %w", orderNumber, err)
	}
	order, err := orderFromRecord(rec, merchantID)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderNumber, err)
	}
	return order, nil
}

// ListOrders returns the merchant's orders updated since the given time.
func (c *Client) ListOrders(ctx context.Context, merchantID string, since time.Time) ([]core.Order, error) {
	if err := c.checkMerchant(merchantID); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := map[string]string{}
	if !since.IsZero() {
		params["since"] = strconv.FormatInt(since.UnixMilli(), 10)
	}
	body, err := c.market.Get(ctx, "/p2p/orders", params)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", c.mapError(err, false))
	}

	var resp listOrdersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("list orders: decode response: %w", err)
	}

	orders := make([]core.Order, 0, len(resp.Data))
	for _, rec := range resp.Data {
		order, err := orderFromRecord(rec, merchantID)
		if err != nil {
			c.logger.Warn("Skipping malformed order record", "order_number", rec.OrderNumber, "error", err.Error())
			continue
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

func (c *Client) checkMerchant(merchantID string) error {
	if merchantID != c.merchantID {
		return fmt.Errorf("venue client for merchant %s used with merchant %s", c.merchantID, merchantID)
	}
	return nil
}

// mapError converts transport and API errors into the engine taxonomy.
// ambiguous marks calls whose request may have reached the venue even
// though the response was lost (order placement).
func (c *Client) mapError(err error, ambiguous bool) error {
	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return fmt.Errorf("%w: %w", apperrors.ErrRateLimited, apiErr)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %w", apperrors.ErrUpstreamUnavailable, apiErr)
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return fmt.Errorf("%w: %w", apperrors.ErrAuthenticationFailed, apiErr)
		case apiErr.StatusCode == 404:
			return fmt.Errorf("%w: %w", apperrors.ErrOrderNotFound, apiErr)
		default:
			var wire errorResponse
			_ = json.Unmarshal(apiErr.Body, &wire)
			switch wire.Code {
			case "INSUFFICIENT_BALANCE":
				return fmt.Errorf("%w: %w", apperrors.ErrInsufficientBalance, apiErr)
			case "DUPLICATE_INTENT":
				return fmt.Errorf("%w: %w", apperrors.ErrDuplicateIntent, apiErr)
			default:
				return fmt.Errorf("%w: %w", apperrors.ErrValidationRejected, apiErr)
			}
		}
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if ambiguous {
		return fmt.Errorf("%w: %w", apperrors.ErrAmbiguousNetwork, err)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrUpstreamUnavailable, err)
}

// RetryAfter extracts the venue-provided backoff hint from a rate-limit
// error, zero when absent.
func RetryAfter(err error) time.Duration {
	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

func adFromRecord(rec adRecord) (core.CompetitorAd, error) {
	price, err := decimal.NewFromString(rec.Price)
	if err != nil {
		return core.CompetitorAd{}, fmt.Errorf("parse price %q: %w", rec.Price, err)
	}
	qty, err := decimal.NewFromString(rec.Available)
	if err != nil {
		return core.CompetitorAd{}, fmt.Errorf("parse quantity %q: %w", rec.Available, err)
	}
	return core.CompetitorAd{
		AdvertiserID:           rec.AdvertiserID,
		Nickname:               rec.Nickname,
		Side:                   core.Side(rec.Side),
		Price:                  price,
		AvailableQuantity:      qty,
		CounterpartyOrderCount: rec.OrderCount,
		FiatCurrency:           rec.Fiat,
		Asset:                  rec.Asset,
	}, nil
}

func orderFromRecord(rec orderRecord, merchantID string) (*core.Order, error) {
	status, ok := OrderStatusFromCode(rec.Status)
	if !ok {
		return nil, fmt.Errorf("unknown order status code %d", rec.Status)
	}
	amount, err := decimal.NewFromString(rec.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", rec.Amount, err)
	}
	price, err := decimal.NewFromString(rec.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", rec.Price, err)
	}
	return &core.Order{
		OrderNumber:    rec.OrderNumber,
		MerchantID:     merchantID,
		Status:         status,
		Side:           core.Side(rec.Side),
		CounterpartyID: rec.CounterpartyID,
		Asset:          rec.Asset,
		FiatCurrency:   rec.FiatCurrency,
		Amount:         amount,
		Price:          price,
		CreatedAt:      time.UnixMilli(rec.CreateTime),
		LastSyncedAt:   time.Now(),
	}, nil
}
