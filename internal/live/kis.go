package live

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/errs"
)

const (
	// tokenRefreshMargin refreshes the access token when less than this
	// remains before expiry, so a token never dies mid-batch.
	tokenRefreshMargin = 10 * time.Minute

	maxAttempts    = 3
	baseBackoff    = 500 * time.Millisecond
	rateLimBackoff = 2 * time.Second
)

// KISConfig configures the Korea Investment paper-trading client.
type KISConfig struct {
	BaseURL   string  `yaml:"base_url"`
	AppKey    string  `yaml:"app_key"`
	AppSecret string  `yaml:"app_secret"`
	AccountNo string  `yaml:"account_no"`
	ProductCd string  `yaml:"product_code"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second
	Timeout   time.Duration `yaml:"timeout"`
}

// DefaultKISConfig returns the paper-trading defaults.
func DefaultKISConfig() KISConfig {
	return KISConfig{
		BaseURL:   "https://openapivts.koreainvestment.com:29443",
		ProductCd: "01",
		RateLimit: 5,
		Timeout:   10 * time.Second,
	}
}

// KISClient talks to the Korea Investment open API. Every call goes through
// the rate limiter and the circuit breaker; transient failures retry with
// exponential backoff, HTTP 429 with a longer one.
type KISClient struct {
	cfg     KISConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

// NewKISClient builds a client from config.
func NewKISClient(cfg KISConfig, log zerolog.Logger) *KISClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	settings := gobreaker.Settings{Name: "kis"}
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}
	settings.Timeout = 30 * time.Second
	return &KISClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)),
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log.With().Str("component", "kis_client").Logger(),
		now:     time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// EnsureToken refreshes the access token when it is absent or within the
// refresh margin of expiry.
func (c *KISClient) EnsureToken(ctx context.Context) error {
	c.mu.Lock()
	fresh := c.token != "" && c.tokenExpiry.Sub(c.now()) > tokenRefreshMargin
	c.mu.Unlock()
	if fresh {
		return nil
	}

	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"appsecret":  c.cfg.AppSecret,
	}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/oauth2/tokenP", "", body, &resp); err != nil {
		return errs.Wrap(errs.KindExternalFailure, err, "refresh access token")
	}
	if resp.AccessToken == "" {
		return errs.New(errs.KindExternalFailure, "token endpoint returned no access token")
	}

	c.mu.Lock()
	c.token = resp.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	c.mu.Unlock()
	c.log.Info().Time("expires", c.tokenExpiry).Msg("access token refreshed")
	return nil
}

type priceResponse struct {
	RtCd   string `json:"rt_cd"`
	Msg    string `json:"msg1"`
	Output struct {
		Price string `json:"stck_prpr"`
	} `json:"output"`
}

func (c *KISClient) CurrentPrice(ctx context.Context, stock string) (float64, error) {
	if err := c.EnsureToken(ctx); err != nil {
		return 0, err
	}
	path := fmt.Sprintf(
		"/uapi/domestic-stock/v1/quotations/inquire-price?fid_cond_mrkt_div_code=J&fid_input_iscd=%s",
		stock)
	var resp priceResponse
	if err := c.do(ctx, http.MethodGet, path, "FHKST01010100", nil, &resp); err != nil {
		return 0, err
	}
	if resp.RtCd != "0" {
		return 0, errs.New(errs.KindExternalFailure, "price query for %s: %s", stock, resp.Msg)
	}
	price, err := strconv.ParseFloat(resp.Output.Price, 64)
	if err != nil {
		return 0, errs.Wrap(errs.KindExternalFailure, err, "parse price %q for %s", resp.Output.Price, stock)
	}
	return price, nil
}

type orderResponse struct {
	RtCd   string `json:"rt_cd"`
	Msg    string `json:"msg1"`
	Output struct {
		OrderNo string `json:"ODNO"`
	} `json:"output"`
}

func (c *KISClient) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if err := c.EnsureToken(ctx); err != nil {
		return "", err
	}
	// Paper-trading order-cash transaction ids: buy VTTC0802U, sell VTTC0801U.
	trID := "VTTC0802U"
	if req.Side == domain.SideSell {
		trID = "VTTC0801U"
	}
	division := "01" // market
	price := "0"
	if req.Price > 0 {
		division = "00" // limit
		price = strconv.FormatFloat(req.Price, 'f', 0, 64)
	}
	body := map[string]string{
		"CANO":         c.cfg.AccountNo,
		"ACNT_PRDT_CD": c.cfg.ProductCd,
		"PDNO":         req.Stock,
		"ORD_DVSN":     division,
		"ORD_QTY":      strconv.FormatInt(req.Quantity, 10),
		"ORD_UNPR":     price,
	}
	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/uapi/domestic-stock/v1/trading/order-cash", trID, body, &resp); err != nil {
		return "", err
	}
	if resp.RtCd != "0" {
		return "", errs.New(errs.KindExternalFailure, "order %s %s x%d rejected: %s",
			req.Side, req.Stock, req.Quantity, resp.Msg)
	}
	return resp.Output.OrderNo, nil
}

type balanceResponse struct {
	RtCd    string `json:"rt_cd"`
	Msg     string `json:"msg1"`
	Output2 []struct {
		Cash string `json:"dnca_tot_amt"`
	} `json:"output2"`
}

func (c *KISClient) CashBalance(ctx context.Context) (float64, error) {
	if err := c.EnsureToken(ctx); err != nil {
		return 0, err
	}
	path := fmt.Sprintf(
		"/uapi/domestic-stock/v1/trading/inquire-balance?CANO=%s&ACNT_PRDT_CD=%s&AFHR_FLPR_YN=N&OFL_YN=&INQR_DVSN=02&UNPR_DVSN=01&FUND_STTL_ICLD_YN=N&FNCG_AMT_AUTO_RDPT_YN=N&PRCS_DVSN=00&CTX_AREA_FK100=&CTX_AREA_NK100=",
		c.cfg.AccountNo, c.cfg.ProductCd)
	var resp balanceResponse
	if err := c.do(ctx, http.MethodGet, path, "VTTC8434R", nil, &resp); err != nil {
		return 0, err
	}
	if resp.RtCd != "0" || len(resp.Output2) == 0 {
		return 0, errs.New(errs.KindExternalFailure, "balance query: %s", resp.Msg)
	}
	cash, err := strconv.ParseFloat(resp.Output2[0].Cash, 64)
	if err != nil {
		return 0, errs.Wrap(errs.KindExternalFailure, err, "parse cash balance %q", resp.Output2[0].Cash)
	}
	return cash, nil
}

// errRateLimited marks an HTTP 429, which backs off harder than other
// transient failures.
var errRateLimited = errs.New(errs.KindExternalTransient, "broker rate limited (429)")

// do runs one API call with rate limiting, circuit breaking and retries.
func (c *KISClient) do(ctx context.Context, method, path, trID string, body interface{}, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << (attempt - 1)
			if errors.Is(lastErr, errRateLimited) {
				backoff = rateLimBackoff << (attempt - 1)
			}
			select {
			case <-ctx.Done():
				return errs.Wrap(errs.KindCancelled, ctx.Err(), "broker call cancelled")
			case <-time.After(backoff):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return errs.Wrap(errs.KindCancelled, err, "broker call cancelled")
		}
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.attempt(ctx, method, path, trID, body, out)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt+1).Str("path", path).Msg("broker call failed")
		if errs.KindOf(err) != errs.KindExternalTransient {
			break
		}
	}
	return errs.Wrap(errs.KindExternalFailure, lastErr, "broker call exhausted retries")
}

func (c *KISClient) attempt(ctx context.Context, method, path, trID string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("appkey", c.cfg.AppKey)
	req.Header.Set("appsecret", c.cfg.AppSecret)
	if trID != "" {
		req.Header.Set("tr_id", trID)
	}
	c.mu.Lock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindExternalTransient, err, "broker request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errRateLimited
	}
	if resp.StatusCode >= 500 {
		return errs.New(errs.KindExternalTransient, "broker server error %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return errs.New(errs.KindExternalFailure, "broker returned %d: %s", resp.StatusCode, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
