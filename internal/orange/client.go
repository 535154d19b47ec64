package orange

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"github.com/sahelsms/orange-gateway/internal/model"
	"github.com/sahelsms/orange-gateway/pkg/logger"
	"github.com/sahelsms/orange-gateway/pkg/prom"
)

// SMSContractService identifies SMS bundles among the partner's contracts.
const SMSContractService = "SMS_OCB"

type ClientConfig struct {
	MTBaseURL     string
	AdminBaseURL  string
	SenderAddress string
	Country       string
	Timeout       time.Duration
}

// Client submits SMS-MT requests and balance queries against the Orange API.
// Every call blocks until the carrier answers or the configured timeout
// elapses; the timeout is a deliberate addition over the upstream behavior.
type Client struct {
	cfg    ClientConfig
	tokens *TokenManager
	http   *fasthttp.Client
	now    func() time.Time
}

func NewClient(cfg ClientConfig, tokens *TokenManager, httpClient *fasthttp.Client) *Client {
	if httpClient == nil {
		httpClient = &fasthttp.Client{
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		}
	}
	return &Client{cfg: cfg, tokens: tokens, http: httpClient, now: time.Now}
}

// SubmitMT submits an outgoing message. Success requires HTTP 201 and a
// decodable reference code; a 201 without a reference is authoritatively a
// failure. The returned reference correlates later delivery receipts.
func (c *Client) SubmitMT(ctx context.Context, msg *model.Message) (string, error) {
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return "", err
	}

	// For outgoing messages SenderAddress carries the display name; the
	// routable address is the configured one.
	payload, err := EncodeMTRequest(msg.DestinationAddress, msg.Content, c.cfg.SenderAddress, msg.SenderAddress)
	if err != nil {
		return "", err
	}

	submitURL := c.cfg.MTBaseURL + "/outbound/" + url.QueryEscape("tel:"+c.cfg.SenderAddress) + "/requests"

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(submitURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json;charset=UTF-8")
	req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	req.SetBody(payload)

	start := c.now()
	if err := c.http.DoDeadline(req, resp, callDeadline(ctx, c.cfg.Timeout, c.now)); err != nil {
		return "", &APIError{HTTPCode: fasthttp.StatusBadGateway, Message: "submission request failed", Description: err.Error()}
	}
	prom.ObserveSubmitDuration(c.now().Sub(start).Seconds())

	if resp.StatusCode() != fasthttp.StatusCreated {
		return "", NewAPIError(resp.StatusCode(), resp.Body())
	}

	return DecodeMTResponse(resp.Body())
}

// Balance is the remaining SMS allowance across matching contracts.
type Balance struct {
	Units     int64
	ExpiresAt *time.Time
}

// GetBalance sums availableUnits over the SMS service contracts for the
// configured country and keeps the latest expiry among them.
func (c *Client) GetBalance(ctx context.Context) (Balance, error) {
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return Balance{}, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.cfg.AdminBaseURL + "/contracts")
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)

	if err := c.http.DoDeadline(req, resp, callDeadline(ctx, c.cfg.Timeout, c.now)); err != nil {
		return Balance{}, &APIError{HTTPCode: fasthttp.StatusBadGateway, Message: "contracts request failed", Description: err.Error()}
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return Balance{}, NewAPIError(resp.StatusCode(), resp.Body())
	}

	return c.sumContracts(resp.Body())
}

// GetBalanceQuiet is the best-effort variant: failures are logged and
// reported through the bool instead of an error.
func (c *Client) GetBalanceQuiet(ctx context.Context) (Balance, bool) {
	b, err := c.GetBalance(ctx)
	if err != nil {
		logger.Warn("balance check failed", "error", err)
		return Balance{}, false
	}
	return b, true
}

type contractsResponse struct {
	PartnerContracts struct {
		Contracts []struct {
			Service          string `json:"service"`
			ServiceContracts []struct {
				Country        string `json:"country"`
				AvailableUnits int64  `json:"availableUnits"`
				Expires        string `json:"expires"`
			} `json:"serviceContracts"`
		} `json:"contracts"`
	} `json:"partnerContracts"`
}

func (c *Client) sumContracts(body []byte) (Balance, error) {
	var resp contractsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Balance{}, errors.Wrap(ErrDecode, err.Error())
	}

	var balance Balance
	for _, contract := range resp.PartnerContracts.Contracts {
		if contract.Service != SMSContractService {
			continue
		}
		for _, sc := range contract.ServiceContracts {
			if c.cfg.Country != "" && sc.Country != c.cfg.Country {
				continue
			}
			balance.Units += sc.AvailableUnits
			if expires, err := parseISO8601(sc.Expires); err == nil {
				if balance.ExpiresAt == nil || expires.After(*balance.ExpiresAt) {
					e := expires
					balance.ExpiresAt = &e
				}
			}
		}
	}
	return balance, nil
}
