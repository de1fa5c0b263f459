package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"halo-tracker/internal/config"
	"halo-tracker/internal/constants"
	"halo-tracker/internal/metrics"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

const (
	authHeader  = "x-343-authorization-spartan"
	breakerName = "halo-api"
)

type HaloClient struct {
	apiKey     string
	statsURL   string
	profileURL string
	pageSize   int
	timeout    time.Duration

	client  *fasthttp.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	metrics metrics.Metrics
	logger  zerolog.Logger

	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

type RateLimitInfo struct {
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`

	// seconds until reset
	Reset int `json:"reset"`

	UpdatedAt time.Time `json:"updated_at"`
}

func NewHaloClient(cfg *config.Config, m metrics.Metrics, logger zerolog.Logger) *HaloClient {
	pageSize := cfg.Sync.PageSize
	if pageSize <= 0 || pageSize > constants.MatchHistoryPageSize {
		pageSize = constants.MatchHistoryPageSize
	}
	timeout := cfg.API.Timeout
	if timeout <= 0 {
		timeout = constants.ExternalAPITimeout
	}
	rps := cfg.API.RequestsPerSecond
	if rps <= 0 {
		rps = constants.APIRequestsPerSecond
	}
	burst := max(cfg.API.Burst, 1)

	c := &HaloClient{
		apiKey:     cfg.API.Key,
		statsURL:   strings.TrimRight(cfg.API.BaseURL, "/"),
		profileURL: strings.TrimRight(cfg.API.ProfileURL, "/"),
		pageSize:   pageSize,
		timeout:    timeout,
		client: &fasthttp.Client{
			MaxConnsPerHost:     16,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		metrics: m,
		logger:  logger.With().Str("component", "halo_client").Logger(),
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a 404 or 400 is an answer, not an outage
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code >= 400 && se.Code < 500 && se.Code != fasthttp.StatusTooManyRequests
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			c.metrics.SetBreakerState(name, to.String())
		},
	})
	c.metrics.SetBreakerState(breakerName, gobreaker.StateClosed.String())

	return c
}

func (c *HaloClient) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *HaloClient) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if limit := string(resp.Header.Peek("X-RateLimit-Limit")); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			c.rateLimit.Limit = val
		}
	}
	if remaining := string(resp.Header.Peek("X-RateLimit-Remaining")); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			c.rateLimit.Remaining = val
		}
	}
	if reset := string(resp.Header.Peek("X-RateLimit-Reset")); reset != "" {
		if val, err := strconv.Atoi(reset); err == nil {
			c.rateLimit.Reset = val
		}
	}
	c.rateLimit.UpdatedAt = time.Now()
}

// waitForQuota blocks while the server reported an exhausted window.
func (c *HaloClient) waitForQuota(ctx context.Context) error {
	info := c.GetRateLimitInfo()
	if info.Limit == 0 || info.Remaining > 0 || info.Reset <= 0 {
		return nil
	}
	wait := time.Until(info.UpdatedAt.Add(time.Duration(info.Reset) * time.Second))
	if wait <= 0 {
		return nil
	}
	c.logger.Debug().Dur("wait", wait).Msg("rate limit window exhausted, waiting")

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Matches pages the player's history newest-first. The sequence ends after
// the first error.
func (c *HaloClient) Matches(ctx context.Context, xuid string) iter.Seq2[Payload, error] {
	return func(yield func(Payload, error) bool) {
		start := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(Payload{}, err)
				return
			}

			u := fmt.Sprintf("%s/hi/players/xuid(%s)/matches?start=%d&count=%d",
				c.statsURL, url.PathEscape(xuid), start, c.pageSize)
			page, err := c.get(ctx, KindMatchHistory, u)
			if err != nil {
				yield(Payload{}, err)
				return
			}

			results, _ := page["Results"].([]any)
			for _, r := range results {
				entry, _ := r.(map[string]any)
				if !yield(Payload{Kind: KindMatchHistory, Data: entry}, nil) {
					return
				}
			}

			if len(results) < c.pageSize {
				return
			}
			start += len(results)
		}
	}
}

func (c *HaloClient) MatchStats(ctx context.Context, matchID string) (Payload, error) {
	u := fmt.Sprintf("%s/hi/matches/%s/stats", c.statsURL, url.PathEscape(matchID))
	data, err := c.get(ctx, KindMatchStats, u)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Kind: KindMatchStats, Data: data}, nil
}

// MatchSkill fetches CSR results for the given players. The response does
// not repeat the match id, so it is added under MatchId.
func (c *HaloClient) MatchSkill(ctx context.Context, matchID string, xuids []string) (Payload, error) {
	q := url.Values{}
	for _, x := range xuids {
		q.Add("players", "xuid("+x+")")
	}
	u := fmt.Sprintf("%s/hi/matches/%s/skill?%s", c.statsURL, url.PathEscape(matchID), q.Encode())
	data, err := c.get(ctx, KindMatchSkill, u)
	if err != nil {
		return Payload{}, err
	}
	data["MatchId"] = matchID
	return Payload{Kind: KindMatchSkill, Data: data}, nil
}

// Profile looks a player up by xuid or by gamertag.
func (c *HaloClient) Profile(ctx context.Context, player string) (Payload, error) {
	var u string
	if IsXUID(player) {
		u = fmt.Sprintf("%s/users/xuid(%s)", c.profileURL, url.PathEscape(strings.TrimSuffix(strings.TrimPrefix(player, "xuid("), ")")))
	} else {
		u = fmt.Sprintf("%s/users/gt(%s)", c.profileURL, url.PathEscape(player))
	}
	data, err := c.get(ctx, KindProfile, u)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Kind: KindProfile, Data: data}, nil
}

func (c *HaloClient) get(ctx context.Context, kind Kind, u string) (map[string]any, error) {
	if err := c.waitForQuota(ctx); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.doRequest(ctx, kind, u)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrAPI, err)
		}
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s response: %w", ErrAPI, kind, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func (c *HaloClient) doRequest(ctx context.Context, kind Kind, u string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(authHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.DoTimeout(req, resp, c.timeout)
	}
	if err != nil {
		c.metrics.ObserveAPIRequest(string(kind), 0, time.Since(start))
		c.logger.Warn().Err(err).Str("kind", string(kind)).Msg("stats API request failed")
		return nil, fmt.Errorf("%w: %w", ErrAPI, err)
	}

	c.updateRateLimit(resp)
	c.metrics.ObserveAPIRequest(string(kind), resp.StatusCode(), time.Since(start))

	if resp.StatusCode() != fasthttp.StatusOK {
		c.logger.Debug().Int("status", resp.StatusCode()).Str("kind", string(kind)).Str("url", u).Msg("stats API returned non-200")
		return nil, &StatusError{Code: resp.StatusCode(), URL: u}
	}

	// resp is released on return
	return bytes.Clone(resp.Body()), nil
}
