package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"halo-tracker/internal/config"
	"halo-tracker/internal/metrics"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

const testXUID = "2533274800000001"

func newTestClient(t *testing.T, handler fasthttp.RequestHandler) (*HaloClient, *metrics.Mock) {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go srv.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { ln.Close() })

	cfg := &config.Config{
		API: config.APIConfig{
			Key:               "spartan-token",
			BaseURL:           "http://stats.test",
			ProfileURL:        "http://profile.test",
			RequestsPerSecond: 1000,
			Burst:             100,
			Timeout:           time.Second,
		},
		Sync: config.SyncConfig{PageSize: 2},
	}
	m := metrics.NewMock()
	c := NewHaloClient(cfg, m, zerolog.Nop())
	c.client.Dial = func(addr string) (net.Conn, error) { return ln.Dial() }
	return c, m
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	body, _ := json.Marshal(v)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func historyEntry(id string) map[string]any {
	return map[string]any{"MatchId": id, "MatchInfo": map[string]any{"StartTime": "2024-01-01T00:00:00Z"}}
}

func TestHaloClient_MatchesPagesUntilShortPage(t *testing.T) {
	var requests atomic.Int32
	c, m := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		requests.Add(1)
		assert.Equal(t, "spartan-token", string(ctx.Request.Header.Peek(authHeader)))
		assert.Equal(t, "/hi/players/xuid("+testXUID+")/matches", string(ctx.Path()))

		switch ctx.QueryArgs().GetUintOrZero("start") {
		case 0:
			writeJSON(ctx, map[string]any{"Results": []any{historyEntry("a"), historyEntry("b")}})
		case 2:
			writeJSON(ctx, map[string]any{"Results": []any{historyEntry("c")}})
		default:
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
		}
	})

	var ids []string
	for p, err := range c.Matches(context.Background(), testXUID) {
		require.NoError(t, err)
		assert.Equal(t, KindMatchHistory, p.Kind)
		ids = append(ids, p.Data["MatchId"].(string))
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, 2, m.APIRequests(string(KindMatchHistory)))
}

func TestHaloClient_MatchesStopsWhenConsumerStops(t *testing.T) {
	var requests atomic.Int32
	c, _ := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		requests.Add(1)
		writeJSON(ctx, map[string]any{"Results": []any{historyEntry("a"), historyEntry("b")}})
	})

	for range c.Matches(context.Background(), testXUID) {
		break
	}
	assert.Equal(t, int32(1), requests.Load())
}

func TestHaloClient_MatchesYieldsErrorAndEnds(t *testing.T) {
	c, _ := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	})

	var errs []error
	for _, err := range c.Matches(context.Background(), testXUID) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrAPI)

	var se *StatusError
	require.ErrorAs(t, errs[0], &se)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, se.Code)
}

func TestHaloClient_MatchStatsKeepsNumbers(t *testing.T) {
	c, _ := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, "/hi/matches/m1/stats", string(ctx.Path()))
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"MatchId":"m1","Players":[{"PlayerId":"xuid(1)","Outcome":2}]}`)
	})

	p, err := c.MatchStats(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, KindMatchStats, p.Kind)

	players := p.Data["Players"].([]any)
	outcome := players[0].(map[string]any)["Outcome"]
	assert.Equal(t, json.Number("2"), outcome)
}

func TestHaloClient_MatchSkillAddsMatchID(t *testing.T) {
	c, _ := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, "/hi/matches/m1/skill", string(ctx.Path()))
		var players []string
		for _, v := range ctx.QueryArgs().PeekMulti("players") {
			players = append(players, string(v))
		}
		assert.Equal(t, []string{"xuid(1)", "xuid(2)"}, players)
		writeJSON(ctx, map[string]any{"Value": []any{}})
	})

	p, err := c.MatchSkill(context.Background(), "m1", []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, "m1", p.Data["MatchId"])
}

func TestHaloClient_ProfileByGamertagAndXUID(t *testing.T) {
	c, _ := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/users/gt(Master Chief)", "/users/xuid(" + testXUID + ")":
			writeJSON(ctx, map[string]any{"xuid": testXUID, "gamertag": "Master Chief"})
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	})

	p, err := c.Profile(context.Background(), "Master Chief")
	require.NoError(t, err)
	assert.Equal(t, testXUID, p.Data["xuid"])

	p, err = c.Profile(context.Background(), testXUID)
	require.NoError(t, err)
	assert.Equal(t, "Master Chief", p.Data["gamertag"])
}

func TestHaloClient_NotFound(t *testing.T) {
	c, _ := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	})

	_, err := c.MatchSkill(context.Background(), "m1", []string{"1"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrAPI)
}

func TestHaloClient_BreakerOpensOnServerErrors(t *testing.T) {
	var requests atomic.Int32
	c, m := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		requests.Add(1)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	})

	for i := 0; i < 5; i++ {
		_, err := c.MatchStats(context.Background(), fmt.Sprintf("m%d", i))
		require.Error(t, err)
	}

	_, err := c.MatchStats(context.Background(), "m-open")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, ErrAPI)
	assert.Equal(t, int32(5), requests.Load())
	assert.Equal(t, "open", m.BreakerState(breakerName))
}

func TestHaloClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	c, _ := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	})

	for i := 0; i < 8; i++ {
		_, err := c.MatchStats(context.Background(), "missing")
		assert.True(t, IsNotFound(err))
	}
}

func TestHaloClient_TracksRateLimitHeaders(t *testing.T) {
	c, _ := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.Response.Header.Set("X-RateLimit-Limit", "100")
		ctx.Response.Header.Set("X-RateLimit-Remaining", "42")
		ctx.Response.Header.Set("X-RateLimit-Reset", "30")
		writeJSON(ctx, map[string]any{})
	})

	_, err := c.MatchStats(context.Background(), "m1")
	require.NoError(t, err)

	info := c.GetRateLimitInfo()
	assert.Equal(t, 100, info.Limit)
	assert.Equal(t, 42, info.Remaining)
	assert.Equal(t, 30, info.Reset)
}

func TestHaloClient_WaitForQuotaHonorsContext(t *testing.T) {
	c, _ := newTestClient(t, func(ctx *fasthttp.RequestCtx) {})
	c.rateLimit = RateLimitInfo{Limit: 10, Remaining: 0, Reset: 60, UpdatedAt: time.Now()}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := c.waitForQuota(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestIsXUID(t *testing.T) {
	assert.True(t, IsXUID(testXUID))
	assert.True(t, IsXUID("xuid(123)"))
	assert.False(t, IsXUID("Master Chief"))
	assert.False(t, IsXUID("12345"))
	assert.False(t, IsXUID("25332748000000a1"))
}
