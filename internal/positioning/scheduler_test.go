package positioning

import (
	"context"
	"fmt"
	"testing"
	"time"

	"p2pmaker/internal/core"
	"p2pmaker/internal/mock"
	"p2pmaker/internal/storage"
	apperrors "p2pmaker/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchedulerConfig() Config {
	return Config{
		CycleInterval:     10 * time.Millisecond,
		ErrorCooldownBase: 10 * time.Millisecond,
		ErrorCooldownMax:  50 * time.Millisecond,
	}
}

func testTuple() core.PositioningConfig {
	return core.PositioningConfig{
		MerchantID:                "m1",
		Asset:                     "USDT",
		FiatCurrency:              "EUR",
		Side:                      core.SideSell,
		OwnAdID:                   "ad-1",
		OwnNickname:               "mainshop",
		MinCounterpartyOrderCount: 50,
		MinTradableFiatValue:      decimal.RequireFromString("500"),
		UndercutAmount:            decimal.RequireFromString("0.01"),
		MatchMode:                 core.MatchUndercut,
		MinPriceChange:            decimal.RequireFromString("0.005"),
	}
}

func sellAd(nickname, price string) core.CompetitorAd {
	return core.CompetitorAd{
		AdvertiserID:           "adv-" + nickname,
		Nickname:               nickname,
		Side:                   core.SideSell,
		Price:                  decimal.RequireFromString(price),
		AvailableQuantity:      decimal.RequireFromString("10000"),
		CounterpartyOrderCount: 500,
		FiatCurrency:           "EUR",
		Asset:                  "USDT",
	}
}

func newTestScheduler(t *testing.T, tuple core.PositioningConfig) (*Scheduler, *mock.Venue, core.ITupleStateStore) {
	t.Helper()
	venue := mock.NewVenue()
	store := storage.NewMemoryTupleStateStore()
	s, err := NewScheduler(testSchedulerConfig(), []core.PositioningConfig{tuple},
		map[string]core.IVenue{"m1": venue}, store, mock.NewLogger())
	require.NoError(t, err)
	return s, venue, store
}

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})
}

func TestSchedulerPublishesUndercutPrice(t *testing.T) {
	s, venue, store := newTestScheduler(t, testTuple())
	venue.SetAds([]core.CompetitorAd{sellAd("rival", "0.95")})

	startScheduler(t, s)

	require.Eventually(t, func() bool {
		return venue.PublishCount() >= 1
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, "0.94", venue.LastPublished().String())

	st, err := store.Load(context.Background(), testTuple().Tuple())
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "0.94", st.PublishedPrice.String())
	require.NotNil(t, st.LastDecision)
	assert.Equal(t, 1, st.LastDecision.QualifiedCompetitorCount)
}

func TestSchedulerHysteresisSkipsSmallMoves(t *testing.T) {
	s, venue, _ := newTestScheduler(t, testTuple())
	venue.SetAds([]core.CompetitorAd{sellAd("rival", "0.95")})

	startScheduler(t, s)

	require.Eventually(t, func() bool {
		return venue.PublishCount() >= 1
	}, 3*time.Second, 5*time.Millisecond)

	// Nudge the market by less than the 0.005 threshold.
	venue.SetAds([]core.CompetitorAd{sellAd("rival", "0.952")})
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, venue.PublishCount(), "sub-threshold move must not republish")
}

func TestSchedulerRepublishesOnLargeMove(t *testing.T) {
	s, venue, _ := newTestScheduler(t, testTuple())
	venue.SetAds([]core.CompetitorAd{sellAd("rival", "0.95")})

	startScheduler(t, s)

	require.Eventually(t, func() bool {
		return venue.PublishCount() >= 1
	}, 3*time.Second, 5*time.Millisecond)

	venue.SetAds([]core.CompetitorAd{sellAd("rival", "0.90")})

	require.Eventually(t, func() bool {
		return venue.PublishCount() >= 2
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, "0.89", venue.LastPublished().String())
}

func TestSchedulerKeepsPriceOnEmptyMarket(t *testing.T) {
	s, venue, store := newTestScheduler(t, testTuple())
	venue.SetAds([]core.CompetitorAd{sellAd("rival", "0.95")})

	startScheduler(t, s)

	require.Eventually(t, func() bool {
		return venue.PublishCount() >= 1
	}, 3*time.Second, 5*time.Millisecond)

	venue.SetAds(nil)
	time.Sleep(100 * time.Millisecond)

	// Never publish blind; state keeps the last good price.
	assert.Equal(t, 1, venue.PublishCount())
	st, err := store.Load(context.Background(), testTuple().Tuple())
	require.NoError(t, err)
	assert.Equal(t, "0.94", st.PublishedPrice.String())
}

func TestSchedulerBacksOffOnVenueFailure(t *testing.T) {
	s, venue, _ := newTestScheduler(t, testTuple())
	venue.FailAlwaysWith(fmt.Errorf("%w: 503", apperrors.ErrUpstreamUnavailable))

	startScheduler(t, s)

	require.Eventually(t, func() bool {
		for _, st := range s.Snapshot() {
			if st.Phase == PhaseError && st.Failures >= 1 {
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond)

	// Recovery: clear the failure and provide a market.
	venue.FailAlwaysWith(nil)
	venue.SetAds([]core.CompetitorAd{sellAd("rival", "0.95")})

	require.Eventually(t, func() bool {
		return venue.PublishCount() >= 1
	}, 3*time.Second, 5*time.Millisecond)
}

func TestSchedulerRecoversPersistedState(t *testing.T) {
	tuple := testTuple()
	venue := mock.NewVenue()
	store := storage.NewMemoryTupleStateStore()

	// Simulate a previous run that already published the target price.
	require.NoError(t, store.Save(context.Background(), &core.TupleState{
		Tuple:          tuple.Tuple(),
		PublishedPrice: decimal.RequireFromString("0.94"),
		UpdatedAt:      time.Now(),
	}))

	s, err := NewScheduler(testSchedulerConfig(), []core.PositioningConfig{tuple},
		map[string]core.IVenue{"m1": venue}, store, mock.NewLogger())
	require.NoError(t, err)

	venue.SetAds([]core.CompetitorAd{sellAd("rival", "0.95")})
	startScheduler(t, s)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, venue.PublishCount(), "unchanged target after restart must not republish")
}

// faultyStateStore fails Load for one fiat currency and delegates the
// rest.
type faultyStateStore struct {
	core.ITupleStateStore
	failFiat string
}

func (f *faultyStateStore) Load(ctx context.Context, tp core.Tuple) (*core.TupleState, error) {
	if tp.FiatCurrency == f.failFiat {
		return nil, fmt.Errorf("state table corrupt")
	}
	return f.ITupleStateStore.Load(ctx, tp)
}

func TestStartFailureLeavesNoLoopsRunning(t *testing.T) {
	venue := mock.NewVenue()
	venue.SetAds([]core.CompetitorAd{sellAd("rival", "0.95")})

	second := testTuple()
	second.FiatCurrency = "GBP"
	store := &faultyStateStore{
		ITupleStateStore: storage.NewMemoryTupleStateStore(),
		failFiat:         "GBP",
	}

	s, err := NewScheduler(testSchedulerConfig(), []core.PositioningConfig{testTuple(), second},
		map[string]core.IVenue{"m1": venue}, store, mock.NewLogger())
	require.NoError(t, err)

	require.Error(t, s.Start(context.Background()))

	// No tuple loop may survive the failed start.
	time.Sleep(5 * testSchedulerConfig().CycleInterval)
	assert.Zero(t, venue.SearchCount())
	assert.Zero(t, venue.PublishCount())
}

func TestSchedulerRejectsUnknownMerchant(t *testing.T) {
	tuple := testTuple()
	tuple.MerchantID = "ghost"
	_, err := NewScheduler(testSchedulerConfig(), []core.PositioningConfig{tuple},
		map[string]core.IVenue{"m1": mock.NewVenue()}, storage.NewMemoryTupleStateStore(), mock.NewLogger())
	assert.Error(t, err)
}

func TestSchedulerRejectsDuplicateTuples(t *testing.T) {
	tuple := testTuple()
	_, err := NewScheduler(testSchedulerConfig(), []core.PositioningConfig{tuple, tuple},
		map[string]core.IVenue{"m1": mock.NewVenue()}, storage.NewMemoryTupleStateStore(), mock.NewLogger())
	assert.Error(t, err)
}
