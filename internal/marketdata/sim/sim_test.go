package sim

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"market-workbench/internal/feed"
	"market-workbench/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGenerator_StepProducesValidFrames(t *testing.T) {
	g := NewGenerator(Config{Seed: 7, BookDepth: 5})
	frames := g.Step("BTCUSDT")
	require.Len(t, frames, 3)

	var envs []feed.Envelope
	for _, f := range frames {
		var e feed.Envelope
		require.NoError(t, json.Unmarshal(f, &e))
		assert.Equal(t, "BTCUSDT", e.Symbol)
		envs = append(envs, e)
	}

	tr, err := model.ParseTrade(envs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, feed.TypeTrade, envs[0].Type)
	assert.InDelta(t, 65000, tr.Price, 65000*0.002)

	c, err := model.ParseCandle(envs[1].Data)
	require.NoError(t, err)
	assert.Equal(t, c.T, model.AlignMs(c.T, "1m"))
	assert.LessOrEqual(t, c.L, c.H)

	ob, err := model.ParseOrderBook(envs[2].Data)
	require.NoError(t, err)
	assert.Len(t, ob.Bids, 5)
	assert.Len(t, ob.Asks, 5)
	spread, ok := ob.Spread()
	assert.True(t, ok)
	assert.Greater(t, spread, 0.0)
}

func TestGenerator_CandleAccumulatesWithinBar(t *testing.T) {
	g := NewGenerator(Config{Seed: 1})
	fixed := time.UnixMilli(1_700_000_040_000)
	g.now = func() time.Time { return fixed }

	var last model.Candle
	for i := 0; i < 5; i++ {
		frames := g.Step("ETHUSDT")
		var e feed.Envelope
		require.NoError(t, json.Unmarshal(frames[1], &e))
		c, err := model.ParseCandle(e.Data)
		require.NoError(t, err)
		if i > 0 {
			assert.Equal(t, last.T, c.T)
			assert.Equal(t, last.O, c.O)
			assert.Greater(t, c.V, last.V)
		}
		last = c
	}
}

func TestSession_Protocol(t *testing.T) {
	s := NewSession(NewGenerator(Config{Seed: 3}), 5*time.Millisecond)
	defer s.Close()

	sub, _ := json.Marshal(feed.ControlMessage{Type: feed.TypeSubscribe, Symbol: "SOLUSDT"})
	require.NoError(t, s.WriteMessage(sub))
	require.NoError(t, s.WriteMessage(sub))
	assert.Equal(t, []string{"SOLUSDT"}, s.Subscriptions())

	b, err := s.ReadMessage()
	require.NoError(t, err)
	var e feed.Envelope
	require.NoError(t, json.Unmarshal(b, &e))
	assert.Equal(t, "SOLUSDT", e.Symbol)

	unsub, _ := json.Marshal(feed.ControlMessage{Type: feed.TypeUnsubscribe, Symbol: "SOLUSDT"})
	require.NoError(t, s.WriteMessage(unsub))
	assert.Empty(t, s.Subscriptions())

	s.Close()
	for {
		_, err := s.ReadMessage()
		if err != nil {
			assert.ErrorIs(t, err, feed.ErrNormalClosure)
			break
		}
	}
}

func TestDialer_DrivesFeedClient(t *testing.T) {
	d := &Dialer{Gen: NewGenerator(Config{Seed: 9}), Tick: 5 * time.Millisecond}
	c := feed.New(feed.Config{URL: "sim://", BatchInterval: 5 * time.Millisecond}, d, zap.NewNop())
	trades, cancelTrades := c.Trades().Subscribe(64)
	defer cancelTrades()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Subscribe("ADAUSDT")
	c.Connect()

	select {
	case ev := <-trades:
		assert.Equal(t, "ADAUSDT", ev.Symbol)
		assert.NoError(t, ev.Trade.Validate())
	case <-time.After(2 * time.Second):
		t.Fatal("no trade from simulated feed")
	}
}
