package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/maltedev/hardware-price-scraper/internal/database"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStreamClient struct {
	mock.Mock
}

func (m *MockStreamClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	args := m.Called(ctx, stream, group, start)
	cmd := redis.NewStatusCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("OK")
	}
	return cmd
}

func (m *MockStreamClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	cmd := redis.NewXStreamSliceCmd(ctx)
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(args.Get(0).([]redis.XStream))
	}
	return cmd
}

func (m *MockStreamClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	args := m.Called(ctx, stream, group, ids)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetErr(args.Error(0))
	return cmd
}

func listingsMessage(t *testing.T, id string, payload database.ListingsScrapedPayload) redis.XMessage {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(map[string]any{
		"id":      "evt-" + id,
		"type":    database.EventListingsScraped,
		"payload": json.RawMessage(raw),
	})
	require.NoError(t, err)

	return redis.XMessage{
		ID: id,
		Values: map[string]any{
			"data":       string(data),
			"event_type": database.EventListingsScraped,
		},
	}
}

func TestConsumerPollAcksHandledMessages(t *testing.T) {
	ctx := context.Background()
	client := new(MockStreamClient)
	tracker := NewActivityTracker()
	c := NewConsumer(client, tracker.Handle, ConsumerConfig{}, nil)

	scrapedAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	messages := []redis.XMessage{
		listingsMessage(t, "1-0", database.ListingsScrapedPayload{Store: "DNS Shop", Category: "cpu", Count: 12, MinPrice: 8999, MaxPrice: 64999, ScrapedAt: scrapedAt}),
		{ID: "2-0", Values: map[string]any{"event_type": "SOMETHING_ELSE"}},
		{ID: "3-0", Values: map[string]any{"event_type": database.EventListingsScraped, "data": "{broken"}},
	}

	client.On("XReadGroup", ctx, mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
		return a.Group == DefaultGroup && a.Streams[0] == database.ListingsStream && a.Streams[1] == ">"
	})).Return([]redis.XStream{{Stream: database.ListingsStream, Messages: messages}}, nil)
	client.On("XAck", ctx, database.ListingsStream, DefaultGroup, []string{"1-0"}).Return(nil)
	client.On("XAck", ctx, database.ListingsStream, DefaultGroup, []string{"2-0"}).Return(nil)

	require.NoError(t, c.poll(ctx))

	client.AssertExpectations(t)
	client.AssertNotCalled(t, "XAck", ctx, database.ListingsStream, DefaultGroup, []string{"3-0"})

	snapshot := tracker.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "DNS Shop", snapshot[0].Store)
	assert.Equal(t, 12, snapshot[0].Listings)
	assert.Equal(t, 8999.0, snapshot[0].LastMinPrice)
	assert.Equal(t, scrapedAt, snapshot[0].LastScrapedAt)
}

func TestConsumerPollWithoutMessages(t *testing.T) {
	ctx := context.Background()
	client := new(MockStreamClient)
	c := NewConsumer(client, NewActivityTracker().Handle, ConsumerConfig{}, nil)

	client.On("XReadGroup", ctx, mock.Anything).Return(nil, redis.Nil)
	assert.NoError(t, c.poll(ctx))

	client.AssertNotCalled(t, "XAck", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConsumerHandlerFailureLeavesMessagePending(t *testing.T) {
	ctx := context.Background()
	client := new(MockStreamClient)
	handler := func(context.Context, database.ListingsScrapedPayload) error {
		return errors.New("downstream unavailable")
	}
	c := NewConsumer(client, handler, ConsumerConfig{}, nil)

	msg := listingsMessage(t, "7-0", database.ListingsScrapedPayload{Store: "Citilink", Count: 1})
	client.On("XReadGroup", ctx, mock.Anything).Return([]redis.XStream{{Messages: []redis.XMessage{msg}}}, nil)

	require.NoError(t, c.poll(ctx))
	client.AssertNotCalled(t, "XAck", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConsumerRejectsPayloadWithoutStore(t *testing.T) {
	c := NewConsumer(new(MockStreamClient), NewActivityTracker().Handle, ConsumerConfig{}, nil)
	msg := listingsMessage(t, "8-0", database.ListingsScrapedPayload{Count: 3})

	assert.Error(t, c.handle(context.Background(), msg))
}

func TestConsumerRun(t *testing.T) {
	t.Run("group create failure", func(t *testing.T) {
		client := new(MockStreamClient)
		client.On("XGroupCreateMkStream", mock.Anything, database.ListingsStream, DefaultGroup, "0").
			Return(errors.New("connection refused"))

		c := NewConsumer(client, NewActivityTracker().Handle, ConsumerConfig{}, nil)
		err := c.Run(context.Background())
		assert.ErrorContains(t, err, "connection refused")
	})

	t.Run("existing group and cancelled context", func(t *testing.T) {
		client := new(MockStreamClient)
		client.On("XGroupCreateMkStream", mock.Anything, "stream:custom", "group", "0").
			Return(errors.New("BUSYGROUP Consumer Group name already exists"))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c := NewConsumer(client, NewActivityTracker().Handle, ConsumerConfig{Stream: "stream:custom", Group: "group"}, nil)
		assert.ErrorIs(t, c.Run(ctx), context.Canceled)
		client.AssertNotCalled(t, "XReadGroup", mock.Anything, mock.Anything)
	})
}

func TestActivityTrackerKeepsLatestBatch(t *testing.T) {
	tracker := NewActivityTracker()
	ctx := context.Background()
	newer := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	require.NoError(t, tracker.Handle(ctx, database.ListingsScrapedPayload{Store: "Citilink", Category: "gpu", Count: 5, ScrapedAt: newer}))
	require.NoError(t, tracker.Handle(ctx, database.ListingsScrapedPayload{Store: "Citilink", Category: "cpu", Count: 3, ScrapedAt: older}))
	require.NoError(t, tracker.Handle(ctx, database.ListingsScrapedPayload{Store: "DNS Shop", Count: 1, ScrapedAt: older}))

	snapshot := tracker.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "Citilink", snapshot[0].Store)
	assert.Equal(t, 2, snapshot[0].Batches)
	assert.Equal(t, 8, snapshot[0].Listings)
	assert.Equal(t, "gpu", snapshot[0].LastCategory)
	assert.Equal(t, newer, snapshot[0].LastScrapedAt)
	assert.Equal(t, "DNS Shop", snapshot[1].Store)
}
