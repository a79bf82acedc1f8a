package application

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var zeroTime time.Time

func TestPostValidatesBody(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	hid := setupHousehold(t, f)

	_, err := f.messageSvc.Post(ctx, "alice", hid, "   ")
	assert.ErrorIs(t, err, ErrMessageBody)
	_, err = f.messageSvc.Post(ctx, "alice", hid, strings.Repeat("a", maxMessageLength+1))
	assert.ErrorIs(t, err, ErrMessageBody)
	_, err = f.messageSvc.Post(ctx, "carol", hid, "hi")
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestMessagesLatestPageCached(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	hid := setupHousehold(t, f)

	_, err := f.messageSvc.Post(ctx, "alice", hid, "first")
	require.NoError(t, err)
	msgs, err := f.messageSvc.List(ctx, "bob", hid, testNow.AddDate(-1, 0, 0), 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = f.messageSvc.List(ctx, "bob", hid, zeroTime, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	_, err = f.messageSvc.List(ctx, "alice", hid, zeroTime, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, f.messages.listCalls)

	m, err := f.messageSvc.Post(ctx, "bob", hid, " second ")
	require.NoError(t, err)
	assert.Equal(t, "second", m.Body)
	assert.Equal(t, "messages:INSERT", f.pub.resources()[len(f.pub.events)-1])

	msgs, err = f.messageSvc.List(ctx, "alice", hid, zeroTime, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "second", msgs[0].Body)
	assert.Equal(t, 3, f.messages.listCalls)
}

func TestPublishedMessageCarriesOnlyIdentity(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	hid := setupHousehold(t, f)

	m, err := f.messageSvc.Post(ctx, "alice", hid, strings.Repeat("a", maxMessageLength))
	require.NoError(t, err)

	last := f.pub.events[len(f.pub.events)-1]
	assert.Equal(t, map[string]any{"id": m.ID, "household_id": hid, "user_id": "alice"}, last.Record)
}
