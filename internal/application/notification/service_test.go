package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/741g/vperfetto/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPoster struct {
	mock.Mock
	name string
}

func (m *mockPoster) Name() string { return m.name }

func (m *mockPoster) Post(ctx context.Context, ch domain.Channel, n domain.Notification) error {
	return m.Called(ctx, ch, n).Error(0)
}

var timeTrace = domain.Channel{ID: "TimeTrace", Name: "TimeTrace", Importance: domain.ImportanceMin}

func TestCreateChannel_Idempotent(t *testing.T) {
	svc := NewService(ServiceDeps{})
	ctx := context.Background()

	require.NoError(t, svc.CreateChannel(ctx, timeTrace))
	require.NoError(t, svc.CreateChannel(ctx, domain.Channel{ID: "TimeTrace", Name: "renamed"}))
	assert.Equal(t, []domain.Channel{timeTrace}, svc.Channels())

	assert.ErrorIs(t, svc.CreateChannel(ctx, domain.Channel{}), domain.ErrBadRequest)
}

func TestStartForeground_FansOutAndSwallowsPosterErrors(t *testing.T) {
	failing := &mockPoster{name: "ntfy"}
	ok := &mockPoster{name: "log"}
	isOngoing := mock.MatchedBy(func(n domain.Notification) bool { return n.Ongoing && n.ID == 12345 })
	failing.On("Post", mock.Anything, timeTrace, isOngoing).Return(errors.New("unreachable"))
	ok.On("Post", mock.Anything, timeTrace, isOngoing).Return(nil)

	svc := NewService(ServiceDeps{Posters: []Poster{failing, ok}, RequireChannel: true})
	require.NoError(t, svc.CreateChannel(context.Background(), timeTrace))

	stop, err := svc.StartForeground(context.Background(), domain.Notification{ID: 12345, ChannelID: "TimeTrace"})
	require.NoError(t, err)
	failing.AssertExpectations(t)
	ok.AssertExpectations(t)

	active := svc.Active()
	require.Len(t, active, 1)
	assert.False(t, active[0].CreatedAt.IsZero())

	stop()
	stop()
	assert.Empty(t, svc.Active())
}

func TestStartForeground_RequiresChannel(t *testing.T) {
	svc := NewService(ServiceDeps{RequireChannel: true})
	_, err := svc.StartForeground(context.Background(), domain.Notification{ID: 1, ChannelID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	relaxed := NewService(ServiceDeps{})
	stop, err := relaxed.StartForeground(context.Background(), domain.Notification{ID: 1, ChannelID: "missing"})
	require.NoError(t, err)
	stop()
}
