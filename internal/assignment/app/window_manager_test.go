package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/snoutservices/relay/internal/assignment/domain"
	auditdomain "github.com/snoutservices/relay/internal/audit/domain"
)

type MockWindowRepository struct {
	mock.Mock
}

func (m *MockWindowRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AssignmentWindow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AssignmentWindow), args.Error(1)
}

func (m *MockWindowRepository) FindByBooking(ctx context.Context, threadID uuid.UUID, bookingRef string) (*domain.AssignmentWindow, error) {
	args := m.Called(ctx, threadID, bookingRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AssignmentWindow), args.Error(1)
}

func (m *MockWindowRepository) FindOverlapping(ctx context.Context, threadID uuid.UUID, startsAt, endsAt time.Time) (*domain.AssignmentWindow, error) {
	args := m.Called(ctx, threadID, startsAt, endsAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AssignmentWindow), args.Error(1)
}

func (m *MockWindowRepository) Create(ctx context.Context, w *domain.AssignmentWindow) error {
	args := m.Called(ctx, w)
	return args.Error(0)
}

func (m *MockWindowRepository) UpdateBounds(ctx context.Context, id, sitterID uuid.UUID, bookingRef string, startsAt, endsAt time.Time) error {
	args := m.Called(ctx, id, sitterID, bookingRef, startsAt, endsAt)
	return args.Error(0)
}

func (m *MockWindowRepository) Close(ctx context.Context, id uuid.UUID, now time.Time) (int64, error) {
	args := m.Called(ctx, id, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockWindowRepository) CloseAllForBooking(ctx context.Context, bookingRef string, now time.Time) (int64, error) {
	args := m.Called(ctx, bookingRef, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockWindowRepository) HasActiveAt(ctx context.Context, threadID uuid.UUID, sitterID uuid.NullUUID, at time.Time) (bool, error) {
	args := m.Called(ctx, threadID, sitterID, at)
	return args.Bool(0), args.Error(1)
}

type MockAuditor struct {
	mock.Mock
}

func (m *MockAuditor) Record(ctx context.Context, ev auditdomain.Event) {
	m.Called(ctx, ev)
}

func newTestManager(repo *MockWindowRepository, audit *MockAuditor) *Manager {
	return NewManager(repo, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestWindowBounds_BufferTable(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		serviceType string
		pre, post   time.Duration
	}{
		{"short_visit", 60 * time.Minute, 60 * time.Minute},
		{"dog_walking", 60 * time.Minute, 60 * time.Minute},
		{"pet_taxi", 60 * time.Minute, 60 * time.Minute},
		{"overnight", 120 * time.Minute, 120 * time.Minute},
		{"extended_care", 120 * time.Minute, 120 * time.Minute},
		{"grooming", 60 * time.Minute, 60 * time.Minute}, // unknown type uses default
	}
	for _, tc := range tests {
		t.Run(tc.serviceType, func(t *testing.T) {
			startsAt, endsAt := WindowBounds(start, end, tc.serviceType)
			assert.Equal(t, start.Add(-tc.pre), startsAt)
			assert.Equal(t, end.Add(tc.post), endsAt)
		})
	}
}

func TestWindowCovers_BoundsInclusive(t *testing.T) {
	start := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	w := &domain.AssignmentWindow{StartsAt: start, EndsAt: start.Add(150 * time.Minute)}

	assert.True(t, w.Covers(start))
	assert.True(t, w.Covers(start.Add(80*time.Minute)))
	assert.True(t, w.Covers(start.Add(150*time.Minute)))
	assert.False(t, w.Covers(start.Add(151*time.Minute)))
	assert.False(t, w.Covers(start.Add(-time.Minute)))
}

func TestUpsertWindow_ExistingBookingUpdatedInPlace(t *testing.T) {
	repo := new(MockWindowRepository)
	audit := new(MockAuditor)
	mgr := newTestManager(repo, audit)

	orgID, threadID, sitterID := uuid.New(), uuid.New(), uuid.New()
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	existing := &domain.AssignmentWindow{
		ID:         uuid.New(),
		OrgID:      orgID,
		ThreadID:   threadID,
		SitterID:   sitterID,
		BookingRef: "bk-100",
		StartsAt:   start.Add(-2 * time.Hour),
		EndsAt:     end.Add(2 * time.Hour),
	}

	repo.On("FindByBooking", mock.Anything, threadID, "bk-100").Return(existing, nil).Once()
	repo.On("UpdateBounds", mock.Anything, existing.ID, sitterID, "bk-100",
		start.Add(-time.Hour), end.Add(time.Hour)).Return(nil).Once()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(ev auditdomain.Event) bool {
		return ev.Type == auditdomain.EventWindowUpserted && ev.Reason == "updated"
	})).Once()

	w, err := mgr.UpsertWindow(context.Background(), orgID, "bk-100", threadID, sitterID, start, end, "short_visit")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, w.ID)
	assert.Equal(t, start.Add(-time.Hour), w.StartsAt)
	assert.Equal(t, end.Add(time.Hour), w.EndsAt)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestUpsertWindow_OverlappingWindowMergedNotDuplicated(t *testing.T) {
	repo := new(MockWindowRepository)
	audit := new(MockAuditor)
	mgr := newTestManager(repo, audit)

	orgID, threadID, sitterID := uuid.New(), uuid.New(), uuid.New()
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	overlapping := &domain.AssignmentWindow{
		ID:         uuid.New(),
		ThreadID:   threadID,
		SitterID:   sitterID,
		BookingRef: "bk-099",
		StartsAt:   start.Add(-30 * time.Minute),
		EndsAt:     end.Add(30 * time.Minute),
	}

	repo.On("FindByBooking", mock.Anything, threadID, "bk-100").Return(nil, nil).Once()
	repo.On("FindOverlapping", mock.Anything, threadID, start.Add(-time.Hour), end.Add(time.Hour)).
		Return(overlapping, nil).Once()
	repo.On("UpdateBounds", mock.Anything, overlapping.ID, sitterID, "bk-100",
		start.Add(-time.Hour), end.Add(time.Hour)).Return(nil).Once()
	audit.On("Record", mock.Anything, mock.Anything).Once()

	w, err := mgr.UpsertWindow(context.Background(), orgID, "bk-100", threadID, sitterID, start, end, "short_visit")
	require.NoError(t, err)
	assert.Equal(t, overlapping.ID, w.ID)
	assert.Equal(t, "bk-100", w.BookingRef)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestUpsertWindow_CreatesWhenNoMatch(t *testing.T) {
	repo := new(MockWindowRepository)
	audit := new(MockAuditor)
	mgr := newTestManager(repo, audit)

	orgID, threadID, sitterID := uuid.New(), uuid.New(), uuid.New()
	start := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	end := start.Add(12 * time.Hour)

	repo.On("FindByBooking", mock.Anything, threadID, "bk-200").Return(nil, nil).Once()
	repo.On("FindOverlapping", mock.Anything, threadID, mock.Anything, mock.Anything).Return(nil, nil).Once()
	repo.On("Create", mock.Anything, mock.MatchedBy(func(w *domain.AssignmentWindow) bool {
		return w.BookingRef == "bk-200" &&
			w.StartsAt.Equal(start.Add(-2*time.Hour)) &&
			w.EndsAt.Equal(end.Add(2*time.Hour))
	})).Return(nil).Once()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(ev auditdomain.Event) bool {
		return ev.Type == auditdomain.EventWindowUpserted && ev.Reason == "created"
	})).Once()

	w, err := mgr.UpsertWindow(context.Background(), orgID, "bk-200", threadID, sitterID, start, end, "overnight")
	require.NoError(t, err)
	assert.Equal(t, sitterID, w.SitterID)
	repo.AssertExpectations(t)
	audit.AssertExpectations(t)
}

func TestCloseAllForBooking_AuditsOnlyWhenRowsClosed(t *testing.T) {
	repo := new(MockWindowRepository)
	audit := new(MockAuditor)
	mgr := newTestManager(repo, audit)

	orgID := uuid.New()

	repo.On("CloseAllForBooking", mock.Anything, "bk-300", mock.AnythingOfType("time.Time")).
		Return(int64(2), nil).Once()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(ev auditdomain.Event) bool {
		return ev.Type == auditdomain.EventWindowClosed
	})).Once()

	n, err := mgr.CloseAllForBooking(context.Background(), orgID, "bk-300")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	repo.On("CloseAllForBooking", mock.Anything, "bk-301", mock.AnythingOfType("time.Time")).
		Return(int64(0), nil).Once()

	n, err = mgr.CloseAllForBooking(context.Background(), orgID, "bk-301")
	require.NoError(t, err)
	assert.Zero(t, n)
	audit.AssertExpectations(t)
}

func TestHasActiveWindow_DelegatesSitterFilter(t *testing.T) {
	repo := new(MockWindowRepository)
	audit := new(MockAuditor)
	mgr := newTestManager(repo, audit)

	threadID := uuid.New()
	sitterID := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	at := time.Now().UTC()

	repo.On("HasActiveAt", mock.Anything, threadID, sitterID, at).Return(true, nil).Once()

	ok, err := mgr.HasActiveWindow(context.Background(), threadID, sitterID, at)
	require.NoError(t, err)
	assert.True(t, ok)
	repo.AssertExpectations(t)
}
