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

	alertsdomain "github.com/snoutservices/relay/internal/alerts/domain"
	auditdomain "github.com/snoutservices/relay/internal/audit/domain"
	"github.com/snoutservices/relay/internal/numberregistry/domain"
)

// --- Mocks ---

type MockNumberRepository struct {
	mock.Mock
}

func (m *MockNumberRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PhoneNumber, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PhoneNumber), args.Error(1)
}

func (m *MockNumberRepository) FindByE164(ctx context.Context, orgID uuid.UUID, e164 string) (*domain.PhoneNumber, error) {
	args := m.Called(ctx, orgID, e164)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PhoneNumber), args.Error(1)
}

func (m *MockNumberRepository) LookupByE164(ctx context.Context, e164 string) (*domain.PhoneNumber, error) {
	args := m.Called(ctx, e164)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PhoneNumber), args.Error(1)
}

func (m *MockNumberRepository) GetActiveFrontDesk(ctx context.Context, orgID uuid.UUID) (*domain.PhoneNumber, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PhoneNumber), args.Error(1)
}

func (m *MockNumberRepository) FindActiveBySitter(ctx context.Context, orgID, sitterID uuid.UUID) (*domain.PhoneNumber, error) {
	args := m.Called(ctx, orgID, sitterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PhoneNumber), args.Error(1)
}

func (m *MockNumberRepository) ClaimSitterNumber(ctx context.Context, orgID, sitterID uuid.UUID) (*domain.PhoneNumber, error) {
	args := m.Called(ctx, orgID, sitterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PhoneNumber), args.Error(1)
}

func (m *MockNumberRepository) ListCooldownExpired(ctx context.Context, orgID uuid.UUID, cutoff time.Time) ([]*domain.PhoneNumber, error) {
	args := m.Called(ctx, orgID, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.PhoneNumber), args.Error(1)
}

func (m *MockNumberRepository) DemoteToPool(ctx context.Context, numberID uuid.UUID) error {
	args := m.Called(ctx, numberID)
	return args.Error(0)
}

func (m *MockNumberRepository) ListPoolWithUsage(ctx context.Context, orgID uuid.UUID) ([]*domain.PoolCandidate, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.PoolCandidate), args.Error(1)
}

func (m *MockNumberRepository) TouchLastAssigned(ctx context.Context, numberID uuid.UUID, at time.Time) error {
	args := m.Called(ctx, numberID, at)
	return args.Error(0)
}

func (m *MockNumberRepository) ResetRotationCursor(ctx context.Context, numberID uuid.UUID) error {
	args := m.Called(ctx, numberID)
	return args.Error(0)
}

func (m *MockNumberRepository) Deactivate(ctx context.Context, numberID uuid.UUID, at time.Time) error {
	args := m.Called(ctx, numberID, at)
	return args.Error(0)
}

type MockAlertRepository struct {
	mock.Mock
}

func (m *MockAlertRepository) Raise(ctx context.Context, alert *alertsdomain.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *MockAlertRepository) Resolve(ctx context.Context, orgID uuid.UUID, alertType, entityID string) error {
	args := m.Called(ctx, orgID, alertType, entityID)
	return args.Error(0)
}

type MockAuditor struct {
	mock.Mock
}

func (m *MockAuditor) Record(ctx context.Context, ev auditdomain.Event) {
	m.Called(ctx, ev)
}

func newTestRegistry(repo *MockNumberRepository, alerts *MockAlertRepository, audit *MockAuditor, strategy SelectionStrategy) *Registry {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(repo, alerts, audit, strategy, RegistryConfig{
		SitterNumberCooldownDays: 90,
		MaxThreadsPerPoolNumber:  1,
		MinPoolReserve:           3,
	}, logger)
}

func activeNumber(orgID uuid.UUID, class domain.NumberClass) *domain.PhoneNumber {
	return &domain.PhoneNumber{
		ID:        uuid.New(),
		OrgID:     orgID,
		E164:      "+15550000001",
		Class:     class,
		Status:    domain.StatusActive,
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
	}
}

// --- AssignSitterNumber ---

func TestAssignSitterNumber_IdempotentForExistingBinding(t *testing.T) {
	repo := new(MockNumberRepository)
	alerts := new(MockAlertRepository)
	audit := new(MockAuditor)
	registry := newTestRegistry(repo, alerts, audit, LRUStrategy{})

	orgID, sitterID := uuid.New(), uuid.New()
	existing := activeNumber(orgID, domain.ClassSitter)
	existing.AssignedSitterID = uuid.NullUUID{UUID: sitterID, Valid: true}

	repo.On("FindActiveBySitter", mock.Anything, orgID, sitterID).Return(existing, nil).Twice()

	first, err := registry.AssignSitterNumber(context.Background(), orgID, sitterID)
	require.NoError(t, err)
	second, err := registry.AssignSitterNumber(context.Background(), orgID, sitterID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	repo.AssertNotCalled(t, "ClaimSitterNumber", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestAssignSitterNumber_ClaimsUnassignedNumber(t *testing.T) {
	repo := new(MockNumberRepository)
	alerts := new(MockAlertRepository)
	audit := new(MockAuditor)
	registry := newTestRegistry(repo, alerts, audit, LRUStrategy{})

	orgID, sitterID := uuid.New(), uuid.New()
	claimed := activeNumber(orgID, domain.ClassSitter)

	repo.On("FindActiveBySitter", mock.Anything, orgID, sitterID).Return(nil, nil).Once()
	repo.On("ClaimSitterNumber", mock.Anything, orgID, sitterID).Return(claimed, nil).Once()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(ev auditdomain.Event) bool {
		return ev.Type == auditdomain.EventSitterNumberAssigned && ev.NumberID.UUID == claimed.ID
	})).Once()

	num, err := registry.AssignSitterNumber(context.Background(), orgID, sitterID)
	require.NoError(t, err)
	assert.Equal(t, claimed.ID, num.ID)
	repo.AssertExpectations(t)
	audit.AssertExpectations(t)
}

func TestAssignSitterNumber_CooldownExpiredDemotedNotReused(t *testing.T) {
	repo := new(MockNumberRepository)
	alerts := new(MockAlertRepository)
	audit := new(MockAuditor)
	registry := newTestRegistry(repo, alerts, audit, LRUStrategy{})

	orgID, sitterID := uuid.New(), uuid.New()
	cooled := activeNumber(orgID, domain.ClassSitter)

	repo.On("FindActiveBySitter", mock.Anything, orgID, sitterID).Return(nil, nil).Once()
	repo.On("ClaimSitterNumber", mock.Anything, orgID, sitterID).Return(nil, nil).Once()
	repo.On("ListCooldownExpired", mock.Anything, orgID, mock.AnythingOfType("time.Time")).
		Return([]*domain.PhoneNumber{cooled}, nil).Once()
	repo.On("DemoteToPool", mock.Anything, cooled.ID).Return(nil).Once()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(ev auditdomain.Event) bool {
		return ev.Type == auditdomain.EventNumberDemotedToPool && ev.Reason == "sitter_cooldown_elapsed"
	})).Once()
	alerts.On("Raise", mock.Anything, mock.MatchedBy(func(a *alertsdomain.Alert) bool {
		return a.Type == alertsdomain.TypeNoSitterNumber && a.EntityID == sitterID.String()
	})).Return(nil).Once()

	num, err := registry.AssignSitterNumber(context.Background(), orgID, sitterID)
	assert.Nil(t, num)
	assert.ErrorIs(t, err, domain.ErrNoAvailableNumber)
	repo.AssertExpectations(t)
	alerts.AssertExpectations(t)
	audit.AssertExpectations(t)
}

func TestAssignSitterNumber_CooldownCutoffIs90Days(t *testing.T) {
	repo := new(MockNumberRepository)
	alerts := new(MockAlertRepository)
	audit := new(MockAuditor)
	registry := newTestRegistry(repo, alerts, audit, LRUStrategy{})

	orgID, sitterID := uuid.New(), uuid.New()

	repo.On("FindActiveBySitter", mock.Anything, orgID, sitterID).Return(nil, nil).Once()
	repo.On("ClaimSitterNumber", mock.Anything, orgID, sitterID).Return(nil, nil).Once()
	repo.On("ListCooldownExpired", mock.Anything, orgID, mock.MatchedBy(func(cutoff time.Time) bool {
		expected := time.Now().UTC().AddDate(0, 0, -90)
		return cutoff.Sub(expected).Abs() < time.Minute
	})).Return(nil, nil).Once()
	alerts.On("Raise", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := registry.AssignSitterNumber(context.Background(), orgID, sitterID)
	assert.ErrorIs(t, err, domain.ErrNoAvailableNumber)
	repo.AssertExpectations(t)
}

// --- GetPoolNumber ---

func poolCandidate(orgID uuid.UUID, e164 string, activeThreads int) *domain.PoolCandidate {
	return &domain.PoolCandidate{
		Number: &domain.PhoneNumber{
			ID:     uuid.New(),
			OrgID:  orgID,
			E164:   e164,
			Class:  domain.ClassPool,
			Status: domain.StatusActive,
		},
		ActiveThreads: activeThreads,
	}
}

func TestGetPoolNumber_LRUSkipsNumbersAtCapacity(t *testing.T) {
	repo := new(MockNumberRepository)
	alerts := new(MockAlertRepository)
	audit := new(MockAuditor)
	registry := newTestRegistry(repo, alerts, audit, LRUStrategy{})

	orgID := uuid.New()
	busy := poolCandidate(orgID, "+15550000010", 1)
	free := poolCandidate(orgID, "+15550000011", 0)

	repo.On("ListPoolWithUsage", mock.Anything, orgID).
		Return([]*domain.PoolCandidate{busy, free}, nil).Once()
	repo.On("TouchLastAssigned", mock.Anything, free.Number.ID, mock.AnythingOfType("time.Time")).Return(nil).Once()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(ev auditdomain.Event) bool {
		return ev.Type == auditdomain.EventPoolNumberAssigned
	})).Once()

	num, err := registry.GetPoolNumber(context.Background(), orgID, SelectionContext{})
	require.NoError(t, err)
	require.NotNil(t, num)
	assert.Equal(t, free.Number.ID, num.ID)
	repo.AssertExpectations(t)
}

func TestGetPoolNumber_ExhaustionReturnsNilAndRaisesAlert(t *testing.T) {
	repo := new(MockNumberRepository)
	alerts := new(MockAlertRepository)
	audit := new(MockAuditor)
	registry := newTestRegistry(repo, alerts, audit, LRUStrategy{})

	orgID := uuid.New()
	busy1 := poolCandidate(orgID, "+15550000010", 1)
	busy2 := poolCandidate(orgID, "+15550000011", 2)

	repo.On("ListPoolWithUsage", mock.Anything, orgID).
		Return([]*domain.PoolCandidate{busy1, busy2}, nil).Once()
	alerts.On("Raise", mock.Anything, mock.MatchedBy(func(a *alertsdomain.Alert) bool {
		return a.Type == alertsdomain.TypePoolExhausted
	})).Return(nil).Once()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(ev auditdomain.Event) bool {
		return ev.Type == auditdomain.EventPoolExhausted
	})).Once()

	num, err := registry.GetPoolNumber(context.Background(), orgID, SelectionContext{})
	require.NoError(t, err)
	assert.Nil(t, num)
	repo.AssertNotCalled(t, "TouchLastAssigned", mock.Anything, mock.Anything, mock.Anything)
	alerts.AssertExpectations(t)
	audit.AssertExpectations(t)
}

func TestGetPoolNumber_ExcludedNumberSkipped(t *testing.T) {
	repo := new(MockNumberRepository)
	alerts := new(MockAlertRepository)
	audit := new(MockAuditor)
	registry := newTestRegistry(repo, alerts, audit, LRUStrategy{})

	orgID := uuid.New()
	first := poolCandidate(orgID, "+15550000010", 0)
	second := poolCandidate(orgID, "+15550000011", 0)

	repo.On("ListPoolWithUsage", mock.Anything, orgID).
		Return([]*domain.PoolCandidate{first, second}, nil).Once()
	repo.On("TouchLastAssigned", mock.Anything, second.Number.ID, mock.AnythingOfType("time.Time")).Return(nil).Once()
	audit.On("Record", mock.Anything, mock.Anything).Once()

	num, err := registry.GetPoolNumber(context.Background(), orgID, SelectionContext{
		Exclude: []uuid.UUID{first.Number.ID},
	})
	require.NoError(t, err)
	require.NotNil(t, num)
	assert.Equal(t, second.Number.ID, num.ID)
}

// --- Strategies ---

func TestStickyHashStrategy_DeterministicForSameClient(t *testing.T) {
	orgID := uuid.New()
	candidates := []*domain.PoolCandidate{
		poolCandidate(orgID, "+15550000010", 0),
		poolCandidate(orgID, "+15550000011", 0),
		poolCandidate(orgID, "+15550000012", 0),
	}

	strategy := StickyHashStrategy{ReuseKey: ReuseByClient}
	sc := SelectionContext{ClientID: uuid.NullUUID{UUID: uuid.New(), Valid: true}}

	first := strategy.Select(candidates, sc)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first.Number.ID, strategy.Select(candidates, sc).Number.ID)
	}
}

func TestStickyHashStrategy_FallsBackToThreadKey(t *testing.T) {
	orgID := uuid.New()
	candidates := []*domain.PoolCandidate{
		poolCandidate(orgID, "+15550000010", 0),
		poolCandidate(orgID, "+15550000011", 0),
	}

	strategy := StickyHashStrategy{ReuseKey: ReuseByClient}
	sc := SelectionContext{ThreadID: uuid.NullUUID{UUID: uuid.New(), Valid: true}}

	first := strategy.Select(candidates, sc)
	require.NotNil(t, first)
	assert.Equal(t, first.Number.ID, strategy.Select(candidates, sc).Number.ID)
}

func TestLRUStrategy_PicksRotationHead(t *testing.T) {
	orgID := uuid.New()
	head := poolCandidate(orgID, "+15550000010", 0)
	tail := poolCandidate(orgID, "+15550000011", 0)

	selected := LRUStrategy{}.Select([]*domain.PoolCandidate{head, tail}, SelectionContext{})
	require.NotNil(t, selected)
	assert.Equal(t, head.Number.ID, selected.Number.ID)
}

// --- Front desk / offboarding ---

func TestGetOrCreateFrontDesk_MissingIsNotConfigured(t *testing.T) {
	repo := new(MockNumberRepository)
	alerts := new(MockAlertRepository)
	audit := new(MockAuditor)
	registry := newTestRegistry(repo, alerts, audit, LRUStrategy{})

	orgID := uuid.New()
	repo.On("GetActiveFrontDesk", mock.Anything, orgID).Return(nil, nil).Once()
	alerts.On("Raise", mock.Anything, mock.MatchedBy(func(a *alertsdomain.Alert) bool {
		return a.Type == alertsdomain.TypeFrontDeskMissing
	})).Return(nil).Once()

	num, err := registry.GetOrCreateFrontDesk(context.Background(), orgID)
	assert.Nil(t, num)
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
	alerts.AssertExpectations(t)
}

func TestDeactivateSitterNumber_StampsCooldown(t *testing.T) {
	repo := new(MockNumberRepository)
	alerts := new(MockAlertRepository)
	audit := new(MockAuditor)
	registry := newTestRegistry(repo, alerts, audit, LRUStrategy{})

	orgID, sitterID := uuid.New(), uuid.New()
	num := activeNumber(orgID, domain.ClassSitter)
	num.AssignedSitterID = uuid.NullUUID{UUID: sitterID, Valid: true}

	repo.On("FindActiveBySitter", mock.Anything, orgID, sitterID).Return(num, nil).Once()
	repo.On("Deactivate", mock.Anything, num.ID, mock.AnythingOfType("time.Time")).Return(nil).Once()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(ev auditdomain.Event) bool {
		return ev.Type == auditdomain.EventSitterNumberDeactivated
	})).Once()

	got, err := registry.DeactivateSitterNumber(context.Background(), orgID, sitterID)
	require.NoError(t, err)
	assert.Equal(t, num.ID, got.ID)
	repo.AssertExpectations(t)
}
