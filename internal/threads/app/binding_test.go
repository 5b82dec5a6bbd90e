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

	auditdomain "github.com/snoutservices/relay/internal/audit/domain"
	registryapp "github.com/snoutservices/relay/internal/numberregistry/app"
	numberdomain "github.com/snoutservices/relay/internal/numberregistry/domain"
	"github.com/snoutservices/relay/internal/threads/domain"
)

type MockThreadRepository struct {
	mock.Mock
}

func (m *MockThreadRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Thread, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Thread), args.Error(1)
}

func (m *MockThreadRepository) FindOrCreateOwnerInbox(ctx context.Context, orgID uuid.UUID) (*domain.Thread, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Thread), args.Error(1)
}

func (m *MockThreadRepository) FindOrCreateGeneral(ctx context.Context, orgID, clientID uuid.UUID) (*domain.Thread, error) {
	args := m.Called(ctx, orgID, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Thread), args.Error(1)
}

func (m *MockThreadRepository) FindOrCreateJob(ctx context.Context, orgID, clientID uuid.UUID, sitterID uuid.NullUUID, bookingRef string) (*domain.Thread, error) {
	args := m.Called(ctx, orgID, clientID, sitterID, bookingRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Thread), args.Error(1)
}

func (m *MockThreadRepository) BindNumber(ctx context.Context, threadID, numberID uuid.UUID, class numberdomain.NumberClass) error {
	args := m.Called(ctx, threadID, numberID, class)
	return args.Error(0)
}

func (m *MockThreadRepository) BindPoolNumber(ctx context.Context, threadID, numberID uuid.UUID, maxActive int) (bool, error) {
	args := m.Called(ctx, threadID, numberID, maxActive)
	return args.Bool(0), args.Error(1)
}

func (m *MockThreadRepository) Unbind(ctx context.Context, threadID uuid.UUID) error {
	args := m.Called(ctx, threadID)
	return args.Error(0)
}

func (m *MockThreadRepository) FindActivePoolThreadForSender(ctx context.Context, orgID, numberID uuid.UUID, senderE164 string) (*domain.Thread, error) {
	args := m.Called(ctx, orgID, numberID, senderE164)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Thread), args.Error(1)
}

func (m *MockThreadRepository) RecordInbound(ctx context.Context, threadID uuid.UUID, at time.Time, deliveredToOwner bool) error {
	args := m.Called(ctx, threadID, at, deliveredToOwner)
	return args.Error(0)
}

func (m *MockThreadRepository) RecordOutbound(ctx context.Context, threadID uuid.UUID, at time.Time) error {
	args := m.Called(ctx, threadID, at)
	return args.Error(0)
}

func (m *MockThreadRepository) SetSitter(ctx context.Context, threadID uuid.UUID, sitterID uuid.NullUUID) error {
	args := m.Called(ctx, threadID, sitterID)
	return args.Error(0)
}

func (m *MockThreadRepository) UnassignSitterThreads(ctx context.Context, orgID, sitterID uuid.UUID) (int64, error) {
	args := m.Called(ctx, orgID, sitterID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockThreadRepository) Archive(ctx context.Context, threadID uuid.UUID) error {
	args := m.Called(ctx, threadID)
	return args.Error(0)
}

type MockNumberProvider struct {
	mock.Mock
}

func (m *MockNumberProvider) GetByID(ctx context.Context, id uuid.UUID) (*numberdomain.PhoneNumber, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*numberdomain.PhoneNumber), args.Error(1)
}

func (m *MockNumberProvider) GetOrCreateFrontDesk(ctx context.Context, orgID uuid.UUID) (*numberdomain.PhoneNumber, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*numberdomain.PhoneNumber), args.Error(1)
}

func (m *MockNumberProvider) AssignSitterNumber(ctx context.Context, orgID, sitterID uuid.UUID) (*numberdomain.PhoneNumber, error) {
	args := m.Called(ctx, orgID, sitterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*numberdomain.PhoneNumber), args.Error(1)
}

func (m *MockNumberProvider) GetPoolNumber(ctx context.Context, orgID uuid.UUID, sc registryapp.SelectionContext) (*numberdomain.PhoneNumber, error) {
	args := m.Called(ctx, orgID, sc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*numberdomain.PhoneNumber), args.Error(1)
}

type MockAuditor struct {
	mock.Mock
}

func (m *MockAuditor) Record(ctx context.Context, ev auditdomain.Event) {
	m.Called(ctx, ev)
}

func newTestBinding(threads *MockThreadRepository, numbers *MockNumberProvider, audit *MockAuditor) *Binding {
	return NewBinding(threads, numbers, audit, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func number(class numberdomain.NumberClass, e164 string) *numberdomain.PhoneNumber {
	return &numberdomain.PhoneNumber{
		ID:     uuid.New(),
		OrgID:  uuid.New(),
		E164:   e164,
		Class:  class,
		Status: numberdomain.StatusActive,
	}
}

func TestDetermineNumberClass_DecisionTable(t *testing.T) {
	sitter := uuid.NullUUID{UUID: uuid.New(), Valid: true}

	tests := []struct {
		name string
		cc   ClassContext
		want numberdomain.NumberClass
	}{
		{"meet and greet wins over sitter", ClassContext{IsMeetAndGreet: true, SitterID: sitter}, numberdomain.ClassFrontDesk},
		{"one-time client uses pool", ClassContext{IsOneTimeClient: true, SitterID: sitter}, numberdomain.ClassPool},
		{"assigned sitter uses sitter number", ClassContext{SitterID: sitter}, numberdomain.ClassSitter},
		{"no signals falls back to front desk", ClassContext{}, numberdomain.ClassFrontDesk},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetermineNumberClass(tc.cc))
		})
	}
}

func TestBindNumberToThread_SitterClassBindsAndAudits(t *testing.T) {
	threads := new(MockThreadRepository)
	numbers := new(MockNumberProvider)
	audit := new(MockAuditor)
	binding := newTestBinding(threads, numbers, audit)

	orgID, threadID, sitterID := uuid.New(), uuid.New(), uuid.New()
	num := number(numberdomain.ClassSitter, "+15550001111")

	numbers.On("AssignSitterNumber", mock.Anything, orgID, sitterID).Return(num, nil).Once()
	threads.On("BindNumber", mock.Anything, threadID, num.ID, numberdomain.ClassSitter).Return(nil).Once()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(ev auditdomain.Event) bool {
		return ev.Type == auditdomain.EventNumberBound && ev.NumberID.UUID == num.ID
	})).Once()

	got, err := binding.BindNumberToThread(context.Background(), threadID, numberdomain.ClassSitter, BindContext{
		OrgID:    orgID,
		SitterID: uuid.NullUUID{UUID: sitterID, Valid: true},
	})
	require.NoError(t, err)
	assert.Equal(t, num.ID, got.ID)
	threads.AssertExpectations(t)
	audit.AssertExpectations(t)
}

func TestBindNumberToThread_SitterClassWithoutSitterIsViolation(t *testing.T) {
	threads := new(MockThreadRepository)
	numbers := new(MockNumberProvider)
	audit := new(MockAuditor)
	binding := newTestBinding(threads, numbers, audit)

	_, err := binding.BindNumberToThread(context.Background(), uuid.New(), numberdomain.ClassSitter, BindContext{
		OrgID: uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, domain.IsInvariantViolation(err))
	numbers.AssertNotCalled(t, "AssignSitterNumber", mock.Anything, mock.Anything, mock.Anything)
}

func TestBindNumberToThread_ClassMismatchAbortsAndAudits(t *testing.T) {
	threads := new(MockThreadRepository)
	numbers := new(MockNumberProvider)
	audit := new(MockAuditor)
	binding := newTestBinding(threads, numbers, audit)

	orgID, threadID := uuid.New(), uuid.New()
	wrong := number(numberdomain.ClassPool, "+15550002222")

	numbers.On("GetOrCreateFrontDesk", mock.Anything, orgID).Return(wrong, nil).Once()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(ev auditdomain.Event) bool {
		return ev.Type == auditdomain.EventInvariantViolation && ev.Reason == domain.InvariantNumberClassMatch
	})).Once()

	_, err := binding.BindNumberToThread(context.Background(), threadID, numberdomain.ClassFrontDesk, BindContext{OrgID: orgID})
	require.Error(t, err)
	assert.True(t, domain.IsInvariantViolation(err))
	threads.AssertNotCalled(t, "BindNumber", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	audit.AssertExpectations(t)
}

func TestBindNumberToThread_PoolExhaustionSurfacesError(t *testing.T) {
	threads := new(MockThreadRepository)
	numbers := new(MockNumberProvider)
	audit := new(MockAuditor)
	binding := newTestBinding(threads, numbers, audit)

	orgID, threadID := uuid.New(), uuid.New()

	numbers.On("GetPoolNumber", mock.Anything, orgID, mock.Anything).Return(nil, nil).Once()

	_, err := binding.BindNumberToThread(context.Background(), threadID, numberdomain.ClassPool, BindContext{OrgID: orgID})
	require.Error(t, err)
	assert.ErrorIs(t, err, numberdomain.ErrNoAvailableNumber)
	threads.AssertNotCalled(t, "BindPoolNumber", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBindNumberToThread_PoolBindIsConditionalClaim(t *testing.T) {
	threads := new(MockThreadRepository)
	numbers := new(MockNumberProvider)
	audit := new(MockAuditor)
	binding := newTestBinding(threads, numbers, audit)

	orgID, threadID := uuid.New(), uuid.New()
	num := number(numberdomain.ClassPool, "+15550004444")

	numbers.On("GetPoolNumber", mock.Anything, orgID, mock.Anything).Return(num, nil).Once()
	threads.On("BindPoolNumber", mock.Anything, threadID, num.ID, 1).Return(true, nil).Once()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(ev auditdomain.Event) bool {
		return ev.Type == auditdomain.EventNumberBound && ev.NumberID.UUID == num.ID
	})).Once()

	got, err := binding.BindNumberToThread(context.Background(), threadID, numberdomain.ClassPool, BindContext{OrgID: orgID})
	require.NoError(t, err)
	assert.Equal(t, num.ID, got.ID)
	threads.AssertNotCalled(t, "BindNumber", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	threads.AssertExpectations(t)
}

func TestBindNumberToThread_PoolClaimLostRaceReselectsExcludingNumber(t *testing.T) {
	threads := new(MockThreadRepository)
	numbers := new(MockNumberProvider)
	audit := new(MockAuditor)
	binding := newTestBinding(threads, numbers, audit)

	orgID, threadID := uuid.New(), uuid.New()
	filled := number(numberdomain.ClassPool, "+15550004444")
	free := number(numberdomain.ClassPool, "+15550005555")

	// First candidate reached capacity between the usage snapshot and the
	// claim; the claim must fail and the reselect must exclude it.
	numbers.On("GetPoolNumber", mock.Anything, orgID, mock.MatchedBy(func(sc registryapp.SelectionContext) bool {
		return len(sc.Exclude) == 0
	})).Return(filled, nil).Once()
	threads.On("BindPoolNumber", mock.Anything, threadID, filled.ID, 1).Return(false, nil).Once()
	numbers.On("GetPoolNumber", mock.Anything, orgID, mock.MatchedBy(func(sc registryapp.SelectionContext) bool {
		return len(sc.Exclude) == 1 && sc.Exclude[0] == filled.ID
	})).Return(free, nil).Once()
	threads.On("BindPoolNumber", mock.Anything, threadID, free.ID, 1).Return(true, nil).Once()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(ev auditdomain.Event) bool {
		return ev.Type == auditdomain.EventNumberBound && ev.NumberID.UUID == free.ID
	})).Once()

	got, err := binding.BindNumberToThread(context.Background(), threadID, numberdomain.ClassPool, BindContext{OrgID: orgID})
	require.NoError(t, err)
	assert.Equal(t, free.ID, got.ID)
	numbers.AssertExpectations(t)
	threads.AssertExpectations(t)
	audit.AssertExpectations(t)
}

func TestBindNumberToThread_PoolClaimRaceExhaustsWhenNoCandidateLeft(t *testing.T) {
	threads := new(MockThreadRepository)
	numbers := new(MockNumberProvider)
	audit := new(MockAuditor)
	binding := newTestBinding(threads, numbers, audit)

	orgID, threadID := uuid.New(), uuid.New()
	contested := number(numberdomain.ClassPool, "+15550004444")

	// A capacity-1 pool with one number: the loser of a concurrent claim
	// must come away with ErrNoAvailableNumber, never a shared binding.
	numbers.On("GetPoolNumber", mock.Anything, orgID, mock.MatchedBy(func(sc registryapp.SelectionContext) bool {
		return len(sc.Exclude) == 0
	})).Return(contested, nil).Once()
	threads.On("BindPoolNumber", mock.Anything, threadID, contested.ID, 1).Return(false, nil).Once()
	numbers.On("GetPoolNumber", mock.Anything, orgID, mock.MatchedBy(func(sc registryapp.SelectionContext) bool {
		return len(sc.Exclude) == 1 && sc.Exclude[0] == contested.ID
	})).Return(nil, nil).Once()

	_, err := binding.BindNumberToThread(context.Background(), threadID, numberdomain.ClassPool, BindContext{OrgID: orgID})
	require.Error(t, err)
	assert.ErrorIs(t, err, numberdomain.ErrNoAvailableNumber)
	audit.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
	numbers.AssertExpectations(t)
}

func TestCheckOutboundInvariants_FromMustMatchBoundNumber(t *testing.T) {
	threads := new(MockThreadRepository)
	numbers := new(MockNumberProvider)
	audit := new(MockAuditor)
	binding := newTestBinding(threads, numbers, audit)

	orgID, threadID := uuid.New(), uuid.New()
	num := number(numberdomain.ClassSitter, "+15550003333")
	thread := &domain.Thread{
		ID:            threadID,
		OrgID:         orgID,
		BoundNumberID: uuid.NullUUID{UUID: num.ID, Valid: true},
		NumberClass:   numberdomain.ClassSitter,
		Status:        domain.StatusActive,
	}

	threads.On("GetByID", mock.Anything, threadID).Return(thread, nil).Twice()
	numbers.On("GetByID", mock.Anything, num.ID).Return(num, nil).Twice()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(ev auditdomain.Event) bool {
		return ev.Type == auditdomain.EventInvariantViolation && ev.Reason == domain.InvariantFromNumberMatchesThread
	})).Once()

	require.NoError(t, binding.CheckOutboundInvariants(context.Background(), orgID, threadID, "+15550003333"))

	err := binding.CheckOutboundInvariants(context.Background(), orgID, threadID, "+15559999999")
	require.Error(t, err)
	assert.True(t, domain.IsInvariantViolation(err))
	audit.AssertExpectations(t)
}

func TestCheckOutboundInvariants_RejectsForeignOrgAndUnboundThread(t *testing.T) {
	threads := new(MockThreadRepository)
	numbers := new(MockNumberProvider)
	audit := new(MockAuditor)
	binding := newTestBinding(threads, numbers, audit)

	orgID, threadID := uuid.New(), uuid.New()

	foreign := &domain.Thread{ID: threadID, OrgID: uuid.New()}
	threads.On("GetByID", mock.Anything, threadID).Return(foreign, nil).Once()
	audit.On("Record", mock.Anything, mock.Anything)

	err := binding.CheckOutboundInvariants(context.Background(), orgID, threadID, "+15550000000")
	assert.True(t, domain.IsInvariantViolation(err))

	unbound := &domain.Thread{ID: threadID, OrgID: orgID}
	threads.On("GetByID", mock.Anything, threadID).Return(unbound, nil).Once()

	err = binding.CheckOutboundInvariants(context.Background(), orgID, threadID, "+15550000000")
	assert.True(t, domain.IsInvariantViolation(err))
	numbers.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestCheckOutboundInvariants_MissingThreadIsViolation(t *testing.T) {
	threads := new(MockThreadRepository)
	numbers := new(MockNumberProvider)
	audit := new(MockAuditor)
	binding := newTestBinding(threads, numbers, audit)

	threadID := uuid.New()
	threads.On("GetByID", mock.Anything, threadID).Return(nil, domain.ErrNotFound).Once()
	audit.On("Record", mock.Anything, mock.Anything).Once()

	err := binding.CheckOutboundInvariants(context.Background(), uuid.New(), threadID, "+15550000000")
	assert.True(t, domain.IsInvariantViolation(err))
}
