package store

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/trapsight/trap-telemetry/pkg/models"
)

// MockClient is a mock implementation of the Client interface, shared by
// the package tests that exercise persistence behavior.
type MockClient struct {
	mock.Mock
}

// Ensure MockClient implements Client
var _ Client = (*MockClient)(nil)

func (m *MockClient) EnsureStreams(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) AppendEvent(ctx context.Context, ev *models.AttackEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockClient) EventsByTimeRange(ctx context.Context, from, to time.Time) ([]*models.AttackEvent, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AttackEvent), args.Error(1)
}

func (m *MockClient) UpsertProfile(ctx context.Context, p *models.AttackerProfile) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockClient) GetProfile(ctx context.Context, sourceIP string) (*models.AttackerProfile, error) {
	args := m.Called(ctx, sourceIP)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AttackerProfile), args.Error(1)
}

func (m *MockClient) InsertAlert(ctx context.Context, alert *models.SecurityAlert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *MockClient) UpdateAlertStatus(ctx context.Context, alert *models.SecurityAlert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *MockClient) OpenAlerts(ctx context.Context) ([]*models.SecurityAlert, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SecurityAlert), args.Error(1)
}

func (m *MockClient) ExecuteQuery(ctx context.Context, query string) ([]map[string]interface{}, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]map[string]interface{}), args.Error(1)
}

func (m *MockClient) Close() error {
	args := m.Called()
	return args.Error(0)
}
