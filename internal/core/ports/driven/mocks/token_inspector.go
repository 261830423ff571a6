package mocks

import (
	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

// MockTokenInspector returns fixed token info.
type MockTokenInspector struct {
	Info *domain.TokenInfo
	Err  error
}

func (m *MockTokenInspector) Inspect(token string) (*domain.TokenInfo, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Info == nil {
		return &domain.TokenInfo{}, nil
	}
	return m.Info, nil
}
