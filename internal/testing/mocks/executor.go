// Package mocks holds testify mocks shared by package tests.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockExecutor is a testify mock for Executor. Arguments are matched as
// (ctx, name, []string{args...}).
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	called := m.Called(ctx, name, args)
	out, _ := called.Get(0).([]byte)
	return out, called.Error(1)
}
