// Package mocks provides test doubles for the inference service.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	model "github.com/sells-group/route-tagger/internal/model"
)

// MockService is a mock type for the inference.Service interface.
type MockService struct {
	mock.Mock
}

// Submit provides a mock function with given fields: ctx, path
func (_m *MockService) Submit(ctx context.Context, path string) (string, error) {
	ret := _m.Called(ctx, path)

	if len(ret) == 0 {
		panic("no return value specified for Submit")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string) (string, error)); ok {
		return rf(ctx, path)
	}
	return ret.String(0), ret.Error(1)
}

// Status provides a mock function with given fields: ctx, batchID
func (_m *MockService) Status(ctx context.Context, batchID string) (model.Batch, error) {
	ret := _m.Called(ctx, batchID)

	if len(ret) == 0 {
		panic("no return value specified for Status")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string) (model.Batch, error)); ok {
		return rf(ctx, batchID)
	}
	var r0 model.Batch
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(model.Batch)
	}
	return r0, ret.Error(1)
}

// Results provides a mock function with given fields: ctx, batchID
func (_m *MockService) Results(ctx context.Context, batchID string) ([]model.ResultRecord, error) {
	ret := _m.Called(ctx, batchID)

	if len(ret) == 0 {
		panic("no return value specified for Results")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string) ([]model.ResultRecord, error)); ok {
		return rf(ctx, batchID)
	}
	var r0 []model.ResultRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.ResultRecord)
	}
	return r0, ret.Error(1)
}

// NewMockService creates a new instance of MockService. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockService(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockService {
	m := &MockService{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
