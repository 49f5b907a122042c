package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockLocker is a mock of fulfillment.Locker.
type MockLocker struct {
	mock.Mock
}

func (_m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	ret := _m.Called(ctx, key, ttl)

	var r0 func(context.Context) error
	if v := ret.Get(0); v != nil {
		r0 = v.(func(context.Context) error)
	}
	return r0, ret.Bool(1), ret.Error(2)
}
