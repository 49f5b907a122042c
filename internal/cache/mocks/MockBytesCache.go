package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockBytesCache is a mock of cache.BytesCache.
type MockBytesCache struct {
	mock.Mock
}

func (_m *MockBytesCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ret := _m.Called(ctx, key)

	var r0 []byte
	if v := ret.Get(0); v != nil {
		r0 = v.([]byte)
	}
	return r0, ret.Bool(1), ret.Error(2)
}

func (_m *MockBytesCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ret := _m.Called(ctx, key, value, ttl)
	return ret.Error(0)
}

func (_m *MockBytesCache) Del(ctx context.Context, key string) error {
	ret := _m.Called(ctx, key)
	return ret.Error(0)
}
