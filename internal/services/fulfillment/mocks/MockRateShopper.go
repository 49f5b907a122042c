package mocks

import (
	"context"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/rateshop"
	"github.com/stretchr/testify/mock"
)

// MockRateShopper is a mock of fulfillment.RateShopper.
type MockRateShopper struct {
	mock.Mock
}

func (_m *MockRateShopper) Shop(ctx context.Context, c rateshop.Criteria) (*models.RateShopDecision, bool) {
	ret := _m.Called(ctx, c)

	var r0 *models.RateShopDecision
	if v := ret.Get(0); v != nil {
		r0 = v.(*models.RateShopDecision)
	}
	return r0, ret.Bool(1)
}
