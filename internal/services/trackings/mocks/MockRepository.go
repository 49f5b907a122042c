package mocks

import (
	"context"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a mock of trackings.Repository.
type MockRepository struct {
	mock.Mock
}

func (_m *MockRepository) GetShipment(ctx context.Context, id uint64) (*models.Shipment, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.Shipment
	if v := ret.Get(0); v != nil {
		r0 = v.(*models.Shipment)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) CompareAndSetStatus(ctx context.Context, ch models.StatusChange) (bool, error) {
	ret := _m.Called(ctx, ch)
	return ret.Bool(0), ret.Error(1)
}

func (_m *MockRepository) GetCarrier(ctx context.Context, id uint64) (*models.CarrierDescriptor, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.CarrierDescriptor
	if v := ret.Get(0); v != nil {
		r0 = v.(*models.CarrierDescriptor)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) GetActiveLabel(ctx context.Context, shipmentID uint64) (*models.Label, error) {
	ret := _m.Called(ctx, shipmentID)

	var r0 *models.Label
	if v := ret.Get(0); v != nil {
		r0 = v.(*models.Label)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) AppendTrackingEvent(ctx context.Context, e *models.TrackingEvent) (*models.TrackingEvent, bool, error) {
	ret := _m.Called(ctx, e)

	var r0 *models.TrackingEvent
	if rf, ok := ret.Get(0).(func(context.Context, *models.TrackingEvent) *models.TrackingEvent); ok {
		r0 = rf(ctx, e)
	} else if v := ret.Get(0); v != nil {
		r0 = v.(*models.TrackingEvent)
	}
	return r0, ret.Bool(1), ret.Error(2)
}

func (_m *MockRepository) ListTrackingEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.TrackingEvent, error) {
	ret := _m.Called(ctx, shipmentID, limit, offset)

	var r0 []*models.TrackingEvent
	if v := ret.Get(0); v != nil {
		r0 = v.([]*models.TrackingEvent)
	}
	return r0, ret.Error(1)
}
