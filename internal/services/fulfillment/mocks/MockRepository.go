package mocks

import (
	"context"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a mock of fulfillment.Repository.
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

func (_m *MockRepository) GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Shipment, error) {
	ret := _m.Called(ctx, trackingNumber)

	var r0 *models.Shipment
	if v := ret.Get(0); v != nil {
		r0 = v.(*models.Shipment)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) UpdateShipmentCarrier(ctx context.Context, shipmentID, carrierID uint64) error {
	ret := _m.Called(ctx, shipmentID, carrierID)
	return ret.Error(0)
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

func (_m *MockRepository) GetCarrierByCode(ctx context.Context, code string) (*models.CarrierDescriptor, error) {
	ret := _m.Called(ctx, code)

	var r0 *models.CarrierDescriptor
	if v := ret.Get(0); v != nil {
		r0 = v.(*models.CarrierDescriptor)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) GetOrder(ctx context.Context, id uint64) (*models.Order, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.Order
	if v := ret.Get(0); v != nil {
		r0 = v.(*models.Order)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) GetWarehouse(ctx context.Context, id uint64) (*models.Warehouse, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.Warehouse
	if v := ret.Get(0); v != nil {
		r0 = v.(*models.Warehouse)
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

func (_m *MockRepository) GetLabelByNumber(ctx context.Context, labelNumber string) (*models.Label, error) {
	ret := _m.Called(ctx, labelNumber)

	var r0 *models.Label
	if v := ret.Get(0); v != nil {
		r0 = v.(*models.Label)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) InsertLabel(ctx context.Context, l *models.Label) (*models.Label, error) {
	ret := _m.Called(ctx, l)

	var r0 *models.Label
	if rf, ok := ret.Get(0).(func(context.Context, *models.Label) *models.Label); ok {
		r0 = rf(ctx, l)
	} else if v := ret.Get(0); v != nil {
		r0 = v.(*models.Label)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) MarkLabelVoided(ctx context.Context, labelID uint64, at time.Time) error {
	ret := _m.Called(ctx, labelID, at)
	return ret.Error(0)
}
