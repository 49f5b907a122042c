package mocks

import (
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockNotifier is a mock of fulfillment.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (_m *MockNotifier) LabelIssued(sh *models.Shipment, l *models.Label) {
	_m.Called(sh, l)
}
