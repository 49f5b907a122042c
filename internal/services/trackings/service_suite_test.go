package trackings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	cachemocks "github.com/BearBump/ShipBox/internal/cache/mocks"
	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/integrations/carrier/sandbox"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	trackingsmocks "github.com/BearBump/ShipBox/internal/services/trackings/mocks"
)

type ServiceSuite struct {
	suite.Suite

	repo  *trackingsmocks.MockRepository
	cache *cachemocks.MockBytesCache
	svc   *Service

	shippedAt time.Time
	occurred  time.Time
}

func (s *ServiceSuite) SetupTest() {
	s.repo = &trackingsmocks.MockRepository{}
	s.cache = &cachemocks.MockBytesCache{}
	s.svc = New(s.repo, carrier.NewRegistry(sandbox.New()), s.cache, 10*time.Minute)
	s.shippedAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s.occurred = time.Date(2025, 3, 4, 15, 30, 0, 0, time.UTC)
}

func (s *ServiceSuite) shipment(status models.ShipmentStatus) *models.Shipment {
	return &models.Shipment{
		ID:             42,
		TrackingNumber: "TN42",
		Status:         status,
		CarrierID:      1,
		ShippedAt:      &s.shippedAt,
	}
}

func (s *ServiceSuite) expectLookup(sh *models.Shipment) {
	s.repo.On("GetShipment", mock.Anything, uint64(42)).Return(sh, nil).Once()
	s.repo.On("GetCarrier", mock.Anything, uint64(1)).
		Return(&models.CarrierDescriptor{ID: 1, Code: "SANDBOX"}, nil).
		Once()
}

func (s *ServiceSuite) expectAppend(inserted bool) {
	s.repo.On("AppendTrackingEvent", mock.Anything, mock.Anything).
		Return(func(_ context.Context, e *models.TrackingEvent) *models.TrackingEvent {
			out := *e
			out.ID = 900
			return &out
		}, inserted, nil).
		Once()
}

func (s *ServiceSuite) input(status string) models.TrackingInput {
	return models.TrackingInput{ShipmentID: 42, TrackingNumber: "TN42", Status: status, OccurredAt: s.occurred}
}

func (s *ServiceSuite) TestIngest_DeliveredOnInTransitShipment() {
	s.expectLookup(s.shipment(models.ShipmentStatusInTransit))
	s.expectAppend(true)
	s.repo.On("CompareAndSetStatus", mock.Anything, mock.MatchedBy(func(ch models.StatusChange) bool {
		return ch.ShipmentID == 42 &&
			ch.From == models.ShipmentStatusInTransit &&
			ch.To == models.ShipmentStatusDelivered &&
			ch.ShippedAt == nil &&
			ch.DeliveredAt != nil && ch.DeliveredAt.Equal(s.occurred)
	})).Return(true, nil).Once()

	delivered := s.shipment(models.ShipmentStatusDelivered)
	delivered.DeliveredAt = &s.occurred
	s.repo.On("GetShipment", mock.Anything, uint64(42)).Return(delivered, nil).Once()
	s.cache.On("Set", mock.Anything, "shipment:42:current", mock.Anything, 10*time.Minute).Return(nil).Once()

	ev, err := s.svc.IngestTracking(context.Background(), s.input("Delivered"))
	s.Require().NoError(err)
	s.Require().Equal(uint64(900), ev.ID)
	s.Require().Equal(models.ShipmentStatusDelivered, ev.Status)
	s.Require().Equal("Delivered", ev.StatusRaw)
	s.repo.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestIngest_UnknownStatusIsStoredButChangesNothing() {
	s.expectLookup(s.shipment(models.ShipmentStatusInTransit))
	s.expectAppend(true)

	ev, err := s.svc.IngestTracking(context.Background(), s.input("customer not home, will retry"))
	s.Require().NoError(err)
	s.Require().Equal(models.ShipmentStatusUnknown, ev.Status)
	s.repo.AssertNotCalled(s.T(), "CompareAndSetStatus", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestIngest_DuplicateAlreadyAppliedChangesNothing() {
	s.expectLookup(s.shipment(models.ShipmentStatusInTransit))
	s.expectAppend(false)

	_, err := s.svc.IngestTracking(context.Background(), s.input("in_transit"))
	s.Require().NoError(err)
	s.repo.AssertNotCalled(s.T(), "CompareAndSetStatus", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestIngest_RedeliveryAfterFailedStatusWrite() {
	pending := s.shipment(models.ShipmentStatusPending)
	pending.ShippedAt = nil

	// first delivery: the event is stored, the status write fails
	s.expectLookup(pending)
	s.expectAppend(true)
	s.repo.On("CompareAndSetStatus", mock.Anything, mock.Anything).
		Return(false, errors.New("db connection reset")).
		Once()

	_, err := s.svc.IngestTracking(context.Background(), s.input("Delivered"))
	s.Require().ErrorContains(err, "db connection reset")

	// redelivery: the event is a duplicate, its status is still applied
	s.expectLookup(pending)
	s.expectAppend(false)
	s.repo.On("CompareAndSetStatus", mock.Anything, mock.MatchedBy(func(ch models.StatusChange) bool {
		return ch.From == models.ShipmentStatusPending &&
			ch.To == models.ShipmentStatusDelivered &&
			ch.DeliveredAt != nil && ch.DeliveredAt.Equal(s.occurred)
	})).Return(true, nil).Once()

	delivered := s.shipment(models.ShipmentStatusDelivered)
	delivered.DeliveredAt = &s.occurred
	s.repo.On("GetShipment", mock.Anything, uint64(42)).Return(delivered, nil).Once()
	s.cache.On("Set", mock.Anything, "shipment:42:current", mock.Anything, 10*time.Minute).Return(nil).Once()

	ev, err := s.svc.IngestTracking(context.Background(), s.input("Delivered"))
	s.Require().NoError(err)
	s.Require().Equal(models.ShipmentStatusDelivered, ev.Status)
	s.repo.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestIngest_RegressionIgnored() {
	s.expectLookup(s.shipment(models.ShipmentStatusInTransit))
	s.expectAppend(true)

	_, err := s.svc.IngestTracking(context.Background(), s.input("shipped"))
	s.Require().NoError(err)
	s.repo.AssertNotCalled(s.T(), "CompareAndSetStatus", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestIngest_TerminalShipmentUnchanged() {
	s.expectLookup(s.shipment(models.ShipmentStatusDelivered))
	s.expectAppend(true)

	_, err := s.svc.IngestTracking(context.Background(), s.input("cancelled"))
	s.Require().NoError(err)
	s.repo.AssertNotCalled(s.T(), "CompareAndSetStatus", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestIngest_ValidateErrors() {
	in := s.input("Delivered")
	in.ShipmentID = 0
	_, err := s.svc.IngestTracking(context.Background(), in)
	s.Require().True(shiperr.IsValidation(err))

	in = s.input("")
	_, err = s.svc.IngestTracking(context.Background(), in)
	s.Require().ErrorContains(err, "status")

	in = s.input("Delivered")
	in.OccurredAt = time.Time{}
	_, err = s.svc.IngestTracking(context.Background(), in)
	s.Require().ErrorContains(err, "occurredAt")

	s.repo.AssertNotCalled(s.T(), "GetShipment", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestIngest_TrackingNumberMayBeCarrierNumber() {
	sh := s.shipment(models.ShipmentStatusShipped)
	s.repo.On("GetShipment", mock.Anything, uint64(42)).Return(sh, nil)
	s.repo.On("GetActiveLabel", mock.Anything, uint64(42)).
		Return(&models.Label{ShipmentID: 42, LabelNumber: "SBX0000000042"}, nil)
	s.repo.On("GetCarrier", mock.Anything, uint64(1)).Return(&models.CarrierDescriptor{ID: 1, Code: "SANDBOX"}, nil)
	s.expectAppend(true)

	in := s.input("unrecognised scan")
	in.TrackingNumber = "SBX0000000042"
	_, err := s.svc.IngestTracking(context.Background(), in)
	s.Require().NoError(err)

	in.TrackingNumber = "SOMEONE-ELSE"
	_, err = s.svc.IngestTracking(context.Background(), in)
	s.Require().True(shiperr.IsValidation(err))
}

func (s *ServiceSuite) TestIngest_ShipmentNotFound() {
	s.repo.On("GetShipment", mock.Anything, uint64(42)).Return(nil, shiperr.NotFound("shipment", 42)).Once()
	_, err := s.svc.IngestTracking(context.Background(), s.input("Delivered"))
	s.Require().True(shiperr.IsNotFound(err))
}

func (s *ServiceSuite) TestGetShipment_CacheHit_NoDB() {
	b, _ := json.Marshal(s.shipment(models.ShipmentStatusInTransit))
	s.cache.On("Get", mock.Anything, "shipment:42:current").Return(b, true, nil).Once()

	sh, err := s.svc.GetShipment(context.Background(), 42)
	s.Require().NoError(err)
	s.Require().Equal(models.ShipmentStatusInTransit, sh.Status)
	s.repo.AssertNotCalled(s.T(), "GetShipment", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestGetShipment_CacheMiss_StoresView() {
	s.cache.On("Get", mock.Anything, "shipment:42:current").Return(nil, false, nil).Once()
	s.repo.On("GetShipment", mock.Anything, uint64(42)).Return(s.shipment(models.ShipmentStatusShipped), nil).Once()
	s.cache.On("Set", mock.Anything, "shipment:42:current", mock.Anything, 10*time.Minute).Return(nil).Once()

	sh, err := s.svc.GetShipment(context.Background(), 42)
	s.Require().NoError(err)
	s.Require().Equal("TN42", sh.TrackingNumber)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetShipment_CacheDisabled_GoesToDB() {
	svc := New(s.repo, carrier.NewRegistry(sandbox.New()), s.cache, 0)
	s.repo.On("GetShipment", mock.Anything, uint64(42)).Return(s.shipment(models.ShipmentStatusShipped), nil).Once()

	_, err := svc.GetShipment(context.Background(), 42)
	s.Require().NoError(err)
	s.cache.AssertNotCalled(s.T(), "Get", mock.Anything, mock.Anything)
	s.cache.AssertNotCalled(s.T(), "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestListTrackingEvents_DefaultsAndClamp() {
	svc := New(s.repo, carrier.NewRegistry(sandbox.New()), nil, 0)
	s.repo.On("GetShipment", mock.Anything, uint64(42)).Return(s.shipment(models.ShipmentStatusShipped), nil)
	s.repo.On("ListTrackingEvents", mock.Anything, uint64(42), 50, 0).Return([]*models.TrackingEvent{{ID: 1}}, nil).Once()
	s.repo.On("ListTrackingEvents", mock.Anything, uint64(42), 500, 10).Return([]*models.TrackingEvent{}, nil).Once()

	out, err := svc.ListTrackingEvents(context.Background(), 42, 0, -3)
	s.Require().NoError(err)
	s.Require().Len(out, 1)

	_, err = svc.ListTrackingEvents(context.Background(), 42, 10_000, 10)
	s.Require().NoError(err)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestUpdateShipmentStatus_RejectsPendingAfterShipping() {
	s.repo.On("GetShipment", mock.Anything, uint64(42)).Return(s.shipment(models.ShipmentStatusShipped), nil).Once()

	_, err := s.svc.UpdateShipmentStatus(context.Background(), 42, models.ShipmentStatusPending)
	s.Require().True(shiperr.IsValidation(err))
	s.repo.AssertNotCalled(s.T(), "CompareAndSetStatus", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestUpdateShipmentStatus_Applies() {
	s.repo.On("GetShipment", mock.Anything, uint64(42)).Return(s.shipment(models.ShipmentStatusShipped), nil).Once()
	s.repo.On("CompareAndSetStatus", mock.Anything, mock.MatchedBy(func(ch models.StatusChange) bool {
		return ch.From == models.ShipmentStatusShipped && ch.To == models.ShipmentStatusCancelled
	})).Return(true, nil).Once()
	s.repo.On("GetShipment", mock.Anything, uint64(42)).Return(s.shipment(models.ShipmentStatusCancelled), nil).Once()
	s.cache.On("Set", mock.Anything, "shipment:42:current", mock.Anything, 10*time.Minute).Return(nil).Once()

	sh, err := s.svc.UpdateShipmentStatus(context.Background(), 42, models.ShipmentStatusCancelled)
	s.Require().NoError(err)
	s.Require().Equal(models.ShipmentStatusCancelled, sh.Status)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestHandleTrackingMessage() {
	s.Require().NoError(s.svc.HandleTrackingMessage(context.Background(), []byte("{not json")))

	notFound, _ := json.Marshal(messages.NewTrackingReported("mqtt", models.TrackingInput{
		ShipmentID: 7, TrackingNumber: "TN7", Status: "delivered", OccurredAt: s.occurred,
	}))
	s.repo.On("GetShipment", mock.Anything, uint64(7)).Return(nil, shiperr.NotFound("shipment", 7)).Once()
	s.Require().NoError(s.svc.HandleTrackingMessage(context.Background(), notFound))

	s.repo.On("GetShipment", mock.Anything, uint64(7)).Return(nil, errors.New("connection reset")).Once()
	s.Require().Error(s.svc.HandleTrackingMessage(context.Background(), notFound))
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
