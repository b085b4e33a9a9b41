package actions

import (
	"context"
	"time"

	"csms/common"

	"github.com/google/uuid"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/reservation"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/lorenzodonini/ocpp-go/ocppj"
)

// Reservation is the outcome of ReserveNow
type Reservation struct {
	ReservationID int                           `json:"reservationId"`
	Status        reservation.ReservationStatus `json:"status"`
}

// ReserveNow reserves an EVSE for idTag until expiry. A reservation id is
// allocated when reservationID is 0.
func (s *Service) ReserveNow(ctx context.Context, chargerID string, evseID uuid.UUID, idTag string, expiry time.Time, reservationID int) (*Reservation, error) {
	evse, err := s.evse(chargerID, evseID)
	if err != nil {
		return nil, err
	}

	if !expiry.After(time.Now()) {
		return nil, common.Errorf(common.InvalidArgument, "Expiry date must be in the future")
	}

	if reservationID == 0 {
		reservationID = int(s.reservations.Add(1))
	}

	request := reservation.NewReserveNowRequest(evse.OcppID, types.NewDateTime(expiry), idTag, reservationID)
	if err := ocppj.Validate.Struct(request); err != nil {
		return nil, common.Errorf(common.InvalidArgument, "Invalid reservation: %v", err)
	}

	res, err := send[reservation.ReserveNowConfirmation](ctx, s, chargerID, reservation.ReserveNowFeatureName, request)
	if err != nil {
		return nil, err
	}

	l := s.logAction(chargerID, reservation.ReserveNowFeatureName)
	if res.Status != reservation.ReservationStatusAccepted {
		l.Infof("couldn't reserve connector %d: %s", evse.OcppID, res.Status)
		return &Reservation{ReservationID: reservationID, Status: res.Status}, rejected(reservation.ReserveNowFeatureName, res.Status)
	}

	l.Infof("connector %d reserved for client %s until %s (reservation ID %d)", evse.OcppID, idTag, expiry.Format(time.RFC3339), reservationID)
	return &Reservation{ReservationID: reservationID, Status: res.Status}, nil
}

// CancelReservation cancels a reservation made with ReserveNow
func (s *Service) CancelReservation(ctx context.Context, chargerID string, reservationID int) error {
	res, err := send[reservation.CancelReservationConfirmation](ctx, s, chargerID, reservation.CancelReservationFeatureName, reservation.NewCancelReservationRequest(reservationID))
	if err != nil {
		return err
	}

	if res.Status != reservation.CancelReservationStatusAccepted {
		s.logAction(chargerID, reservation.CancelReservationFeatureName).Infof("couldn't cancel reservation %d", reservationID)
		return rejected(reservation.CancelReservationFeatureName, res.Status)
	}

	s.logAction(chargerID, reservation.CancelReservationFeatureName).Infof("reservation %d canceled successfully", reservationID)
	return nil
}
