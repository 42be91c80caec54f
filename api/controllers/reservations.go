package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenworks/studiobook-backend/api/middleware"
	"github.com/lumenworks/studiobook-backend/api/responses"
	"github.com/lumenworks/studiobook-backend/api/validators"
	"github.com/lumenworks/studiobook-backend/internal/checkout"
	"github.com/lumenworks/studiobook-backend/internal/reconcile"
	"github.com/lumenworks/studiobook-backend/internal/reservations"
	"github.com/lumenworks/studiobook-backend/pkg/enums"
	pkgerrors "github.com/lumenworks/studiobook-backend/pkg/errors"
	"github.com/lumenworks/studiobook-backend/pkg/logger"
	"github.com/lumenworks/studiobook-backend/pkg/outbox"
)

type confirmReservationRequest struct {
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	PaymentMethod string          `json:"payment_method" validate:"required,min=2,max=64"`
	PaymentType   string          `json:"payment_type" validate:"omitempty,oneof=dp full remaining"`
}

type startCheckoutRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method" validate:"required,min=2,max=64"`
	PaymentType   string          `json:"payment_type" validate:"omitempty,oneof=dp full remaining"`
}

// StaffConfirmReservation records a manually verified payment against the
// reservation. The coordinator decides settlement and reservation status.
func StaffConfirmReservation(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile service unavailable"))
			return
		}

		reservationID, err := parseReservationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body confirmReservationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snapshot, err := svc.Reconcile(r.Context(), reconcile.Input{
			ReservationID: reservationID,
			Amount:        body.Amount,
			PaymentMethod: body.PaymentMethod,
			PaymentType:   enums.PaymentType(body.PaymentType),
			Source:        reconcile.SourceManual,
			Actor:         actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, snapshot)
	}
}

// StaffReservationDetail returns the reservation with its payment history.
func StaffReservationDetail(repo reservations.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservations repository unavailable"))
			return
		}

		reservationID, err := parseReservationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reservation, err := repo.FindByIDWithPayments(r.Context(), reservationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, reservation)
	}
}

// StartCheckout opens a pending payment and returns the hosted checkout URL.
func StartCheckout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		reservationID, err := parseReservationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body startCheckoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Start(r.Context(), checkout.StartInput{
			ReservationID: reservationID,
			PaymentType:   enums.PaymentType(body.PaymentType),
			PaymentMethod: body.PaymentMethod,
			Amount:        body.Amount,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func parseReservationID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "reservationId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reservation id")
	}
	return id, nil
}

func actorFromContext(r *http.Request) (*outbox.ActorRef, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	actorID, err := uuid.Parse(userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}

	actor := &outbox.ActorRef{
		UserID: actorID,
		Role:   middleware.RoleFromContext(r.Context()),
	}
	if raw := middleware.StudioIDFromContext(r.Context()); raw != "" {
		if studioID, err := uuid.Parse(raw); err == nil {
			actor.StudioID = &studioID
		}
	}
	return actor, nil
}
