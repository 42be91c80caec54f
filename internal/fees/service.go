package fees

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/lumenworks/studiobook-backend/pkg/errors"
)

// Service quotes fee breakdowns against the studio's configured policies.
type Service interface {
	Quote(ctx context.Context, studioID uuid.UUID, paymentMethod string, baseAmount decimal.Decimal) (Breakdown, error)
}

type service struct {
	repo Repository
}

// NewService builds the fee quoting service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, errors.New("fees: repository is required")
	}
	return &service{repo: repo}, nil
}

// Quote resolves the studio's fee policy for the payment method and computes
// the breakdown. A studio with no policy for the method pays no fee.
func (s *service) Quote(ctx context.Context, studioID uuid.UUID, paymentMethod string, baseAmount decimal.Decimal) (Breakdown, error) {
	policy, err := s.repo.FindPolicy(ctx, studioID, paymentMethod)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return Breakdown{
				FeeAmount:   decimal.Zero,
				TotalAmount: baseAmount,
				NetAmount:   baseAmount,
			}, nil
		}
		return Breakdown{}, err
	}
	return Compute(baseAmount, Policy{Type: policy.FeeType, Value: policy.FeeValue}, policy.CustomerPaysFees)
}
