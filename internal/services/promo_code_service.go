package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/repositories"
)

const (
	promoEventUnavailable   = "promo.validate.unavailable"
	promoEventMisconfigured = "promo.validate.misconfigured"

	promoOutcomeValid       = "valid"
	promoOutcomeInvalid     = "invalid"
	promoOutcomePackage     = "package"
	promoOutcomeUnavailable = "unavailable"
)

// PromoCodeServiceDeps bundles dependencies required to construct a PromoCodeService implementation.
type PromoCodeServiceDeps struct {
	Repository repositories.PromoCodeRepository
	// Catalog resolves codes that unlock a package. Without it such codes
	// are reported as unavailable.
	Catalog CatalogService
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
	Meter   metric.Meter
}

type promoCodeService struct {
	repo        repositories.PromoCodeRepository
	catalog     CatalogService
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
	validations metric.Int64Counter
}

var _ PromoCodeService = (*promoCodeService)(nil)

// NewPromoCodeService wires a PromoCodeService backed by the provided repository.
func NewPromoCodeService(deps PromoCodeServiceDeps) (PromoCodeService, error) {
	if deps.Repository == nil {
		return nil, ErrPromoRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(servicesMeterName)
	}
	validations, err := meter.Int64Counter("promo.validations",
		metric.WithDescription("Promo code validations by outcome"))
	if err != nil {
		return nil, fmt.Errorf("promo code service: create counter: %w", err)
	}
	return &promoCodeService{
		repo:    deps.Repository,
		catalog: deps.Catalog,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:      logger,
		validations: validations,
	}, nil
}

// ValidatePromoCode checks req.Code against the basket. Unknown, inactive
// or out-of-window codes are reported as invalid with a user-facing
// message; storage failures return ErrPromoServiceUnavailable.
func (s *promoCodeService) ValidatePromoCode(ctx context.Context, req quote.PromoRequest) (domain.PromoValidation, error) {
	code := quote.NormalizeCode(req.Code)
	if code == "" {
		return s.invalid(ctx, code, "Enter a promo code."), nil
	}

	promo, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if repositories.IsNotFound(err) {
			return s.invalid(ctx, code, "This promo code is not recognised."), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.PromoValidation{}, ctxErr
		}
		return domain.PromoValidation{}, s.unavailable(ctx, code, err)
	}

	now := s.clock()
	switch {
	case !strings.EqualFold(strings.TrimSpace(promo.Status), domain.PromoCodeActive):
		return s.invalid(ctx, code, "This promo code is no longer active."), nil
	case !promo.StartsAt.IsZero() && now.Before(promo.StartsAt):
		return s.invalid(ctx, code, "This promo code is not active yet."), nil
	case !promo.EndsAt.IsZero() && !now.Before(promo.EndsAt):
		return s.invalid(ctx, code, "This promo code has expired."), nil
	}

	if packageID := strings.TrimSpace(promo.PackageID); packageID != "" {
		return s.resolvePackage(ctx, code, promo, req.ClinicID)
	}

	basket := req.Basket
	if promo.MinSubtotal > 0 && basket.Subtotal < promo.MinSubtotal {
		return s.invalid(ctx, code, fmt.Sprintf("This promo code requires a minimum spend of %s.", FormatMoney(promo.MinSubtotal, basket.Currency))), nil
	}
	if !promo.DiscountType.Valid() || promo.DiscountValue <= 0 {
		s.logger(ctx, promoEventMisconfigured, map[string]any{"code": code, "discountType": string(promo.DiscountType)})
		return s.invalid(ctx, code, "This promo code cannot be applied."), nil
	}

	rule := quote.PromoRule{Code: code, DiscountType: promo.DiscountType, DiscountValue: promo.DiscountValue}
	amount := quote.PromoDiscount(&rule, basket.Subtotal, basket.OfferDiscount)
	message := strings.TrimSpace(promo.Description)
	if message == "" {
		if promo.DiscountType == domain.DiscountPercentage {
			message = fmt.Sprintf("%d%% discount applied.", promo.DiscountValue)
		} else {
			message = fmt.Sprintf("%s discount applied.", FormatMoney(promo.DiscountValue, basket.Currency))
		}
	}
	s.count(ctx, promoOutcomeValid)
	return domain.PromoValidation{
		Valid:          true,
		Code:           code,
		DiscountType:   promo.DiscountType,
		DiscountValue:  promo.DiscountValue,
		DiscountAmount: amount,
		Message:        message,
		Source:         domain.PromoSourceServer,
	}, nil
}

func (s *promoCodeService) resolvePackage(ctx context.Context, code string, promo domain.PromoCode, clinicID string) (domain.PromoValidation, error) {
	if s.catalog == nil {
		return domain.PromoValidation{}, s.unavailable(ctx, code, errors.New("catalog not configured"))
	}
	pkg, err := s.catalog.FindPackage(ctx, CatalogQuery{ClinicID: clinicID}, promo.PackageID)
	if err != nil {
		if errors.Is(err, ErrCatalogItemNotFound) {
			return s.invalid(ctx, code, "This promo code is not available at this clinic."), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.PromoValidation{}, ctxErr
		}
		return domain.PromoValidation{}, s.unavailable(ctx, code, err)
	}

	message := strings.TrimSpace(promo.Description)
	if message == "" {
		message = fmt.Sprintf("This code unlocks the %s package.", pkg.Name)
	}
	v := domain.PromoValidation{
		Valid:   true,
		Code:    code,
		Package: &pkg,
		Message: message,
		Source:  domain.PromoSourceServer,
	}
	if promo.DiscountType == domain.DiscountPercentage && promo.DiscountValue > 0 {
		v.DiscountType, v.DiscountValue = promo.DiscountType, promo.DiscountValue
	}
	s.count(ctx, promoOutcomePackage)
	return v, nil
}

func (s *promoCodeService) invalid(ctx context.Context, code, message string) domain.PromoValidation {
	s.count(ctx, promoOutcomeInvalid)
	return domain.PromoValidation{Code: code, Message: message, Source: domain.PromoSourceServer}
}

func (s *promoCodeService) unavailable(ctx context.Context, code string, cause error) error {
	s.count(ctx, promoOutcomeUnavailable)
	s.logger(ctx, promoEventUnavailable, map[string]any{"code": code, "error": cause.Error()})
	return fmt.Errorf("%w: %w", ErrPromoServiceUnavailable, cause)
}

func (s *promoCodeService) count(ctx context.Context, outcome string) {
	s.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
