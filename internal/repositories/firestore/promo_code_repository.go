package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smilequote/api/internal/domain"
	pfirestore "github.com/smilequote/api/internal/platform/firestore"
	"github.com/smilequote/api/internal/repositories"
)

const promoCodesCollection = "promo_codes"

// PromoCodeRepository stores promo codes keyed by their upper-case code.
type PromoCodeRepository struct {
	codes *pfirestore.Collection[promoCodeDocument]
}

var _ repositories.PromoCodeRepository = (*PromoCodeRepository)(nil)

// NewPromoCodeRepository constructs a Firestore-backed promo code repository.
func NewPromoCodeRepository(provider *pfirestore.Provider) (*PromoCodeRepository, error) {
	if provider == nil {
		return nil, errors.New("promo code repository requires firestore provider")
	}
	return &PromoCodeRepository{codes: pfirestore.NewCollection[promoCodeDocument](provider, promoCodesCollection)}, nil
}

func (r *PromoCodeRepository) FindByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	key := strings.ToUpper(strings.TrimSpace(code))
	if key == "" {
		return domain.PromoCode{}, pfirestore.NotFound(promoCodesCollection+".get", code)
	}
	doc, err := r.codes.Get(ctx, key)
	if err != nil {
		return domain.PromoCode{}, err
	}
	promo := domain.PromoCode{
		Code:          key,
		Status:        doc.Status,
		DiscountType:  domain.DiscountType(doc.DiscountType),
		DiscountValue: doc.DiscountValue,
		PackageID:     doc.PackageID,
		MinSubtotal:   doc.MinSubtotal,
		Description:   doc.Description,
	}
	if doc.StartsAt != nil {
		promo.StartsAt = doc.StartsAt.UTC()
	}
	if doc.EndsAt != nil {
		promo.EndsAt = doc.EndsAt.UTC()
	}
	return promo, nil
}

func (r *PromoCodeRepository) Upsert(ctx context.Context, promo domain.PromoCode) error {
	key := strings.ToUpper(strings.TrimSpace(promo.Code))
	doc := promoCodeDocument{
		Status:        promo.Status,
		DiscountType:  string(promo.DiscountType),
		DiscountValue: promo.DiscountValue,
		PackageID:     promo.PackageID,
		MinSubtotal:   promo.MinSubtotal,
		StartsAt:      optionalTime(promo.StartsAt),
		EndsAt:        optionalTime(promo.EndsAt),
		Description:   promo.Description,
	}
	return r.codes.Set(ctx, key, doc)
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
