package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/repositories"
)

// PromoCodeRepository indexes promo codes by upper-cased code.
type PromoCodeRepository struct {
	mu    sync.RWMutex
	codes map[string]domain.PromoCode
	err   error
}

var _ repositories.PromoCodeRepository = (*PromoCodeRepository)(nil)

func NewPromoCodeRepository() *PromoCodeRepository {
	return &PromoCodeRepository{codes: make(map[string]domain.PromoCode)}
}

// FailWith makes every lookup fail as unavailable until reset with nil.
func (r *PromoCodeRepository) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *PromoCodeRepository) FindByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	if err := ctx.Err(); err != nil {
		return domain.PromoCode{}, err
	}
	key := promoKey(code)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return domain.PromoCode{}, repositories.NewUnavailable("promo_codes.get", r.err)
	}
	promo, ok := r.codes[key]
	if !ok {
		return domain.PromoCode{}, repositories.NewNotFound("promo_codes.get", key)
	}
	return promo, nil
}

func (r *PromoCodeRepository) Upsert(_ context.Context, code domain.PromoCode) error {
	code.Code = promoKey(code.Code)
	r.mu.Lock()
	r.codes[code.Code] = code
	r.mu.Unlock()
	return nil
}

func promoKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
