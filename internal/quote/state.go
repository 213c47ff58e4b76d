package quote

import (
	"fmt"
	"strings"

	"github.com/smilequote/api/internal/domain"
)

// PromoRule is the promo code currently bound to the selection. A rule
// with PackageID set came from a package substitution and carries no
// discount of its own; DisplayPercent is shown to the user instead.
type PromoRule struct {
	Code           string
	DiscountType   domain.DiscountType
	DiscountValue  int64
	Source         domain.PromoSource
	PackageID      string
	DisplayPercent int64
	Pending        bool
}

// Snapshot is a detached copy of the selection. At most one of
// Treatments and Package is populated.
type Snapshot struct {
	Treatments []domain.TreatmentSelection
	Package    *domain.Package
	Offer      *domain.SpecialOffer
	Promo      *PromoRule
}

// Empty reports whether nothing is selected.
func (s Snapshot) Empty() bool {
	return len(s.Treatments) == 0 && s.Package == nil
}

// PromoCode returns the active code or "".
func (s Snapshot) PromoCode() string {
	if s.Promo == nil {
		return ""
	}
	return s.Promo.Code
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{}
	if len(s.Treatments) > 0 {
		out.Treatments = append([]domain.TreatmentSelection(nil), s.Treatments...)
	}
	if s.Package != nil {
		pkg := clonePackage(*s.Package)
		out.Package = &pkg
	}
	if s.Offer != nil {
		offer := *s.Offer
		out.Offer = &offer
	}
	if s.Promo != nil {
		promo := *s.Promo
		out.Promo = &promo
	}
	return out
}

// Validate checks the selection invariants.
func (s Snapshot) Validate() error {
	if len(s.Treatments) > 0 && s.Package != nil {
		return fmt.Errorf("%w: treatments and package are mutually exclusive", ErrInvalidSnapshot)
	}
	seen := make(map[string]struct{}, len(s.Treatments))
	for _, line := range s.Treatments {
		if strings.TrimSpace(line.Treatment.ID) == "" {
			return fmt.Errorf("%w: treatment without id", ErrInvalidSnapshot)
		}
		if _, dup := seen[line.Treatment.ID]; dup {
			return fmt.Errorf("%w: duplicate treatment %s", ErrInvalidSnapshot, line.Treatment.ID)
		}
		seen[line.Treatment.ID] = struct{}{}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: quantity for %s must be at least 1", ErrInvalidSnapshot, line.Treatment.ID)
		}
		if line.Treatment.UnitPrice < 0 {
			return fmt.Errorf("%w: negative price for %s", ErrInvalidSnapshot, line.Treatment.ID)
		}
	}
	if s.Package != nil && (s.Package.Price < 0 || s.Package.Savings < 0) {
		return fmt.Errorf("%w: negative package amounts", ErrInvalidSnapshot)
	}
	if s.Offer != nil && (!s.Offer.DiscountType.Valid() || s.Offer.DiscountValue < 0) {
		return fmt.Errorf("%w: offer %s has an invalid discount", ErrInvalidSnapshot, s.Offer.ID)
	}
	if p := s.Promo; p != nil {
		if p.Code == "" {
			return fmt.Errorf("%w: promo without code", ErrInvalidSnapshot)
		}
		if p.PackageID == "" && p.DiscountValue < 0 {
			return fmt.Errorf("%w: negative promo discount", ErrInvalidSnapshot)
		}
	}
	return nil
}

// State is the mutable selection owned by one session. It is not safe for
// concurrent use; Session serialises access.
type State struct {
	treatments []domain.TreatmentSelection
	pkg        *domain.Package
	offer      *domain.SpecialOffer
	promo      *PromoRule
	version    uint64
}

// NewState returns an empty selection.
func NewState() *State {
	return &State{}
}

// FromSnapshot hydrates a State after checking invariants.
func FromSnapshot(s Snapshot) (*State, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	st := &State{}
	st.Restore(s)
	return st, nil
}

// Snapshot copies the current selection.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Treatments: s.treatments,
		Package:    s.pkg,
		Offer:      s.offer,
		Promo:      s.promo,
	}.Clone()
}

// Restore replaces the whole selection with snap.
func (s *State) Restore(snap Snapshot) {
	c := snap.Clone()
	s.treatments, s.pkg, s.offer, s.promo = c.Treatments, c.Package, c.Offer, c.Promo
	s.version++
}

// Version increases on every mutation.
func (s *State) Version() uint64 { return s.version }

// IsEmpty reports whether neither treatments nor a package are selected.
func (s *State) IsEmpty() bool {
	return len(s.treatments) == 0 && s.pkg == nil
}

// SelectTreatment toggles t. While a package is active the package is
// dropped and the selection starts over with only t.
func (s *State) SelectTreatment(t domain.Treatment) {
	if strings.TrimSpace(t.ID) == "" {
		return
	}
	defer s.touch()
	if s.pkg != nil {
		s.dropPackage()
		s.treatments = []domain.TreatmentSelection{{Treatment: t, Quantity: 1}}
		return
	}
	for i, line := range s.treatments {
		if line.Treatment.ID == t.ID {
			s.treatments = append(s.treatments[:i:i], s.treatments[i+1:]...)
			return
		}
	}
	s.treatments = append(s.treatments, domain.TreatmentSelection{Treatment: t, Quantity: 1})
}

// UpdateQuantity sets the quantity of a selected treatment. Zero removes
// the line, negative values and unknown ids are ignored. It reports
// whether anything changed.
func (s *State) UpdateQuantity(treatmentID string, quantity int) bool {
	if quantity < 0 {
		return false
	}
	for i, line := range s.treatments {
		if line.Treatment.ID != treatmentID {
			continue
		}
		if quantity == 0 {
			s.treatments = append(s.treatments[:i:i], s.treatments[i+1:]...)
		} else {
			s.treatments[i].Quantity = quantity
		}
		s.touch()
		return true
	}
	return false
}

// SelectPackage toggles p. Selecting clears any treatments.
func (s *State) SelectPackage(p domain.Package) {
	if strings.TrimSpace(p.ID) == "" {
		return
	}
	defer s.touch()
	if s.pkg != nil && s.pkg.ID == p.ID {
		s.dropPackage()
		return
	}
	s.dropPackage()
	s.setPackage(p)
}

// ApplyOffer toggles o.
func (s *State) ApplyOffer(o domain.SpecialOffer) {
	if strings.TrimSpace(o.ID) == "" {
		return
	}
	defer s.touch()
	if s.offer != nil && s.offer.ID == o.ID {
		s.offer = nil
		return
	}
	offer := o
	s.offer = &offer
}

// ClearOffer removes the active offer.
func (s *State) ClearOffer() {
	s.offer = nil
	s.touch()
}

// ClearPromoCode removes the active promo code and its discount.
func (s *State) ClearPromoCode() {
	s.promo = nil
	s.touch()
}

// Reset empties the selection.
func (s *State) Reset() {
	s.treatments, s.pkg, s.offer, s.promo = nil, nil, nil, nil
	s.touch()
}

func (s *State) setPromo(rule PromoRule) {
	s.promo = &rule
	s.touch()
}

// substitute replaces the selection with p and binds rule to it.
func (s *State) substitute(p domain.Package, rule PromoRule) {
	s.treatments = nil
	s.pkg = nil
	s.setPackage(p)
	rule.PackageID = p.ID
	s.setPromo(rule)
}

// dropPendingPromo removes an optimistic marker for code, if still present.
func (s *State) dropPendingPromo(code string) {
	if s.promo != nil && s.promo.Pending && s.promo.Code == code {
		s.promo = nil
		s.touch()
	}
}

func (s *State) setPackage(p domain.Package) {
	pkg := clonePackage(p)
	s.pkg = &pkg
	s.treatments = nil
}

// dropPackage clears the package together with a promo code bound to it.
func (s *State) dropPackage() {
	if s.pkg == nil {
		return
	}
	if s.promo != nil && s.promo.PackageID == s.pkg.ID {
		s.promo = nil
	}
	s.pkg = nil
}

func (s *State) touch() { s.version++ }

func clonePackage(p domain.Package) domain.Package {
	if len(p.Treatments) > 0 {
		p.Treatments = append([]domain.Treatment(nil), p.Treatments...)
	}
	return p
}
