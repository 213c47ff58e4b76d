package quote

import "github.com/smilequote/api/internal/domain"

var (
	implant = domain.Treatment{ID: "dental_implant", Name: "Dental implant", UnitPrice: 900, Category: "implants"}
	crown   = domain.Treatment{ID: "zirconia_crown", Name: "Zirconia crown", UnitPrice: 250, Category: "crowns"}
	veneer  = domain.Treatment{ID: "porcelain_veneer", Name: "Porcelain veneer", UnitPrice: 300, Category: "cosmetic"}

	smilePackage = domain.Package{
		ID:              "hollywood_smile",
		Name:            "Hollywood smile",
		Price:           1800,
		Savings:         250,
		Treatments:      []domain.Treatment{veneer, crown},
		DiscountPercent: 12,
	}
	implantPackage = domain.Package{ID: "implant_bundle", Name: "Implant bundle", Price: 2400, Savings: 400}

	tenPercent  = domain.SpecialOffer{ID: "spring10", Title: "Spring 10%", DiscountType: domain.DiscountPercentage, DiscountValue: 10}
	fifteenOff  = domain.SpecialOffer{ID: "welcome15", Title: "Welcome 15%", DiscountType: domain.DiscountPercentage, DiscountValue: 15}
	fixed200Off = domain.SpecialOffer{ID: "flat200", Title: "200 off", DiscountType: domain.DiscountFixed, DiscountValue: 200}
)
