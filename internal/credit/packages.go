package credit

import "github.com/xielinshan811-lab/svg-animate/internal/models"

// catalog is the static recharge catalog. No payment provider is integrated;
// redeeming credits the account unconditionally once the package id is valid.
var catalog = []models.Package{
	{ID: "basic", Name: "Basic", Credits: 10, Price: 9.9},
	{ID: "standard", Name: "Standard", Credits: 50, Price: 39.9, Popular: true},
	{ID: "premium", Name: "Premium", Credits: 200, Price: 99.9},
}

// Packages returns the recharge catalog in display order.
func Packages() []models.Package {
	out := make([]models.Package, len(catalog))
	copy(out, catalog)
	return out
}

// PackageByID looks up a catalog entry.
func PackageByID(id string) (models.Package, bool) {
	for _, pkg := range catalog {
		if pkg.ID == id {
			return pkg, true
		}
	}
	return models.Package{}, false
}
