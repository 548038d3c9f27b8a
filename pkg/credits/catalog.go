package credits

// DefaultCatalog returns the four fixed purchase tiers priced uniformly at
// pricing.PricePerCredit, expressed in minor currency units.
func DefaultCatalog(pricing Pricing) []Package {
	tiers := []struct {
		id      string
		name    string
		credits int64
	}{
		{id: "basic", name: "Basic", credits: 10},
		{id: "standard", name: "Standard", credits: 25},
		{id: "pro", name: "Pro", credits: 50},
		{id: "enterprise", name: "Enterprise", credits: 100},
	}
	packages := make([]Package, 0, len(tiers))
	for _, tier := range tiers {
		packages = append(packages, Package{
			PackageID:   tier.id,
			Name:        tier.name,
			Credits:     tier.credits,
			AmountMinor: tier.credits * pricing.PricePerCredit * minorUnitsPerCurrency,
			Currency:    pricing.Currency,
		})
	}
	return packages
}

// Packages returns the ordered catalog.
func (service *Service) Packages() []Package {
	catalog := make([]Package, len(service.catalog))
	copy(catalog, service.catalog)
	return catalog
}

func (service *Service) findPackage(packageID PackageID) (Package, error) {
	for _, entry := range service.catalog {
		if entry.PackageID == packageID.String() {
			return entry, nil
		}
	}
	return Package{}, ErrUnknownPackage
}
