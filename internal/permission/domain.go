package permission

// Category groups permissions by the back-office module they protect.
type Category string

const (
	CategoryUsers         Category = "users"
	CategoryMembers       Category = "members"
	CategoryParcels       Category = "parcels"
	CategoryCrops         Category = "crops"
	CategoryHarvests      Category = "harvests"
	CategoryTreatments    Category = "treatments"
	CategoryTransfers     Category = "transfers"
	CategoryReports       Category = "reports"
	CategoryAudit         Category = "audit"
	CategoryConfiguration Category = "configuration"
)

// Categories lists every known category in declaration order.
func Categories() []Category {
	return []Category{
		CategoryUsers,
		CategoryMembers,
		CategoryParcels,
		CategoryCrops,
		CategoryHarvests,
		CategoryTreatments,
		CategoryTransfers,
		CategoryReports,
		CategoryAudit,
		CategoryConfiguration,
	}
}

// Permission represents an atomic capability. Immutable once referenced by a role.
type Permission struct {
	ID          int64
	Codename    string
	Category    Category
	Description string
}
