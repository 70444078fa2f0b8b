package options

// Industry types accepted by the Erase.bg transformation.
var IndustryTypes = []string{"general", "ecommerce", "car", "human"}

// DefaultSchema returns the option schema of the Erase.bg background removal
// transformation.
func DefaultSchema() *Schema {
	return MustSchema(
		EnumOption{
			Name:    "Industry Type",
			Title:   "Industry type",
			Param:   "i",
			Values:  IndustryTypes,
			Default: "general",
		},
		BoolOption{
			Name:    "Add Shadow",
			Title:   "Add Shadow (cars only)",
			Param:   "shadow",
			Default: false,
		},
		BoolOption{
			Name:    "Refine",
			Title:   "Refine output",
			Param:   "r",
			Default: true,
		},
	)
}
