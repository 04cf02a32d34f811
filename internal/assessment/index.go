package assessment

// Index maps requirement ids to their definitions.
type Index struct {
	byID map[string]RequirementDefinition
}

func NewIndex(defs []RequirementDefinition) *Index {
	byID := make(map[string]RequirementDefinition, len(defs))
	for _, def := range defs {
		byID[def.ID] = def
	}
	return &Index{byID: byID}
}

func (ix *Index) Lookup(id string) (RequirementDefinition, bool) {
	if ix == nil {
		return RequirementDefinition{}, false
	}
	def, ok := ix.byID[id]
	return def, ok
}

// Resolve returns the definition of the assessment's requirement. On a miss
// the assessment's own display fields stand in for the definition.
func (ix *Index) Resolve(ra *RequirementAssessment) RequirementDefinition {
	if def, ok := ix.Lookup(ra.Requirement); ok {
		return def
	}
	return RequirementDefinition{
		ID:           ra.Requirement,
		Name:         ra.Name,
		DisplayShort: ra.DisplayShort,
		Description:  ra.Description,
		Assessable:   true,
	}
}

func (ix *Index) Title(ra *RequirementAssessment) string {
	def := ix.Resolve(ra)
	return DisplayTitle(def.DisplayShort, def.Name)
}

// DisplayTitle prefers the short display name, then the long name.
func DisplayTitle(displayShort, name string) string {
	if displayShort != "" {
		return displayShort
	}
	return name
}
