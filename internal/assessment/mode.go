package assessment

type ModeInputs struct {
	QuestionnaireOnly bool
	AssessmentOnly    bool
	ThirdParty        bool
}

// InitialQuestionnaireMode derives the editing mode a view starts in.
// Explicit overrides win over the viewer's role.
func InitialQuestionnaireMode(in ModeInputs) bool {
	switch {
	case in.QuestionnaireOnly:
		return true
	case in.AssessmentOnly:
		return false
	case in.ThirdParty:
		return true
	default:
		return false
	}
}
