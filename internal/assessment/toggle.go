package assessment

// NextValue implements "click again to deselect": clicking the active option
// resets to def, any other option becomes the new value.
func NextValue[T comparable](current, clicked, def T) T {
	if clicked == current {
		return def
	}
	return clicked
}

func NextStatus(current, clicked Status) Status {
	return NextValue(current, clicked, StatusToDo)
}

func NextResult(current, clicked Result) Result {
	return NextValue(current, clicked, ResultNotAssessed)
}

// NextChoice applies the same rule to a single-choice answer, whose default
// is no answer at all.
func NextChoice(current *string, clicked string) *string {
	if current != nil && *current == clicked {
		return nil
	}
	return &clicked
}
