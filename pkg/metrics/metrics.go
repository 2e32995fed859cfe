package metrics

/*
Labels and so on for metrics used in moor.
*/

const (
	LabelEnvironment = "environment"
	LabelMethod      = "method"
	LabelSuccess     = "success"

	// Labels for release metrics
	LabelOutcome = "outcome"
	LabelStage   = "stage"
)
