package portal

// Outcome is the result of a form submission as signalled by the portal.
// The portal answers every case with HTTP 200; only the final path after
// redirects differs.
type Outcome int

const (
	OutcomeUnexpected Outcome = iota
	OutcomeSuccess
	OutcomeCredentialFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeCredentialFailure:
		return "credential failure"
	}
	return "unexpected"
}

// OutcomeClassifier maps the resolved URL path of a response to an Outcome.
type OutcomeClassifier interface {
	Classify(path string) Outcome
}

// PathClassifier classifies by exact match against the index and login paths.
type PathClassifier struct {
	IndexPath string
	LoginPath string
}

// DefaultClassifier matches the portal's account pages.
var DefaultClassifier = PathClassifier{
	IndexPath: IndexPath,
	LoginPath: LoginPath,
}

func (c PathClassifier) Classify(path string) Outcome {
	switch path {
	case c.IndexPath:
		return OutcomeSuccess
	case c.LoginPath:
		return OutcomeCredentialFailure
	}
	return OutcomeUnexpected
}
