package query

// Diagnostic describes a part of a query that was left out of the compiled request, such as a
// pipeline metric whose input could not be found. Compilation still succeeds; callers that want
// strict behavior can treat any diagnostic as an error.
type Diagnostic struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}
