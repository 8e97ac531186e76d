package models

// ResultStatus tags the outcome of a best-effort pipeline step so callers
// can tell "nothing to do" apart from "could not do it".
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success" // every item was processed
	ResultPartial ResultStatus = "partial" // some items were skipped
	ResultFailed  ResultStatus = "failed"  // the step produced nothing usable
)

// Degraded reports whether the status is anything other than success.
func (s ResultStatus) Degraded() bool {
	return s != ResultSuccess
}
