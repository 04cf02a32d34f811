package search

// Result is a single evidence hit returned to the caller.
type Result struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Snippet       string `json:"snippet"`
	HasAttachment bool   `json:"hasAttachment"`
}

// Query describes an evidence search.
type Query struct {
	Text string
	// ComplianceAssessmentID restricts hits to evidence linked to one
	// assessment; empty searches everything.
	ComplianceAssessmentID string
	Limit                  int
	Offset                 int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute an evidence search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push evidence into a search index.
type Indexer interface {
	IndexEvidence(ev EvidenceRecord) error
	DeleteEvidence(id string) error
}

// EvidenceRecord is the data we index for an evidence.
type EvidenceRecord struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name"`
	Description            string   `json:"description"`
	AttachmentName         string   `json:"attachmentName"`
	RequirementAssessments []string `json:"requirementAssessments"`
	ComplianceAssessments  []string `json:"complianceAssessments"`
}
