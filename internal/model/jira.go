package model

// SearchIssue is one entry of a Jira search response. Only identifiers are
// requested when listing keys.
type SearchIssue struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// SearchResponse represents the response from a Jira search
type SearchResponse struct {
	StartAt    int           `json:"startAt"`
	MaxResults int           `json:"maxResults"`
	Total      int           `json:"total"`
	Issues     []SearchIssue `json:"issues"`
}

// ErrorResponse represents a Jira API error body
type ErrorResponse struct {
	ErrorMessages []string `json:"errorMessages"`
}
