package server

// HTTPError is the unified error body returned by the API.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type PromptRequest struct {
	Prompt string `json:"prompt"`
}

type PromptResponse struct {
	Prompt  string `json:"prompt"`
	Default bool   `json:"default"`
}

// AnalyzeRequest submits raw text for extraction.
type AnalyzeRequest struct {
	Content   string  `json:"content"`
	SourceURL *string `json:"source_url,omitempty"`
}

// FromURLRequest submits a web page for readability extraction followed
// by analysis.
type FromURLRequest struct {
	URL string `json:"url"`
}

// SearchResult pairs a full-text hit with its stored extraction.
type SearchResult struct {
	Score      float64     `json:"score"`
	Extraction interface{} `json:"extraction"`
}

// WordPressSiteRequest identifies one site of a multisite installation.
type WordPressSiteRequest struct {
	BaseDomain      string `json:"base_domain"`
	UseSubdirectory bool   `json:"use_subdirectory"`
	Site            string `json:"site"`
}

// WordPressPostsRequest lists posts of one site with filters.
type WordPressPostsRequest struct {
	WordPressSiteRequest
	Search     string `json:"search,omitempty"`
	Categories []int  `json:"categories,omitempty"`
	After      string `json:"after,omitempty"`
	Before     string `json:"before,omitempty"`
	PerPage    int    `json:"per_page,omitempty"`
	Page       int    `json:"page,omitempty"`
}

// WordPressImportRequest imports selected posts and runs extraction on
// each.
type WordPressImportRequest struct {
	WordPressSiteRequest
	PostIDs []int `json:"post_ids"`
}

// ImportOutcome reports the per-post result of a WordPress import.
type ImportOutcome struct {
	PostID       int    `json:"post_id"`
	Title        string `json:"title,omitempty"`
	ExtractionID int64  `json:"extraction_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// WatchRequest registers a recurring WordPress search.
type WatchRequest struct {
	BaseDomain      string `json:"base_domain"`
	UseSubdirectory bool   `json:"use_subdirectory"`
	Site            string `json:"site"`
	Search          string `json:"search"`
	CronSpec        string `json:"cron"`
}
