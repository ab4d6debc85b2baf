// Package forge exposes the GitHub operations the assistant can call on
// pull requests, issues and repository contents. Results are plain
// structs with JSON tags so they can be handed back to the model as-is.
package forge

import "time"

// Label is an issue or pull request label.
type Label struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// BranchRef identifies one side of a pull request.
type BranchRef struct {
	Repo string `json:"repo,omitempty"`
	Ref  string `json:"ref"`
}

// PullRequest is the summary returned when listing pull requests.
type PullRequest struct {
	URL       string     `json:"url"`
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	User      string     `json:"user,omitempty"`
	State     string     `json:"state"`
	Body      string     `json:"body,omitempty"`
	Labels    []Label    `json:"labels"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`
	Assignee  string     `json:"assignee,omitempty"`
	Reviewers []string   `json:"reviewers"`
	Head      BranchRef  `json:"head"`
	Base      BranchRef  `json:"base"`
	AutoMerge bool       `json:"auto_merge"`
	Draft     bool       `json:"draft"`
}

// PullRequestDetail adds merge state and size to PullRequest.
type PullRequestDetail struct {
	PullRequest
	Merged              bool   `json:"merged"`
	Mergeable           *bool  `json:"mergeable"`
	Rebaseable          *bool  `json:"rebaseable"`
	MergeableState      string `json:"mergeable_state,omitempty"`
	MergedBy            string `json:"merged_by,omitempty"`
	Comments            int    `json:"comments"`
	ReviewComments      int    `json:"review_comments"`
	MaintainerCanModify bool   `json:"maintainer_can_modify"`
	Commits             int    `json:"commits"`
	Additions           int    `json:"additions"`
	Deletions           int    `json:"deletions"`
	ChangedFiles        int    `json:"changed_files"`
}

// Review is a submitted pull request review.
type Review struct {
	ID          int64      `json:"id"`
	User        string     `json:"user,omitempty"`
	Body        string     `json:"body,omitempty"`
	State       string     `json:"state"`
	HTMLURL     string     `json:"html_url"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CommitID    string     `json:"commit_id,omitempty"`
}

// MergeResult reports the outcome of a merge.
type MergeResult struct {
	SHA     string `json:"sha"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// Message is the result of operations that only report success.
type Message struct {
	Message string `json:"message"`
}

// ChangedFile is one file touched by a pull request.
type ChangedFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
	RawURL    string `json:"raw_url,omitempty"`
	Patch     string `json:"patch,omitempty"`
}

// DraftReviewComment is an inline comment submitted with a review.
type DraftReviewComment struct {
	Body      string `json:"body"`
	Path      string `json:"path"`
	Side      string `json:"side,omitempty"`
	Line      int    `json:"line,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	StartSide string `json:"start_side,omitempty"`
}

// ReviewRequest creates a pull request review.
type ReviewRequest struct {
	Body     string
	Event    string // APPROVE, REQUEST_CHANGES or COMMENT
	Comments []DraftReviewComment
}

// ReviewComment is an inline review comment on a pull request diff.
type ReviewComment struct {
	ID                  int64      `json:"id"`
	PullRequestReviewID int64      `json:"pull_request_review_id,omitempty"`
	URL                 string     `json:"url"`
	Path                string     `json:"path"`
	Position            *int       `json:"position,omitempty"`
	CommitID            string     `json:"commit_id,omitempty"`
	User                string     `json:"user,omitempty"`
	Body                string     `json:"body"`
	CreatedAt           *time.Time `json:"created_at,omitempty"`
	UpdatedAt           *time.Time `json:"updated_at,omitempty"`
	HTMLURL             string     `json:"html_url"`
	StartLine           *int       `json:"start_line,omitempty"`
	OriginalStartLine   *int       `json:"original_start_line,omitempty"`
	StartSide           string     `json:"start_side,omitempty"`
	Line                *int       `json:"line,omitempty"`
	OriginalLine        *int       `json:"original_line,omitempty"`
	Side                string     `json:"side,omitempty"`
}

// IssueComment is a conversation comment on an issue or pull request.
type IssueComment struct {
	URL       string     `json:"url"`
	User      string     `json:"user,omitempty"`
	Body      string     `json:"body,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	HTMLURL   string     `json:"html_url"`
}

// CreatedComment identifies a newly created comment.
type CreatedComment struct {
	URL     string `json:"url"`
	HTMLURL string `json:"html_url"`
}

// Commit is one commit of a pull request.
type Commit struct {
	URL       string `json:"url"`
	HTMLURL   string `json:"html_url"`
	Author    string `json:"author,omitempty"`
	Committer string `json:"committer,omitempty"`
	Message   string `json:"message"`
	Verified  bool   `json:"verified"`
}

// Content is a file, or one entry of a directory listing. Content and
// Encoding are only set for files.
type Content struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding,omitempty"`
	Size     int    `json:"size"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Content  string `json:"content,omitempty"`
	HTMLURL  string `json:"html_url"`
}
