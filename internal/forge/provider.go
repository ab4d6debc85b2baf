package forge

import "context"

// Provider is the set of GitHub operations exposed as assistant tools.
// Every call names the repository by owner and repo.
type Provider interface {
	ListPullRequests(ctx context.Context, owner, repo string) ([]PullRequest, error)
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequestDetail, error)
	ListReviews(ctx context.Context, owner, repo string, number int) ([]Review, error)

	// MergePullRequest merges with method "merge", "squash" or
	// "rebase". An empty method means squash.
	MergePullRequest(ctx context.Context, owner, repo string, number int, method string) (*MergeResult, error)

	UpdateBranch(ctx context.Context, owner, repo string, number int) (*Message, error)
	ListFiles(ctx context.Context, owner, repo string, number int) ([]ChangedFile, error)
	CreateReview(ctx context.Context, owner, repo string, number int, req ReviewRequest) (int64, error)
	ListReviewComments(ctx context.Context, owner, repo string, number int) ([]ReviewComment, error)
	UpdateReviewComment(ctx context.Context, owner, repo string, commentID int64, body string) error
	DeleteReviewComment(ctx context.Context, owner, repo string, commentID int64) error
	RequestReviewers(ctx context.Context, owner, repo string, number int, reviewers []string) error
	ListIssueComments(ctx context.Context, owner, repo string, number int) ([]IssueComment, error)
	CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*CreatedComment, error)
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
	ListCommits(ctx context.Context, owner, repo string, number int) ([]Commit, error)

	// GetContents returns one entry for a file and one per child for a
	// directory. ref may be empty for the default branch.
	GetContents(ctx context.Context, owner, repo, path, ref string) ([]Content, bool, error)
}
