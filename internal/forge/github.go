package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gogithub "github.com/google/go-github/v69/github"
)

const (
	perPage  = 100
	maxPages = 10

	// maxCommits matches the GitHub pull request commits endpoint cap.
	maxCommits = 250
)

// GitHub implements Provider with the go-github SDK.
type GitHub struct {
	clients clientSource
	logger  *slog.Logger
}

// checkRateLimit warns when the remaining API budget runs low.
func (g *GitHub) checkRateLimit(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Remaining > 0 && resp.Rate.Remaining < 100 {
		g.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// Ping checks that GitHub accepts the configured credentials.
func (g *GitHub) Ping(ctx context.Context) error {
	if err := g.clients.ping(ctx); err != nil {
		return fmt.Errorf("github: %w", err)
	}
	return nil
}

// ListPullRequests returns the repository's open pull requests.
func (g *GitHub) ListPullRequests(ctx context.Context, owner, repo string) ([]PullRequest, error) {
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	results, resp, err := c.PullRequests.List(ctx, owner, repo, &gogithub.PullRequestListOptions{
		State:       "open",
		ListOptions: gogithub.ListOptions{PerPage: perPage},
	})
	if err != nil {
		return nil, fmt.Errorf("forge: list pull requests: %w", err)
	}
	g.checkRateLimit(resp)

	prs := make([]PullRequest, 0, len(results))
	for _, pr := range results {
		prs = append(prs, convertPR(pr))
	}
	return prs, nil
}

// GetPullRequest fetches one pull request with merge state.
func (g *GitHub) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequestDetail, error) {
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	pr, resp, err := c.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("forge: get pull request #%d: %w", number, err)
	}
	g.checkRateLimit(resp)

	return &PullRequestDetail{
		PullRequest:         convertPR(pr),
		Merged:              pr.GetMerged(),
		Mergeable:           pr.Mergeable,
		Rebaseable:          pr.Rebaseable,
		MergeableState:      pr.GetMergeableState(),
		MergedBy:            pr.GetMergedBy().GetLogin(),
		Comments:            pr.GetComments(),
		ReviewComments:      pr.GetReviewComments(),
		MaintainerCanModify: pr.GetMaintainerCanModify(),
		Commits:             pr.GetCommits(),
		Additions:           pr.GetAdditions(),
		Deletions:           pr.GetDeletions(),
		ChangedFiles:        pr.GetChangedFiles(),
	}, nil
}

// ListReviews returns the reviews submitted on a pull request.
func (g *GitHub) ListReviews(ctx context.Context, owner, repo string, number int) ([]Review, error) {
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	results, resp, err := c.PullRequests.ListReviews(ctx, owner, repo, number, &gogithub.ListOptions{PerPage: perPage})
	if err != nil {
		return nil, fmt.Errorf("forge: list reviews #%d: %w", number, err)
	}
	g.checkRateLimit(resp)

	reviews := make([]Review, 0, len(results))
	for _, r := range results {
		reviews = append(reviews, Review{
			ID:          r.GetID(),
			User:        r.GetUser().GetLogin(),
			Body:        r.GetBody(),
			State:       r.GetState(),
			HTMLURL:     r.GetHTMLURL(),
			SubmittedAt: timePtr(r.SubmittedAt),
			CommitID:    r.GetCommitID(),
		})
	}
	return reviews, nil
}

// MergePullRequest merges a pull request into its base branch.
func (g *GitHub) MergePullRequest(ctx context.Context, owner, repo string, number int, method string) (*MergeResult, error) {
	if method == "" {
		method = "squash"
	}
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	result, resp, err := c.PullRequests.Merge(ctx, owner, repo, number, "", &gogithub.PullRequestOptions{
		MergeMethod: method,
	})
	if err != nil {
		return nil, fmt.Errorf("forge: merge #%d: %w", number, err)
	}
	g.checkRateLimit(resp)

	return &MergeResult{
		SHA:     result.GetSHA(),
		Merged:  result.GetMerged(),
		Message: result.GetMessage(),
	}, nil
}

// UpdateBranch merges the base branch into the pull request branch.
// GitHub schedules the update and answers 202 Accepted.
func (g *GitHub) UpdateBranch(ctx context.Context, owner, repo string, number int) (*Message, error) {
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	result, resp, err := c.PullRequests.UpdateBranch(ctx, owner, repo, number, nil)
	var accepted *gogithub.AcceptedError
	if errors.As(err, &accepted) {
		var body gogithub.PullRequestBranchUpdateResponse
		if json.Unmarshal(accepted.Raw, &body) == nil && body.Message != nil {
			return &Message{Message: body.GetMessage()}, nil
		}
		return &Message{Message: "Updating pull request branch."}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("forge: update branch #%d: %w", number, err)
	}
	g.checkRateLimit(resp)
	return &Message{Message: result.GetMessage()}, nil
}

// ListFiles returns the files changed by a pull request with patches.
func (g *GitHub) ListFiles(ctx context.Context, owner, repo string, number int) ([]ChangedFile, error) {
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	var files []ChangedFile
	opts := &gogithub.ListOptions{PerPage: perPage}
	for page := 0; page < maxPages; page++ {
		results, resp, err := c.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("forge: list files #%d: %w", number, err)
		}
		g.checkRateLimit(resp)
		for _, f := range results {
			files = append(files, ChangedFile{
				Filename:  f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Changes:   f.GetChanges(),
				RawURL:    f.GetRawURL(),
				Patch:     f.GetPatch(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return files, nil
}

// CreateReview submits a review and returns its id.
func (g *GitHub) CreateReview(ctx context.Context, owner, repo string, number int, req ReviewRequest) (int64, error) {
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return 0, err
	}

	ghReq := &gogithub.PullRequestReviewRequest{Event: gogithub.Ptr(req.Event)}
	if req.Body != "" {
		ghReq.Body = gogithub.Ptr(req.Body)
	}
	for _, dc := range req.Comments {
		comment := &gogithub.DraftReviewComment{
			Path: gogithub.Ptr(dc.Path),
			Body: gogithub.Ptr(dc.Body),
		}
		if dc.Side != "" {
			comment.Side = gogithub.Ptr(dc.Side)
		}
		if dc.Line > 0 {
			comment.Line = gogithub.Ptr(dc.Line)
		}
		if dc.StartLine > 0 {
			comment.StartLine = gogithub.Ptr(dc.StartLine)
		}
		if dc.StartSide != "" {
			comment.StartSide = gogithub.Ptr(dc.StartSide)
		}
		ghReq.Comments = append(ghReq.Comments, comment)
	}

	review, resp, err := c.PullRequests.CreateReview(ctx, owner, repo, number, ghReq)
	if err != nil {
		return 0, fmt.Errorf("forge: create review #%d: %w", number, err)
	}
	g.checkRateLimit(resp)
	return review.GetID(), nil
}

// ListReviewComments returns inline review comments in ascending id
// order.
func (g *GitHub) ListReviewComments(ctx context.Context, owner, repo string, number int) ([]ReviewComment, error) {
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	results, resp, err := c.PullRequests.ListComments(ctx, owner, repo, number, &gogithub.PullRequestListCommentsOptions{
		ListOptions: gogithub.ListOptions{PerPage: perPage},
	})
	if err != nil {
		return nil, fmt.Errorf("forge: list review comments #%d: %w", number, err)
	}
	g.checkRateLimit(resp)

	comments := make([]ReviewComment, 0, len(results))
	for _, rc := range results {
		comments = append(comments, ReviewComment{
			ID:                  rc.GetID(),
			PullRequestReviewID: rc.GetPullRequestReviewID(),
			URL:                 rc.GetURL(),
			Path:                rc.GetPath(),
			Position:            rc.Position,
			CommitID:            rc.GetCommitID(),
			User:                rc.GetUser().GetLogin(),
			Body:                rc.GetBody(),
			CreatedAt:           timePtr(rc.CreatedAt),
			UpdatedAt:           timePtr(rc.UpdatedAt),
			HTMLURL:             rc.GetHTMLURL(),
			StartLine:           rc.StartLine,
			OriginalStartLine:   rc.OriginalStartLine,
			StartSide:           rc.GetStartSide(),
			Line:                rc.Line,
			OriginalLine:        rc.OriginalLine,
			Side:                rc.GetSide(),
		})
	}
	return comments, nil
}

// UpdateReviewComment replaces the body of a review comment.
func (g *GitHub) UpdateReviewComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return err
	}
	_, resp, err := c.PullRequests.EditComment(ctx, owner, repo, commentID, &gogithub.PullRequestComment{
		Body: gogithub.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("forge: update review comment %d: %w", commentID, err)
	}
	g.checkRateLimit(resp)
	return nil
}

// DeleteReviewComment removes a review comment.
func (g *GitHub) DeleteReviewComment(ctx context.Context, owner, repo string, commentID int64) error {
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return err
	}
	resp, err := c.PullRequests.DeleteComment(ctx, owner, repo, commentID)
	if err != nil {
		return fmt.Errorf("forge: delete review comment %d: %w", commentID, err)
	}
	g.checkRateLimit(resp)
	return nil
}

// RequestReviewers asks users to review a pull request.
func (g *GitHub) RequestReviewers(ctx context.Context, owner, repo string, number int, reviewers []string) error {
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return err
	}
	_, resp, err := c.PullRequests.RequestReviewers(ctx, owner, repo, number, gogithub.ReviewersRequest{
		Reviewers: reviewers,
	})
	if err != nil {
		return fmt.Errorf("forge: request reviewers #%d: %w", number, err)
	}
	g.checkRateLimit(resp)
	return nil
}

// ListIssueComments returns the conversation comments of an issue or
// pull request.
func (g *GitHub) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]IssueComment, error) {
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	results, resp, err := c.Issues.ListComments(ctx, owner, repo, number, &gogithub.IssueListCommentsOptions{
		ListOptions: gogithub.ListOptions{PerPage: perPage},
	})
	if err != nil {
		return nil, fmt.Errorf("forge: list issue comments #%d: %w", number, err)
	}
	g.checkRateLimit(resp)

	comments := make([]IssueComment, 0, len(results))
	for _, ic := range results {
		comments = append(comments, IssueComment{
			URL:       ic.GetURL(),
			User:      ic.GetUser().GetLogin(),
			Body:      ic.GetBody(),
			CreatedAt: timePtr(ic.CreatedAt),
			UpdatedAt: timePtr(ic.UpdatedAt),
			HTMLURL:   ic.GetHTMLURL(),
		})
	}
	return comments, nil
}

// CreateIssueComment posts a conversation comment.
func (g *GitHub) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*CreatedComment, error) {
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	ic, resp, err := c.Issues.CreateComment(ctx, owner, repo, number, &gogithub.IssueComment{
		Body: gogithub.Ptr(body),
	})
	if err != nil {
		return nil, fmt.Errorf("forge: create issue comment #%d: %w", number, err)
	}
	g.checkRateLimit(resp)
	return &CreatedComment{URL: ic.GetURL(), HTMLURL: ic.GetHTMLURL()}, nil
}

// AddLabels adds labels to an issue or pull request.
func (g *GitHub) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return err
	}
	_, resp, err := c.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels)
	if err != nil {
		return fmt.Errorf("forge: add labels #%d: %w", number, err)
	}
	g.checkRateLimit(resp)
	return nil
}

// ListCommits returns up to 250 commits of a pull request.
func (g *GitHub) ListCommits(ctx context.Context, owner, repo string, number int) ([]Commit, error) {
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	var commits []Commit
	opts := &gogithub.ListOptions{PerPage: perPage}
	for len(commits) < maxCommits {
		results, resp, err := c.PullRequests.ListCommits(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("forge: list commits #%d: %w", number, err)
		}
		g.checkRateLimit(resp)
		for _, rc := range results {
			commits = append(commits, Commit{
				URL:       rc.GetURL(),
				HTMLURL:   rc.GetHTMLURL(),
				Author:    rc.GetAuthor().GetLogin(),
				Committer: rc.GetCommitter().GetLogin(),
				Message:   rc.GetCommit().GetMessage(),
				Verified:  rc.GetCommit().GetVerification().GetVerified(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	if len(commits) > maxCommits {
		commits = commits[:maxCommits]
	}
	return commits, nil
}

// GetContents reads a file or lists a directory. File content is
// decoded when GitHub sends it base64 encoded.
func (g *GitHub) GetContents(ctx context.Context, owner, repo, path, ref string) ([]Content, bool, error) {
	c, err := g.clients.client(ctx, owner, repo)
	if err != nil {
		return nil, false, err
	}
	var opts *gogithub.RepositoryContentGetOptions
	if ref != "" {
		opts = &gogithub.RepositoryContentGetOptions{Ref: ref}
	}

	file, dir, resp, err := c.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		return nil, false, fmt.Errorf("forge: get contents %s: %w", path, err)
	}
	g.checkRateLimit(resp)

	if file == nil {
		entries := make([]Content, 0, len(dir))
		for _, e := range dir {
			entries = append(entries, convertContent(e))
		}
		return entries, true, nil
	}

	out := convertContent(file)
	if file.GetType() == "file" {
		if decoded, err := file.GetContent(); err == nil {
			out.Content = decoded
		} else {
			if file.Content != nil {
				out.Content = *file.Content
			}
			out.Encoding = file.GetEncoding()
		}
	}
	return []Content{out}, false, nil
}

func convertContent(rc *gogithub.RepositoryContent) Content {
	return Content{
		Type:    rc.GetType(),
		Size:    rc.GetSize(),
		Name:    rc.GetName(),
		Path:    rc.GetPath(),
		HTMLURL: rc.GetHTMLURL(),
	}
}

func convertPR(pr *gogithub.PullRequest) PullRequest {
	out := PullRequest{
		URL:       pr.GetURL(),
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		User:      pr.GetUser().GetLogin(),
		State:     pr.GetState(),
		Body:      pr.GetBody(),
		Labels:    make([]Label, 0, len(pr.Labels)),
		CreatedAt: timePtr(pr.CreatedAt),
		UpdatedAt: timePtr(pr.UpdatedAt),
		ClosedAt:  timePtr(pr.ClosedAt),
		MergedAt:  timePtr(pr.MergedAt),
		Assignee:  pr.GetAssignee().GetLogin(),
		Reviewers: make([]string, 0, len(pr.RequestedReviewers)),
		Head: BranchRef{
			Repo: pr.GetHead().GetRepo().GetName(),
			Ref:  pr.GetHead().GetRef(),
		},
		Base: BranchRef{
			Repo: pr.GetBase().GetRepo().GetName(),
			Ref:  pr.GetBase().GetRef(),
		},
		AutoMerge: pr.AutoMerge != nil,
		Draft:     pr.GetDraft(),
	}
	for _, l := range pr.Labels {
		out.Labels = append(out.Labels, Label{Name: l.GetName(), Description: l.GetDescription()})
	}
	for _, u := range pr.RequestedReviewers {
		out.Reviewers = append(out.Reviewers, u.GetLogin())
	}
	return out
}

func timePtr(ts *gogithub.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	t := ts.Time
	return &t
}
