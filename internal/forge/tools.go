package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Tools adapts a Provider to the tool registry. Each Handle* method
// takes the decoded argument map and returns the JSON encoded result
// handed back to the assistant.
type Tools struct {
	provider Provider
	logger   *slog.Logger
}

// NewTools creates forge tools backed by the given provider.
func NewTools(provider Provider, logger *slog.Logger) *Tools {
	return &Tools{provider: provider, logger: logger}
}

// --- Argument extraction helpers ---

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return 0
}

func int64Arg(args map[string]any, key string) int64 {
	switch v := args[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	}
	return 0
}

func stringSliceArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// --- Common helpers ---

func repoArgs(args map[string]any) (string, string, error) {
	owner := stringArg(args, "owner")
	repo := stringArg(args, "repo")
	if owner == "" {
		return "", "", fmt.Errorf("owner is required")
	}
	if repo == "" {
		return "", "", fmt.Errorf("repo is required")
	}
	return owner, repo, nil
}

func requireInt(args map[string]any, key string) (int, error) {
	n := intArg(args, key)
	if n <= 0 {
		return 0, fmt.Errorf("%s is required", key)
	}
	return n, nil
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}

// --- Pull request handlers ---

// HandleListPR lists open pull requests.
func (t *Tools) HandleListPR(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	prs, err := t.provider.ListPullRequests(ctx, owner, repo)
	if err != nil {
		return "", err
	}
	return toJSON(prs)
}

// HandleGetPR returns one pull request with merge state.
func (t *Tools) HandleGetPR(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	number, err := requireInt(args, "pull_number")
	if err != nil {
		return "", err
	}
	pr, err := t.provider.GetPullRequest(ctx, owner, repo, number)
	if err != nil {
		return "", err
	}
	return toJSON(pr)
}

// HandleListReview lists the reviews of a pull request.
func (t *Tools) HandleListReview(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	number, err := requireInt(args, "pull_number")
	if err != nil {
		return "", err
	}
	reviews, err := t.provider.ListReviews(ctx, owner, repo, number)
	if err != nil {
		return "", err
	}
	return toJSON(reviews)
}

// HandleMergePR merges a pull request, squashing unless told otherwise.
func (t *Tools) HandleMergePR(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	number, err := requireInt(args, "pull_number")
	if err != nil {
		return "", err
	}

	method := stringArg(args, "merge_method")
	switch method {
	case "":
		method = "squash"
	case "merge", "squash", "rebase":
	default:
		return "", fmt.Errorf("merge_method must be merge, squash or rebase")
	}

	result, err := t.provider.MergePullRequest(ctx, owner, repo, number, method)
	if err != nil {
		return "", err
	}
	t.logger.Info("pull request merged", "owner", owner, "repo", repo, "number", number, "sha", result.SHA)
	return toJSON(result)
}

// HandleUpdatePRBranch brings a pull request branch up to date with its
// base branch.
func (t *Tools) HandleUpdatePRBranch(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	number, err := requireInt(args, "pull_number")
	if err != nil {
		return "", err
	}
	msg, err := t.provider.UpdateBranch(ctx, owner, repo, number)
	if err != nil {
		return "", err
	}
	return toJSON(msg)
}

// HandleListPRFiles lists the files changed by a pull request.
func (t *Tools) HandleListPRFiles(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	number, err := requireInt(args, "pull_number")
	if err != nil {
		return "", err
	}
	files, err := t.provider.ListFiles(ctx, owner, repo, number)
	if err != nil {
		return "", err
	}
	return toJSON(files)
}

// HandleCreateReview submits a review, optionally with inline comments.
func (t *Tools) HandleCreateReview(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	number, err := requireInt(args, "pull_number")
	if err != nil {
		return "", err
	}

	req := ReviewRequest{
		Body:  stringArg(args, "body"),
		Event: strings.ToUpper(stringArg(args, "event")),
	}
	switch req.Event {
	case "APPROVE", "REQUEST_CHANGES", "COMMENT":
	case "":
		return "", fmt.Errorf("event is required (APPROVE, REQUEST_CHANGES or COMMENT)")
	default:
		return "", fmt.Errorf("event must be APPROVE, REQUEST_CHANGES or COMMENT")
	}
	if req.Event != "APPROVE" && req.Body == "" {
		return "", fmt.Errorf("body is required for %s", req.Event)
	}

	if raw, ok := args["comments"].([]any); ok {
		for i, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				return "", fmt.Errorf("comments[%d] must be an object", i)
			}
			dc := DraftReviewComment{
				Body:      stringArg(m, "body"),
				Path:      stringArg(m, "path"),
				Side:      stringArg(m, "side"),
				Line:      intArg(m, "line"),
				StartLine: intArg(m, "start_line"),
				StartSide: stringArg(m, "start_side"),
			}
			if dc.Path == "" || dc.Body == "" {
				return "", fmt.Errorf("comments[%d] needs path and body", i)
			}
			req.Comments = append(req.Comments, dc)
		}
	}

	id, err := t.provider.CreateReview(ctx, owner, repo, number, req)
	if err != nil {
		return "", err
	}
	return toJSON(Message{Message: fmt.Sprintf("created review for %d", id)})
}

// HandleListReviewComments lists inline review comments.
func (t *Tools) HandleListReviewComments(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	number, err := requireInt(args, "pull_number")
	if err != nil {
		return "", err
	}
	comments, err := t.provider.ListReviewComments(ctx, owner, repo, number)
	if err != nil {
		return "", err
	}
	return toJSON(comments)
}

// HandleUpdateReviewComment replaces the body of a review comment.
func (t *Tools) HandleUpdateReviewComment(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	id := int64Arg(args, "comment_id")
	if id <= 0 {
		return "", fmt.Errorf("comment_id is required")
	}
	body := stringArg(args, "body")
	if body == "" {
		return "", fmt.Errorf("body is required")
	}
	if err := t.provider.UpdateReviewComment(ctx, owner, repo, id, body); err != nil {
		return "", err
	}
	return toJSON(Message{Message: fmt.Sprintf("updated review comment %d", id)})
}

// HandleDeleteReviewComment deletes a review comment.
func (t *Tools) HandleDeleteReviewComment(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	id := int64Arg(args, "comment_id")
	if id <= 0 {
		return "", fmt.Errorf("comment_id is required")
	}
	if err := t.provider.DeleteReviewComment(ctx, owner, repo, id); err != nil {
		return "", err
	}
	return toJSON(Message{Message: fmt.Sprintf("deleted review comment %d", id)})
}

// HandleRequestReview requests reviews from the given users.
func (t *Tools) HandleRequestReview(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	number, err := requireInt(args, "pull_number")
	if err != nil {
		return "", err
	}
	reviewers := stringSliceArg(args, "reviewers")
	if len(reviewers) == 0 {
		return "", fmt.Errorf("reviewers is required")
	}
	if err := t.provider.RequestReviewers(ctx, owner, repo, number, reviewers); err != nil {
		return "", err
	}
	return toJSON(Message{Message: "Requested review to " + strings.Join(reviewers, ",")})
}

// --- Issue handlers ---

// HandleListIssueComments lists the conversation comments of an issue
// or pull request.
func (t *Tools) HandleListIssueComments(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	number, err := requireInt(args, "issue_number")
	if err != nil {
		return "", err
	}
	comments, err := t.provider.ListIssueComments(ctx, owner, repo, number)
	if err != nil {
		return "", err
	}
	return toJSON(comments)
}

// HandleCreateIssueComments posts a conversation comment.
func (t *Tools) HandleCreateIssueComments(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	number, err := requireInt(args, "issue_number")
	if err != nil {
		return "", err
	}
	body := stringArg(args, "body")
	if body == "" {
		return "", fmt.Errorf("body is required")
	}
	created, err := t.provider.CreateIssueComment(ctx, owner, repo, number, body)
	if err != nil {
		return "", err
	}
	return toJSON(created)
}

// HandleAddLabels adds labels to an issue or pull request.
func (t *Tools) HandleAddLabels(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	number, err := requireInt(args, "issue_number")
	if err != nil {
		return "", err
	}
	labels := stringSliceArg(args, "labels")
	if len(labels) == 0 {
		return "", fmt.Errorf("labels is required")
	}
	if err := t.provider.AddLabels(ctx, owner, repo, number, labels); err != nil {
		return "", err
	}
	return toJSON(Message{Message: "added labels " + strings.Join(labels, ",")})
}

// --- Repository handlers ---

// HandleListCommits lists the commits of a pull request.
func (t *Tools) HandleListCommits(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	number, err := requireInt(args, "pull_number")
	if err != nil {
		return "", err
	}
	commits, err := t.provider.ListCommits(ctx, owner, repo, number)
	if err != nil {
		return "", err
	}
	return toJSON(commits)
}

// HandleGetContents reads a file or lists a directory. A directory
// yields a JSON array, a file a single object.
func (t *Tools) HandleGetContents(ctx context.Context, args map[string]any) (string, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return "", err
	}
	path := strings.TrimPrefix(stringArg(args, "path"), "/")

	entries, isDir, err := t.provider.GetContents(ctx, owner, repo, path, stringArg(args, "ref"))
	if err != nil {
		return "", err
	}
	if isDir {
		return toJSON(entries)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no content at %q", path)
	}
	return toJSON(entries[0])
}
