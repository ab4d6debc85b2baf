package tools

import (
	"github.com/nugget/gitbot/internal/forge"
)

var (
	ownerProp = map[string]any{
		"type":        "string",
		"description": "The account owner of the repository. The name is not case sensitive.",
	}
	repoProp = map[string]any{
		"type":        "string",
		"description": "The name of the repository without the .git extension. The name is not case sensitive.",
	}
	pullNumberProp = map[string]any{
		"type":        "integer",
		"description": "The number that identifies the pull request.",
	}
	issueNumberProp = map[string]any{
		"type":        "integer",
		"description": "The number that identifies the pull request or issue.",
	}
	commentIDProp = map[string]any{
		"type":        "integer",
		"description": "The unique identifier of the comment.",
	}
)

// repoSchema builds an object schema whose properties always include
// owner and repo.
func repoSchema(props map[string]any, required ...string) map[string]any {
	all := map[string]any{"owner": ownerProp, "repo": repoProp}
	for k, v := range props {
		all[k] = v
	}
	return map[string]any{
		"type":       "object",
		"properties": all,
		"required":   append([]string{"owner", "repo"}, required...),
	}
}

// RegisterForgeTools adds the GitHub tool catalog to the registry.
func RegisterForgeTools(r *Registry, ft *forge.Tools) {
	if ft == nil {
		return
	}

	r.Register(&Tool{
		Name:        "listPR",
		Description: "Retrieve all GitHub pull requests(PR).",
		Parameters:  repoSchema(nil),
		Handler:     ft.HandleListPR,
	})

	r.Register(&Tool{
		Name:        "getPR",
		Description: "Get a GitHub pull request(PR) including its mergeable state.",
		Parameters:  repoSchema(map[string]any{"pull_number": pullNumberProp}, "pull_number"),
		Handler:     ft.HandleGetPR,
	})

	r.Register(&Tool{
		Name:        "listReview",
		Description: "List reviews for a pull request.",
		Parameters:  repoSchema(map[string]any{"pull_number": pullNumberProp}, "pull_number"),
		Handler:     ft.HandleListReview,
	})

	r.Register(&Tool{
		Name:        "mergePR",
		Description: "Merges a pull request into the base branch.",
		Parameters: repoSchema(map[string]any{
			"pull_number": pullNumberProp,
			"merge_method": map[string]any{
				"type":        "string",
				"enum":        []string{"merge", "squash", "rebase"},
				"description": "The merge method to use. default to squash.",
			},
		}, "pull_number"),
		Handler: ft.HandleMergePR,
	})

	r.Register(&Tool{
		Name:        "updatePRBranch",
		Description: "Updates the pull request branch with the latest upstream changes by merging HEAD from the base branch into the pull request branch.",
		Parameters:  repoSchema(map[string]any{"pull_number": pullNumberProp}, "pull_number"),
		Handler:     ft.HandleUpdatePRBranch,
	})

	r.Register(&Tool{
		Name:        "listPRFiles",
		Description: "Retrieves a list of target files for a pull request. The response will include not only the modified file but also the file diff (`patch` field)",
		Parameters:  repoSchema(map[string]any{"pull_number": pullNumberProp}, "pull_number"),
		Handler:     ft.HandleListPRFiles,
	})

	r.Register(&Tool{
		Name:        "createReview",
		Description: "Create a review for a pull request. User can only have one pending review per pull request not file. The comments must be for a difference (`patch`) in the `listPRFiles` response.",
		Parameters: repoSchema(map[string]any{
			"pull_number": pullNumberProp,
			"body": map[string]any{
				"type":        "string",
				"description": "Required when using REQUEST_CHANGES or COMMENT for the event parameter. The body text of the pull request review.",
			},
			"event": map[string]any{
				"type":        "string",
				"enum":        []string{"APPROVE", "REQUEST_CHANGES", "COMMENT"},
				"description": "The review action you want to perform. The review actions include: APPROVE, REQUEST_CHANGES, or COMMENT.",
			},
			"comments": map[string]any{
				"type":        "array",
				"description": "Array of comments. Create a review comment using line, side, and optionally start_line and start_side if your comment applies to more than one line in the pull request diff",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"body": map[string]any{"type": "string", "description": "The text of the review comment."},
						"path": map[string]any{"type": "string", "description": "The relative path to the file that necessitates a comment."},
						"side": map[string]any{
							"type":        "string",
							"enum":        []string{"LEFT", "RIGHT"},
							"description": "In a split diff view, the side of the diff that the pull request's changes appear on. Use LEFT for deletions and RIGHT for additions or unchanged context lines. For a multi-line comment, side applies to the last line of the range.",
						},
						"line": map[string]any{
							"type":        "integer",
							"description": "The line of the blob in the pull request diff (from the `listPRFiles` patch) that the comment applies to. For a multi-line comment, the last line of the range.",
						},
						"start_line": map[string]any{
							"type":        "integer",
							"description": "Required for multi-line comments. The first line in the pull request diff that the comment applies to. Must precede line.",
						},
						"start_side": map[string]any{
							"type":        "string",
							"enum":        []string{"LEFT", "RIGHT"},
							"description": "Required for multi-line comments. The starting side of the diff that the comment applies to.",
						},
					},
					"required": []string{"body", "path"},
				},
			},
		}, "pull_number", "event"),
		Handler: ft.HandleCreateReview,
	})

	r.Register(&Tool{
		Name:        "listReviewComments",
		Description: "Lists all review comments for a pull request. Review comments are in ascending order by ID.",
		Parameters:  repoSchema(map[string]any{"pull_number": pullNumberProp}, "pull_number"),
		Handler:     ft.HandleListReviewComments,
	})

	r.Register(&Tool{
		Name:        "updateReviewComment",
		Description: "Update a review comment for a pull request. The `comment_id` will be included in the `listReviewComments` response(`id` property).",
		Parameters: repoSchema(map[string]any{
			"comment_id": commentIDProp,
			"body":       map[string]any{"type": "string", "description": "The text of the reply to the review comment."},
		}, "comment_id", "body"),
		Handler: ft.HandleUpdateReviewComment,
	})

	r.Register(&Tool{
		Name:        "deleteReviewComment",
		Description: "Delete a review comment for a pull request. The `comment_id` will be included in the `listReviewComments` response(`id` property).",
		Parameters:  repoSchema(map[string]any{"comment_id": commentIDProp}, "comment_id"),
		Handler:     ft.HandleDeleteReviewComment,
	})

	r.Register(&Tool{
		Name:        "requestReview",
		Description: "Requests reviews for a pull request from a given set of users.",
		Parameters: repoSchema(map[string]any{
			"pull_number": pullNumberProp,
			"reviewers": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "The names of reviewers to request.",
			},
		}, "pull_number", "reviewers"),
		Handler: ft.HandleRequestReview,
	})

	r.Register(&Tool{
		Name:        "listIssueComments",
		Description: "Lists all issue comments for a pull request or issue. Issue comments are in ascending order by ID.",
		Parameters:  repoSchema(map[string]any{"issue_number": issueNumberProp}, "issue_number"),
		Handler:     ft.HandleListIssueComments,
	})

	r.Register(&Tool{
		Name:        "createIssueComments",
		Description: "Create issue comments for a pull request or issue.",
		Parameters: repoSchema(map[string]any{
			"issue_number": issueNumberProp,
			"body":         map[string]any{"type": "string", "description": "The contents of the comment."},
		}, "issue_number", "body"),
		Handler: ft.HandleCreateIssueComments,
	})

	r.Register(&Tool{
		Name:        "addLabels",
		Description: "Adds labels to the pull request or issue.",
		Parameters: repoSchema(map[string]any{
			"issue_number": issueNumberProp,
			"labels": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "The names of the labels to add to the issue's existing labels.",
			},
		}, "issue_number", "labels"),
		Handler: ft.HandleAddLabels,
	})

	r.Register(&Tool{
		Name:        "listCommits",
		Description: "Lists a maximum of 250 commits for a pull request.",
		Parameters:  repoSchema(map[string]any{"pull_number": pullNumberProp}, "pull_number"),
		Handler:     ft.HandleListCommits,
	})

	r.Register(&Tool{
		Name:        "getContents",
		Description: "Gets the contents of a file or directory in a repository.",
		Parameters: repoSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "The path from repository root."},
			"ref": map[string]any{
				"type":        "string",
				"description": "The name of the commit/branch/tag. Default: the repository's default branch. To see the contents in a pull request, specify the pull request branch.",
			},
		}, "path"),
		Handler: ft.HandleGetContents,
	})
}
