package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-integrations/core"
)

type GitObject struct {
	SHA  string `json:"sha"`
	Type string `json:"type"`
}

type Ref struct {
	Ref    string    `json:"ref"`
	Object GitObject `json:"object"`
}

type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Tree    struct {
		SHA string `json:"sha"`
	} `json:"tree"`
	Parents []struct {
		SHA string `json:"sha"`
	} `json:"parents"`
	HTMLURL string `json:"html_url"`
}

func (c Commit) TreeSHA() string {
	return c.Tree.SHA
}

func (c Commit) ParentSHAs() []string {
	out := make([]string, 0, len(c.Parents))
	for _, parent := range c.Parents {
		out = append(out, parent.SHA)
	}
	return out
}

// TreeEntry is one blob in a new tree. Delete entries are sent with a null
// sha, which removes the path from the base tree.
type TreeEntry struct {
	Path    string
	Content string
	Delete  bool
}

func (e TreeEntry) MarshalJSON() ([]byte, error) {
	if e.Delete {
		return json.Marshal(struct {
			Path string  `json:"path"`
			Mode string  `json:"mode"`
			Type string  `json:"type"`
			SHA  *string `json:"sha"`
		}{Path: e.Path, Mode: "100644", Type: "blob"})
	}
	return json.Marshal(struct {
		Path    string `json:"path"`
		Mode    string `json:"mode"`
		Type    string `json:"type"`
		Content string `json:"content"`
	}{Path: e.Path, Mode: "100644", Type: "blob", Content: e.Content})
}

// TreeEntriesFromChanges maps file changes onto tree entries in order.
func TreeEntriesFromChanges(changes []core.FileChange) []TreeEntry {
	entries := make([]TreeEntry, 0, len(changes))
	for _, change := range changes {
		entries = append(entries, TreeEntry{
			Path:    strings.TrimSpace(change.Path),
			Content: change.Content,
			Delete:  change.Mode == core.FileChangeDelete,
		})
	}
	return entries
}

// BranchHead returns the commit sha a branch points at. A missing branch is a
// not-found error.
func (c *Client) BranchHead(ctx context.Context, tenantID string, repo core.RepositoryRef, branch string) (string, error) {
	var ref Ref
	_, err := c.do(ctx, tenantID, call{
		operation: "get_ref",
		method:    http.MethodGet,
		path:      repoPath(repo, "/git/ref/heads/"+branchPath(branch)),
		out:       &ref,
	})
	if err != nil {
		return "", err
	}
	return ref.Object.SHA, nil
}

// CreateBranch points a new branch at sha. An existing branch is a conflict.
func (c *Client) CreateBranch(ctx context.Context, tenantID string, repo core.RepositoryRef, branch, sha string) error {
	res, err := c.do(ctx, tenantID, call{
		operation: "create_ref",
		method:    http.MethodPost,
		path:      repoPath(repo, "/git/refs"),
		body: map[string]string{
			"ref": "refs/heads/" + strings.TrimSpace(branch),
			"sha": strings.TrimSpace(sha),
		},
	})
	if err != nil && validationFailed(res, "already exists") {
		return core.ConflictError(fmt.Sprintf("github: branch %s already exists", branch))
	}
	return err
}

// UpdateBranch moves branch to sha. Without force only fast-forwards succeed.
func (c *Client) UpdateBranch(ctx context.Context, tenantID string, repo core.RepositoryRef, branch, sha string, force bool) error {
	_, err := c.do(ctx, tenantID, call{
		operation: "update_ref",
		method:    http.MethodPatch,
		path:      repoPath(repo, "/git/refs/heads/"+branchPath(branch)),
		body: map[string]any{
			"sha":   strings.TrimSpace(sha),
			"force": force,
		},
	})
	return err
}

// DeleteBranch removes branch; a branch that is already gone is not an error.
func (c *Client) DeleteBranch(ctx context.Context, tenantID string, repo core.RepositoryRef, branch string) error {
	res, err := c.do(ctx, tenantID, call{
		operation: "delete_ref",
		method:    http.MethodDelete,
		path:      repoPath(repo, "/git/refs/heads/"+branchPath(branch)),
	})
	if err != nil && (res.StatusCode == http.StatusNotFound || validationFailed(res, "reference does not exist")) {
		return nil
	}
	return err
}

func (c *Client) GetCommit(ctx context.Context, tenantID string, repo core.RepositoryRef, sha string) (Commit, error) {
	var commit Commit
	_, err := c.do(ctx, tenantID, call{
		operation: "get_commit",
		method:    http.MethodGet,
		path:      repoPath(repo, "/git/commits/"+strings.TrimSpace(sha)),
		out:       &commit,
	})
	return commit, err
}

func (c *Client) CreateTree(ctx context.Context, tenantID string, repo core.RepositoryRef, baseTree string, entries []TreeEntry) (string, error) {
	if len(entries) == 0 {
		return "", core.ValidationError("github: a tree needs at least one entry")
	}
	var tree struct {
		SHA string `json:"sha"`
	}
	_, err := c.do(ctx, tenantID, call{
		operation: "create_tree",
		method:    http.MethodPost,
		path:      repoPath(repo, "/git/trees"),
		body: map[string]any{
			"base_tree": strings.TrimSpace(baseTree),
			"tree":      entries,
		},
		out: &tree,
	})
	return tree.SHA, err
}

func (c *Client) CreateCommit(ctx context.Context, tenantID string, repo core.RepositoryRef, message, treeSHA string, parents []string) (Commit, error) {
	var commit Commit
	_, err := c.do(ctx, tenantID, call{
		operation: "create_commit",
		method:    http.MethodPost,
		path:      repoPath(repo, "/git/commits"),
		body: map[string]any{
			"message": message,
			"tree":    strings.TrimSpace(treeSHA),
			"parents": parents,
		},
		out: &commit,
	})
	return commit, err
}
