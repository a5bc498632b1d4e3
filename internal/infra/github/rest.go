package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	jsonx "nexus/internal/shared/json"
)

// GetUser returns the account owning token.
func (c *Client) GetUser(ctx context.Context, token string) (User, error) {
	var user User
	if err := c.do(ctx, token, http.MethodGet, "/user", nil, &user); err != nil {
		return User{}, err
	}
	if user.ID == 0 || user.Login == "" {
		return User{}, fmt.Errorf("github: user response missing id or login")
	}
	return user, nil
}

// ListRepos returns the user's repositories, most recently updated first.
func (c *Client) ListRepos(ctx context.Context, token string) ([]Repository, error) {
	var repos []Repository
	for page := 1; page <= maxRepoPages; page++ {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(reposPerPage))
		q.Set("page", strconv.Itoa(page))
		q.Set("sort", "updated")
		var batch []Repository
		if err := c.do(ctx, token, http.MethodGet, "/user/repos?"+q.Encode(), nil, &batch); err != nil {
			return nil, err
		}
		repos = append(repos, batch...)
		if len(batch) < reposPerPage {
			break
		}
	}
	return repos, nil
}

// ListBranches returns a repository's branches.
func (c *Client) ListBranches(ctx context.Context, token, owner, repo string) ([]Branch, error) {
	var branches []Branch
	err := c.do(ctx, token, http.MethodGet, repoPath(owner, repo)+"/branches?per_page=100", nil, &branches)
	return branches, err
}

// GetBranch returns one branch head.
func (c *Client) GetBranch(ctx context.Context, token, owner, repo, branch string) (Branch, error) {
	var out Branch
	err := c.do(ctx, token, http.MethodGet, repoPath(owner, repo)+"/branches/"+escapePath(branch), nil, &out)
	return out, err
}

type rawContent struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

func (r rawContent) toContent() Content {
	return Content{Type: r.Type, Name: r.Name, Path: r.Path, SHA: r.SHA, Size: r.Size}
}

// GetContents reads a file or lists a directory at ref. Base64 file bodies
// are decoded.
func (c *Client) GetContents(ctx context.Context, token, owner, repo, path, ref string) (Content, error) {
	endpoint := repoPath(owner, repo) + "/contents/" + escapePath(path)
	if ref = strings.TrimSpace(ref); ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}
	var raw jsonx.RawMessage
	if err := c.do(ctx, token, http.MethodGet, endpoint, nil, &raw); err != nil {
		return Content{}, err
	}
	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
		var entries []rawContent
		if err := jsonx.Unmarshal(raw, &entries); err != nil {
			return Content{}, fmt.Errorf("github: decode directory listing: %w", err)
		}
		dir := Content{Type: "dir", Path: strings.Trim(path, "/")}
		for _, entry := range entries {
			dir.Entries = append(dir.Entries, entry.toContent())
		}
		return dir, nil
	}
	var file rawContent
	if err := jsonx.Unmarshal(raw, &file); err != nil {
		return Content{}, fmt.Errorf("github: decode contents: %w", err)
	}
	content := file.toContent()
	if file.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
		if err != nil {
			return Content{}, fmt.Errorf("github: decode file body: %w", err)
		}
		content.Content = string(decoded)
	} else {
		content.Encoding = file.Encoding
		content.Content = file.Content
	}
	return content, nil
}

// CreateBranch points a new branch at sha.
func (c *Client) CreateBranch(ctx context.Context, token, owner, repo, branch, sha string) error {
	body := map[string]string{"ref": "refs/heads/" + branch, "sha": sha}
	err := c.do(ctx, token, http.MethodPost, repoPath(owner, repo)+"/git/refs", body, nil)
	return err
}

// DeleteBranch removes a branch ref.
func (c *Client) DeleteBranch(ctx context.Context, token, owner, repo, branch string) error {
	err := c.do(ctx, token, http.MethodDelete, repoPath(owner, repo)+"/git/refs/heads/"+escapePath(branch), nil, nil)
	return err
}

// PutFile commits one file to a branch.
func (c *Client) PutFile(ctx context.Context, token, owner, repo string, req PutFileRequest) (CommitResult, error) {
	body := map[string]string{
		"message": req.Message,
		"content": base64.StdEncoding.EncodeToString([]byte(req.Content)),
		"branch":  req.Branch,
	}
	if req.SHA != "" {
		body["sha"] = req.SHA
	}
	var out struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := c.do(ctx, token, http.MethodPut, repoPath(owner, repo)+"/contents/"+escapePath(req.Path), body, &out); err != nil {
		return CommitResult{}, err
	}
	return CommitResult{CommitSHA: out.Commit.SHA, ContentSHA: out.Content.SHA}, nil
}

// CreatePullRequest opens a pull request.
func (c *Client) CreatePullRequest(ctx context.Context, token, owner, repo string, input PullRequestInput) (PullRequest, error) {
	var pr PullRequest
	err := c.do(ctx, token, http.MethodPost, repoPath(owner, repo)+"/pulls", input, &pr)
	return pr, err
}
