package github

import "time"

// Token is an OAuth access token.
type Token struct {
	AccessToken string
	TokenType   string
	Scopes      []string
}

// User is the authenticated GitHub account.
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Repository is a repository visible to the user.
type Repository struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Private       bool      `json:"private"`
	DefaultBranch string    `json:"default_branch"`
	HTMLURL       string    `json:"html_url"`
	Description   string    `json:"description"`
	UpdatedAt     time.Time `json:"updated_at"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// Branch is a branch head.
type Branch struct {
	Name      string `json:"name"`
	Protected bool   `json:"protected"`
	Commit    struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// Content is a file or directory entry from the contents API. For files,
// Content holds the decoded text.
type Content struct {
	Type     string    `json:"type"`
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	SHA      string    `json:"sha"`
	Size     int64     `json:"size"`
	Encoding string    `json:"encoding,omitempty"`
	Content  string    `json:"content,omitempty"`
	Entries  []Content `json:"entries,omitempty"`
}

// PutFileRequest creates or updates one file on a branch. SHA is required
// when the file already exists.
type PutFileRequest struct {
	Path    string
	Branch  string
	Message string
	Content string
	SHA     string
}

// CommitResult identifies the commit made by PutFile.
type CommitResult struct {
	CommitSHA  string
	ContentSHA string
}

// PullRequestInput opens a pull request from Head into Base.
type PullRequestInput struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

// PullRequest is an opened pull request.
type PullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}
