package domain

import (
	"strings"
	"time"
)

// Connection links a Nexus user to a GitHub account. The access token is
// stored sealed and never leaves the service.
type Connection struct {
	UserID       string    `json:"user_id"`
	GitHubUserID int64     `json:"github_user_id"`
	Login        string    `json:"login"`
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ChangeStatus is the approval state of a pending change.
type ChangeStatus string

const (
	StatusPending  ChangeStatus = "pending"
	StatusApproved ChangeStatus = "approved"
	StatusRejected ChangeStatus = "rejected"
)

// Action is a reviewer decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction normalises a decision string.
func ParseAction(value string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(value))) {
	case ActionApprove:
		return ActionApprove, true
	case ActionReject:
		return ActionReject, true
	}
	return "", false
}

// Status is the state an action moves a pending change to.
func (a Action) Status() ChangeStatus {
	if a == ActionApprove {
		return StatusApproved
	}
	return StatusRejected
}

// PendingChange is a one-file commit on its own branch awaiting review.
type PendingChange struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	Owner         string       `json:"owner"`
	Repo          string       `json:"repo"`
	BaseBranch    string       `json:"base_branch"`
	HeadBranch    string       `json:"head_branch"`
	Path          string       `json:"path"`
	CommitSHA     string       `json:"commit_sha"`
	CommitMessage string       `json:"commit_message"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Status        ChangeStatus `json:"status"`
	PRNumber      int          `json:"pr_number,omitempty"`
	PRURL         string       `json:"pr_url,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	DecidedAt     *time.Time   `json:"decided_at,omitempty"`
}

// ChangeInput proposes a file change.
type ChangeInput struct {
	Owner         string `json:"owner"`
	Repo          string `json:"repo"`
	BaseBranch    string `json:"base_branch"`
	Path          string `json:"path"`
	Content       string `json:"content"`
	CommitMessage string `json:"commit_message"`
	Title         string `json:"title"`
	Description   string `json:"description"`
}

// ChangeDiff previews a change against the current head of its base branch.
type ChangeDiff struct {
	ChangeID  string `json:"change_id"`
	Path      string `json:"path"`
	BaseRef   string `json:"base_ref"`
	HeadRef   string `json:"head_ref"`
	Patch     string `json:"patch"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Binary    bool   `json:"binary,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}
