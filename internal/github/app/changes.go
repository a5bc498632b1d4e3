package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"nexus/internal/github/domain"
	"nexus/internal/infra/diff"
	githubapi "nexus/internal/infra/github"
	sharederrors "nexus/internal/shared/errors"
)

const headBranchPrefix = "nexus/"

func cleanChangeInput(input domain.ChangeInput) (domain.ChangeInput, error) {
	owner, repo, err := requireRepo(input.Owner, input.Repo)
	if err != nil {
		return domain.ChangeInput{}, err
	}
	input.Owner, input.Repo = owner, repo
	input.Path = strings.Trim(strings.TrimSpace(input.Path), "/")
	if input.Path == "" {
		return domain.ChangeInput{}, sharederrors.NewValidationError("path", "is required")
	}
	for _, segment := range strings.Split(input.Path, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return domain.ChangeInput{}, sharederrors.NewValidationError("path", "is not a valid file path")
		}
	}
	input.BaseBranch = strings.TrimSpace(input.BaseBranch)
	if input.BaseBranch == "" {
		input.BaseBranch = "main"
	}
	input.CommitMessage = strings.TrimSpace(input.CommitMessage)
	if input.CommitMessage == "" {
		input.CommitMessage = "Update " + input.Path
	}
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		input.Title = input.CommitMessage
	}
	input.Description = strings.TrimSpace(input.Description)
	return input, nil
}

// CreateChange commits one file to a fresh branch cut from the base head and
// records it as pending. If anything after branch creation fails the branch
// is deleted again.
func (s *Service) CreateChange(ctx context.Context, userID string, input domain.ChangeInput) (domain.PendingChange, error) {
	input, err := cleanChangeInput(input)
	if err != nil {
		return domain.PendingChange{}, err
	}
	token, err := s.token(ctx, userID)
	if err != nil {
		return domain.PendingChange{}, err
	}
	base, err := s.api.GetBranch(ctx, token, input.Owner, input.Repo, input.BaseBranch)
	if err != nil {
		return domain.PendingChange{}, fmt.Errorf("read base branch: %w", err)
	}

	changeID := uuid.NewString()
	head := headBranchPrefix + strings.ReplaceAll(changeID, "-", "")[:8]
	if err := s.api.CreateBranch(ctx, token, input.Owner, input.Repo, head, base.Commit.SHA); err != nil {
		return domain.PendingChange{}, fmt.Errorf("create branch: %w", err)
	}

	change, err := s.commitAndRecord(ctx, userID, token, changeID, head, input)
	if err != nil {
		if cleanupErr := s.deleteBranch(ctx, token, input.Owner, input.Repo, head); cleanupErr != nil {
			s.logger.Error("Failed to delete branch %s on %s/%s after error %v: %v", head, input.Owner, input.Repo, err, cleanupErr)
		}
		return domain.PendingChange{}, err
	}
	return change, nil
}

func (s *Service) commitAndRecord(ctx context.Context, userID, token, changeID, head string, input domain.ChangeInput) (domain.PendingChange, error) {
	var existingSHA string
	current, err := s.api.GetContents(ctx, token, input.Owner, input.Repo, input.Path, head)
	switch {
	case err == nil && current.Type == "dir":
		return domain.PendingChange{}, sharederrors.NewValidationError("path", "is a directory")
	case err == nil:
		existingSHA = current.SHA
	case !errors.Is(err, githubapi.ErrNotFound):
		return domain.PendingChange{}, fmt.Errorf("read existing file: %w", err)
	}

	commit, err := s.api.PutFile(ctx, token, input.Owner, input.Repo, githubapi.PutFileRequest{
		Path:    input.Path,
		Branch:  head,
		Message: input.CommitMessage,
		Content: input.Content,
		SHA:     existingSHA,
	})
	if err != nil {
		return domain.PendingChange{}, fmt.Errorf("commit file: %w", err)
	}

	return s.store.CreateChange(ctx, domain.PendingChange{
		ID:            changeID,
		UserID:        userID,
		Owner:         input.Owner,
		Repo:          input.Repo,
		BaseBranch:    input.BaseBranch,
		HeadBranch:    head,
		Path:          input.Path,
		CommitSHA:     commit.CommitSHA,
		CommitMessage: input.CommitMessage,
		Title:         input.Title,
		Description:   input.Description,
		Status:        domain.StatusPending,
		CreatedAt:     s.now(),
	})
}

// ListChanges returns the user's changes, newest first.
func (s *Service) ListChanges(ctx context.Context, userID string) ([]domain.PendingChange, error) {
	return s.store.ListChanges(ctx, userID)
}

// GetChange returns one change.
func (s *Service) GetChange(ctx context.Context, userID, changeID string) (domain.PendingChange, error) {
	changeID, ok := validID(changeID)
	if !ok {
		return domain.PendingChange{}, domain.ErrChangeNotFound
	}
	return s.store.GetChange(ctx, userID, changeID)
}

// ChangeDiff renders the change's file at its commit against the current
// head of the base branch. A file missing on the base is shown as new.
func (s *Service) ChangeDiff(ctx context.Context, userID, changeID string) (domain.ChangeDiff, error) {
	change, err := s.GetChange(ctx, userID, changeID)
	if err != nil {
		return domain.ChangeDiff{}, err
	}
	token, err := s.token(ctx, userID)
	if err != nil {
		return domain.ChangeDiff{}, err
	}
	headRef := change.CommitSHA
	if headRef == "" {
		headRef = change.HeadBranch
	}
	after, err := s.fileAt(ctx, token, change, headRef)
	if err != nil {
		return domain.ChangeDiff{}, fmt.Errorf("read proposed file: %w", err)
	}
	before, err := s.fileAt(ctx, token, change, change.BaseBranch)
	if err != nil && !errors.Is(err, githubapi.ErrNotFound) {
		return domain.ChangeDiff{}, fmt.Errorf("read base file: %w", err)
	}

	result := diff.Unified(before, after, change.Path, diff.Options{})
	return domain.ChangeDiff{
		ChangeID:  change.ID,
		Path:      change.Path,
		BaseRef:   change.BaseBranch,
		HeadRef:   headRef,
		Patch:     result.Patch,
		Additions: result.Additions,
		Deletions: result.Deletions,
		Binary:    result.Binary,
		Truncated: result.Truncated,
	}, nil
}

func (s *Service) fileAt(ctx context.Context, token string, change domain.PendingChange, ref string) (string, error) {
	content, err := s.api.GetContents(ctx, token, change.Owner, change.Repo, change.Path, ref)
	if err != nil {
		return "", err
	}
	if content.Type == "dir" {
		return "", sharederrors.NewValidationError("path", "is a directory")
	}
	return content.Content, nil
}

// DecideChange applies approve or reject exactly once. Approval opens a pull
// request; when that fails the change goes back to pending and the upstream
// error is returned. Rejection deletes the head branch best effort.
func (s *Service) DecideChange(ctx context.Context, userID, changeID, actionName string) (domain.PendingChange, error) {
	action, ok := domain.ParseAction(actionName)
	if !ok {
		return domain.PendingChange{}, sharederrors.NewValidationError("action", "must be approve or reject")
	}
	changeID, ok = validID(changeID)
	if !ok {
		return domain.PendingChange{}, domain.ErrChangeNotFound
	}

	var token string
	if action == domain.ActionApprove {
		var err error
		if token, err = s.token(ctx, userID); err != nil {
			return domain.PendingChange{}, err
		}
	}

	change, err := s.store.Decide(ctx, userID, changeID, action.Status(), s.now())
	if err != nil {
		return domain.PendingChange{}, err
	}

	if action == domain.ActionReject {
		s.cleanupRejected(ctx, userID, change)
		return change, nil
	}

	pr, err := s.api.CreatePullRequest(ctx, token, change.Owner, change.Repo, githubapi.PullRequestInput{
		Title: change.Title,
		Body:  change.Description,
		Head:  change.HeadBranch,
		Base:  change.BaseBranch,
	})
	if err != nil {
		if reopenErr := s.store.Reopen(context.WithoutCancel(ctx), change.ID); reopenErr != nil {
			s.logger.Error("Failed to reopen change %s after PR error: %v", change.ID, reopenErr)
		}
		s.logger.Warn("Pull request for change %s failed: %v", change.ID, err)
		if !sharederrors.IsUpstream(err) {
			err = &sharederrors.PermanentError{Err: err, StatusCode: http.StatusBadGateway, Message: "github pull request failed"}
		}
		return domain.PendingChange{}, fmt.Errorf("open pull request: %w", err)
	}
	return s.store.RecordPullRequest(ctx, change.ID, pr.Number, pr.HTMLURL)
}

func (s *Service) cleanupRejected(ctx context.Context, userID string, change domain.PendingChange) {
	token, err := s.token(ctx, userID)
	if err != nil {
		s.logger.Warn("Skipping branch cleanup for rejected change %s: %v", change.ID, err)
		return
	}
	if err := s.deleteBranch(ctx, token, change.Owner, change.Repo, change.HeadBranch); err != nil {
		s.logger.Warn("Failed to delete branch %s for rejected change %s: %v", change.HeadBranch, change.ID, err)
	}
}
