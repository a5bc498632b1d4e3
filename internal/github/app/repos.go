package app

import (
	"context"
	"strings"

	githubapi "nexus/internal/infra/github"
	sharederrors "nexus/internal/shared/errors"
)

// ListRepos returns the user's repositories from a per-user cache.
// Concurrent misses for one user share a single upstream call; refresh
// bypasses the cached copy.
func (s *Service) ListRepos(ctx context.Context, userID string, refresh bool) ([]githubapi.Repository, error) {
	token, err := s.token(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !refresh {
		if repos, ok := s.repos.Get(userID); ok {
			return repos, nil
		}
	}
	value, err, _ := s.fills.Do(userID, func() (any, error) {
		repos, err := s.api.ListRepos(context.WithoutCancel(ctx), token)
		if err != nil {
			return nil, err
		}
		s.repos.Add(userID, repos)
		return repos, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]githubapi.Repository), nil
}

func requireRepo(owner, repo string) (string, string, error) {
	owner, repo = strings.TrimSpace(owner), strings.TrimSpace(repo)
	if owner == "" {
		return "", "", sharederrors.NewValidationError("owner", "is required")
	}
	if repo == "" {
		return "", "", sharederrors.NewValidationError("repo", "is required")
	}
	return owner, repo, nil
}

// ListBranches returns a repository's branches.
func (s *Service) ListBranches(ctx context.Context, userID, owner, repo string) ([]githubapi.Branch, error) {
	owner, repo, err := requireRepo(owner, repo)
	if err != nil {
		return nil, err
	}
	token, err := s.token(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.api.ListBranches(ctx, token, owner, repo)
}

// GetContents reads a file or directory at ref (default branch when empty).
func (s *Service) GetContents(ctx context.Context, userID, owner, repo, path, ref string) (githubapi.Content, error) {
	owner, repo, err := requireRepo(owner, repo)
	if err != nil {
		return githubapi.Content{}, err
	}
	token, err := s.token(ctx, userID)
	if err != nil {
		return githubapi.Content{}, err
	}
	return s.api.GetContents(ctx, token, owner, repo, strings.Trim(path, "/"), ref)
}
