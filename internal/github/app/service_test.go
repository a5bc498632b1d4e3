package app_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authadapters "nexus/internal/auth/adapters"
	authapp "nexus/internal/auth/app"
	authdomain "nexus/internal/auth/domain"
	"nexus/internal/github/adapters"
	githubapp "nexus/internal/github/app"
	"nexus/internal/github/domain"
	"nexus/internal/infra/auth/crypto"
	githubapi "nexus/internal/infra/github"
	sharederrors "nexus/internal/shared/errors"
)

type fakeAPI struct {
	mu            sync.Mutex
	configured    bool
	listRepoCalls atomic.Int32
	listRepos     func() ([]githubapi.Repository, error)
	existing      map[string]githubapi.Content
	atRef         map[string]githubapi.Content
	putErr        error
	prErr         error
	deleteErrs    []error
	created       []string
	deleted       []string
	puts          []githubapi.PutFileRequest
	prs           []githubapi.PullRequestInput
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{configured: true, existing: map[string]githubapi.Content{}, atRef: map[string]githubapi.Content{}}
}

func (f *fakeAPI) Configured() bool { return f.configured }

func (f *fakeAPI) AuthorizeURL(state string) (string, error) {
	return "https://github.test/login/oauth/authorize?state=" + url.QueryEscape(state), nil
}

func (f *fakeAPI) ExchangeCode(_ context.Context, code string) (githubapi.Token, error) {
	if code != "good-code" {
		return githubapi.Token{}, sharederrors.NewPermanentError(errors.New("bad_verification_code"), "bad code")
	}
	return githubapi.Token{AccessToken: "gho_secret", Scopes: []string{"repo", "read:user"}}, nil
}

func (f *fakeAPI) GetUser(context.Context, string) (githubapi.User, error) {
	return githubapi.User{ID: 42, Login: "octocat"}, nil
}

func (f *fakeAPI) ListRepos(context.Context, string) ([]githubapi.Repository, error) {
	f.listRepoCalls.Add(1)
	if f.listRepos != nil {
		return f.listRepos()
	}
	return []githubapi.Repository{{Name: "hello", FullName: "octocat/hello"}}, nil
}

func (f *fakeAPI) ListBranches(context.Context, string, string, string) ([]githubapi.Branch, error) {
	return []githubapi.Branch{{Name: "main"}}, nil
}

func (f *fakeAPI) GetBranch(_ context.Context, _, _, _, branch string) (githubapi.Branch, error) {
	b := githubapi.Branch{Name: branch}
	b.Commit.SHA = "base-sha"
	return b, nil
}

func (f *fakeAPI) GetContents(_ context.Context, _, _, _, path, ref string) (githubapi.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if content, ok := f.atRef[ref+":"+path]; ok {
		return content, nil
	}
	content, ok := f.existing[path]
	if !ok {
		return githubapi.Content{}, githubapi.ErrNotFound
	}
	return content, nil
}

func (f *fakeAPI) CreateBranch(_ context.Context, _, _, _, branch, sha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, branch+"@"+sha)
	return nil
}

func (f *fakeAPI) DeleteBranch(_ context.Context, _, _, _, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, branch)
	if len(f.deleteErrs) > 0 {
		err := f.deleteErrs[0]
		f.deleteErrs = f.deleteErrs[1:]
		return err
	}
	return nil
}

func (f *fakeAPI) PutFile(_ context.Context, _, _, _ string, req githubapi.PutFileRequest) (githubapi.CommitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, req)
	if f.putErr != nil {
		return githubapi.CommitResult{}, f.putErr
	}
	return githubapi.CommitResult{CommitSHA: "commit-sha", ContentSHA: "blob-sha"}, nil
}

func (f *fakeAPI) CreatePullRequest(_ context.Context, _, _, _ string, input githubapi.PullRequestInput) (githubapi.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prs = append(f.prs, input)
	if f.prErr != nil {
		return githubapi.PullRequest{}, f.prErr
	}
	return githubapi.PullRequest{Number: 7, HTMLURL: "https://github.test/octocat/hello/pull/7"}, nil
}

type harness struct {
	service *githubapp.Service
	store   *adapters.MemoryStore
	api     *fakeAPI
	auth    *authapp.Service
	sealer  *crypto.Sealer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	users, sessions, states := authadapters.NewMemoryStores()
	auth := authapp.NewService(users, sessions, states, authadapters.NewJWTTokenManager("secret", "nexus-test"),
		crypto.NewPasswordHasher(crypto.Argon2idParams{Time: 1, Memory: 1024, Threads: 1}), authapp.Config{})
	sealer, err := crypto.NewSealer("github-token-secret")
	require.NoError(t, err)
	store := adapters.NewMemoryStore()
	api := newFakeAPI()
	service := githubapp.NewService(store, api, auth, sealer, githubapp.Config{},
		githubapp.WithBackoff(func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
		}))
	return &harness{service: service, store: store, api: api, auth: auth, sealer: sealer}
}

func (h *harness) connect(t *testing.T, userID string) {
	t.Helper()
	sealed, err := h.sealer.SealString("gho_"+userID, userID)
	require.NoError(t, err)
	_, err = h.store.SaveConnection(context.Background(), domain.Connection{UserID: userID, Login: "octocat"}, sealed)
	require.NoError(t, err)
}

func (h *harness) createChange(t *testing.T, userID string) domain.PendingChange {
	t.Helper()
	change, err := h.service.CreateChange(context.Background(), userID, domain.ChangeInput{
		Owner: "octocat", Repo: "hello", Path: "/docs/README.md", Content: "# hi",
	})
	require.NoError(t, err)
	return change
}

func TestOAuthConnectFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	consent, err := h.service.ConnectURL(ctx, "user-1")
	require.NoError(t, err)
	parsed, err := url.Parse(consent)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)

	conn, err := h.service.CompleteOAuth(ctx, state, "good-code")
	require.NoError(t, err)
	assert.Equal(t, "user-1", conn.UserID)
	assert.Equal(t, "octocat", conn.Login)
	assert.Equal(t, int64(42), conn.GitHubUserID)

	_, sealed, err := h.store.GetConnection(ctx, "user-1")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "gho_secret")
	plain, err := h.sealer.OpenString(sealed, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "gho_secret", plain)

	_, err = h.service.CompleteOAuth(ctx, state, "good-code")
	require.ErrorIs(t, err, authdomain.ErrStateNotFound)
}

func TestOAuthRejectsBadCodeAndMissingConfig(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	state, err := h.auth.IssueOAuthState(ctx, "user-1", authdomain.OAuthProviderGitHub)
	require.NoError(t, err)
	_, err = h.service.CompleteOAuth(ctx, state, "bad-code")
	require.True(t, sharederrors.IsPermanent(err))
	_, err = h.service.Connection(ctx, "user-1")
	require.ErrorIs(t, err, domain.ErrNotConnected)

	_, err = h.service.CompleteOAuth(ctx, "whatever", "")
	require.ErrorIs(t, err, sharederrors.ErrValidation)

	h.api.configured = false
	_, err = h.service.ConnectURL(ctx, "user-1")
	require.ErrorIs(t, err, domain.ErrNotConfigured)
}

func TestListReposCachesPerUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t, "user-1")

	_, err := h.service.ListRepos(ctx, "user-2", false)
	require.ErrorIs(t, err, domain.ErrNotConnected)

	repos, err := h.service.ListRepos(ctx, "user-1", false)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	_, err = h.service.ListRepos(ctx, "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.api.listRepoCalls.Load())

	_, err = h.service.ListRepos(ctx, "user-1", true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), h.api.listRepoCalls.Load())

	require.NoError(t, h.service.Disconnect(ctx, "user-1"))
	_, err = h.service.ListRepos(ctx, "user-1", false)
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestListReposCoalescesConcurrentMisses(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1")
	release := make(chan struct{})
	h.api.listRepos = func() ([]githubapi.Repository, error) {
		<-release
		return []githubapi.Repository{{Name: "hello"}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			repos, err := h.service.ListRepos(context.Background(), "user-1", false)
			assert.NoError(t, err)
			assert.Len(t, repos, 1)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), h.api.listRepoCalls.Load())
}

func TestCreateChangeCommitsToFreshBranch(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1")
	h.api.existing["docs/README.md"] = githubapi.Content{Type: "file", Path: "docs/README.md", SHA: "old-blob"}

	change := h.createChange(t, "user-1")
	assert.Equal(t, domain.StatusPending, change.Status)
	assert.Equal(t, "main", change.BaseBranch)
	assert.True(t, strings.HasPrefix(change.HeadBranch, "nexus/"))
	assert.Len(t, change.HeadBranch, len("nexus/")+8)
	assert.Equal(t, "docs/README.md", change.Path)
	assert.Equal(t, "Update docs/README.md", change.CommitMessage)
	assert.Equal(t, change.CommitMessage, change.Title)
	assert.Equal(t, "commit-sha", change.CommitSHA)

	require.Equal(t, []string{change.HeadBranch + "@base-sha"}, h.api.created)
	require.Len(t, h.api.puts, 1)
	assert.Equal(t, "old-blob", h.api.puts[0].SHA)
	assert.Equal(t, change.HeadBranch, h.api.puts[0].Branch)

	listed, err := h.service.ListChanges(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestCreateChangeValidatesInput(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1")
	ctx := context.Background()

	for _, input := range []domain.ChangeInput{
		{Repo: "hello", Path: "a.md"},
		{Owner: "octocat", Path: "a.md"},
		{Owner: "octocat", Repo: "hello"},
		{Owner: "octocat", Repo: "hello", Path: "../etc/passwd"},
	} {
		_, err := h.service.CreateChange(ctx, "user-1", input)
		require.ErrorIs(t, err, sharederrors.ErrValidation)
	}
	assert.Empty(t, h.api.created)
}

func TestCreateChangeDeletesBranchOnFailure(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1")
	h.api.putErr = &sharederrors.PermanentError{Err: errors.New("conflict"), StatusCode: 409, Message: "sha mismatch"}
	h.api.deleteErrs = []error{
		&sharederrors.TransientError{Err: errors.New("bad gateway"), StatusCode: 502, Message: "github unavailable"},
	}

	_, err := h.service.CreateChange(context.Background(), "user-1", domain.ChangeInput{Owner: "octocat", Repo: "hello", Path: "a.md"})
	require.Error(t, err)
	require.Len(t, h.api.created, 1)
	head := strings.TrimSuffix(h.api.created[0], "@base-sha")
	assert.Equal(t, []string{head, head}, h.api.deleted)

	listed, err := h.service.ListChanges(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestCreateChangeRejectsDirectoryPath(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1")
	h.api.existing["docs"] = githubapi.Content{Type: "dir", Path: "docs"}

	_, err := h.service.CreateChange(context.Background(), "user-1", domain.ChangeInput{Owner: "octocat", Repo: "hello", Path: "docs"})
	require.ErrorIs(t, err, sharederrors.ErrValidation)
	assert.Len(t, h.api.deleted, 1)
	assert.Empty(t, h.api.puts)
}

func TestApproveOpensPullRequestOnce(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1")
	ctx := context.Background()
	change := h.createChange(t, "user-1")

	approved, err := h.service.DecideChange(ctx, "user-1", change.ID, "approve")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)
	assert.Equal(t, 7, approved.PRNumber)
	assert.NotNil(t, approved.DecidedAt)
	require.Len(t, h.api.prs, 1)
	assert.Equal(t, change.HeadBranch, h.api.prs[0].Head)
	assert.Equal(t, "main", h.api.prs[0].Base)

	_, err = h.service.DecideChange(ctx, "user-1", change.ID, "approve")
	require.ErrorIs(t, err, domain.ErrChangeAlreadyProcessed)
	_, err = h.service.DecideChange(ctx, "user-1", change.ID, "reject")
	require.ErrorIs(t, err, domain.ErrChangeAlreadyProcessed)
	assert.Len(t, h.api.prs, 1)
}

func TestConcurrentDecisionsHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1")
	change := h.createChange(t, "user-1")

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.service.DecideChange(context.Background(), "user-1", change.ID, "approve")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrChangeAlreadyProcessed):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(9), conflicts.Load())
	assert.Len(t, h.api.prs, 1)
}

func TestApproveFailureReopensChange(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1")
	ctx := context.Background()
	change := h.createChange(t, "user-1")

	h.api.prErr = &sharederrors.PermanentError{Err: errors.New("validation failed"), StatusCode: 422, Message: "no commits between main and head"}
	_, err := h.service.DecideChange(ctx, "user-1", change.ID, "approve")
	require.Error(t, err)
	assert.True(t, sharederrors.IsUpstream(err))

	current, err := h.service.GetChange(ctx, "user-1", change.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, current.Status)
	assert.Nil(t, current.DecidedAt)

	h.api.prErr = nil
	approved, err := h.service.DecideChange(ctx, "user-1", change.ID, "approve")
	require.NoError(t, err)
	assert.Equal(t, 7, approved.PRNumber)
}

func TestRejectDeletesBranch(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1")
	ctx := context.Background()
	change := h.createChange(t, "user-1")
	h.api.deleteErrs = []error{githubapi.ErrNotFound}

	rejected, err := h.service.DecideChange(ctx, "user-1", change.ID, "REJECT")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	assert.Equal(t, []string{change.HeadBranch}, h.api.deleted)
	assert.Empty(t, h.api.prs)
}

func TestDecideChangeValidation(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1")
	h.connect(t, "user-2")
	ctx := context.Background()
	change := h.createChange(t, "user-1")

	_, err := h.service.DecideChange(ctx, "user-1", change.ID, "merge")
	require.ErrorIs(t, err, sharederrors.ErrValidation)
	_, err = h.service.DecideChange(ctx, "user-1", "not-a-uuid", "approve")
	require.ErrorIs(t, err, domain.ErrChangeNotFound)
	_, err = h.service.DecideChange(ctx, "user-2", change.ID, "approve")
	require.ErrorIs(t, err, domain.ErrChangeNotFound)
}

func TestChangeDiffAgainstBase(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1")
	change := h.createChange(t, "user-1")
	require.Equal(t, "commit-sha", change.CommitSHA)

	h.api.atRef["main:docs/README.md"] = githubapi.Content{Type: "file", Content: "# hello\nintro\n"}
	h.api.atRef["commit-sha:docs/README.md"] = githubapi.Content{Type: "file", Content: "# hi\nintro\n"}

	preview, err := h.service.ChangeDiff(context.Background(), "user-1", change.ID)
	require.NoError(t, err)
	assert.Equal(t, "main", preview.BaseRef)
	assert.Equal(t, "commit-sha", preview.HeadRef)
	assert.Equal(t, 1, preview.Additions)
	assert.Equal(t, 1, preview.Deletions)
	assert.Contains(t, preview.Patch, "-# hello\n+# hi\n")
}

func TestChangeDiffShowsNewFile(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1")
	change := h.createChange(t, "user-1")
	h.api.atRef["commit-sha:docs/README.md"] = githubapi.Content{Type: "file", Content: "# hi\n"}

	preview, err := h.service.ChangeDiff(context.Background(), "user-1", change.ID)
	require.NoError(t, err)
	assert.Contains(t, preview.Patch, "--- /dev/null\n")
	assert.Equal(t, 1, preview.Additions)
}

func TestChangeDiffRequiresOwnership(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1")
	h.connect(t, "user-2")
	change := h.createChange(t, "user-1")

	_, err := h.service.ChangeDiff(context.Background(), "user-2", change.ID)
	require.ErrorIs(t, err, domain.ErrChangeNotFound)
}
