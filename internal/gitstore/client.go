// Package gitstore wraps the git CLI as the remote snapshot store.
package gitstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tis24dev/flowsave/internal/logging"
)

// ErrBranchNotFound is returned by Clone when the remote lacks the branch.
var ErrBranchNotFound = errors.New("branch not found on remote")

// RemoteError marks failures talking to the remote (unreachable host,
// authentication, rejected push).
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string { return fmt.Sprintf("git %s: %v", e.Op, e.Err) }
func (e *RemoteError) Unwrap() error { return e.Err }

// IsRemoteError reports whether err (or anything it wraps) is a RemoteError.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// gitError carries git's exit status and stderr.
type gitError struct {
	args   []string
	code   int
	stderr string
	err    error
}

func (e *gitError) Error() string {
	msg := strings.TrimSpace(e.stderr)
	if msg == "" {
		msg = e.err.Error()
	}
	return fmt.Sprintf("git %s: %s", e.args[0], msg)
}

func (e *gitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ge *gitError
	if errors.As(err, &ge) {
		return ge.code
	}
	return -1
}

// runFunc executes git in dir and returns stdout and stderr separately.
type runFunc func(ctx context.Context, dir string, args ...string) (string, string, error)

// Client runs git commands against local working copies.
type Client struct {
	logger *logging.Logger
	run    runFunc
}

// New returns a client that shells out to the git binary on PATH.
func New(logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{logger: logger, run: execGit}
}

var credentialsInURL = regexp.MustCompile(`://[^/@\s]+@`)

// RedactURL hides any user:password part of a URL.
func RedactURL(s string) string {
	return credentialsInURL.ReplaceAllString(s, "://***@")
}

func execGit(ctx context.Context, dir string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		code := -1
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			code = ee.ExitCode()
		}
		return stdout.String(), stderr.String(), &gitError{
			args:   args,
			code:   code,
			stderr: RedactURL(stderr.String()),
			err:    err,
		}
	}
	return stdout.String(), stderr.String(), nil
}

func (c *Client) git(ctx context.Context, dir string, args ...string) (string, error) {
	c.logger.Debug("git %s (in %s)", RedactURL(strings.Join(args, " ")), dir)
	out, _, err := c.run(ctx, dir, args...)
	return out, err
}

// Init creates path (if needed) and initializes an empty repository there.
func (c *Client) Init(ctx context.Context, path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("create repository directory: %w", err)
	}
	_, err := c.git(ctx, path, "init", "-q")
	return err
}

// SetRemote points origin at url, adding it when absent.
func (c *Client) SetRemote(ctx context.Context, path, url string) error {
	if _, err := c.git(ctx, path, "remote", "get-url", "origin"); err == nil {
		_, err = c.git(ctx, path, "remote", "set-url", "origin", url)
		return err
	}
	_, err := c.git(ctx, path, "remote", "add", "origin", url)
	return err
}

// ConfigureIdentity sets the committer identity for this repository only.
func (c *Client) ConfigureIdentity(ctx context.Context, path, name, email string) error {
	if _, err := c.git(ctx, path, "config", "user.name", name); err != nil {
		return err
	}
	_, err := c.git(ctx, path, "config", "user.email", email)
	return err
}

// FetchBranch fetches branch from origin. A branch missing on the remote is
// reported as exists=false, not as an error; an unreachable remote is a
// RemoteError.
func (c *Client) FetchBranch(ctx context.Context, path, branch string) (bool, error) {
	done := logging.DebugStart(c.logger, "git fetch", "branch=%s", branch)
	_, err := c.git(ctx, path, "ls-remote", "--exit-code", "--heads", "origin", "refs/heads/"+branch)
	if err != nil {
		if exitCode(err) == 2 {
			done(nil)
			return false, nil
		}
		done(err)
		return false, &RemoteError{Op: "ls-remote", Err: err}
	}
	refspec := fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", branch, branch)
	if _, err := c.git(ctx, path, "fetch", "-q", "origin", refspec); err != nil {
		done(err)
		return false, &RemoteError{Op: "fetch", Err: err}
	}
	done(nil)
	return true, nil
}

func (c *Client) hasCommits(ctx context.Context, path string) bool {
	_, err := c.git(ctx, path, "rev-parse", "--verify", "-q", "HEAD")
	return err == nil
}

// CheckoutOrCreate checks out branch, tracking origin when it exists there
// and creating it locally otherwise.
func (c *Client) CheckoutOrCreate(ctx context.Context, path, branch string, exists bool) error {
	if exists {
		_, err := c.git(ctx, path, "checkout", "-q", "-B", branch, "refs/remotes/origin/"+branch)
		return err
	}
	if !c.hasCommits(ctx, path) {
		_, err := c.git(ctx, path, "symbolic-ref", "HEAD", "refs/heads/"+branch)
		return err
	}
	_, err := c.git(ctx, path, "checkout", "-q", "-B", branch)
	return err
}

// StageAll stages additions, modifications and deletions matching globs
// (everything when globs is empty).
func (c *Client) StageAll(ctx context.Context, path string, globs []string) error {
	args := []string{"add", "-A", "--"}
	if len(globs) == 0 {
		args = append(args, ".")
	} else {
		args = append(args, globs...)
	}
	_, err := c.git(ctx, path, args...)
	return err
}

// Commit records the staged changes. With nothing staged it returns
// committed=false and no error.
func (c *Client) Commit(ctx context.Context, path, message string) (string, bool, error) {
	if c.hasCommits(ctx, path) {
		_, err := c.git(ctx, path, "diff", "--cached", "--quiet")
		if err == nil {
			return "", false, nil
		}
		if exitCode(err) != 1 {
			return "", false, err
		}
	} else {
		out, err := c.git(ctx, path, "ls-files", "--cached")
		if err != nil {
			return "", false, err
		}
		if strings.TrimSpace(out) == "" {
			return "", false, nil
		}
	}
	if _, err := c.git(ctx, path, "commit", "-q", "-m", message); err != nil {
		return "", false, err
	}
	id, err := c.HeadCommit(ctx, path)
	if err != nil {
		return "", true, err
	}
	return id, true, nil
}

// HeadCommit returns the full hash of HEAD.
func (c *Client) HeadCommit(ctx context.Context, path string) (string, error) {
	out, err := c.git(ctx, path, "rev-parse", "HEAD")
	return strings.TrimSpace(out), err
}

// Push publishes the current HEAD to branch on origin.
func (c *Client) Push(ctx context.Context, path, branch string) error {
	done := logging.DebugStart(c.logger, "git push", "branch=%s", branch)
	_, err := c.git(ctx, path, "push", "-q", "origin", "HEAD:refs/heads/"+branch)
	done(err)
	if err != nil {
		return &RemoteError{Op: "push", Err: err}
	}
	return nil
}

// Clone makes a copy of branch from url into dest. With shallow set only
// the tip commit of that single branch is fetched.
func (c *Client) Clone(ctx context.Context, url, branch, dest string, shallow bool) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return fmt.Errorf("create clone parent: %w", err)
	}
	args := []string{"clone", "-q", "--single-branch", "--branch", branch}
	if shallow {
		args = append(args, "--depth", "1")
	}
	args = append(args, "--", url, dest)
	done := logging.DebugStart(c.logger, "git clone", "branch=%s shallow=%v", branch, shallow)
	_, err := c.git(ctx, "", args...)
	done(err)
	if err == nil {
		return nil
	}
	var ge *gitError
	if errors.As(err, &ge) && strings.Contains(ge.stderr, "not found in upstream") {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
	}
	return &RemoteError{Op: "clone", Err: err}
}

// ListCommitsMatching returns hashes of commits on HEAD whose message
// contains pattern (literal match), newest first.
func (c *Client) ListCommitsMatching(ctx context.Context, path, pattern string) ([]string, error) {
	if !c.hasCommits(ctx, path) {
		return nil, nil
	}
	out, err := c.git(ctx, path, "log", "--format=%H", "--fixed-strings", "--grep="+pattern)
	if err != nil {
		return nil, err
	}
	return strings.Fields(out), nil
}

// ShowFileAtCommit returns the content of relPath at commit, with
// found=false when the path does not exist there.
func (c *Client) ShowFileAtCommit(ctx context.Context, path, commit, relPath string) ([]byte, bool, error) {
	object := commit + ":" + filepath.ToSlash(relPath)
	if _, err := c.git(ctx, path, "cat-file", "-e", object); err != nil {
		if code := exitCode(err); code == 1 || code == 128 {
			return nil, false, nil
		}
		return nil, false, err
	}
	out, err := c.git(ctx, path, "cat-file", "blob", object)
	if err != nil {
		return nil, false, err
	}
	return []byte(out), true, nil
}

// ListFilesAtCommit lists files under dir (relative to the repository root)
// at commit.
func (c *Client) ListFilesAtCommit(ctx context.Context, path, commit, dir string) ([]string, error) {
	out, err := c.git(ctx, path, "ls-tree", "-r", "-z", "--name-only", commit, "--", filepath.ToSlash(dir)+"/")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, name := range strings.Split(out, "\x00") {
		if name != "" {
			files = append(files, name)
		}
	}
	return files, nil
}
