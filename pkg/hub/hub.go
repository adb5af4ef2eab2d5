// Package hub fetches model snapshots from a Hugging Face compatible hub into a
// plain local directory.
//
// Files are downloaded through go-huggingface into the shared hub cache
// (the same layout huggingface_hub uses) and then materialized into the
// destination as regular files, hard linked when the filesystem allows it.
package hub

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	hfhub "github.com/gomlx/go-huggingface/hub"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotFound     = errors.New("repository or revision not found")
	ErrUnauthorized = errors.New("access denied, the repository may be gated or private (set hub.token)")
)

type Config struct {
	Endpoint string
	Token    string
	Revision string
	// Workers bounds parallel downloads and parallel materialization.
	Workers int
	// CacheDir is the hub cache; empty uses the huggingface_hub default.
	CacheDir string
}

type Client struct {
	cfg      Config
	logger   logrus.FieldLogger
	progress bool
}

func New(cfg Config, logger logrus.FieldLogger) *Client {
	if cfg.Revision == "" {
		cfg.Revision = "main"
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = hfhub.DefaultCacheDir()
	}
	cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/")

	return &Client{
		cfg:      cfg,
		logger:   logger,
		progress: isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
	}
}

// SetProgress toggles the download progress line. It is on by default only
// when stdout is a terminal.
func (c *Client) SetProgress(enabled bool) {
	c.progress = enabled
}

func (c *Client) repo(repoID string) *hfhub.Repo {
	r := hfhub.New(repoID).
		WithAuth(c.cfg.Token).
		WithRevision(c.cfg.Revision).
		WithCacheDir(c.cfg.CacheDir).
		WithProgressBar(c.progress)
	if c.cfg.Endpoint != "" {
		r = r.WithEndpoint(c.cfg.Endpoint)
	}
	r.MaxParallelDownload = c.cfg.Workers
	r.Verbosity = 0
	if c.progress {
		r.Verbosity = 1
	}
	return r
}

// SnapshotDownload fetches every file of repoID into localDir as plain files,
// creating localDir if needed. Files already present with the cached size
// are kept.
func (c *Client) SnapshotDownload(ctx context.Context, repoID, localDir string) error {
	repo := c.repo(repoID)

	var names []string
	for name, err := range repo.IterFileNames() {
		if err != nil {
			return classify(err, repoID, c.cfg.Revision)
		}
		names = append(names, name)
	}

	if len(names) == 0 {
		return errors.Errorf("%s@%s has no files", repoID, c.cfg.Revision)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	c.logger.Infof("fetching %d files of %s@%s", len(names), repoID, c.cfg.Revision)
	c.logger.Debugf("hub cache: %s", c.cfg.CacheDir)

	cached, err := repo.DownloadFiles(names...)
	if err != nil {
		return classify(err, repoID, c.cfg.Revision)
	}

	if err := os.MkdirAll(localDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create snapshot directory")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	for i, name := range names {
		src := cached[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := c.materialize(src, localDir, name); err != nil {
				return errors.Wrapf(err, "error processing %s", name)
			}
			return nil
		})
	}

	return g.Wait()
}

// materialize places the cached file src at localDir/name as a regular file.
func (c *Client) materialize(src, localDir, name string) error {
	dest, err := localPath(localDir, name)
	if err != nil {
		return err
	}

	blob, err := filepath.EvalSymlinks(src)
	if err != nil {
		return errors.Wrap(err, "cached file is missing")
	}
	info, err := os.Stat(blob)
	if err != nil {
		return errors.Wrap(err, "cached file is missing")
	}

	if st, err := os.Lstat(dest); err == nil && st.Mode().IsRegular() && st.Size() == info.Size() {
		c.logger.Debugf("file already present: %s", name)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.Wrap(err, "could not create directory")
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "could not replace stale file")
	}

	if err := os.Link(blob, dest); err == nil {
		c.logger.Debugf("linked %s", name)
		return nil
	}

	c.logger.Debugf("copying %s (%d bytes)", name, info.Size())
	return copyFile(blob, dest, info.Size())
}

// copyFile writes src to dest through dest.incomplete, removing the temporary
// file on any failure.
func copyFile(src, dest string, size int64) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "could not open cached file")
	}
	defer in.Close()

	tmp := dest + ".incomplete"
	out, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "could not create file")
	}
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	written, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		return errors.Wrap(copyErr, "error copying file")
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, "error writing file")
	}
	if written != size {
		return errors.Errorf("size mismatch: got %d bytes, expected %d bytes", written, size)
	}

	if err := os.Rename(tmp, dest); err != nil {
		return errors.Wrap(err, "error renaming temp file")
	}
	return nil
}

// localPath maps a repository file name into dir, refusing names that would
// land outside it.
func localPath(dir, name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", errors.Errorf("invalid file name %q", name)
	}

	p := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("file name %q escapes the snapshot directory", name)
	}

	return p, nil
}

// go-huggingface reports HTTP failures as text: "bad status code 404" for
// downloads and a quoted "404 Not Found" status for metadata requests.
var statusRe = regexp.MustCompile(`(?:bad status code |message: "?)(\d{3})`)

// statusCode extracts the HTTP status from a go-huggingface error, 0 if none.
func statusCode(err error) int {
	m := statusRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

func classify(err error, repoID, revision string) error {
	switch statusCode(err) {
	case 401, 403:
		return errors.Wrapf(ErrUnauthorized, "%s@%s: %v", repoID, revision, err)
	case 404:
		return errors.Wrapf(ErrNotFound, "%s@%s", repoID, revision)
	default:
		return errors.Wrapf(err, "%s@%s", repoID, revision)
	}
}
