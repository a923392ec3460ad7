package projectdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

// maxCloneBytes bounds the objects a single clone may store in memory.
const maxCloneBytes = 32 << 20

var errCloneTooLarge = errors.New("repository exceeds clone size limit")

var readmeNames = []string{"README.md", "README", "readme.md", "README.rst", "README.txt"}

// GitSource shallow-clones a remote into memory and reads datapackage.json
// and the README from the head commit.
type GitSource struct {
	maxBytes int64
}

func NewGitSource() *GitSource {
	return &GitSource{maxBytes: maxCloneBytes}
}

// cappedStorage is an in-memory object store that refuses objects once their
// total size passes limit.
type cappedStorage struct {
	*memory.Storage
	limit int64
	used  int64
}

func newCappedStorage(limit int64) *cappedStorage {
	return &cappedStorage{Storage: memory.NewStorage(), limit: limit}
}

func (s *cappedStorage) SetEncodedObject(obj plumbing.EncodedObject) (plumbing.Hash, error) {
	s.used += obj.Size()
	if s.limit > 0 && s.used > s.limit {
		return plumbing.ZeroHash, errCloneTooLarge
	}
	return s.Storage.SetEncodedObject(obj)
}

func (s *GitSource) Name() string { return "git" }

func (s *GitSource) Match(u *url.URL) bool {
	return strings.HasSuffix(u.Path, ".git")
}

func (s *GitSource) Fetch(ctx context.Context, u *url.URL) (Document, error) {
	repo, err := git.CloneContext(ctx, newCappedStorage(s.maxBytes), nil, &git.CloneOptions{
		URL:          u.String(),
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	})
	if err != nil {
		return Document{}, fmt.Errorf("clone repo: %w", err)
	}

	doc, err := documentFromRepository(repo)
	if err != nil {
		return Document{}, err
	}
	fill(&doc.Name, strings.TrimSuffix(path.Base(u.Path), ".git"))
	fill(&doc.SourceURL, strings.TrimSuffix(u.String(), ".git"))
	return doc, nil
}

func documentFromRepository(repo *git.Repository) (Document, error) {
	head, err := repo.Head()
	if err != nil {
		return Document{}, fmt.Errorf("resolve head: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return Document{}, fmt.Errorf("load head commit: %w", err)
	}

	var doc Document
	if raw, err := readCommitFile(commit, "datapackage.json"); err == nil {
		doc = parseJSONDocument(raw)
	} else if !errors.Is(err, object.ErrFileNotFound) {
		return Document{}, err
	}

	for _, name := range readmeNames {
		raw, err := readCommitFile(commit, name)
		if errors.Is(err, object.ErrFileNotFound) {
			continue
		}
		if err != nil {
			return Document{}, err
		}
		fill(&doc.Description, string(raw))
		break
	}
	return doc, nil
}

func readCommitFile(commit *object.Commit, name string) ([]byte, error) {
	file, err := commit.File(name)
	if err != nil {
		return nil, err
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
