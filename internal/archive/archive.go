// Package archive exports an edit history as an in-memory git repository,
// one commit per snapshot, so it can be inspected or audited with git
// tooling.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/kurobon/imagepro/internal/history"
)

var ErrEmptyHistory = errors.New("history is empty")

// CurrentTag names the tag pointing at the commit of the active snapshot.
const CurrentTag = "current"

// EntryFile holds the JSON description of the snapshot in each commit.
const EntryFile = "entry.json"

// Author signs the exported commits.
type Author struct {
	Name  string
	Email string
}

// Commit is one line of the exported log.
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	EntryID string    `json:"entryId"`
	Tool    string    `json:"tool"`
	When    time.Time `json:"when"`
	Current bool      `json:"current"`
}

// Archive is the exported repository and its log, newest commit first.
type Archive struct {
	Repo    *gogit.Repository `json:"-"`
	Head    string            `json:"head"`
	Current string            `json:"current"`
	Commits []Commit          `json:"commits"`
}

// Export writes every entry of snap as a commit on top of the previous one.
// Entries after the cursor are exported too; the CurrentTag marks where
// the cursor is.
func Export(snap history.Snapshot, author Author) (*Archive, error) {
	if len(snap.Entries) == 0 {
		return nil, ErrEmptyHistory
	}
	if author.Name == "" {
		author.Name = "ImagePro"
	}
	if author.Email == "" {
		author.Email = "noreply@imagepro.local"
	}

	fs := memfs.New()
	repo, err := gogit.Init(memory.NewStorage(), fs)
	if err != nil {
		return nil, fmt.Errorf("failed to init repository: %w", err)
	}
	w, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}

	byHash := make(map[plumbing.Hash]history.Entry, len(snap.Entries))
	var (
		head     plumbing.Hash
		current  plumbing.Hash
		snapName string
	)
	for i, e := range snap.Entries {
		if e.Payload != nil {
			name := "snapshot" + extensionFor(e.ContentType)
			if snapName != "" && snapName != name {
				if _, err := w.Remove(snapName); err != nil {
					return nil, fmt.Errorf("failed to remove %s: %w", snapName, err)
				}
			}
			if err := util.WriteFile(fs, name, e.Payload, 0o644); err != nil {
				return nil, fmt.Errorf("failed to write snapshot: %w", err)
			}
			if _, err := w.Add(name); err != nil {
				return nil, fmt.Errorf("failed to stage snapshot: %w", err)
			}
			snapName = name
		}

		desc, err := json.MarshalIndent(e, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
		if err := util.WriteFile(fs, EntryFile, desc, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", EntryFile, err)
		}
		if _, err := w.Add(EntryFile); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", EntryFile, err)
		}

		hash, err := w.Commit(message(e), &gogit.CommitOptions{
			Author: &object.Signature{
				Name:  author.Name,
				Email: author.Email,
				When:  e.CreatedAt,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to commit entry %d: %w", i, err)
		}
		byHash[hash] = e
		head = hash
		if i == snap.Cursor {
			current = hash
		}
	}

	if !current.IsZero() {
		if _, err := repo.CreateTag(CurrentTag, current, nil); err != nil {
			return nil, fmt.Errorf("failed to tag current snapshot: %w", err)
		}
	}

	out := &Archive{Repo: repo, Head: head.String(), Current: current.String()}
	iter, err := repo.Log(&gogit.LogOptions{From: head})
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()
	err = iter.ForEach(func(c *object.Commit) error {
		e := byHash[c.Hash]
		out.Commits = append(out.Commits, Commit{
			Hash:    c.Hash.String(),
			Message: c.Message,
			EntryID: e.ID,
			Tool:    e.Tool,
			When:    c.Author.When,
			Current: c.Hash == current,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk log: %w", err)
	}
	return out, nil
}

// Snapshot reads the image stored in commit hash.
func (a *Archive) Snapshot(hash string) ([]byte, string, error) {
	c, err := a.Repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, "", fmt.Errorf("commit %s: %w", hash, err)
	}
	files, err := c.Files()
	if err != nil {
		return nil, "", err
	}
	defer files.Close()

	var (
		data []byte
		name string
	)
	err = files.ForEach(func(f *object.File) error {
		if f.Name == EntryFile {
			return nil
		}
		contents, err := f.Contents()
		if err != nil {
			return err
		}
		data, name = []byte(contents), f.Name
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	if name == "" {
		return nil, "", fmt.Errorf("commit %s has no snapshot", hash)
	}
	return data, name, nil
}

func message(e history.Entry) string {
	title := e.ToolName
	if title == "" {
		title = e.Tool
	}
	return fmt.Sprintf("%s\n\nEntry: %s\nTool: %s\n", title, e.ID, e.Tool)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ".bin"
	}
}
