// Package folder maps a client, campaign and publication to a Drive folder,
// creating missing levels beneath the configured root.
package folder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/lock"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

// sharedCallTimeout bounds a find-or-create once it is detached from its callers.
const sharedCallTimeout = time.Minute

var (
	ErrInvalidFolderURL = errors.New("could not extract a folder id from the parent folder url")
	ErrNotAFolder       = errors.New("parent folder url does not point to a folder")
	ErrMissingField     = errors.New("client, campaign and publication are required")
)

// ConfigStore is the part of the configuration store the resolver uses.
type ConfigStore interface {
	ReadConfig(ctx context.Context) (*model.PortalConfig, int64, error)
	UpdateConfig(ctx context.Context, fn func(*model.PortalConfig) error) (*model.PortalConfig, int64, error)
}

// Target names the folder an upload lands in.
type Target struct {
	Client      string `json:"client"`
	Campaign    string `json:"campaign"`
	Publication string `json:"publication"`
}

// Validate reports ErrMissingField when a level is blank.
func (t Target) Validate() error {
	if strings.TrimSpace(t.Client) == "" || strings.TrimSpace(t.Campaign) == "" || strings.TrimSpace(t.Publication) == "" {
		return ErrMissingField
	}
	return nil
}

func (t Target) levels() []string {
	return []string{strings.TrimSpace(t.Client), strings.TrimSpace(t.Campaign), strings.TrimSpace(t.Publication)}
}

// Path is the chain of folder ids from the root to the publication folder.
type Path struct {
	Root        string
	Client      string
	Campaign    string
	Publication string
}

// Leaf returns the publication folder id.
func (p *Path) Leaf() string {
	return p.Publication
}

// Resolver finds or creates upload folders.
type Resolver struct {
	store           ConfigStore
	locker          lock.Locker
	group           singleflight.Group
	defaultRootName string
	lockWait        time.Duration
}

// NewResolver creates a Resolver. locker may be nil to skip cross-process
// locking.
func NewResolver(store ConfigStore, locker lock.Locker, defaultRootName string, lockWait time.Duration) *Resolver {
	return &Resolver{
		store:           store,
		locker:          locker,
		defaultRootName: defaultRootName,
		lockWait:        lockWait,
	}
}

// Resolve returns the folder chain for t, creating any missing level.
func (r *Resolver) Resolve(ctx context.Context, d adapter.Drive, t Target) (*Path, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	root, cached, err := r.root(ctx, d, true)
	if err != nil {
		return nil, err
	}

	levels := t.levels()
	client, err := r.findOrCreate(ctx, d, levels[0], root)
	if err != nil && cached && inaccessible(err) {
		log.WithError(err).WithField("root_id", root).Warn("cached root folder is not accessible, resolving it again")
		if root, _, err = r.root(ctx, d, false); err != nil {
			return nil, err
		}
		client, err = r.findOrCreate(ctx, d, levels[0], root)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve folder %q: %w", levels[0], err)
	}

	ids := []string{client}
	parent := client
	for _, name := range levels[1:] {
		id, err := r.findOrCreate(ctx, d, name, parent)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve folder %q: %w", name, err)
		}
		ids = append(ids, id)
		parent = id
	}
	return &Path{Root: root, Client: ids[0], Campaign: ids[1], Publication: ids[2]}, nil
}

// Find walks the existing folder chain for t without creating anything,
// the root included. It returns adapter.ErrNotFound when a level is missing.
func (r *Resolver) Find(ctx context.Context, d adapter.Drive, t Target) (*Path, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	root, err := r.existingRoot(ctx, d)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, 3)
	parent := root
	for _, name := range t.levels() {
		f, err := d.FindFolder(ctx, name, parent)
		if err != nil {
			return nil, fmt.Errorf("failed to find folder %q: %w", name, err)
		}
		ids = append(ids, f.ID)
		parent = f.ID
	}
	return &Path{Root: root, Client: ids[0], Campaign: ids[1], Publication: ids[2]}, nil
}

// Root returns the id of the folder uploads are organized under.
func (r *Resolver) Root(ctx context.Context, d adapter.Drive) (string, error) {
	id, _, err := r.root(ctx, d, true)
	return id, err
}

func (r *Resolver) settings(ctx context.Context) (*model.DriveSettings, error) {
	cfg, _, err := r.store.ReadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.DriveSettings == nil {
		return &model.DriveSettings{}, nil
	}
	return cfg.DriveSettings, nil
}

// root reports whether the id came straight from the cached RootFolderID.
// With useCache false a cached id is checked against Drive or replaced.
func (r *Resolver) root(ctx context.Context, d adapter.Drive, useCache bool) (string, bool, error) {
	settings, err := r.settings(ctx)
	if err != nil {
		return "", false, err
	}

	if settings.ParentFolderURL != "" {
		return r.customRoot(ctx, d, settings, useCache)
	}
	if useCache && settings.RootFolderID != "" {
		return settings.RootFolderID, true, nil
	}

	name := settings.RootFolderName
	if name == "" {
		name = r.defaultRootName
	}
	id, err := r.defaultRoot(ctx, d, name)
	return id, false, err
}

func (r *Resolver) customRoot(ctx context.Context, d adapter.Drive, settings *model.DriveSettings, useCache bool) (string, bool, error) {
	id, err := ParseFolderID(settings.ParentFolderURL)
	if err != nil {
		return "", false, err
	}
	if useCache && settings.RootFolderID == id {
		return id, true, nil
	}

	meta, err := d.GetFolder(ctx, id)
	if err == nil {
		if !meta.IsFolder() {
			return "", false, fmt.Errorf("%w (%s)", ErrNotAFolder, meta.MIMEType)
		}
		r.cacheRoot(ctx, meta.ID, meta.Name)
		return meta.ID, false, nil
	}
	if !inaccessible(err) {
		return "", false, fmt.Errorf("failed to fetch parent folder: %w", err)
	}

	entry := log.WithError(err).WithField("folder_id", id)
	if useCache && settings.RootFolderID != "" && settings.RootFolderID != id {
		entry.WithField("cached_root", settings.RootFolderID).Warn("parent folder is not accessible, using cached root")
		return settings.RootFolderID, true, nil
	}
	entry.WithField("root_name", r.defaultRootName).Warn("parent folder is not accessible, using default root")
	root, err := r.defaultRoot(ctx, d, r.defaultRootName)
	return root, false, err
}

// existingRoot is the lookup-only counterpart of root. It never creates a
// folder or writes the config.
func (r *Resolver) existingRoot(ctx context.Context, d adapter.Drive) (string, error) {
	settings, err := r.settings(ctx)
	if err != nil {
		return "", err
	}

	name := settings.RootFolderName
	if settings.ParentFolderURL != "" {
		id, err := ParseFolderID(settings.ParentFolderURL)
		if err != nil {
			return "", err
		}
		if settings.RootFolderID == id {
			return id, nil
		}
		meta, err := d.GetFolder(ctx, id)
		switch {
		case err == nil && !meta.IsFolder():
			return "", fmt.Errorf("%w (%s)", ErrNotAFolder, meta.MIMEType)
		case err == nil:
			return meta.ID, nil
		case !inaccessible(err):
			return "", fmt.Errorf("failed to fetch parent folder: %w", err)
		}
		name = r.defaultRootName
	}
	if settings.RootFolderID != "" {
		return settings.RootFolderID, nil
	}

	if name == "" {
		name = r.defaultRootName
	}
	f, err := d.FindFolder(ctx, name, adapter.RootID)
	if err != nil {
		return "", fmt.Errorf("failed to find root folder %q: %w", name, err)
	}
	return f.ID, nil
}

func (r *Resolver) defaultRoot(ctx context.Context, d adapter.Drive, name string) (string, error) {
	id, err := r.findOrCreate(ctx, d, name, adapter.RootID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root folder %q: %w", name, err)
	}
	r.cacheRoot(ctx, id, name)
	return id, nil
}

// cacheRoot records the resolved root. Failure only costs a lookup next time.
func (r *Resolver) cacheRoot(ctx context.Context, id, name string) {
	_, _, err := r.store.UpdateConfig(ctx, func(cfg *model.PortalConfig) error {
		ds := cfg.Drive()
		ds.RootFolderID = id
		ds.RootFolderName = name
		ds.IsConfigured = true
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("root_id", id).Warn("failed to cache root folder")
	}
}

func inaccessible(err error) bool {
	return errors.Is(err, adapter.ErrNotFound) || errors.Is(err, adapter.ErrForbidden)
}

func (r *Resolver) findOrCreate(ctx context.Context, d adapter.Drive, name, parentID string) (string, error) {
	key := parentID + "/" + name
	ch := r.group.DoChan(key, func() (interface{}, error) {
		// Shared by every caller waiting on key, so no single caller may cancel it.
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lockWait+sharedCallTimeout)
		defer cancel()
		return r.findOrCreateLocked(shared, d, key, name, parentID)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *Resolver) findOrCreateLocked(ctx context.Context, d adapter.Drive, key, name, parentID string) (string, error) {
	if f, err := d.FindFolder(ctx, name, parentID); err == nil {
		return f.ID, nil
	} else if !errors.Is(err, adapter.ErrNotFound) {
		return "", err
	}

	if r.locker != nil {
		owner := uuid.NewString()
		lockKey := "folder:" + key
		if _, err := lock.Wait(ctx, r.locker, lockKey, owner, r.lockWait); err != nil {
			log.WithError(err).WithField("lock_key", lockKey).Warn("could not lock folder creation, continuing unlocked")
		} else {
			defer func() {
				if err := r.locker.ReleaseLock(context.WithoutCancel(ctx), lockKey, owner); err != nil {
					log.WithError(err).WithField("lock_key", lockKey).Warn("failed to release folder lock")
				}
			}()
			// Another holder may have created it while we waited.
			if f, err := d.FindFolder(ctx, name, parentID); err == nil {
				return f.ID, nil
			} else if !errors.Is(err, adapter.ErrNotFound) {
				return "", err
			}
		}
	}

	f, err := d.CreateFolder(ctx, name, parentID)
	if err != nil {
		return "", err
	}
	log.WithFields(log.Fields{"name": name, "parent": parentID, "id": f.ID}).Info("created folder")
	return f.ID, nil
}
