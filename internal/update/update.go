// Package update checks GitHub releases for newer loopwatch versions and
// replaces the running binary.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/creativeprojects/go-selfupdate"
)

const (
	repoOwner     = "loopwatch"
	repoName      = "loopwatch"
	checkInterval = 24 * time.Hour
	cacheFile     = "update-cache.json"
)

// ErrDevBuild is returned when the running binary has no release version.
var ErrDevBuild = errors.New("cannot update dev builds")

// Release describes a published version.
type Release struct {
	Version      string
	ReleaseNotes string
}

// updateCache stores the last update check result.
type updateCache struct {
	LastCheck     time.Time `json:"last_check"`
	LatestVersion string    `json:"latest_version,omitempty"`
}

// LatestFunc looks up the newest release. It returns nil when the
// repository has no releases.
type LatestFunc func(ctx context.Context) (*Release, error)

// Checker reports available updates, remembering the result for a day.
type Checker struct {
	cacheDir string
	latest   LatestFunc
	now      func() time.Time
}

// NewChecker returns a checker that caches under cacheDir and queries
// GitHub releases. An empty cacheDir disables caching.
func NewChecker(cacheDir string) *Checker {
	return &Checker{cacheDir: cacheDir, latest: LatestRelease, now: time.Now}
}

// DefaultCacheDir returns the per-user directory for the update cache.
func DefaultCacheDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "loopwatch")
}

// Notice returns a one-line upgrade hint when a newer release than current
// exists, or "" otherwise. GitHub is queried at most once per day; lookup
// failures are silent.
func (c *Checker) Notice(ctx context.Context, current string) string {
	if isDev(current) {
		return ""
	}

	cache := c.loadCache()
	if cache == nil || c.now().Sub(cache.LastCheck) >= checkInterval {
		rel, err := c.latest(ctx)
		if err != nil {
			return ""
		}
		cache = &updateCache{LastCheck: c.now()}
		if rel != nil {
			cache.LatestVersion = rel.Version
		}
		c.saveCache(cache)
	}

	if cache.LatestVersion == "" || !isNewer(cache.LatestVersion, current) {
		return ""
	}
	return fmt.Sprintf("Update available: %s -> %s (run: loopwatch upgrade)", current, cache.LatestVersion)
}

func (c *Checker) cachePath() string {
	if c.cacheDir == "" {
		return ""
	}
	return filepath.Join(c.cacheDir, cacheFile)
}

func (c *Checker) loadCache() *updateCache {
	path := c.cachePath()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cache updateCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil
	}
	return &cache
}

func (c *Checker) saveCache(cache *updateCache) {
	path := c.cachePath()
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	data, err := json.Marshal(cache)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}

func newUpdater() (*selfupdate.Updater, error) {
	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("create GitHub source: %w", err)
	}
	updater, err := selfupdate.NewUpdater(selfupdate.Config{Source: source})
	if err != nil {
		return nil, fmt.Errorf("create updater: %w", err)
	}
	return updater, nil
}

// LatestRelease queries GitHub for the newest loopwatch release.
func LatestRelease(ctx context.Context) (*Release, error) {
	updater, err := newUpdater()
	if err != nil {
		return nil, err
	}
	latest, found, err := updater.DetectLatest(ctx, selfupdate.NewRepositorySlug(repoOwner, repoName))
	if err != nil {
		return nil, fmt.Errorf("detect latest version: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &Release{Version: latest.Version(), ReleaseNotes: latest.ReleaseNotes}, nil
}

// Upgrade replaces the running executable with the newest release and
// returns it. It fails when current is already the latest version.
func Upgrade(ctx context.Context, current string) (*Release, error) {
	if isDev(current) {
		return nil, ErrDevBuild
	}

	updater, err := newUpdater()
	if err != nil {
		return nil, err
	}
	latest, found, err := updater.DetectLatest(ctx, selfupdate.NewRepositorySlug(repoOwner, repoName))
	if err != nil {
		return nil, fmt.Errorf("detect latest version: %w", err)
	}
	if !found {
		return nil, errors.New("no releases found")
	}
	if !latest.GreaterThan(strings.TrimPrefix(current, "v")) {
		return nil, fmt.Errorf("already at latest version (%s)", current)
	}

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	if err := updater.UpdateTo(ctx, latest, exe); err != nil {
		return nil, fmt.Errorf("update binary: %w", err)
	}
	return &Release{Version: latest.Version(), ReleaseNotes: latest.ReleaseNotes}, nil
}

func isDev(version string) bool {
	v := strings.TrimPrefix(version, "v")
	return v == "" || v == "dev"
}

// isNewer reports whether version a is newer than b. Unparseable versions
// are never newer.
func isNewer(a, b string) bool {
	va, err := semver.NewVersion(a)
	if err != nil {
		return false
	}
	vb, err := semver.NewVersion(b)
	if err != nil {
		return false
	}
	return va.GreaterThan(vb)
}
