package models

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"voicekit/internal/domain"
)

// staleLockAge bounds how long an install lock left by another process is
// honored before it is treated as abandoned.
const staleLockAge = 30 * time.Minute

// Config controls where models live and where they come from.
type Config struct {
	Dir     string
	BaseURL string
	// Supported is false when the binary has no on-device engine.
	Supported bool
	Client    *http.Client
	Registry  []ModelInfo
	Logger    *slog.Logger
}

// Manager implements ports.ModelStore for Vosk model archives.
type Manager struct {
	dir       string
	baseURL   string
	supported bool
	client    *http.Client
	registry  []ModelInfo
	logger    *slog.Logger

	mu sync.Mutex
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve model directory: %w", err)
		}
		cfg.Dir = filepath.Join(cacheDir, "voicekit", "models")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model directory: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Registry == nil {
		cfg.Registry = Registry
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		dir:       cfg.Dir,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		supported: cfg.Supported,
		client:    cfg.Client,
		registry:  cfg.Registry,
		logger:    cfg.Logger,
	}, nil
}

func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) OnDeviceSupported() bool {
	return m.supported
}

func (m *Manager) ProgressTracking() bool {
	return true
}

func (m *Manager) SupportedLocales(context.Context) ([]string, error) {
	locales := make([]string, 0, len(m.registry))
	for _, info := range m.registry {
		locales = append(locales, info.Locale)
	}
	return locales, nil
}

func (m *Manager) InstalledLocales(context.Context) ([]string, error) {
	locales := []string{}
	for _, info := range m.registry {
		if m.installed(info) {
			locales = append(locales, info.Locale)
		}
	}
	return locales, nil
}

func (m *Manager) IsInstalled(locale string) bool {
	_, ok := m.ModelDir(locale)
	return ok
}

// ModelDir returns the installed model directory serving locale.
func (m *Manager) ModelDir(locale string) (string, bool) {
	info, ok := lookup(m.registry, locale)
	if !ok || !m.installed(info) {
		return "", false
	}
	return m.path(info), true
}

func (m *Manager) HasInstalledModel() bool {
	for _, info := range m.registry {
		if m.installed(info) {
			return true
		}
	}
	return false
}

// Download installs the model for locale. progress receives whole percents
// and is called with 100 once the model is usable.
func (m *Manager) Download(ctx context.Context, locale string, progress func(percent int)) (domain.ModelDownloadOutcome, error) {
	info, ok := lookup(m.registry, locale)
	if !ok {
		return "", fmt.Errorf("no on-device model available for %q", locale)
	}
	if progress == nil {
		progress = func(int) {}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.installed(info) {
		progress(100)
		return domain.ModelDownloadCompleted, nil
	}

	unlock, held, err := m.lock(info)
	if err != nil {
		return "", err
	}
	if held {
		m.logger.Info("model is being installed by another process", "locale", info.Locale, "model", info.Name)
		return domain.ModelDownloadScheduled, nil
	}
	defer unlock()

	archive, err := m.fetch(ctx, info, progress)
	if err != nil {
		return "", err
	}
	defer os.Remove(archive)

	if err := m.install(info, archive); err != nil {
		return "", fmt.Errorf("unpack %s: %w", info.Name, err)
	}

	m.logger.Info("on-device model installed", "locale", info.Locale, "model", info.Name)
	progress(100)
	return domain.ModelDownloadCompleted, nil
}

func (m *Manager) path(info ModelInfo) string {
	return filepath.Join(m.dir, info.Name)
}

func (m *Manager) installed(info ModelInfo) bool {
	stat, err := os.Stat(m.path(info))
	return err == nil && stat.IsDir()
}

// lock claims the install of info for this process. held reports a fresh
// lock owned by another process sharing the models directory; the model
// becomes usable once that process finishes.
func (m *Manager) lock(info ModelInfo) (unlock func(), held bool, err error) {
	path := filepath.Join(m.dir, "."+info.Name+".lock")
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return func() { _ = os.Remove(path) }, false, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, false, fmt.Errorf("lock %s: %w", info.Name, err)
		}
		stat, statErr := os.Stat(path)
		if statErr == nil && time.Since(stat.ModTime()) < staleLockAge {
			return nil, true, nil
		}
		m.logger.Warn("removing stale model lock", "model", info.Name)
		_ = os.Remove(path)
	}
	return nil, false, fmt.Errorf("lock %s: could not acquire install lock", info.Name)
}

func (m *Manager) fetch(ctx context.Context, info ModelInfo, progress func(int)) (string, error) {
	url := m.baseURL + "/" + info.Name + ".zip"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", info.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: HTTP %s", info.Name, resp.Status)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = info.Size
	}

	tmp, err := os.CreateTemp(m.dir, ".download-*.zip")
	if err != nil {
		return "", err
	}

	progress(0)
	counter := &progressWriter{total: total, report: progress}
	if _, err := io.Copy(io.MultiWriter(tmp, counter), resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("download %s: %w", info.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// install unpacks into a staging directory and moves the model into place,
// so a partially unpacked archive never looks installed.
func (m *Manager) install(info ModelInfo, archive string) error {
	staging, err := os.MkdirTemp(m.dir, ".staging-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := unzip(archive, staging); err != nil {
		return err
	}

	root := staging
	if stat, err := os.Stat(filepath.Join(staging, info.Name)); err == nil && stat.IsDir() {
		root = filepath.Join(staging, info.Name)
	} else if entries, err := os.ReadDir(staging); err == nil && len(entries) == 1 && entries[0].IsDir() {
		root = filepath.Join(staging, entries[0].Name())
	}
	return os.Rename(root, m.path(info))
}

type progressWriter struct {
	total   int64
	written int64
	last    int
	report  func(int)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.total > 0 {
		percent := int(w.written * 100 / w.total)
		// The final 100 is reported after unpacking.
		if percent > 99 {
			percent = 99
		}
		if percent > w.last {
			w.last = percent
			w.report(percent)
		}
	}
	return len(p), nil
}

var errUnsafePath = errors.New("archive entry escapes destination")

func unzip(src, destDir string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		fpath := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(fpath, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("%w: %s", errUnsafePath, f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, fpath); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, fpath string) error {
	outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	defer outFile.Close()

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = io.Copy(outFile, rc)
	return err
}
