package repo

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Install downloads a catalogue theme into the themes directory. A missing
// inherited theme is installed first when the catalogue has it. Reinstalling
// an up-to-date theme fails with ErrUpToDate unless force is set; force also
// installs a theme whose parent cannot be found.
func (m *Manager) Install(ctx context.Context, name string, force bool) error {
	m.op.Lock()
	defer m.op.Unlock()

	var written []string
	err := m.install(ctx, name, force, nil, &written)
	if len(written) > 0 {
		m.changed()
	}
	return err
}

// install records every theme it puts on disk in written, so a parent
// installed before a failing child still triggers a reload.
func (m *Manager) install(ctx context.Context, name string, force bool, chain []string, written *[]string) error {
	for _, seen := range chain {
		if seen == name {
			return fmt.Errorf("%w: %s", ErrInheritCycle, strings.Join(append(chain, name), " -> "))
		}
	}

	entry, err := m.Entry(name)
	if err != nil {
		return err
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: theme name %q", ErrUnsafeArchive, name)
	}
	log.Printf("[repo] installing %s (v%d)", name, entry.Version)

	available := make(map[string]bool)
	for _, n := range m.opts.Available() {
		available[n] = true
	}
	if !m.IsInstalled(name) && available[name] {
		log.Printf("[repo] %s exists as a manually installed theme and will be shadowed", name)
	}

	if parent := entry.Inherits; parent != "" {
		_, perr := m.Entry(parent)
		inCatalogue := perr == nil
		switch {
		case m.IsInstalled(parent) || available[parent]:
		case inCatalogue:
			log.Printf("[repo] %s requires %s, installing it first", name, parent)
			if err := m.install(ctx, parent, false, append(chain, name), written); err != nil {
				return fmt.Errorf("install %s for %s: %w", parent, name, err)
			}
		case force:
			log.Printf("[repo] %s requires %s, which is unavailable; installing anyway", name, parent)
		default:
			return fmt.Errorf("%w: %s requires %s", ErrMissingParent, name, parent)
		}
	}

	if m.IsInstalled(name) && !m.HasUpdate(name) {
		if !force {
			return fmt.Errorf("%w: %s", ErrUpToDate, name)
		}
		log.Printf("[repo] %s is up to date, reinstalling anyway", name)
	}

	body, err := m.fetch(ctx, entry.Download)
	if err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}
	sum := sha256.Sum256(body)
	if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, entry.SHA256Download) {
		return fmt.Errorf("%w: %s: calculated %s, expected %s", ErrChecksum, name, got, entry.SHA256Download)
	}

	if err := m.extract(body, name); err != nil {
		return fmt.Errorf("extract %s: %w", name, err)
	}
	*written = append(*written, name)

	m.mu.Lock()
	m.manifest.Entries[name] = entry
	m.mu.Unlock()
	if err := m.saveManifest(); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	log.Printf("[repo] %s is now installed", name)
	return nil
}

// extract unpacks a theme archive into <themes>/<name>, replacing any
// previous version. Files are written to a temporary directory first.
func (m *Manager) extract(archive []byte, name string) error {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return err
	}

	root := m.opts.Store.ThemesDir()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(root, "."+name+"-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	for _, f := range zr.File {
		target, err := archivePath(tmp, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := writeArchiveFile(f, target); err != nil {
			return err
		}
	}

	dir := filepath.Join(root, name)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.Rename(tmp, dir)
}

func archivePath(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeArchive, name)
	}
	return filepath.Join(dir, clean), nil
}

func writeArchiveFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Uninstall removes a theme installed through the repository. With cascade,
// installed themes inheriting from it are removed first. Themes that were not
// installed through the repository are never touched. It returns every
// removed theme.
func (m *Manager) Uninstall(name string, cascade bool) ([]string, error) {
	m.op.Lock()
	defer m.op.Unlock()

	if !m.IsInstalled(name) {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}

	var removed []string
	if cascade {
		children := m.Inheriting(name, true)
		for i := len(children) - 1; i >= 0; i-- {
			if !m.IsInstalled(children[i]) {
				continue
			}
			if err := m.remove(children[i]); err != nil {
				return removed, err
			}
			removed = append(removed, children[i])
		}
	}
	if err := m.remove(name); err != nil {
		return removed, err
	}
	removed = append(removed, name)
	m.changed()
	return removed, nil
}

func (m *Manager) remove(name string) error {
	log.Printf("[repo] uninstalling %s", name)
	if err := os.RemoveAll(filepath.Join(m.opts.Store.ThemesDir(), name)); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.manifest.Entries, name)
	m.mu.Unlock()
	return m.saveManifest()
}
