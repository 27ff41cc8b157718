// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

// Package archive implements the zip extraction and post-extraction
// filesystem checks the runner needs after a build or profile download:
// extracting into a directory, locating the platform browser executable,
// and identifying the profile root inside an extracted profile zip
// (§4.4.1 of the design).
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrMissingExecutable is returned when an extracted build tree does not
// contain the platform-specific browser executable.
var ErrMissingExecutable = errors.New("archive: extracted build is missing the browser executable")

// Extract unpacks the zip archive at zipPath into destDir, creating destDir
// if needed. It refuses entries that would escape destDir via path
// traversal.
func Extract(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("archive: opening %s: %w", zipPath, err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("archive: creating %s: %w", destDir, err)
	}

	for _, f := range r.File {
		if err := extractEntry(f, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, destDir string) error {
	target := filepath.Join(destDir, f.Name)

	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
		return fmt.Errorf("archive: zip entry %q escapes destination directory", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("archive: creating parent of %s: %w", target, err)
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("archive: opening zip entry %q: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return fmt.Errorf("archive: creating %s: %w", target, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("archive: writing %s: %w", target, err)
	}
	return nil
}

// browserExecutable returns the path, relative to a build's extraction
// root, where the Firefox executable is expected for the current platform.
func browserExecutable() string {
	switch runtime.GOOS {
	case "windows":
		return "firefox/firefox.exe"
	case "darwin":
		return "Firefox.app/Contents/MacOS/firefox"
	default:
		return "firefox/firefox"
	}
}

// VerifyBuild checks that buildDir contains the platform-specific browser
// executable extracted from the build artifact, returning
// ErrMissingExecutable if not.
func VerifyBuild(buildDir string) error {
	path := filepath.Join(buildDir, browserExecutable())
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrMissingExecutable
		}
		return fmt.Errorf("archive: checking %s: %w", path, err)
	}
	if info.IsDir() {
		return ErrMissingExecutable
	}
	return nil
}

// profileMarkers are files expected inside an extracted Firefox profile;
// their presence (not validated by the protocol itself) is what downstream
// callers use as a black-box check that extraction succeeded.
var profileMarkers = []string{"places.sqlite", "prefs.js", "user.js"}

// FindProfileRoot identifies the profile root inside profileDir (the
// directory a profile zip was extracted into), per §4.4.1: profileDir
// itself if it directly contains a profile marker file, or its sole
// subdirectory if there is exactly one and it contains a marker (handling
// zips that wrap their contents in an extra directory).
func FindProfileRoot(profileDir string) (string, error) {
	if containsAnyMarker(profileDir) {
		return profileDir, nil
	}

	entries, err := os.ReadDir(profileDir)
	if err != nil {
		return "", fmt.Errorf("archive: reading %s: %w", profileDir, err)
	}

	var subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e.Name())
		}
	}

	if len(subdirs) == 1 {
		candidate := filepath.Join(profileDir, subdirs[0])
		if containsAnyMarker(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("archive: could not identify profile root under %s", profileDir)
}

func containsAnyMarker(dir string) bool {
	for _, marker := range profileMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}
