// Package downloader acquires one package's source code for analysis:
// a repository-host archive when the manifest names a recognized host and
// a gitHead, otherwise the registry tarball, otherwise a manifest-only
// stub. Grounded on forge/gitea.go's archive-reader download and
// forge/gitlab.go's glabDownloadArchive/glabUnzipStripTop (the 202-retry
// loop and top-directory stripping), generalized from zip to the tar.gz
// archives both npm tarballs and GitHub/Gitea/GitLab codeload endpoints
// actually serve.
package downloader

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"code.gitea.io/sdk/gitea"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"pkgsignal.dev/analyzer/errkind"
	"pkgsignal.dev/analyzer/httpclient"
	"pkgsignal.dev/analyzer/model"
)

const (
	maxTarballBytes = 256 * 1024 * 1024
	defaultMaxFiles = 16384
)

// Options tunes one Download call.
type Options struct {
	StagingRoot string // parent dir under which a unique rootDir is created
	MaxFiles    int    // 0 uses defaultMaxFiles
	GiteaToken  string
	GitlabToken string
}

// Download resolves and stages manifest's source, per spec:
//  1. repository host archive at GitHead, tried only when GitHead is set;
//     a 404 there falls through to step 2 (the default branch is not
//     tried);
//  2. else the registry's dist.tarball;
//  3. else a manifest-only stub directory.
func Download(ctx context.Context, manifest model.Manifest, opts Options) (*model.Downloaded, error) {
	rootDir, err := os.MkdirTemp(opts.StagingRoot, "pkganalyze-*")
	if err != nil {
		return nil, fmt.Errorf("downloader: creating staging dir: %w", err)
	}

	maxFiles := opts.MaxFiles
	if maxFiles <= 0 {
		maxFiles = defaultMaxFiles
	}

	if host, ok := detectHost(manifest.Repository.URL); ok && manifest.GitHead != "" {
		if err := downloadFromHost(ctx, host, manifest, opts, rootDir, maxFiles); err == nil {
			return finalize(rootDir, "repoHost", manifest.GitHead, manifest)
		} else if !errkind.Is(err, errkind.PackageNotFound) {
			os.RemoveAll(rootDir)
			return nil, err
		}
		// fall through to registry tarball on 404
	}

	if manifest.DistTarball != "" {
		if err := downloadRegistryTarball(ctx, manifest.DistTarball, rootDir, maxFiles); err != nil {
			os.RemoveAll(rootDir)
			return nil, err
		}
		return finalize(rootDir, "registry", "", manifest)
	}

	if err := writeManifestStub(rootDir, manifest); err != nil {
		os.RemoveAll(rootDir)
		return nil, err
	}
	return finalize(rootDir, "git", "", manifest)
}

type repoHost int

const (
	hostGitHub repoHost = iota
	hostGitLab
	hostGitea
)

// detectHost is intentionally narrow: it only recognizes hosts this
// module has a client for (GitHub via HTTPClient codeload, GitLab/Gitea
// via their SDKs). Anything else falls through to the registry tarball.
func detectHost(repoURL string) (repoHost, bool) {
	switch {
	case strings.Contains(repoURL, "github.com"):
		return hostGitHub, true
	case strings.Contains(repoURL, "gitlab.com"):
		return hostGitLab, true
	case strings.Contains(repoURL, "gitea"):
		return hostGitea, true
	default:
		return 0, false
	}
}

func ownerRepo(repoURL string) (owner, repo string, err error) {
	u := strings.TrimSuffix(repoURL, ".git")
	u = strings.TrimPrefix(u, "git+")
	for _, prefix := range []string{"https://", "http://", "git://", "ssh://git@"} {
		u = strings.TrimPrefix(u, prefix)
	}
	parts := strings.SplitN(u, "/", 3)
	if len(parts) < 3 {
		return "", "", fmt.Errorf("downloader: cannot parse owner/repo from %q", repoURL)
	}
	return parts[1], parts[2], nil
}

func downloadFromHost(ctx context.Context, host repoHost, manifest model.Manifest, opts Options, rootDir string, maxFiles int) error {
	owner, repo, err := ownerRepo(manifest.Repository.URL)
	if err != nil {
		return err
	}

	switch host {
	case hostGitHub:
		return downloadGitHubArchive(ctx, owner, repo, manifest.GitHead, rootDir, maxFiles)
	case hostGitLab:
		return downloadGitlabArchive(ctx, opts.GitlabToken, owner, repo, manifest.GitHead, rootDir, maxFiles)
	case hostGitea:
		return downloadGiteaArchive(opts.GiteaToken, manifest.Repository.URL, owner, repo, manifest.GitHead, rootDir, maxFiles)
	default:
		return fmt.Errorf("downloader: unhandled host %v", host)
	}
}

// downloadGitHubArchive pulls the tarball GitHub's codeload endpoint
// serves for a given ref, via HTTPClient so retry/backoff apply uniformly
// with the rest of the pipeline's outbound calls.
func downloadGitHubArchive(ctx context.Context, owner, repo, ref, rootDir string, maxFiles int) error {
	url := fmt.Sprintf("https://codeload.github.com/%s/%s/tar.gz/%s", owner, repo, ref)
	req := httpclient.NewRequest("GET", url)
	resp, err := httpclient.Execute(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode == 404 {
		return errkind.New(errkind.PackageNotFound, "github archive not found at ref "+ref)
	}
	if !resp.IsSuccess() {
		return errkind.New(errkind.TransientNetwork, fmt.Sprintf("github archive: status %d", resp.StatusCode))
	}
	if int64(len(resp.Body)) > maxTarballBytes {
		return errkind.New(errkind.TarballTooLarge, url)
	}
	return extractTarGzStripTop(resp.Body, rootDir, maxFiles)
}

func downloadGiteaArchive(token, baseURL, owner, repo, ref string, rootDir string, maxFiles int) error {
	client, err := gitea.NewClient(baseURL, gitea.SetToken(token))
	if err != nil {
		return fmt.Errorf("downloader: gitea client: %w", err)
	}
	reader, resp, err := client.GetArchiveReader(owner, repo, ref, gitea.TarGZArchive)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return errkind.New(errkind.PackageNotFound, "gitea archive not found at ref "+ref)
		}
		return fmt.Errorf("downloader: gitea archive: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(reader, maxTarballBytes+1))
	if err != nil {
		return fmt.Errorf("downloader: reading gitea archive: %w", err)
	}
	if int64(len(body)) > maxTarballBytes {
		return errkind.New(errkind.TarballTooLarge, owner+"/"+repo)
	}
	return extractTarGzStripTop(body, rootDir, maxFiles)
}

// downloadGitlabArchive mirrors forge/gitlab.go's glabDownloadArchive
// 202-retry loop (GitLab computes archives lazily) but fetches tar.gz
// instead of zip, so extraction shares the tar path the other hosts use.
func downloadGitlabArchive(ctx context.Context, token, owner, repo, ref, rootDir string, maxFiles int) error {
	client, err := gitlab.NewClient(token, gitlab.WithBaseURL("https://gitlab.com/api/v4"))
	if err != nil {
		return fmt.Errorf("downloader: gitlab client: %w", err)
	}

	projectID := owner + "/" + repo
	format := "tar.gz"
	opt := &gitlab.ArchiveOptions{SHA: &ref, Format: &format}

	for attempt := 0; attempt < 10; attempt++ {
		archive, resp, err := client.Repositories.Archive(projectID, opt, gitlab.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("downloader: gitlab archive: %w", err)
		}
		if resp.StatusCode == 202 {
			continue
		}
		if resp.StatusCode == 404 {
			return errkind.New(errkind.PackageNotFound, "gitlab archive not found at ref "+ref)
		}
		if resp.StatusCode != 200 {
			return errkind.New(errkind.TransientNetwork, fmt.Sprintf("gitlab archive: status %d", resp.StatusCode))
		}
		if int64(len(archive)) > maxTarballBytes {
			return errkind.New(errkind.TarballTooLarge, projectID)
		}
		return extractTarGzStripTop(archive, rootDir, maxFiles)
	}
	return errkind.New(errkind.TransientNetwork, "gitlab archive not ready after retries")
}

func downloadRegistryTarball(ctx context.Context, tarballURL, rootDir string, maxFiles int) error {
	req := httpclient.NewRequest("GET", tarballURL)
	resp, err := httpclient.Execute(ctx, req)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return errkind.New(errkind.TransientNetwork, fmt.Sprintf("registry tarball: status %d", resp.StatusCode))
	}
	if int64(len(resp.Body)) > maxTarballBytes {
		return errkind.New(errkind.TarballTooLarge, tarballURL)
	}
	// Registry tarballs conventionally wrap everything under "package/".
	return extractTarGzStripTop(resp.Body, rootDir, maxFiles)
}

// extractTarGzStripTop extracts a .tar.gz stream into destDir, stripping
// the first path component of every entry the way forge/gitlab.go's
// glabUnzipStripTop strips GitLab's repo-root folder, and the way npm
// registry tarballs wrap everything under "package/". Permissions are
// normalized world-readable; entries beyond maxFiles abort the extract.
func extractTarGzStripTop(data []byte, destDir string, maxFiles int) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return errkind.Wrap(errkind.MalformedArchive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errkind.Wrap(errkind.MalformedArchive, err)
		}

		count++
		if count > maxFiles {
			return errkind.New(errkind.TooManyFiles, fmt.Sprintf("exceeded %d files", maxFiles))
		}

		parts := strings.SplitN(strings.TrimPrefix(hdr.Name, "/"), "/", 2)
		if len(parts) < 2 || parts[1] == "" {
			continue // the stripped top-level entry itself
		}
		relPath := parts[1]
		target := filepath.Join(destDir, relPath)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("downloader: mkdir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("downloader: mkdir %s: %w", filepath.Dir(target), err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("downloader: creating %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("downloader: writing %s: %w", target, err)
			}
			out.Close()
		default:
			// symlinks and other special entries are skipped; npm
			// tarballs and repo archives don't rely on them.
		}
	}
	return nil
}

func writeManifestStub(rootDir string, manifest model.Manifest) error {
	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("downloader: marshaling manifest stub: %w", err)
	}
	return os.WriteFile(filepath.Join(rootDir, "package.json"), body, 0o644)
}

// finalize merges the on-disk package.json into manifest (manifest wins
// on name/version), locates the monorepo subpackage directory if any,
// removes any lockfile at the top of rootDir, and returns the Downloaded
// record.
func finalize(rootDir, source, gitRef string, manifest model.Manifest) (*model.Downloaded, error) {
	effective, extractedName := mergeExtractedManifest(rootDir, manifest)
	packageDir, err := locatePackageDir(rootDir, effective.Name)
	if err != nil {
		return nil, err
	}
	hadLockfile := removeLockfiles(rootDir)

	return &model.Downloaded{
		RootDir:           rootDir,
		PackageDir:        packageDir,
		Source:            source,
		GitRef:            gitRef,
		EffectiveManifest: effective,
		HadLockfile:       hadLockfile,
		ExtractedName:     extractedName,
	}, nil
}

// mergeExtractedManifest merges the on-disk package.json into manifest
// (manifest wins on name/version) and separately reports the raw name the
// extracted file actually carried, since that's the signal the analysis
// engine's repository-ownership guard needs and the merge itself discards.
func mergeExtractedManifest(rootDir string, manifest model.Manifest) (model.Manifest, string) {
	data, err := os.ReadFile(filepath.Join(rootDir, "package.json"))
	if err != nil {
		return manifest, ""
	}
	var extracted model.Manifest
	if err := json.Unmarshal(data, &extracted); err != nil {
		return manifest, ""
	}

	merged := extracted
	merged.Name = manifest.Name
	merged.Version = manifest.Version
	return merged, extracted.Name
}

// locatePackageDir scans one level deep under rootDir for a package.json
// whose name matches targetName, the monorepo convention the spec names.
// If rootDir's own package.json already matches (or none do), rootDir is
// returned unchanged.
func locatePackageDir(rootDir, targetName string) (string, error) {
	if matchesName(filepath.Join(rootDir, "package.json"), targetName) {
		return rootDir, nil
	}

	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return rootDir, nil
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(rootDir, entry.Name())
		if matchesName(filepath.Join(candidate, "package.json"), targetName) {
			return candidate, nil
		}
	}
	return rootDir, nil
}

func matchesName(manifestPath, targetName string) bool {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return false
	}
	var probe struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Name == targetName
}

// removeLockfiles deletes any lockfile left in rootDir and reports whether
// one was found, so callers can still credit a locked dependency tree even
// though the file itself is gone by the time evaluators run.
func removeLockfiles(rootDir string) bool {
	found := false
	for _, name := range []string{"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "npm-shrinkwrap.json"} {
		if err := os.Remove(filepath.Join(rootDir, name)); err == nil {
			found = true
		}
	}
	return found
}
