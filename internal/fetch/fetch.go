package fetch

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/vk/distforge/internal/ctxlog"
)

// IntegrityError reports a tarball whose computed BLAKE2b digest differs
// from the digest declared in the recipe. The artifact is rejected; the
// orchestrator never proceeds with possibly corrupt or tampered sources.
type IntegrityError struct {
	URL  string
	Want string
	Got  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: want blake2b %s, got %s", e.URL, e.Want, e.Got)
}

// Fetcher downloads source tarballs into a digest-addressed cache
// directory. Cache hits are re-verified before use, so a corrupted cache
// entry is replaced rather than trusted.
type Fetcher struct {
	cacheDir string
	client   *http.Client
}

// New creates a fetcher backed by the given cache directory, creating the
// directory if needed.
func New(cacheDir string) (*Fetcher, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating source cache %s: %w", cacheDir, err)
	}
	return &Fetcher{
		cacheDir: cacheDir,
		client:   http.DefaultClient,
	}, nil
}

// Fetch returns the local path of the tarball at url, downloading it if the
// cache has no verified copy. wantHex is the expected BLAKE2b-512 digest in
// hex; any mismatch fails closed with an IntegrityError.
func (f *Fetcher) Fetch(ctx context.Context, url, wantHex string) (string, error) {
	logger := ctxlog.FromContext(ctx).With("url", url)

	cached := filepath.Join(f.cacheDir, wantHex+".tar")
	if _, err := os.Stat(cached); err == nil {
		got, err := digestFile(cached)
		if err != nil {
			return "", err
		}
		if got == wantHex {
			logger.Debug("Source cache hit.", "path", cached)
			return cached, nil
		}
		logger.Warn("Cached source failed re-verification, refetching.", "path", cached)
		if err := os.Remove(cached); err != nil {
			return "", fmt.Errorf("removing corrupt cache entry %s: %w", cached, err)
		}
	}

	logger.Info("Fetching source tarball.")
	got, tmp, err := f.download(ctx, url)
	if err != nil {
		return "", err
	}

	if got != wantHex {
		os.Remove(tmp)
		return "", &IntegrityError{URL: url, Want: wantHex, Got: got}
	}

	if err := os.Rename(tmp, cached); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("committing %s to source cache: %w", url, err)
	}
	logger.Debug("Source tarball cached.", "path", cached)
	return cached, nil
}

// download streams the response body to a temp file in the cache directory,
// hashing as it goes. It returns the hex digest and the temp path.
func (f *Fetcher) download(ctx context.Context, url string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("building request for %s: %w", url, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(f.cacheDir, "fetch-*.partial")
	if err != nil {
		return "", "", fmt.Errorf("creating temp file: %w", err)
	}

	hasher, err := blake2b.New512(nil)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", "", err
	}

	if _, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", "", fmt.Errorf("downloading %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), tmp.Name(), nil
}

// digestFile computes the hex BLAKE2b-512 digest of a file on disk.
func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher, err := blake2b.New512(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
