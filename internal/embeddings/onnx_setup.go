//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// DefaultONNXRuntimeVersion must match the onnxruntime_go release that
// fastembed-go links against.
const DefaultONNXRuntimeVersion = "1.23.0"

// DefaultONNXReleaseURL hosts the upstream runtime archives.
const DefaultONNXReleaseURL = "https://github.com/microsoft/onnxruntime/releases/download"

// onnxPathEnv is read by fastembed-go when it loads the shared library.
const onnxPathEnv = "ONNX_PATH"

// ErrUnsupportedPlatform indicates no runtime archive exists for GOOS/GOARCH.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// releaseAsset describes the archive and library for one platform.
type releaseAsset struct {
	platform string
	library  string
}

var releaseAssets = map[string]releaseAsset{
	"linux/amd64":  {"linux-x64", "libonnxruntime.so"},
	"linux/arm64":  {"linux-aarch64", "libonnxruntime.so"},
	"darwin/amd64": {"osx-x86_64", "libonnxruntime.dylib"},
	"darwin/arm64": {"osx-arm64", "libonnxruntime.dylib"},
}

func assetFor(goos, goarch string) (releaseAsset, error) {
	a, ok := releaseAssets[goos+"/"+goarch]
	if !ok {
		return releaseAsset{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	return a, nil
}

// archiveName is the release file name, also the top directory inside it.
func (a releaseAsset) archiveName(version string) string {
	return fmt.Sprintf("onnxruntime-%s-%s", a.platform, version)
}

// ONNXRuntime locates and installs the ONNX runtime shared library that the
// fastembed provider loads. Zero fields take their defaults.
type ONNXRuntime struct {
	Version    string
	Dir        string
	ReleaseURL string
	Client     *http.Client
	Logger     *zap.Logger

	goos, goarch string
}

// DefaultONNXRuntime installs into ~/.config/siteindex/lib.
func DefaultONNXRuntime(logger *zap.Logger) *ONNXRuntime {
	return &ONNXRuntime{Logger: logger}
}

func (r *ONNXRuntime) version() string {
	if r.Version != "" {
		return r.Version
	}
	return DefaultONNXRuntimeVersion
}

func (r *ONNXRuntime) dir() string {
	if r.Dir != "" {
		return r.Dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "siteindex", "lib")
}

func (r *ONNXRuntime) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

func (r *ONNXRuntime) asset() (releaseAsset, error) {
	goos, goarch := r.goos, r.goarch
	if goos == "" {
		goos, goarch = runtime.GOOS, runtime.GOARCH
	}
	return assetFor(goos, goarch)
}

// LibraryPath returns ONNX_PATH when set, else the managed library if it is
// installed, else "".
func (r *ONNXRuntime) LibraryPath() string {
	if p := os.Getenv(onnxPathEnv); p != "" {
		return p
	}
	a, err := r.asset()
	if err != nil {
		return ""
	}
	p := filepath.Join(r.dir(), a.library)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// Install downloads the runtime archive and unpacks its libraries into the
// managed directory, replacing any previous install. It returns the
// library path.
func (r *ONNXRuntime) Install(ctx context.Context) (string, error) {
	a, err := r.asset()
	if err != nil {
		return "", err
	}
	version := r.version()
	base := r.ReleaseURL
	if base == "" {
		base = DefaultONNXReleaseURL
	}
	url := fmt.Sprintf("%s/v%s/%s.tgz", strings.TrimSuffix(base, "/"), version, a.archiveName(version))

	dir := r.dir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading ONNX runtime: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading ONNX runtime: %s returned %d", url, resp.StatusCode)
	}

	if err := unpackLibraries(resp.Body, a.archiveName(version)+"/lib/", dir, a.library); err != nil {
		return "", fmt.Errorf("unpacking ONNX runtime: %w", err)
	}
	return filepath.Join(dir, a.library), nil
}

// Ensure returns the library path, installing the runtime first when none
// is found, and exports it as ONNX_PATH for fastembed-go.
func (r *ONNXRuntime) Ensure(ctx context.Context) (string, error) {
	if p := r.LibraryPath(); p != "" {
		return p, os.Setenv(onnxPathEnv, p)
	}

	log := r.logger()
	log.Info("ONNX runtime not found, installing",
		zap.String("version", r.version()),
		zap.String("dir", r.dir()))
	p, err := r.Install(ctx)
	if err != nil {
		return "", fmt.Errorf("%w (run 'siteindexd init' or set %s)", err, onnxPathEnv)
	}
	if err := os.Setenv(onnxPathEnv, p); err != nil {
		return "", fmt.Errorf("setting %s: %w", onnxPathEnv, err)
	}
	log.Info("ONNX runtime installed", zap.String("path", p))
	return p, nil
}

// unpackLibraries copies the entries under prefix into dir, flattened. It
// fails when library is missing from the archive.
func unpackLibraries(r io.Reader, prefix, dir, library string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	found := false
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if !strings.HasPrefix(name, prefix) || hdr.Typeflag == tar.TypeDir {
			continue
		}
		base := path.Base(name)
		if base == "." || base == "/" || strings.Contains(base, "..") {
			continue
		}
		dest := filepath.Join(dir, base)

		switch hdr.Typeflag {
		case tar.TypeSymlink:
			_ = os.Remove(dest)
			if strings.Contains(hdr.Linkname, "/") {
				continue
			}
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				continue
			}
		case tar.TypeReg:
			if err := writeFile(dest, tr); err != nil {
				return err
			}
		default:
			continue
		}
		if base == library || strings.HasPrefix(base, library+".") {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%s not found in archive", library)
	}
	return nil
}

func writeFile(dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return f.Close()
}
