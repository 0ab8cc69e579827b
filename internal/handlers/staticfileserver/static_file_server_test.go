package staticfileserver

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/statichttpd/internal/config"
	"example.com/statichttpd/internal/http1"
	"example.com/statichttpd/internal/logger"
)

// setupTestRoot creates a document root with a few files and returns its path.
func setupTestRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"index.html":      "<h1>hi</h1>",
		"style.css":       "body{}",
		"sub/a b.txt":     "spaced",
		"sub/deep/z.json": "{}",
		"photo.txt":       string(pngHeader),
	}
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatalf("mkdir empty: %v", err)
	}
	return root
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newTestServer(t *testing.T, root string, mutate func(*config.Config)) *StaticFileServer {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Root = &root
	if mutate != nil {
		mutate(cfg)
	}
	sfs, err := New(cfg, logger.NewDiscardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return sfs
}

func get(path string) *http1.Request {
	return &http1.Request{Method: "GET", Path: path, Version: http1.Version11}
}

func TestBuild_File(t *testing.T) {
	sfs := newTestServer(t, setupTestRoot(t), nil)

	resp, err := sfs.Build(get("/index.html"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if resp.Status != http1.StatusOK {
		t.Errorf("status = %v, want 200 OK", resp.Status)
	}
	if resp.ContentLength() != 11 {
		t.Errorf("content length = %d, want 11", resp.ContentLength())
	}
	if resp.ContentType != "text/html" {
		t.Errorf("content type = %q, want text/html", resp.ContentType)
	}
	if resp.AcceptRanges != http1.AcceptRangesNone {
		t.Errorf("accept ranges = %v, want none", resp.AcceptRanges)
	}
	if string(resp.Body) != "<h1>hi</h1>" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestBuild_BinaryFileExactBytes(t *testing.T) {
	root := t.TempDir()
	content := make([]byte, 70000)
	for i := range content {
		content[i] = byte(i * 7)
	}
	if err := os.WriteFile(filepath.Join(root, "data.bin"), content, 0o644); err != nil {
		t.Fatal(err)
	}
	sfs := newTestServer(t, root, nil)

	resp, err := sfs.Build(get("/data.bin"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !bytes.Equal(resp.Body, content) {
		t.Errorf("body differs from file content")
	}
	if resp.ContentLength() != len(content) {
		t.Errorf("content length = %d, want %d", resp.ContentLength(), len(content))
	}
}

func TestBuild_SniffedTypeWinsOverExtension(t *testing.T) {
	sfs := newTestServer(t, setupTestRoot(t), nil)
	resp, err := sfs.Build(get("/photo.txt"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if resp.ContentType != "image/png" {
		t.Errorf("content type = %q, want image/png", resp.ContentType)
	}
}

func TestBuild_CustomMimeType(t *testing.T) {
	sfs := newTestServer(t, setupTestRoot(t), func(c *config.Config) {
		c.Static.MimeTypes[".css"] = "text/x-custom-css"
	})
	resp, err := sfs.Build(get("/style.css"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if resp.ContentType != "text/x-custom-css" {
		t.Errorf("content type = %q", resp.ContentType)
	}
}

func TestBuild_Missing(t *testing.T) {
	sfs := newTestServer(t, setupTestRoot(t), nil)
	for _, p := range []string{"/does-not-exist", "/index.html/child", "/sub/nope/"} {
		resp, err := sfs.Build(get(p))
		if err != nil {
			t.Fatalf("Build(%q) failed: %v", p, err)
		}
		if resp.Status != http1.StatusNotFound {
			t.Errorf("Build(%q) status = %v, want 404", p, resp.Status)
		}
		if string(resp.Body) != NotFoundBody {
			t.Errorf("Build(%q) body = %q", p, resp.Body)
		}
		if resp.ContentType != "text/html" {
			t.Errorf("Build(%q) content type = %q", p, resp.ContentType)
		}
	}
}

func TestBuild_Traversal(t *testing.T) {
	sfs := newTestServer(t, setupTestRoot(t), nil)
	paths := []string{
		"/../../etc/passwd",
		"/%2e%2e/%2e%2e/etc/passwd",
		"/sub/../../outside",
		"/%2E%2E%2F%2E%2E%2Fetc%2Fpasswd",
	}
	for _, p := range paths {
		_, err := sfs.Build(get(p))
		if !errors.Is(err, ErrAccessDenied) {
			t.Errorf("Build(%q) err = %v, want ErrAccessDenied", p, err)
		}
	}
}

func TestBuild_SymlinkEscape(t *testing.T) {
	root := setupTestRoot(t)
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("top secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(secret, filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "linkdir")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	sfs := newTestServer(t, root, nil)

	for _, p := range []string{"/link.txt", "/linkdir/", "/linkdir/secret.txt"} {
		if _, err := sfs.Build(get(p)); !errors.Is(err, ErrAccessDenied) {
			t.Errorf("Build(%q) err = %v, want ErrAccessDenied", p, err)
		}
	}
}

func TestBuild_SymlinkInsideRoot(t *testing.T) {
	root := setupTestRoot(t)
	if err := os.Symlink(filepath.Join(root, "index.html"), filepath.Join(root, "alias.html")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	sfs := newTestServer(t, root, nil)
	resp, err := sfs.Build(get("/alias.html"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if string(resp.Body) != "<h1>hi</h1>" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestBuild_BadPath(t *testing.T) {
	sfs := newTestServer(t, setupTestRoot(t), nil)
	for _, p := range []string{"/%zz", "/a%00b"} {
		if _, err := sfs.Build(get(p)); !errors.Is(err, ErrBadPath) {
			t.Errorf("Build(%q) err = %v, want ErrBadPath", p, err)
		}
	}
}

func TestBuild_PercentDecodedName(t *testing.T) {
	sfs := newTestServer(t, setupTestRoot(t), nil)
	resp, err := sfs.Build(get("/sub/a%20b.txt?cache=1"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if resp.Status != http1.StatusOK || string(resp.Body) != "spaced" {
		t.Errorf("got %v %q", resp.Status, resp.Body)
	}
}

func TestBuild_Directory(t *testing.T) {
	sfs := newTestServer(t, setupTestRoot(t), nil)
	resp, err := sfs.Build(get("/sub/"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if resp.Status != http1.StatusOK || resp.ContentType != "text/html" {
		t.Fatalf("got %v %q", resp.Status, resp.ContentType)
	}
	body := string(resp.Body)
	for _, want := range []string{
		`<a href="/">..</a>`,
		`<a href="/sub/a%20b.txt">a b.txt</a>`,
		`<a href="/sub/deep/">deep/</a>`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("listing missing %q:\n%s", want, body)
		}
	}
}

func TestBuild_ListingDisabled(t *testing.T) {
	sfs := newTestServer(t, setupTestRoot(t), func(c *config.Config) {
		off := false
		c.Static.ServeDirectoryListing = &off
	})
	_, err := sfs.Build(get("/sub/"))
	if !errors.Is(err, ErrListingDisabled) || !errors.Is(err, ErrAccessDenied) {
		t.Errorf("err = %v, want ErrListingDisabled", err)
	}
}

func TestBuild_HeadAndVersion(t *testing.T) {
	sfs := newTestServer(t, setupTestRoot(t), nil)
	resp, err := sfs.Build(&http1.Request{Method: "HEAD", Path: "/index.html", Version: http1.Version10})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !resp.HeadOnly {
		t.Error("HEAD response should be HeadOnly")
	}
	if resp.ContentLength() != 11 {
		t.Errorf("content length = %d, want 11", resp.ContentLength())
	}
	if resp.Version != http1.Version10 {
		t.Errorf("version = %v, want HTTP/1.0", resp.Version)
	}
}

func TestBuild_MethodNotAllowed(t *testing.T) {
	sfs := newTestServer(t, setupTestRoot(t), nil)
	for _, m := range []string{"POST", "PUT", "DELETE", "OPTIONS"} {
		_, err := sfs.Build(&http1.Request{Method: m, Path: "/index.html", Version: http1.Version11})
		if !errors.Is(err, ErrMethodNotAllowed) {
			t.Errorf("%s err = %v, want ErrMethodNotAllowed", m, err)
		}
	}
}

func TestBuild_Idempotent(t *testing.T) {
	sfs := newTestServer(t, setupTestRoot(t), nil)
	for _, p := range []string{"/index.html", "/sub/", "/missing"} {
		first, err := sfs.Build(get(p))
		if err != nil {
			t.Fatalf("Build(%q): %v", p, err)
		}
		second, err := sfs.Build(get(p))
		if err != nil {
			t.Fatalf("Build(%q): %v", p, err)
		}
		if !bytes.Equal(first.Bytes(), second.Bytes()) {
			t.Errorf("Build(%q) not idempotent", p)
		}
	}
}

func TestNew_Errors(t *testing.T) {
	t.Run("root is a file", func(t *testing.T) {
		root := setupTestRoot(t)
		file := filepath.Join(root, "index.html")
		cfg := config.Default()
		cfg.Server.Root = &file
		if _, err := New(cfg, nil); err == nil {
			t.Fatal("expected error for file root")
		}
	})
	t.Run("bad mime types file", func(t *testing.T) {
		root := setupTestRoot(t)
		missing := filepath.Join(root, "nope.json")
		cfg := config.Default()
		cfg.Server.Root = &root
		cfg.Static.MimeTypesPath = &missing
		if _, err := New(cfg, nil); err == nil || !strings.Contains(err.Error(), "MimeTypeResolver") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
