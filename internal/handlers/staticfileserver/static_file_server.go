// Package staticfileserver maps request paths onto a sandboxed directory
// tree and builds complete HTTP/1.x responses for files and directories.
package staticfileserver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"example.com/statichttpd/internal/config"
	"example.com/statichttpd/internal/http1"
	"example.com/statichttpd/internal/logger"
)

const htmlContentType = "text/html"

// NotFoundBody is sent for every request whose target does not exist.
const NotFoundBody = "<html>\n<body>\n<h1>404 Not Found</h1>\n</body>\n</html>\n"

var (
	// ErrMethodNotAllowed is returned for methods other than GET and HEAD.
	ErrMethodNotAllowed = errors.New("method not allowed")
	// ErrListingDisabled is returned for directories when listings are off.
	ErrListingDisabled = fmt.Errorf("%w: directory listing disabled", ErrAccessDenied)
)

// StaticFileServer answers requests from a single root directory.
type StaticFileServer struct {
	resolver     *PathResolver
	mimeResolver *MimeTypeResolver
	log          *logger.Logger
	serveListing bool
}

// New builds a StaticFileServer from cfg. A nil cfg means all defaults,
// including the working directory as root.
func New(cfg *config.Config, lg *logger.Logger) (*StaticFileServer, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}

	rootDir, err := cfg.Server.RootDir()
	if err != nil {
		return nil, fmt.Errorf("StaticFileServer: %w", err)
	}
	resolver, err := NewPathResolver(rootDir)
	if err != nil {
		return nil, fmt.Errorf("StaticFileServer: %w", err)
	}

	var inline map[string]string
	serveListing := true
	if cfg.Static != nil {
		inline = cfg.Static.MimeTypes
		if cfg.Static.ServeDirectoryListing != nil {
			serveListing = *cfg.Static.ServeDirectoryListing
		}
	}
	mimeResolver, err := NewMimeTypeResolver(inline, cfg.ResolveMimeTypesPath())
	if err != nil {
		lg.Error("Failed to initialize MimeTypeResolver", logger.LogFields{"error": err.Error()})
		return nil, fmt.Errorf("StaticFileServer: failed to create MimeTypeResolver: %w", err)
	}

	lg.Debug("StaticFileServer ready", logger.LogFields{
		"root":             resolver.Root(),
		"directoryListing": serveListing,
	})
	return &StaticFileServer{
		resolver:     resolver,
		mimeResolver: mimeResolver,
		log:          lg,
		serveListing: serveListing,
	}, nil
}

// Root returns the canonical root directory being served.
func (sfs *StaticFileServer) Root() string { return sfs.resolver.Root() }

// Build produces the complete response for req. A missing target is a
// normal 404 response; access violations, undecodable paths, disallowed
// methods and filesystem failures are returned as errors for the caller
// to render.
func (sfs *StaticFileServer) Build(req *http1.Request) (*http1.Response, error) {
	if req.Method != "GET" && req.Method != "HEAD" {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotAllowed, req.Method)
	}

	resolved, err := sfs.resolver.Resolve(req.Path)
	if err != nil {
		if errors.Is(err, ErrAccessDenied) {
			sfs.log.Warn("Attempt to access path outside server root", logger.LogFields{"path": req.Path})
		}
		return nil, err
	}

	var resp *http1.Response
	switch resolved.Kind {
	case KindFile:
		resp, err = sfs.fileResponse(resolved.AbsolutePath)
	case KindDirectory:
		resp, err = sfs.directoryResponse(resolved.AbsolutePath)
	default:
		sfs.log.Warn("Path does not exist", logger.LogFields{"path": resolved.AbsolutePath})
		resp = &http1.Response{
			Status:      http1.StatusNotFound,
			ContentType: htmlContentType,
			Body:        []byte(NotFoundBody),
		}
	}
	if err != nil {
		return nil, err
	}

	resp.Version = req.Version
	resp.AcceptRanges = http1.AcceptRangesNone
	resp.HeadOnly = req.Method == "HEAD"
	return resp, nil
}

func (sfs *StaticFileServer) fileResponse(path string) (*http1.Response, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &IoError{Op: "read", Path: path, Err: err}
	}
	contentType := sfs.mimeResolver.Classify(filepath.Base(path), content)
	sfs.log.Debug("Serving file", logger.LogFields{
		"path":        path,
		"contentType": contentType,
		"size":        len(content),
	})
	return &http1.Response{
		Status:      http1.StatusOK,
		ContentType: contentType,
		Body:        content,
	}, nil
}

func (sfs *StaticFileServer) directoryResponse(dir string) (*http1.Response, error) {
	if !sfs.serveListing {
		sfs.log.Info("Directory listing disabled", logger.LogFields{"dirPath": dir})
		return nil, ErrListingDisabled
	}
	body, err := RenderDirectoryListing(dir, sfs.resolver.Root())
	if err != nil {
		sfs.log.Error("Failed to generate directory listing", logger.LogFields{"dirPath": dir, "error": err.Error()})
		return nil, err
	}
	return &http1.Response{
		Status:      http1.StatusOK,
		ContentType: htmlContentType,
		Body:        body,
	}, nil
}
