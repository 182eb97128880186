package engine

import (
	"io"

	"github.com/nodebridge/nodebridge/pkg/protocol"

	"github.com/nuclio/errors"
)

// moduleSource is the union of ways a caller can hand us a module: a file
// path, an inline string, a byte stream, or a lazily-invoked factory. It is
// built per call and remembers a materialized body so a retry or a fallback
// send never invokes the factory twice.
type moduleSource struct {
	path          string
	source        string
	stringFactory func() (string, error)
	streamFactory func() (io.Reader, error)
	cacheID       string
	cacheOnly     bool

	materializedBody bool
}

func newPathSource(modulePath string) *moduleSource {
	return &moduleSource{path: modulePath, materializedBody: true}
}

func newStringSource(source string, cacheID string) *moduleSource {
	return &moduleSource{source: source, cacheID: cacheID, materializedBody: true}
}

func newStringFactorySource(factory func() (string, error), cacheID string) *moduleSource {
	return &moduleSource{stringFactory: factory, cacheID: cacheID}
}

func newStreamFactorySource(factory func() (io.Reader, error), cacheID string) *moduleSource {
	return &moduleSource{streamFactory: factory, cacheID: cacheID}
}

func newCacheOnlySource(cacheID string) *moduleSource {
	return &moduleSource{cacheID: cacheID, cacheOnly: true}
}

// materialize produces the module body, invoking the factory at most once.
// Only called on a confirmed cache miss (or when no probe applies).
func (ms *moduleSource) materialize() error {
	if ms.materializedBody {
		return nil
	}

	switch {
	case ms.stringFactory != nil:
		source, err := ms.stringFactory()
		if err != nil {
			return errors.Wrap(err, "Module factory failed")
		}
		ms.source = source

	case ms.streamFactory != nil:
		stream, err := ms.streamFactory()
		if err != nil {
			return errors.Wrap(err, "Module factory failed")
		}
		if stream == nil {
			return &ValidationError{Message: "Module factory returned a nil stream"}
		}
		source, err := io.ReadAll(stream)
		if err != nil {
			return errors.Wrap(err, "Failed to read module stream")
		}
		ms.source = string(source)
	}

	if ms.source == "" {
		return &ValidationError{Message: "Module factory produced an empty module"}
	}

	ms.materializedBody = true
	return nil
}

// fullRef returns the full-source (or path) request shape
func (ms *moduleSource) fullRef() protocol.ModuleRef {
	if ms.path != "" {
		return protocol.ModuleRef{
			Kind: protocol.ModuleKindPath,
			Path: ms.path,
		}
	}

	return protocol.ModuleRef{
		Kind:    protocol.ModuleKindSource,
		Source:  ms.source,
		CacheID: ms.cacheID,
	}
}

// probeRef returns the identifier-only "try from cache" request shape
func (ms *moduleSource) probeRef() protocol.ModuleRef {
	return protocol.ModuleRef{
		Kind:    protocol.ModuleKindCacheOnly,
		CacheID: ms.cacheID,
	}
}
