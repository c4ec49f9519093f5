package tftp

import (
	"errors"
	"io"
	"regexp"
	"sync"
)

var (
	// ErrNotFound maps to TFTP error code 1.
	ErrNotFound = errors.New("file not found")
	// ErrAccessViolation maps to TFTP error code 2.
	ErrAccessViolation = errors.New("access violation")
)

// Handler resolves a requested filename to a content stream and its size. The
// size feeds tsize negotiation; the reader is closed by the transfer.
type Handler interface {
	OpenFile(filename string) (io.ReadCloser, int64, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(filename string) (io.ReadCloser, int64, error)

func (f HandlerFunc) OpenFile(filename string) (io.ReadCloser, int64, error) {
	return f(filename)
}

type patternHandler struct {
	pattern *regexp.Regexp
	handler Handler
}

// ServeMux routes request filenames to handlers by regex pattern, first match
// wins. Unmatched filenames fall to the default handler, or ErrNotFound.
type ServeMux struct {
	mu             sync.RWMutex
	patterns       []patternHandler
	defaultHandler Handler
}

// NewServeMux allocates and returns a new ServeMux.
func NewServeMux() *ServeMux {
	return &ServeMux{}
}

// Handle registers the handler for the given regex pattern. A malformed
// pattern panics; patterns are programmer input.
func (mux *ServeMux) Handle(pattern string, handler Handler) {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		panic("tftp: invalid pattern " + pattern + ": " + err.Error())
	}
	mux.mu.Lock()
	defer mux.mu.Unlock()
	mux.patterns = append(mux.patterns, patternHandler{pattern: regex, handler: handler})
}

// HandleFunc registers a handler function for the given regex pattern.
func (mux *ServeMux) HandleFunc(pattern string, handler func(filename string) (io.ReadCloser, int64, error)) {
	mux.Handle(pattern, HandlerFunc(handler))
}

// SetDefaultHandler sets the handler used when no pattern matches.
func (mux *ServeMux) SetDefaultHandler(handler Handler) {
	mux.mu.Lock()
	defer mux.mu.Unlock()
	mux.defaultHandler = handler
}

func (mux *ServeMux) OpenFile(filename string) (io.ReadCloser, int64, error) {
	mux.mu.RLock()
	defer mux.mu.RUnlock()

	for _, ph := range mux.patterns {
		if ph.pattern.MatchString(filename) {
			return ph.handler.OpenFile(filename)
		}
	}
	if mux.defaultHandler != nil {
		return mux.defaultHandler.OpenFile(filename)
	}

	return nil, 0, ErrNotFound
}
