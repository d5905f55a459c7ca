// Package relaytest provides httptest fixtures that play the source and
// destination roles of an upload relay.
package relaytest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// SourceOptions controls how a SourceFixture responds.
type SourceOptions struct {
	// OmitLength streams the payload without a Content-Length header and
	// answers HEAD without one.
	OmitLength bool
	// RejectHead answers HEAD with 405 so callers must fall back to a ranged GET.
	RejectHead bool
	// Status, when non-zero, is returned for every request instead of the payload.
	Status int
	// Stall blocks GET bodies after the first chunk until the request is canceled.
	Stall bool
	// StallHeaders blocks GET requests before any response header is written
	// until the request is canceled.
	StallHeaders bool
}

// SourceFixture serves a payload at /video.mp4 and a redirect to it at /redirect.
type SourceFixture struct {
	*httptest.Server
	payload []byte
	opts    SourceOptions

	mu     sync.Mutex
	heads  int
	gets   int
	ranges []string
}

// NewSourceFixture starts a source fixture. Callers must Close it.
func NewSourceFixture(payload []byte, opts SourceOptions) *SourceFixture {
	f := &SourceFixture{payload: payload, opts: opts}
	mux := http.NewServeMux()
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/video.mp4", http.StatusFound)
	})
	mux.HandleFunc("/video.mp4", f.serve)
	f.Server = httptest.NewServer(mux)
	return f
}

// URL returns the payload location.
func (f *SourceFixture) URL() string { return f.Server.URL + "/video.mp4" }

// RedirectURL returns a location that redirects to the payload.
func (f *SourceFixture) RedirectURL() string { return f.Server.URL + "/redirect" }

// Counts returns the number of HEAD and GET requests served.
func (f *SourceFixture) Counts() (heads, gets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heads, f.gets
}

// Ranges returns the Range headers seen on GET requests.
func (f *SourceFixture) Ranges() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ranges...)
}

func (f *SourceFixture) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	if r.Method == http.MethodHead {
		f.heads++
	} else {
		f.gets++
		if rng := r.Header.Get("Range"); rng != "" {
			f.ranges = append(f.ranges, rng)
		}
	}
	f.mu.Unlock()

	if f.opts.StallHeaders && r.Method == http.MethodGet {
		<-r.Context().Done()
		return
	}
	if f.opts.Status != 0 {
		w.WriteHeader(f.opts.Status)
		return
	}

	switch {
	case r.Method == http.MethodHead && f.opts.RejectHead:
		w.WriteHeader(http.StatusMethodNotAllowed)
	case r.Method == http.MethodHead:
		f.writeLength(w)
		w.WriteHeader(http.StatusOK)
	case r.Header.Get("Range") == "bytes=0-0":
		f.serveFirstByte(w)
	default:
		f.serveBody(w, r)
	}
}

func (f *SourceFixture) writeLength(w http.ResponseWriter) {
	if f.opts.OmitLength {
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(f.payload)))
}

func (f *SourceFixture) serveFirstByte(w http.ResponseWriter) {
	if len(f.payload) == 0 {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	total := "*"
	if !f.opts.OmitLength {
		total = strconv.Itoa(len(f.payload))
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%s", total))
	w.Header().Set("Content-Length", "1")
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(f.payload[:1])
}

func (f *SourceFixture) serveBody(w http.ResponseWriter, r *http.Request) {
	f.writeLength(w)
	w.Header().Set("Content-Type", "video/mp4")
	w.WriteHeader(http.StatusOK)

	if !f.opts.Stall {
		_, _ = w.Write(f.payload)
		return
	}
	half := len(f.payload) / 2
	_, _ = w.Write(f.payload[:half])
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
	<-r.Context().Done()
}

// Response is one scripted destination answer to an upload PUT.
type Response struct {
	Status int
	Body   string
}

// Attempt records one upload PUT observed by the destination.
type Attempt struct {
	At            time.Time
	ContentLength int64
	ContentType   string
	Authorization string
	Received      int64
}

// DestinationFixture plays a resumable-upload service. POST /sessions creates a
// session whose handle is returned in the Location header; PUT /upload/{id}
// consumes the body and answers with the next scripted Response.
type DestinationFixture struct {
	*httptest.Server

	mu        sync.Mutex
	script    []Response
	attempts  []Attempt
	sessions  []SessionRequest
	sessionSt int
	gate      chan struct{}
}

// SessionRequest records one session negotiation request.
type SessionRequest struct {
	Authorization string
	ContentType   string
	ContentLength string
	Body          map[string]any
}

// NewDestinationFixture starts a destination that answers uploads with script,
// repeating the last entry once it is exhausted. Callers must Close it.
func NewDestinationFixture(script ...Response) *DestinationFixture {
	if len(script) == 0 {
		script = []Response{{Status: http.StatusOK, Body: `{"id":"video-123"}`}}
	}
	f := &DestinationFixture{script: script}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", f.negotiate)
	mux.HandleFunc("PUT /upload/{id}", f.upload)
	f.Server = httptest.NewServer(mux)
	return f
}

// SessionURL returns the session-creation endpoint.
func (f *DestinationFixture) SessionURL() string { return f.Server.URL + "/sessions" }

// UploadURL returns a pre-negotiated session handle.
func (f *DestinationFixture) UploadURL() string { return f.Server.URL + "/upload/direct" }

// FailSessions makes session negotiation answer with status and no Location.
func (f *DestinationFixture) FailSessions(status int) {
	f.mu.Lock()
	f.sessionSt = status
	f.mu.Unlock()
}

// Hold blocks every upload until Release is called.
func (f *DestinationFixture) Hold() {
	f.mu.Lock()
	f.gate = make(chan struct{})
	f.mu.Unlock()
}

// Release unblocks uploads held by Hold.
func (f *DestinationFixture) Release() {
	f.mu.Lock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
	f.mu.Unlock()
}

// Attempts returns the uploads observed so far.
func (f *DestinationFixture) Attempts() []Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Attempt(nil), f.attempts...)
}

// Sessions returns the negotiation requests observed so far.
func (f *DestinationFixture) Sessions() []SessionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SessionRequest(nil), f.sessions...)
}

func (f *DestinationFixture) negotiate(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.sessions = append(f.sessions, SessionRequest{
		Authorization: r.Header.Get("Authorization"),
		ContentType:   r.Header.Get("X-Upload-Content-Type"),
		ContentLength: r.Header.Get("X-Upload-Content-Length"),
		Body:          body,
	})
	n := len(f.sessions)
	status := f.sessionSt
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"session rejected"}}`))
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/upload/session-%d", f.Server.URL, n))
	w.WriteHeader(http.StatusOK)
}

func (f *DestinationFixture) upload(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()

	received, _ := io.Copy(io.Discard, r.Body)

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	f.mu.Lock()
	idx := min(len(f.attempts), len(f.script)-1)
	resp := f.script[idx]
	f.attempts = append(f.attempts, Attempt{
		At:            time.Now(),
		ContentLength: r.ContentLength,
		ContentType:   r.Header.Get("Content-Type"),
		Authorization: r.Header.Get("Authorization"),
		Received:      received,
	})
	f.mu.Unlock()

	if resp.Status == http.StatusPermanentRedirect {
		w.Header().Set("Range", "bytes=0-"+strconv.FormatInt(max(received-1, 0), 10))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = io.Copy(w, bytes.NewBufferString(resp.Body))
}
