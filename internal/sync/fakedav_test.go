package sync

import (
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tonimelisma/davsync/internal/webdav"
)

// fakeNode is one file or directory in fakeDAVServer's in-memory tree.
type fakeNode struct {
	isDir   bool
	content []byte
	etag    string
	mtime   time.Time
	fileID  string
	perms   string
}

// fakeDAVServer is a minimal in-process WebDAV server covering the PROPFIND/
// GET/PUT/MKCOL/DELETE/MOVE subset the engine and executor exercise, plus
// ownCloud chunking v1 (numbered chunks) for chunked-upload tests. It is not
// a spec-complete WebDAV implementation — it exists to drive FolderEngine
// and Executor through real HTTP round trips without a real server.
type fakeDAVServer struct {
	mu    sync.Mutex
	nodes map[string]*fakeNode
	seq   int
}

func newFakeDAVServer() *fakeDAVServer {
	s := &fakeDAVServer{nodes: make(map[string]*fakeNode)}
	s.nodes[""] = &fakeNode{isDir: true, etag: "root-0", mtime: time.Now(), perms: "RDNVCK"}

	return s
}

func (s *fakeDAVServer) start(t *testing.T) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(srv.Close)

	return srv.URL + "/"
}

func clean(p string) string {
	return strings.Trim(p, "/")
}

func (s *fakeDAVServer) handle(w http.ResponseWriter, r *http.Request) {
	p := clean(r.URL.Path)

	if r.Method == http.MethodGet && strings.HasPrefix(p, "ocs/v1.php/cloud/capabilities") {
		s.handleCapabilities(w)
		return
	}

	switch r.Method {
	case "PROPFIND":
		s.handlePropfind(w, r, p)
	case http.MethodGet:
		s.handleGet(w, p)
	case http.MethodPut:
		s.handlePut(w, r, p)
	case "MKCOL":
		s.handleMkcol(w, p)
	case http.MethodDelete:
		s.handleDelete(w, p)
	case "MOVE":
		s.handleMove(w, r, p)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *fakeDAVServer) handlePropfind(w http.ResponseWriter, r *http.Request, p string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[p]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?><d:multistatus xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns">`)
	s.writeResponse(&sb, p, node)

	if r.Header.Get("Depth") == "1" {
		prefix := p
		if prefix != "" {
			prefix += "/"
		}

		var children []string

		for path := range s.nodes {
			if path == p {
				continue
			}

			rest := path
			if prefix != "" {
				if !strings.HasPrefix(path, prefix) {
					continue
				}

				rest = strings.TrimPrefix(path, prefix)
			}

			if rest == "" || strings.Contains(rest, "/") {
				continue
			}

			children = append(children, path)
		}

		sort.Strings(children)

		for _, c := range children {
			s.writeResponse(&sb, c, s.nodes[c])
		}
	}

	sb.WriteString(`</d:multistatus>`)

	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(sb.String()))
}

func (s *fakeDAVServer) writeResponse(sb *strings.Builder, p string, n *fakeNode) {
	href := "/" + p
	if n.isDir {
		href += "/"
	}

	fmt.Fprintf(sb, `<d:response><d:href>%s</d:href><d:propstat><d:prop>`, href)

	if n.isDir {
		sb.WriteString(`<d:resourcetype><d:collection/></d:resourcetype>`)
	} else {
		sb.WriteString(`<d:resourcetype/>`)
		fmt.Fprintf(sb, `<d:getcontentlength>%d</d:getcontentlength>`, len(n.content))
	}

	fmt.Fprintf(sb, `<d:getetag>"%s"</d:getetag><oc:fileid>%s</oc:fileid>`, n.etag, n.fileID)

	perms := n.perms
	if perms == "" {
		perms = "RDNVWCK"
	}

	fmt.Fprintf(sb, `<oc:permissions>%s</oc:permissions>`, perms)
	sb.WriteString(`</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`)
}

// handleCapabilities serves a minimal ownCloud OCS capabilities document
// (no chunkingNG, no bigfilechunking) so FetchCapabilities resolves to the
// numbered-chunks dialect, matching most of this fake server's test use.
func (s *fakeDAVServer) handleCapabilities(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ocs":{"data":{"capabilities":{
		"files": {"bigfilechunking": 0},
		"checksums": {"supportedTypes": ["SHA1"]},
		"dav": {"reports": [], "polls-interval": 0}
	}}}}`))
}

func (s *fakeDAVServer) handleGet(w http.ResponseWriter, p string) {
	s.mu.Lock()
	node, ok := s.nodes[p]
	s.mu.Unlock()

	if !ok || node.isDir {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("ETag", `"`+node.etag+`"`)
	_, _ = w.Write(node.content)
}

func (s *fakeDAVServer) handlePut(w http.ResponseWriter, r *http.Request, p string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	etag := fmt.Sprintf("%x-%d", sha1.Sum(body), s.seq)

	existing, existed := s.nodes[p]

	if ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`); ifMatch != "" {
		if !existed || existing.etag != ifMatch {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
	}

	fileID := fmt.Sprintf("fid-%d", s.seq)
	if existed {
		fileID = existing.fileID
	}

	s.nodes[p] = &fakeNode{content: body, etag: etag, mtime: time.Now(), fileID: fileID}
	s.ensureParents(p)

	w.Header().Set("ETag", `"`+etag+`"`)
	w.WriteHeader(http.StatusCreated)
}

func (s *fakeDAVServer) ensureParents(p string) {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return
	}

	parent := p[:idx]

	for {
		if _, ok := s.nodes[parent]; !ok {
			s.seq++
			s.nodes[parent] = &fakeNode{isDir: true, etag: fmt.Sprintf("dir-%d", s.seq), mtime: time.Now()}
		}

		idx := strings.LastIndex(parent, "/")
		if idx < 0 {
			break
		}

		parent = parent[:idx]
	}
}

func (s *fakeDAVServer) handleMkcol(w http.ResponseWriter, p string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[p]; ok {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.seq++
	s.nodes[p] = &fakeNode{isDir: true, etag: fmt.Sprintf("dir-%d", s.seq), mtime: time.Now()}
	s.ensureParents(p)
	w.WriteHeader(http.StatusCreated)
}

func (s *fakeDAVServer) handleDelete(w http.ResponseWriter, p string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[p]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	prefix := p + "/"
	for path := range s.nodes {
		if path == p || strings.HasPrefix(path, prefix) {
			delete(s.nodes, path)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *fakeDAVServer) handleMove(w http.ResponseWriter, r *http.Request, p string) {
	dest := r.Header.Get("Destination")

	idx := strings.Index(dest, "://")
	if idx >= 0 {
		dest = dest[idx+3:]
		if slash := strings.Index(dest, "/"); slash >= 0 {
			dest = dest[slash:]
		}
	}

	dest = clean(dest)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Chunked-upload finalize: "<folder>/.file" assembles all chunks under
	// folder, ordered by their numeric "<index>-<length>" name, into dest.
	if strings.HasSuffix(p, "/.file") {
		folder := strings.TrimSuffix(p, "/.file")
		s.assembleChunks(folder, dest)
		w.WriteHeader(http.StatusCreated)

		return
	}

	node, ok := s.nodes[p]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	delete(s.nodes, p)
	s.nodes[dest] = node
	s.ensureParents(dest)
	w.WriteHeader(http.StatusCreated)
}

func (s *fakeDAVServer) assembleChunks(folder, dest string) {
	type chunk struct {
		index int
		data  []byte
	}

	var chunks []chunk
	prefix := folder + "/"

	for path, n := range s.nodes {
		if !strings.HasPrefix(path, prefix) || n.isDir {
			continue
		}

		name := strings.TrimPrefix(path, prefix)

		idxStr, _, found := strings.Cut(name, "-")
		if !found {
			continue
		}

		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			continue
		}

		chunks = append(chunks, chunk{index: idx, data: n.content})
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].index < chunks[j].index })

	var full []byte
	for _, c := range chunks {
		full = append(full, c.data...)
	}

	for path := range s.nodes {
		if strings.HasPrefix(path, prefix) || path == folder {
			delete(s.nodes, path)
		}
	}

	s.seq++
	s.nodes[dest] = &fakeNode{content: full, etag: fmt.Sprintf("assembled-%d", s.seq), mtime: time.Now(), fileID: fmt.Sprintf("fid-%d", s.seq)}
	s.ensureParents(dest)
}

func newFakeDAVClient(t *testing.T) (*webdav.Client, *fakeDAVServer) {
	t.Helper()

	srv := newFakeDAVServer()
	baseURL := srv.start(t)

	return webdav.New(webdav.Config{BaseURL: baseURL, Credential: noopCred{}}), srv
}
