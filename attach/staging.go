// Package attach stages an image attachment for a chat session: the file
// is uploaded as soon as it is selected, and the uploaded object is deleted
// again if the attachment is cleared or the chat closes before it is sent.
package attach

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MaxFileSize is the upload size limit.
const MaxFileSize = 10 << 20 // 10MB

var (
	ErrNotImage         = errors.New("file is not an image")
	ErrTooLarge         = errors.New("file exceeds size limit")
	ErrAttachmentExists = errors.New("an attachment is already staged")
	ErrNotUploaded      = errors.New("attachment not uploaded yet")
	ErrStagingClosed    = errors.New("staging closed")
)

// File is a selected local file.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result is the remote reference produced by an upload.
type Result struct {
	URL  string
	Path string
}

// Store is the image-store collaborator.
type Store interface {
	Upload(ctx context.Context, file File, progress func(done, total int64)) (Result, error)
	Delete(ctx context.Context, path string) error
}

// Pending is the staged attachment as observed by the UI.
type Pending struct {
	ID             string
	Name           string
	ContentType    string
	Size           int64
	PreviewDataURL string
	Uploaded       bool
	URL            string
	Path           string
}

// Staging holds at most one pending attachment per chat session.
type Staging struct {
	store Store
	log   *zerolog.Logger

	// OnProgress, if set, receives upload progress callbacks.
	OnProgress func(done, total int64)
	// OnComplete, if set, is called when the upload finishes or fails.
	OnComplete func(res Result, err error)

	mu      sync.Mutex
	pending *pendingState
	closed  bool
}

type pendingState struct {
	id       string
	view     Pending
	uploaded bool
	result   Result
}

// NewStaging builds a staging area backed by the given image store.
func NewStaging(store Store, logger *zerolog.Logger) *Staging {
	return &Staging{store: store, log: logger}
}

// Select validates the file, builds a local preview and starts the upload
// immediately. Upload is decoupled from send; completion is reported via
// OnComplete. Only one attachment may be staged at a time.
func (s *Staging) Select(ctx context.Context, f File) (Pending, error) {
	if err := validate(f); err != nil {
		return Pending{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Pending{}, ErrStagingClosed
	}
	if s.pending != nil {
		s.mu.Unlock()
		return Pending{}, ErrAttachmentExists
	}

	id := uuid.NewString()
	p := &pendingState{
		id: id,
		view: Pending{
			ID:             id,
			Name:           f.Name,
			ContentType:    contentType(f),
			Size:           int64(len(f.Data)),
			PreviewDataURL: previewDataURL(f),
		},
	}
	s.pending = p
	view := p.view
	s.mu.Unlock()

	go s.upload(ctx, p.id, f)
	return view, nil
}

func (s *Staging) upload(ctx context.Context, id string, f File) {
	res, err := s.store.Upload(ctx, f, s.OnProgress)

	s.mu.Lock()
	current := s.pending
	switch {
	case err != nil:
		// Upload failure clears staging state; no automatic retry.
		if current != nil && current.id == id {
			s.pending = nil
		}
		s.mu.Unlock()
		s.log.Error().Err(err).Str("file", f.Name).Msg("attachment upload failed")
		s.complete(Result{}, fmt.Errorf("upload %s: %w", f.Name, err))
		return
	case current == nil || current.id != id:
		// The attachment was cleared (or staging closed) while the upload
		// was in flight. The object just became an orphan: delete it.
		s.mu.Unlock()
		s.deleteRemote(res.Path)
		return
	default:
		current.uploaded = true
		current.result = res
		current.view.Uploaded = true
		current.view.URL = res.URL
		current.view.Path = res.Path
		s.mu.Unlock()
		s.complete(res, nil)
	}
}

func (s *Staging) complete(res Result, err error) {
	if s.OnComplete != nil {
		s.OnComplete(res, err)
	}
}

// Pending returns the staged attachment, if any.
func (s *Staging) Pending() (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Pending{}, false
	}
	return s.pending.view, true
}

// Clear discards the staged attachment. An already uploaded object is
// deleted remotely first; an in-flight upload is left to finish and its
// result is deleted on completion.
func (s *Staging) Clear(ctx context.Context) {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()

	if p != nil && p.uploaded {
		if err := s.store.Delete(ctx, p.result.Path); err != nil {
			s.log.Warn().Err(err).Str("path", p.result.Path).Msg("delete staged attachment")
		}
	}
}

// Close discards any unsent attachment and rejects further selection.
// Called when the chat UI closes.
func (s *Staging) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Clear(ctx)
}

// ConsumeForSend hands the uploaded reference over for a send and clears
// local staging state without deleting the remote object: ownership
// transfers to the sent message.
func (s *Staging) ConsumeForSend() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil || !s.pending.uploaded {
		return "", ErrNotUploaded
	}
	url := s.pending.result.URL
	s.pending = nil
	return url, nil
}

func (s *Staging) deleteRemote(path string) {
	if path == "" {
		return
	}
	// Not tied to the caller's context: the staging may already be closed.
	if err := s.store.Delete(context.Background(), path); err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("delete orphaned attachment")
	}
}

func validate(f File) error {
	if int64(len(f.Data)) > MaxFileSize {
		return ErrTooLarge
	}
	if !strings.HasPrefix(contentType(f), "image/") {
		return ErrNotImage
	}
	return nil
}

func contentType(f File) string {
	if f.ContentType != "" {
		return f.ContentType
	}
	return http.DetectContentType(f.Data)
}

// previewDataURL builds the inline preview shown before the upload lands.
func previewDataURL(f File) string {
	return "data:" + contentType(f) + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}
