package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrSessionNotFound = errors.New("crop session not found")

type OpenRequest struct {
	ImageURL  string `json:"imageUrl"`
	MemberID  string `json:"memberId,omitempty"`
	Container Size   `json:"container"`
}

type PointerEventType string

const (
	PointerDown PointerEventType = "down"
	PointerMove PointerEventType = "move"
	PointerUp   PointerEventType = "up"
)

// PointerEvent carries a pointer position already converted into
// container-local coordinates by the UI.
type PointerEvent struct {
	Type   PointerEventType `json:"type"`
	Point  Point            `json:"point"`
	Handle *Handle          `json:"handle,omitempty"`
}

// SessionState is the externally visible state of a crop dialog.
type SessionState struct {
	ID          string          `json:"id"`
	ImageURL    string          `json:"imageUrl"`
	MemberID    string          `json:"memberId,omitempty"`
	Container   Size            `json:"container"`
	Layout      *ImageLayout    `json:"layout,omitempty"`
	Region      *Region         `json:"region,omitempty"`
	Interaction InteractionKind `json:"interaction"`
	Error       string          `json:"error,omitempty"`
}

// DefaultSessionIdle is how long an untouched crop session survives.
const DefaultSessionIdle = 30 * time.Minute

// CropSession is one open crop dialog.
type CropSession struct {
	mu         sync.Mutex
	lastSeen   time.Time // guarded by Sessions.mu
	id         string
	imageURL   string
	memberID   string
	container  Size
	natural    Size
	layoutErr  error
	controller *Controller
}

func (s *CropSession) state() SessionState {
	st := SessionState{
		ID:          s.id,
		ImageURL:    s.imageURL,
		MemberID:    s.memberID,
		Container:   s.container,
		Interaction: s.controller.State(),
	}
	if layout, ok := s.controller.Layout(); ok {
		st.Layout = &layout
	}
	if region, ok := s.controller.Region(); ok {
		st.Region = &region
	}
	if s.layoutErr != nil {
		st.Error = s.layoutErr.Error()
	}
	return st
}

// layout recomputes the image layout for the current container. Invalid
// geometry leaves the controller inert rather than failing the session.
func (s *CropSession) layout(keepRegion bool) {
	layout, err := ComputeLayout(s.container, s.natural)
	if err != nil {
		s.layoutErr = err
		s.controller.Reset()
		return
	}
	s.layoutErr = nil
	if keepRegion {
		s.controller.Relayout(layout)
	} else {
		s.controller.SetLayout(layout)
	}
}

// Sessions holds the open crop dialogs and turns a confirmed crop into
// an avatar. Sessions untouched for longer than IdleTimeout are dropped
// by Expire, so dialogs abandoned by a closed tab do not pile up.
type Sessions struct {
	Loader      *SourceLoader
	Exporter    Exporter
	Store       *Store
	Settings    CropSettings
	IdleTimeout time.Duration

	now      func() time.Time
	mu       sync.Mutex
	sessions map[string]*CropSession
}

// NewSessions returns an empty registry with DefaultSessionIdle.
func NewSessions(loader *SourceLoader, exporter Exporter, store *Store, settings CropSettings) *Sessions {
	return &Sessions{
		Loader:      loader,
		Exporter:    exporter,
		Store:       store,
		Settings:    settings,
		IdleTimeout: DefaultSessionIdle,
		now:         time.Now,
		sessions:    make(map[string]*CropSession),
	}
}

// Open loads the image, lays it out in the container and places the
// initial crop region.
func (m *Sessions) Open(ctx context.Context, req OpenRequest) (SessionState, error) {
	if req.MemberID != "" && m.Store != nil {
		if _, err := m.Store.Get(req.MemberID); err != nil {
			return SessionState{}, err
		}
	}
	natural, err := m.Loader.NaturalSize(ctx, req.ImageURL)
	if err != nil {
		return SessionState{}, err
	}

	s := &CropSession{
		id:         uuid.NewString(),
		imageURL:   req.ImageURL,
		memberID:   req.MemberID,
		container:  req.Container,
		natural:    natural,
		controller: NewController(m.Settings.Constraints(), m.Settings.InitialFraction),
	}
	s.layout(false)

	m.mu.Lock()
	s.lastSeen = m.now()
	m.sessions[s.id] = s
	m.mu.Unlock()

	log.Ctx(ctx).Debug().
		Str("session", s.id).
		Str("natural", natural.String()).
		Str("container", req.Container.String()).
		Msg("crop session opened")
	return s.state(), nil
}

// Get returns the current state of a session.
func (m *Sessions) Get(id string) (SessionState, error) {
	s, err := m.lookup(id)
	if err != nil {
		return SessionState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(), nil
}

// Resize recomputes the layout for a new container size, keeping the
// selection where it was relative to the image.
func (m *Sessions) Resize(id string, container Size) (SessionState, error) {
	s, err := m.lookup(id)
	if err != nil {
		return SessionState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.container = container
	s.layout(true)
	return s.state(), nil
}

// Pointer feeds one pointer event to the session's controller.
func (m *Sessions) Pointer(id string, ev PointerEvent) (SessionState, error) {
	s, err := m.lookup(id)
	if err != nil {
		return SessionState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.controller
	switch ev.Type {
	case PointerDown:
		if ev.Handle != nil {
			c.StartResize(ev.Point, *ev.Handle)
		} else {
			c.StartDrag(ev.Point)
		}
	case PointerMove:
		c.UpdatePointer(ev.Point)
	case PointerUp:
		c.EndInteraction()
	default:
		return SessionState{}, fmt.Errorf("unknown pointer event %q", ev.Type)
	}
	return s.state(), nil
}

// Confirm exports the current crop as a data URL and closes the session.
// The member's avatar is replaced only when the export succeeds. Without
// a valid layout or a readable source the session stays open so the UI
// can retry.
func (m *Sessions) Confirm(ctx context.Context, id string) (string, error) {
	s, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	layout, ok := s.controller.Layout()
	if !ok {
		return "", ErrNoLayout
	}
	region, _ := s.controller.Region()

	rc, err := m.Loader.Open(ctx, s.imageURL)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	if _, err := m.take(id); err != nil {
		return "", err
	}
	s.controller.EndInteraction()

	var b bytes.Buffer
	if err := m.Exporter.Export(ctx, rc, &b, ExportJob{
		Layout:     layout,
		Region:     region,
		OutputSize: m.Settings.OutputSize,
		Quality:    m.Settings.Quality,
	}); err != nil {
		return "", err
	}
	dataURL := EncodeDataURL("image/jpeg", b.Bytes())

	if s.memberID != "" && m.Store != nil {
		if err := m.Store.SetPhoto(s.memberID, dataURL); err != nil {
			return "", err
		}
	}
	log.Ctx(ctx).Info().
		Str("session", s.id).
		Str("member", s.memberID).
		Stringer("region", region).
		Int("bytes", b.Len()).
		Msg("crop confirmed")
	return dataURL, nil
}

// Cancel discards the session and any gesture in progress.
func (m *Sessions) Cancel(id string) error {
	s, err := m.take(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.controller.Reset()
	s.mu.Unlock()
	return nil
}

// Expire drops idle sessions every interval until ctx is done.
func (m *Sessions) Expire(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				log.Ctx(ctx).Debug().Int("count", n).Msg("expired idle crop sessions")
			}
		}
	}
}

// Sweep removes sessions idle for longer than IdleTimeout and returns how
// many were removed. A non-positive IdleTimeout keeps everything.
func (m *Sessions) Sweep() int {
	if m.IdleTimeout <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.IdleTimeout)
	n := 0
	for id, s := range m.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Len reports the number of open sessions.
func (m *Sessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Sessions) lookup(id string) (*CropSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.lastSeen = m.now()
	return s, nil
}

func (m *Sessions) take(id string) (*CropSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(m.sessions, id)
	return s, nil
}
