package main

import (
	"context"
	"encoding/base64"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessions(t *testing.T) (*Sessions, string) {
	t.Helper()
	root := t.TempDir()
	writeImage(t, root, "photo.png", splitImage(800, 400))
	store := NewStore(DefaultMembers())
	return NewSessions(NewSourceLoader(root), NewImagingExporter(), store, DefaultFileConfig().Crop), root
}

func TestSessions_OpenAndConfirm(t *testing.T) {
	sessions, _ := newTestSessions(t)
	ctx := context.Background()

	st, err := sessions.Open(ctx, OpenRequest{ImageURL: "photo.png", MemberID: "5", Container: Size{W: 400, H: 400}})
	require.NoError(t, err)
	require.NotNil(t, st.Layout)
	require.NotNil(t, st.Region)
	assert.Equal(t, scenarioLayout(t), *st.Layout)
	assertRegion(t, Region{X: 140, Y: 140, Width: 120, Height: 120}, *st.Region)
	assert.Equal(t, Idle, st.Interaction)
	assert.Equal(t, 1, sessions.Len())

	se := HandleSE
	st, err = sessions.Pointer(st.ID, PointerEvent{Type: PointerDown, Point: Point{X: 260, Y: 260}, Handle: &se})
	require.NoError(t, err)
	assert.Equal(t, Resizing, st.Interaction)

	st, err = sessions.Pointer(st.ID, PointerEvent{Type: PointerMove, Point: Point{X: 1260, Y: 1260}})
	require.NoError(t, err)
	assertRegion(t, Region{X: 140, Y: 100, Width: 200, Height: 200}, *st.Region)

	st, err = sessions.Pointer(st.ID, PointerEvent{Type: PointerUp})
	require.NoError(t, err)
	assert.Equal(t, Idle, st.Interaction)

	dataURL, err := sessions.Confirm(ctx, st.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataURL, "data:image/jpeg;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, "data:image/jpeg;base64,"))
	require.NoError(t, err)
	img := decodeJPEG(t, raw)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())

	member, err := sessions.Store.Get("5")
	require.NoError(t, err)
	assert.Equal(t, dataURL, member.Photo)

	assert.Equal(t, 0, sessions.Len())
	_, err = sessions.Get(st.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessions_Drag(t *testing.T) {
	sessions, _ := newTestSessions(t)
	st, err := sessions.Open(context.Background(), OpenRequest{ImageURL: "photo.png", Container: Size{W: 400, H: 400}})
	require.NoError(t, err)

	_, err = sessions.Pointer(st.ID, PointerEvent{Type: PointerDown, Point: Point{X: 200, Y: 200}})
	require.NoError(t, err)
	st, err = sessions.Pointer(st.ID, PointerEvent{Type: PointerMove, Point: Point{X: 700, Y: 700}})
	require.NoError(t, err)
	assert.Equal(t, Dragging, st.Interaction)
	assertRegion(t, Region{X: 280, Y: 180, Width: 120, Height: 120}, *st.Region)

	_, err = sessions.Pointer(st.ID, PointerEvent{Type: "wiggle"})
	assert.Error(t, err)
}

func TestSessions_Cancel(t *testing.T) {
	sessions, _ := newTestSessions(t)
	st, err := sessions.Open(context.Background(), OpenRequest{ImageURL: "photo.png", MemberID: "5", Container: Size{W: 400, H: 400}})
	require.NoError(t, err)

	_, err = sessions.Pointer(st.ID, PointerEvent{Type: PointerDown, Point: Point{X: 200, Y: 200}})
	require.NoError(t, err)

	require.NoError(t, sessions.Cancel(st.ID))
	assert.Equal(t, 0, sessions.Len())
	assert.ErrorIs(t, sessions.Cancel(st.ID), ErrSessionNotFound)

	_, err = sessions.Confirm(context.Background(), st.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	member, err := sessions.Store.Get("5")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(member.Photo, "https://"), "avatar unchanged")
}

func TestSessions_InvalidContainerStaysOpen(t *testing.T) {
	sessions, _ := newTestSessions(t)
	ctx := context.Background()

	st, err := sessions.Open(ctx, OpenRequest{ImageURL: "photo.png", Container: Size{W: 0, H: 0}})
	require.NoError(t, err)
	assert.Nil(t, st.Layout)
	assert.Nil(t, st.Region)
	assert.NotEmpty(t, st.Error)

	st, err = sessions.Pointer(st.ID, PointerEvent{Type: PointerDown, Point: Point{X: 1, Y: 1}})
	require.NoError(t, err)
	assert.Equal(t, Idle, st.Interaction, "inert without a layout")

	_, err = sessions.Confirm(ctx, st.ID)
	assert.ErrorIs(t, err, ErrNoLayout)
	assert.Equal(t, 1, sessions.Len())

	st, err = sessions.Resize(st.ID, Size{W: 400, H: 400})
	require.NoError(t, err)
	require.NotNil(t, st.Region)
	assert.Empty(t, st.Error)
	assertRegion(t, Region{X: 140, Y: 140, Width: 120, Height: 120}, *st.Region)
}

func TestSessions_ResizeKeepsSelection(t *testing.T) {
	sessions, _ := newTestSessions(t)
	st, err := sessions.Open(context.Background(), OpenRequest{ImageURL: "photo.png", Container: Size{W: 400, H: 400}})
	require.NoError(t, err)

	st, err = sessions.Resize(st.ID, Size{W: 800, H: 800})
	require.NoError(t, err)
	assertRegion(t, Region{X: 280, Y: 280, Width: 240, Height: 240}, *st.Region)

	_, err = sessions.Resize("nope", Size{W: 1, H: 1})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessions_DecodeFailureClosesSession(t *testing.T) {
	sessions, root := newTestSessions(t)
	ctx := context.Background()

	st, err := sessions.Open(ctx, OpenRequest{ImageURL: "photo.png", MemberID: "6", Container: Size{W: 400, H: 400}})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(root+"/photo.png", []byte("corrupted"), 0o644))

	_, err = sessions.Confirm(ctx, st.ID)
	assert.ErrorIs(t, err, ErrDecode)
	assert.Equal(t, 0, sessions.Len())

	member, err := sessions.Store.Get("6")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(member.Photo, "https://"), "avatar unchanged")
}

func TestSessions_OpenErrors(t *testing.T) {
	sessions, _ := newTestSessions(t)
	ctx := context.Background()

	_, err := sessions.Open(ctx, OpenRequest{ImageURL: "photo.png", MemberID: "404", Container: Size{W: 400, H: 400}})
	assert.ErrorIs(t, err, ErrMemberNotFound)

	_, err = sessions.Open(ctx, OpenRequest{ImageURL: "data:image/png;base64,AAAA", Container: Size{W: 400, H: 400}})
	assert.ErrorIs(t, err, ErrDecode)

	_, err = sessions.Open(ctx, OpenRequest{ImageURL: "nope.png", Container: Size{W: 400, H: 400}})
	assert.ErrorIs(t, err, ErrSourceNotFound)

	_, err = sessions.Open(ctx, OpenRequest{ImageURL: " ", Container: Size{W: 400, H: 400}})
	assert.ErrorIs(t, err, ErrInvalidReference)

	assert.Equal(t, 0, sessions.Len())
}

func TestSessions_MissingSourceKeepsSessionOpen(t *testing.T) {
	sessions, root := newTestSessions(t)
	ctx := context.Background()

	st, err := sessions.Open(ctx, OpenRequest{ImageURL: "photo.png", MemberID: "5", Container: Size{W: 400, H: 400}})
	require.NoError(t, err)
	require.NoError(t, os.Remove(root+"/photo.png"))

	_, err = sessions.Confirm(ctx, st.ID)
	assert.ErrorIs(t, err, ErrSourceNotFound)
	assert.Equal(t, 1, sessions.Len())

	writeImage(t, root, "photo.png", splitImage(800, 400))
	dataURL, err := sessions.Confirm(ctx, st.ID)
	require.NoError(t, err)
	member, err := sessions.Store.Get("5")
	require.NoError(t, err)
	assert.Equal(t, dataURL, member.Photo)
	assert.Equal(t, 0, sessions.Len())
}

func TestSessions_Sweep(t *testing.T) {
	sessions, _ := newTestSessions(t)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sessions.now = func() time.Time { return clock }
	sessions.IdleTimeout = 10 * time.Minute
	ctx := context.Background()

	idle, err := sessions.Open(ctx, OpenRequest{ImageURL: "photo.png", Container: Size{W: 400, H: 400}})
	require.NoError(t, err)
	busy, err := sessions.Open(ctx, OpenRequest{ImageURL: "photo.png", Container: Size{W: 400, H: 400}})
	require.NoError(t, err)

	clock = clock.Add(8 * time.Minute)
	_, err = sessions.Get(busy.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sessions.Sweep())

	clock = clock.Add(5 * time.Minute)
	assert.Equal(t, 1, sessions.Sweep())
	assert.Equal(t, 1, sessions.Len())

	_, err = sessions.Get(idle.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = sessions.Get(busy.ID)
	assert.NoError(t, err)

	sessions.IdleTimeout = 0
	clock = clock.Add(time.Hour)
	assert.Equal(t, 0, sessions.Sweep())
}

func TestSessions_Expire(t *testing.T) {
	sessions, _ := newTestSessions(t)
	sessions.IdleTimeout = time.Millisecond

	_, err := sessions.Open(context.Background(), OpenRequest{ImageURL: "photo.png", Container: Size{W: 400, H: 400}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sessions.Expire(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return sessions.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
