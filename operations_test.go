package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOperations(t *testing.T) {
	ops, err := ReadOperations(strings.NewReader(`
# avatars for the reunion
{"filename":"a.png","container":{"w":400,"h":400},"region":{"x":0,"y":100,"width":200,"height":200}}

{"filename":"b.png","container":{"w":400,"h":400},"region":{"x":1,"y":2,"width":3,"height":4},"outputSize":128}
`))
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "a.png", ops[0].Filename)
	assert.Equal(t, Region{X: 0, Y: 100, Width: 200, Height: 200}, ops[0].Region)
	assert.Equal(t, 128, ops[1].OutputSize)

	_, err = ReadOperations(strings.NewReader(`{"container":{"w":1,"h":1}}`))
	assert.ErrorContains(t, err, "line 1: filename is required")

	_, err = ReadOperations(strings.NewReader("{}\n{nope"))
	assert.ErrorContains(t, err, "line 1")
}

func TestCropOperation_ID(t *testing.T) {
	op := CropOperation{Filename: "a.png", Container: Size{W: 400, H: 400}, Region: Region{X: 1, Y: 2, Width: 3, Height: 4}}
	assert.Equal(t, op.ID(), op.ID())
	assert.Len(t, op.ID(), 32)

	other := op
	other.Region.X = 2
	assert.NotEqual(t, op.ID(), other.ID())
}

func newTestExecutor(t *testing.T) (OperationExecutor, string) {
	t.Helper()
	root := t.TempDir()
	writeImage(t, root, "photo.png", splitImage(800, 400))
	cfg := DefaultFileConfig()
	return OperationExecutor{
		Loader:    NewSourceLoader(root),
		OutputDir: filepath.Join(root, "output"),
		Exporter:  NewImagingExporter(),
		Settings:  cfg.Crop,
	}, root
}

func TestOperationExecutor_Plan(t *testing.T) {
	executor, root := newTestExecutor(t)

	plan, err := executor.Plan(context.Background(), CropOperation{
		Filename:  "photo.png",
		Container: Size{W: 400, H: 400},
		Region:    Region{X: 0, Y: 100, Width: 400, Height: 200},
	})
	require.NoError(t, err)

	assert.Equal(t, scenarioLayout(t), plan.Layout)
	assert.Equal(t, Region{X: 0, Y: 100, Width: 200, Height: 200}, plan.Region, "square constraint applied")
	assert.Equal(t, SourceRect{X: 0, Y: 0, Width: 400, Height: 400}, plan.Source)
	assert.Equal(t, 300, plan.OutputSize)
	assert.Equal(t, filepath.Join(root, "output"), filepath.Dir(plan.Output))
	assert.True(t, strings.HasPrefix(filepath.Base(plan.Output), "photo-"))
	assert.True(t, strings.HasSuffix(plan.Output, ".jpg"))

	_, err = executor.Plan(context.Background(), CropOperation{Filename: "photo.png"})
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestOperationExecutor_Exec(t *testing.T) {
	executor, _ := newTestExecutor(t)

	ops := []CropOperation{
		{Filename: "photo.png", Container: Size{W: 400, H: 400}, Region: Region{X: 140, Y: 140, Width: 120, Height: 120}},
		{Filename: "photo.png", Container: Size{W: 400, H: 400}, Region: Region{X: 0, Y: 100, Width: 200, Height: 200}, OutputSize: 64},
	}
	require.NoError(t, executor.Exec(context.Background(), ops))

	entries, err := os.ReadDir(executor.OutputDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	sizes := map[int]bool{}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(executor.OutputDir, e.Name()))
		require.NoError(t, err)
		img := decodeJPEG(t, data)
		assert.Equal(t, img.Bounds().Dx(), img.Bounds().Dy())
		sizes[img.Bounds().Dx()] = true
	}
	assert.Equal(t, map[int]bool{300: true, 64: true}, sizes)
}

func TestOperationExecutor_ExecErrors(t *testing.T) {
	executor, _ := newTestExecutor(t)

	err := executor.Exec(context.Background(), []CropOperation{
		{Filename: "missing.png", Container: Size{W: 400, H: 400}},
	})
	assert.ErrorContains(t, err, "missing.png")

	assert.NoError(t, executor.Exec(context.Background(), nil))
}

func TestOperationExecutor_PlanAll(t *testing.T) {
	executor, _ := newTestExecutor(t)

	plans, err := executor.PlanAll(context.Background(), []CropOperation{
		{Filename: "photo.png", Container: Size{W: 400, H: 400}, Region: Region{X: 140, Y: 140, Width: 120, Height: 120}},
		{Filename: "missing.png", Container: Size{W: 400, H: 400}},
	})
	assert.ErrorContains(t, err, "missing.png")
	require.Len(t, plans, 1)
	assert.Equal(t, SourceRect{X: 280, Y: 80, Width: 240, Height: 240}, plans[0].Source)
}
