package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// CropOperation is one avatar export request: a photo as it was shown in
// a container of the given size and the region selected over it.
type CropOperation struct {
	Filename   string `json:"filename"`
	Container  Size   `json:"container"`
	Region     Region `json:"region"`
	OutputSize int    `json:"outputSize,omitempty"`
}

// CropPlan is an operation resolved against the photo on disk.
type CropPlan struct {
	CropOperation
	Layout ImageLayout `json:"layout"`
	Source SourceRect  `json:"source"`
	Output string      `json:"output"`
}

// ID identifies the crop so repeated runs produce the same file name.
func (op CropOperation) ID() string {
	m := md5.New()
	fmt.Fprintf(m, "%s|%s|%s|%d", op.Filename, op.Container, op.Region, op.OutputSize)
	return fmt.Sprintf("%x", m.Sum(nil))
}

// ReadOperations parses JSONL crop operations, skipping blank lines and
// lines starting with #.
func ReadOperations(r io.Reader) ([]CropOperation, error) {
	var ops []CropOperation
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var op CropOperation
		if err := json.Unmarshal([]byte(text), &op); err != nil {
			return nil, fmt.Errorf("line %d: failed to unmarshal operation: %w", line, err)
		}
		if op.Filename == "" {
			return nil, fmt.Errorf("line %d: filename is required", line)
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read operations: %w", err)
	}
	return ops, nil
}

type OperationExecutor struct {
	Loader    *SourceLoader
	OutputDir string
	Exporter  Exporter
	Settings  CropSettings
}

// Plan computes the layout, clamped region and source rectangle for op.
func (r OperationExecutor) Plan(ctx context.Context, op CropOperation) (CropPlan, error) {
	natural, err := r.Loader.NaturalSize(ctx, op.Filename)
	if err != nil {
		return CropPlan{}, err
	}
	layout, err := ComputeLayout(op.Container, natural)
	if err != nil {
		return CropPlan{}, err
	}
	if op.OutputSize <= 0 {
		op.OutputSize = r.Settings.OutputSize
	}
	op.Region = Constrain(op.Region, layout, r.Settings.Constraints())
	source, err := ComputeSourceRect(layout, op.Region)
	if err != nil {
		return CropPlan{}, err
	}
	name := fmt.Sprintf("%s-%s.jpg", strings.TrimSuffix(filepath.Base(op.Filename), filepath.Ext(op.Filename)), op.ID())
	return CropPlan{
		CropOperation: op,
		Layout:        layout,
		Source:        source,
		Output:        filepath.Join(r.OutputDir, name),
	}, nil
}

// Exec runs the operations on a bounded pool and returns the joined
// errors of the ones that failed.
func (r OperationExecutor) Exec(ctx context.Context, ops []CropOperation) error {
	if len(ops) == 0 {
		log.Ctx(ctx).Warn().Msg("no operations to execute")
		return nil
	}

	if err := os.MkdirAll(r.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", r.OutputDir, err)
	}

	pooler := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(runtime.NumCPU())
	for _, op := range ops {
		op := op
		pooler.Go(func(ctx context.Context) error {
			if err := r.executeCrop(ctx, op); err != nil {
				log.Ctx(ctx).Error().Err(err).
					Str("filename", op.Filename).
					Msg("failed to execute operation")
				return fmt.Errorf("%s: %w", op.Filename, err)
			}
			return nil
		})
	}

	if err := pooler.Wait(); err != nil {
		log.Ctx(ctx).Error().
			Err(err).
			Msg("finished with errors")
		return err
	}

	return nil
}

func (r OperationExecutor) executeCrop(ctx context.Context, op CropOperation) error {
	plan, err := r.Plan(ctx, op)
	if err != nil {
		return err
	}
	log.Ctx(ctx).Info().
		Str("filename", op.Filename).
		Str("output", plan.Output).
		Msg("cropping")

	f, err := r.Loader.Open(ctx, op.Filename)
	if err != nil {
		return err
	}
	defer f.Close()

	var b bytes.Buffer
	if err := r.Exporter.Export(ctx, f, &b, ExportJob{
		Layout:     plan.Layout,
		Region:     plan.Region,
		OutputSize: plan.OutputSize,
		Quality:    r.Settings.Quality,
	}); err != nil {
		return err
	}

	wf, err := os.Create(plan.Output)
	if err != nil {
		return fmt.Errorf("failed to create cropped file %s: %w", plan.Output, err)
	}
	if _, err := b.WriteTo(wf); err != nil {
		wf.Close()
		return fmt.Errorf("failed to write cropped data to file %s: %w", plan.Output, err)
	}
	return wf.Close()
}

// PlanAll resolves every operation without writing anything.
func (r OperationExecutor) PlanAll(ctx context.Context, ops []CropOperation) ([]CropPlan, error) {
	plans := make([]CropPlan, 0, len(ops))
	var errs []error
	for _, op := range ops {
		plan, err := r.Plan(ctx, op)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", op.Filename, err))
			continue
		}
		plans = append(plans, plan)
	}
	return plans, errors.Join(errs...)
}
