// Package separation runs the external stem-separation tool for a project and
// collects its output into the project's stem set.
package separation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/stemtranscriber/api/internal/jobstore"
	"github.com/stemtranscriber/api/internal/model"
	"github.com/stemtranscriber/api/internal/progress"
	"github.com/stemtranscriber/api/internal/workspace"
)

// Config controls the separation tool invocation.
type Config struct {
	Command    string
	Model      string
	ProgressLo int
	ProgressHi int
}

// Orchestrator drives one separation job from uploaded audio to stems.
type Orchestrator struct {
	store  jobstore.Store
	layout workspace.Layout
	runner Runner
	cfg    Config
}

func NewOrchestrator(store jobstore.Store, layout workspace.Layout, runner Runner, cfg Config) *Orchestrator {
	if cfg.ProgressHi <= cfg.ProgressLo {
		cfg.ProgressLo, cfg.ProgressHi = 5, 85
	}
	return &Orchestrator{
		store:  store,
		layout: layout,
		runner: runner,
		cfg:    cfg,
	}
}

// Run separates the project's upload. Every outcome is recorded on the job;
// the returned paths are the stems written on success (nil otherwise).
func (o *Orchestrator) Run(ctx context.Context, projectID, jobID string) ([]string, error) {
	o.progress(ctx, jobID, 1, "Preparing separation...")

	src, ok := o.layout.FindOriginal(projectID)
	if !ok {
		o.fail(ctx, jobID, "No uploaded audio")
		return nil, nil
	}

	stemsDir := o.layout.StemsDir(projectID)
	if err := os.MkdirAll(stemsDir, 0o755); err != nil {
		o.fail(ctx, jobID, fmt.Sprintf("Separation exception: %v", err))
		return nil, nil
	}

	scratch := o.layout.ScratchDir(projectID, jobID)
	if err := os.RemoveAll(scratch); err != nil {
		o.fail(ctx, jobID, fmt.Sprintf("Separation exception: %v", err))
		return nil, nil
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		o.fail(ctx, jobID, fmt.Sprintf("Separation exception: %v", err))
		return nil, nil
	}

	o.progress(ctx, jobID, o.cfg.ProgressLo, fmt.Sprintf("Running separation (%s)...", o.cfg.Model))

	args := []string{"-n", o.cfg.Model, "--out", scratch, src}
	log.Printf("Running separation job %s: %s %v", jobID, o.cfg.Command, args)

	translator := progress.NewTranslator(o.store, jobID, o.cfg.ProgressLo, o.cfg.ProgressHi, "Separating")
	err := o.runner.Run(ctx, o.cfg.Command, args, func(line string) {
		log.Printf("[separation %s] %s", jobID, line)
		translator.Feed(ctx, line)
	})
	if err != nil {
		os.RemoveAll(scratch)
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			o.fail(ctx, jobID, fmt.Sprintf("Separation failed (exit status %d). Check worker logs.", exitErr.Code))
		} else {
			o.fail(ctx, jobID, fmt.Sprintf("Separation exception: %v", err))
		}
		return nil, nil
	}

	o.progress(ctx, jobID, 90, "Collecting stems...")

	folder, found := FindStemFolder(scratch)
	if !found {
		log.Printf("No separation output found for job %s. Scratch tree (top 4 levels):", jobID)
		for _, rel := range ListTree(scratch, 4) {
			log.Printf(" - %s", rel)
		}
		o.fail(ctx, jobID, "No separation output found")
		return nil, nil
	}

	copied, err := CopyStems(folder, stemsDir)
	if err != nil {
		os.RemoveAll(scratch)
		o.fail(ctx, jobID, fmt.Sprintf("Separation exception: %v", err))
		return nil, nil
	}
	if len(copied) == 0 {
		os.RemoveAll(scratch)
		o.fail(ctx, jobID, "No stems copied")
		return nil, nil
	}

	if err := os.RemoveAll(scratch); err != nil {
		log.Printf("Failed to remove scratch dir %s: %v", scratch, err)
	}

	if err := o.store.Update(context.WithoutCancel(ctx), jobID, model.Succeeded(fmt.Sprintf("Stems ready (%s).", o.cfg.Model))); err != nil {
		return copied, fmt.Errorf("failed to mark job succeeded: %w", err)
	}
	log.Printf("Separation job %s completed: %d stem(s)", jobID, len(copied))
	return copied, nil
}

func (o *Orchestrator) progress(ctx context.Context, jobID string, pct int, msg string) {
	if err := o.store.Update(ctx, jobID, model.Running(pct, msg)); err != nil {
		log.Printf("Failed to update progress: %v", err)
	}
}

// fail records a terminal failure even when ctx was cancelled by a timeout.
func (o *Orchestrator) fail(ctx context.Context, jobID, msg string) {
	log.Printf("Separation job %s failed: %s", jobID, msg)
	if err := o.store.Update(context.WithoutCancel(ctx), jobID, model.Failed(msg)); err != nil {
		log.Printf("Failed to mark job as failed: %v", err)
	}
}
