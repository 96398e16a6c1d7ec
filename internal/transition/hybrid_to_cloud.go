package transition

import (
	"context"
	"fmt"

	"fleetlink/internal/config"
)

// HybridToCloud removes the local transport from a hybrid entry and falls
// back to cloud-only polling. No connectivity probe is needed: the cloud
// session already exists.
type HybridToCloud struct {
	tc       *Context
	store    config.Store
	reloader Reloader
}

func (m *HybridToCloud) Validate(ctx context.Context) bool {
	e := m.tc.Entry
	return e.Mode == config.ModeHybrid && e.Cloud != nil && e.Cloud.Username != ""
}

func (m *HybridToCloud) Collect(ctx context.Context, step Step, input map[string]string) (Result, error) {
	switch step {
	case "":
		m.tc.Warnings = m.warnings()
		return Result{NextStep: StepConfirm, Warnings: m.tc.Warnings}, nil

	case StepConfirm:
		if input["confirm"] != "true" {
			return Result{
				NextStep: StepConfirm,
				Warnings: m.tc.Warnings,
				Errors:   map[string]string{"confirm": "required"},
			}, nil
		}
		if err := m.Execute(ctx); err != nil {
			return Result{}, err
		}
		return Result{Done: true}, nil

	default:
		return Result{}, fmt.Errorf("unknown step %q", step)
	}
}

func (m *HybridToCloud) warnings() []string {
	from := m.tc.Entry.PollInterval
	if from <= 0 {
		from = localPollInterval
	}
	warnings := []string{"local transport configuration will be removed"}
	if from != cloudPollInterval {
		warnings = append(warnings, pollIntervalWarning(from, cloudPollInterval))
	}
	return warnings
}

func (m *HybridToCloud) Execute(ctx context.Context) error {
	cloud := m.tc.Cloud
	err := m.store.Update(ctx, m.tc.Entry.ID, func(e *config.FleetEntry) error {
		if e.Mode != config.ModeHybrid {
			return fmt.Errorf("%w: entry left hybrid mode during the workflow", ErrPreconditionFailed)
		}
		e.Mode = config.ModeCloud
		e.Local = nil
		if e.Cloud == nil {
			e.Cloud = cloud
		}
		e.PollInterval = cloudPollInterval
		return nil
	})
	if err != nil {
		return err
	}
	return m.reloader.Reload(ctx, m.tc.Entry.ID)
}
