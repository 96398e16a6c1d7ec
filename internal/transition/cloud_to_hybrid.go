package transition

import (
	"context"
	"fmt"

	"fleetlink/internal/config"
	"fleetlink/internal/transport"
)

// CloudToHybrid adds a local transport to a cloud-only entry. Cloud
// credentials must already exist and are carried through untouched.
type CloudToHybrid struct {
	tc       *Context
	store    config.Store
	factory  transport.Factory
	reloader Reloader
}

func (m *CloudToHybrid) Validate(ctx context.Context) bool {
	e := m.tc.Entry
	return e.Mode == config.ModeCloud && e.Cloud != nil && e.Cloud.Username != "" && e.Cloud.PlantID != ""
}

func (m *CloudToHybrid) Collect(ctx context.Context, step Step, input map[string]string) (Result, error) {
	switch step {
	case "":
		return selectLocalTypeResult(), nil

	case StepSelectLocalType:
		kind := config.LocalKind(input["local_type"])
		if kind != config.LocalModbus && kind != config.LocalDongle {
			res := selectLocalTypeResult()
			res.Errors = map[string]string{"local_type": "invalid"}
			return res, nil
		}
		return Result{NextStep: stepForKind(kind), Fields: localConfigFields(kind, nil)}, nil

	case StepModbusConfig, StepDongleConfig:
		kind, _ := kindForStep(step)
		cfg, fieldErrors := parseLocalConfig(kind, input)
		if fieldErrors != nil {
			return Result{NextStep: step, Fields: localConfigFields(kind, input), Errors: fieldErrors}, nil
		}
		if err := probeLocal(ctx, m.factory, m.tc.Entry, cfg); err != nil {
			return Result{
				NextStep: step,
				Fields:   localConfigFields(kind, input),
				Errors:   map[string]string{"base": probeErrorCode(err)},
			}, nil
		}
		m.tc.Local = cfg
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

func (m *CloudToHybrid) warnings() []string {
	from := m.tc.Entry.PollInterval
	if from <= 0 {
		from = cloudPollInterval
	}
	var warnings []string
	if from != localPollInterval {
		warnings = append(warnings, pollIntervalWarning(from, localPollInterval))
	}
	return warnings
}

func (m *CloudToHybrid) Execute(ctx context.Context) error {
	if m.tc.Local == nil {
		return fmt.Errorf("%w: local transport not configured", ErrPreconditionFailed)
	}

	local := *m.tc.Local
	cloud := m.tc.Cloud
	err := m.store.Update(ctx, m.tc.Entry.ID, func(e *config.FleetEntry) error {
		if e.Mode != config.ModeCloud {
			return fmt.Errorf("%w: entry left cloud mode during the workflow", ErrPreconditionFailed)
		}
		e.Mode = config.ModeHybrid
		e.Local = &local
		if e.Cloud == nil {
			// validated credentials are never discarded
			e.Cloud = cloud
		}
		e.PollInterval = localPollInterval
		return nil
	})
	if err != nil {
		return err
	}
	return m.reloader.Reload(ctx, m.tc.Entry.ID)
}
