package transition

import (
	"context"
	"fmt"

	"fleetlink/internal/config"
	"fleetlink/internal/transport"
)

// LocalSwap replaces the local transport of a hybrid or local entry with a
// different kind or endpoint. The connection mode and any cloud credentials
// stay as they are.
type LocalSwap struct {
	tc       *Context
	store    config.Store
	factory  transport.Factory
	reloader Reloader
}

func (m *LocalSwap) Validate(ctx context.Context) bool {
	e := m.tc.Entry
	return (e.Mode == config.ModeHybrid || e.Mode == config.ModeLocal) && e.Local != nil
}

func (m *LocalSwap) Collect(ctx context.Context, step Step, input map[string]string) (Result, error) {
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

func (m *LocalSwap) warnings() []string {
	var warnings []string
	if m.tc.Local != nil && m.tc.Entry.Local != nil && m.tc.Local.Kind != m.tc.Entry.Local.Kind {
		warnings = append(warnings, fmt.Sprintf("local transport will change from %s to %s", m.tc.Entry.Local.Kind, m.tc.Local.Kind))
	}
	return warnings
}

func (m *LocalSwap) Execute(ctx context.Context) error {
	if m.tc.Local == nil {
		return fmt.Errorf("%w: local transport not configured", ErrPreconditionFailed)
	}

	local := *m.tc.Local
	err := m.store.Update(ctx, m.tc.Entry.ID, func(e *config.FleetEntry) error {
		if e.Local == nil {
			return fmt.Errorf("%w: entry lost its local transport during the workflow", ErrPreconditionFailed)
		}
		e.Local = &local
		return nil
	})
	if err != nil {
		return err
	}
	return m.reloader.Reload(ctx, m.tc.Entry.ID)
}
