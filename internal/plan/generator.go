// Package plan expands planning inputs into the deterministic task universe
// and records the append-only plan history used for drift detection.
package plan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pncp-tools/harvester/internal/harvest"
)

const dateLayout = "2006-01-02"

// Input is the full parameter set a plan is generated from. Fingerprint and
// task identity are pure functions of these values.
type Input struct {
	StartDate     time.Time
	EndDate       time.Time
	Endpoints     []string
	Modalities    []int
	Environment   string
	ConfigVersion string
	Catalog       harvest.Catalog
}

// Plan is the materialized output of one generation pass.
type Plan struct {
	Fingerprint string
	Metadata    harvest.PlanMetadata
	Tasks       []harvest.Task
}

// ParseInput builds an Input from string dates, validating the range.
func ParseInput(startDate, endDate string, endpoints []string, modalities []int, environment, configVersion string, catalog harvest.Catalog) (Input, error) {
	start, err := time.ParseInLocation(dateLayout, startDate, time.UTC)
	if err != nil {
		return Input{}, fmt.Errorf("%w: bad start_date %q", harvest.ErrInvalidConfiguration, startDate)
	}
	end, err := time.ParseInLocation(dateLayout, endDate, time.UTC)
	if err != nil {
		return Input{}, fmt.Errorf("%w: bad end_date %q", harvest.ErrInvalidConfiguration, endDate)
	}
	return Input{
		StartDate:     start,
		EndDate:       end,
		Endpoints:     endpoints,
		Modalities:    modalities,
		Environment:   environment,
		ConfigVersion: configVersion,
		Catalog:       catalog,
	}, nil
}

// Build expands the input into the complete task cross-product. It is pure:
// identical inputs always produce the same fingerprint and the same task IDs
// in the same order.
func Build(in Input, now time.Time) (Plan, error) {
	if err := validate(in); err != nil {
		return Plan{}, err
	}

	endpoints := append([]string(nil), in.Endpoints...)
	sort.Strings(endpoints)
	modalities := append([]int(nil), in.Modalities...)
	sort.Ints(modalities)

	fingerprint := Fingerprint(in)

	var tasks []harvest.Task
	for _, name := range endpoints {
		ep, err := in.Catalog.Lookup(name)
		if err != nil {
			return Plan{}, err
		}
		for date := in.StartDate; !date.After(in.EndDate); date = date.AddDate(0, 0, 1) {
			if ep.SupportsModalidade && len(modalities) > 0 {
				for _, mod := range modalities {
					m := mod
					tasks = append(tasks, harvest.Task{
						ID:              TaskID(ep.Name, date, &m, fingerprint),
						EndpointName:    ep.Name,
						DataDate:        date,
						Modalidade:      &m,
						PlanFingerprint: fingerprint,
						CreatedAt:       now,
					})
				}
				continue
			}
			tasks = append(tasks, harvest.Task{
				ID:              TaskID(ep.Name, date, nil, fingerprint),
				EndpointName:    ep.Name,
				DataDate:        date,
				PlanFingerprint: fingerprint,
				CreatedAt:       now,
			})
		}
	}

	return Plan{
		Fingerprint: fingerprint,
		Metadata: harvest.PlanMetadata{
			Fingerprint:    fingerprint,
			Environment:    in.Environment,
			DateRangeStart: in.StartDate,
			DateRangeEnd:   in.EndDate,
			GeneratedAt:    now,
			ConfigVersion:  in.ConfigVersion,
			TaskCount:      len(tasks),
		},
		Tasks: tasks,
	}, nil
}

func validate(in Input) error {
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return fmt.Errorf("%w: date range is required", harvest.ErrInvalidConfiguration)
	}
	if in.EndDate.Before(in.StartDate) {
		return fmt.Errorf("%w: date range is inverted (%s after %s)",
			harvest.ErrInvalidConfiguration,
			in.StartDate.Format(dateLayout), in.EndDate.Format(dateLayout))
	}
	if len(in.Endpoints) == 0 {
		return fmt.Errorf("%w: endpoint set is empty", harvest.ErrInvalidConfiguration)
	}
	return nil
}

// Fingerprint computes the stable hash over the sorted, canonicalized
// planning inputs. Any change to the parameter set yields a new fingerprint
// and signals configuration drift against prior runs.
func Fingerprint(in Input) string {
	endpoints := append([]string(nil), in.Endpoints...)
	sort.Strings(endpoints)
	modalities := make([]string, 0, len(in.Modalities))
	for _, m := range in.Modalities {
		modalities = append(modalities, strconv.Itoa(m))
	}
	sort.Strings(modalities)

	canonical := strings.Join([]string{
		"v1",
		in.StartDate.Format(dateLayout),
		in.EndDate.Format(dateLayout),
		strings.Join(endpoints, ","),
		strings.Join(modalities, ","),
		in.Environment,
		in.ConfigVersion,
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// TaskID derives the deterministic task identity from its defining
// parameters. Replanning with unchanged inputs reproduces identical IDs.
func TaskID(endpoint string, date time.Time, modalidade *int, fingerprint string) string {
	mod := "-"
	if modalidade != nil {
		mod = strconv.Itoa(*modalidade)
	}
	canonical := strings.Join([]string{endpoint, date.Format(dateLayout), mod, fingerprint}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Generator persists generated plans through the task and plan stores.
type Generator struct {
	tasks  harvest.TaskStore
	plans  harvest.PlanStore
	clock  harvest.Clock
	logger *zap.Logger
}

// NewGenerator constructs a Generator.
func NewGenerator(tasks harvest.TaskStore, plans harvest.PlanStore, clock harvest.Clock, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{tasks: tasks, plans: plans, clock: clock, logger: logger}
}

// Sync builds the plan and upserts it. Regeneration with identical inputs is
// a no-op against existing tasks; a changed fingerprint appends a new
// metadata row and leaves prior tasks, claims and results intact as inert
// history.
func (g *Generator) Sync(ctx context.Context, in Input) (Plan, error) {
	p, err := Build(in, g.clock.Now())
	if err != nil {
		return Plan{}, err
	}

	prior, err := g.plans.LatestPlan(ctx)
	switch {
	case errors.Is(err, harvest.ErrNotFound):
		g.logger.Info("recording first plan", zap.String("fingerprint", p.Fingerprint), zap.Int("tasks", len(p.Tasks)))
	case err != nil:
		return Plan{}, fmt.Errorf("load latest plan: %w", err)
	case prior.Fingerprint == p.Fingerprint:
		g.logger.Info("plan unchanged, upserting tasks",
			zap.String("fingerprint", p.Fingerprint), zap.Int("tasks", len(p.Tasks)))
	default:
		g.logger.Warn("plan fingerprint drift detected, prior tasks remain as history",
			zap.String("old_fingerprint", prior.Fingerprint),
			zap.String("new_fingerprint", p.Fingerprint))
	}

	for _, task := range p.Tasks {
		if err := g.tasks.UpsertTask(ctx, task); err != nil {
			return Plan{}, fmt.Errorf("upsert task %s: %w", task.ID, err)
		}
	}

	if prior.Fingerprint != p.Fingerprint {
		if err := g.plans.RecordPlan(ctx, p.Metadata); err != nil {
			return Plan{}, fmt.Errorf("record plan metadata: %w", err)
		}
	}

	return p, nil
}
