// Package dagscheduler drives the schedule-triggered DAG path of spec §4.5/
// §11 (trigger_type=schedule): every enabled dag_template carrying a
// schedule_cron expression is registered with a cron.Cron instance, and each
// tick creates and starts a fresh dag.Execution via the same executor manual
// triggers use.
package dagscheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/riftwatch/easm/domain/dag"
	"github.com/riftwatch/easm/pkg/logger"
	"github.com/riftwatch/easm/storage"
)

// Executor is the narrow slice of dagengine.Executor the scheduler needs.
type Executor interface {
	Create(ctx context.Context, tmpl *dag.Template, projectID string, triggerType dag.TriggerType, triggerEvent, inputConfig map[string]any) (*dag.Execution, error)
	Start(ctx context.Context, executionID string) error
}

// Scheduler reloads the set of schedule-triggered templates on Start and
// keeps a cron.Cron entry per template for the lifetime of the process; it
// does not watch for templates created after Start (spec §11 is the
// reload-on-restart model the teacher's batch services follow elsewhere).
type Scheduler struct {
	projects storage.ProjectStore
	dags     storage.DAGStore
	executor Executor
	log      *logger.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

func New(projects storage.ProjectStore, dags storage.DAGStore, executor Executor, log *logger.Logger) *Scheduler {
	return &Scheduler{projects: projects, dags: dags, executor: executor, log: log}
}

func (s *Scheduler) Name() string { return "dag-scheduler" }

// Start loads every scheduled template (global and per-project) and
// registers its cron expression. A template whose expression fails to parse
// is skipped and logged rather than aborting startup.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cron.New()
	templates, err := s.scheduledTemplates(ctx)
	if err != nil {
		return err
	}
	for _, tmpl := range templates {
		tmpl := tmpl
		_, err := c.AddFunc(tmpl.ScheduleCron, func() { s.fire(tmpl) })
		if err != nil {
			if s.log != nil {
				s.log.WithField("dag_template_id", tmpl.ID).WithError(err).Warn("invalid schedule_cron, skipping template")
			}
			continue
		}
	}
	c.Start()
	s.cron = c
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	<-c.Stop().Done()
	return nil
}

// scheduledTemplates collects every enabled template with a non-empty
// schedule_cron: the global set (project_id IS NULL) plus each project's own
// templates, deduplicated by id since ListTemplates already folds global
// templates into every per-project result.
func (s *Scheduler) scheduledTemplates(ctx context.Context) ([]*dag.Template, error) {
	seen := make(map[string]bool)
	var out []*dag.Template

	collect := func(projectID string) error {
		tmpls, err := s.dags.ListTemplates(ctx, projectID)
		if err != nil {
			return err
		}
		for _, t := range tmpls {
			if !t.Enabled || t.ScheduleCron == "" || seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			out = append(out, t)
		}
		return nil
	}

	if err := collect(""); err != nil {
		return nil, err
	}

	projects, err := s.projects.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if err := collect(p.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// fire creates and starts one schedule-triggered execution. Failures are
// logged; a missed tick never blocks or retries within this process.
func (s *Scheduler) fire(tmpl *dag.Template) {
	ctx := context.Background()
	exec, err := s.executor.Create(ctx, tmpl, tmpl.ProjectID, dag.TriggerSchedule, nil, nil)
	if err != nil {
		if s.log != nil {
			s.log.WithField("dag_template_id", tmpl.ID).WithError(err).Error("scheduled dag execution create failed")
		}
		return
	}
	if err := s.executor.Start(ctx, exec.ID); err != nil && s.log != nil {
		s.log.WithField("dag_template_id", tmpl.ID).WithField("execution_id", exec.ID).WithError(err).Error("scheduled dag execution start failed")
	}
}
