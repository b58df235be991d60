package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"erpsync/internal/events"
	"erpsync/internal/logging"
	"erpsync/internal/metrics"
	"erpsync/internal/models"
	"erpsync/internal/validation"

	"github.com/rs/zerolog"
)

// TaskService is the operator task backlog. Implemented by the
// database layer; kept as an interface so orchestration tests run
// against a fake.
type TaskService interface {
	CreateTask(ctx context.Context, task *models.Task) error
	FindOpenTaskByType(ctx context.Context, taskType, entityID string) (*models.Task, error)
	UpdateTaskNotes(ctx context.Context, id int64, notes string) error
	IncrementOccurrence(ctx context.Context, id int64, occurrenceNote string) error
}

// Notifier escalates failures through the unified notification path.
type Notifier interface {
	ReportFailure(ctx context.Context, failureContext, message, severity, details, sessionID string) error
}

// Outcome is what a job run reports back to its caller. Callers must
// check QuarantineTriggered before promoting staging data to master.
type Outcome struct {
	FinalStatus         models.JobStatus
	FailureCount        int
	QuarantineTriggered bool
}

// Options tune task summarization.
type Options struct {
	// SummaryThreshold: above this many discrepancies one summary task
	// replaces per-entity tasks.
	SummaryThreshold int
	// NeverSummarize lists task types that always get one task per
	// entity, e.g. exported adjustments that need distinct ids
	// downstream.
	NeverSummarize []string
	// KeyPreview is how many offending keys a summary task lists.
	KeyPreview int
}

// skuColumns is probed for an entity id before falling back to the
// discrepancy key.
var skuColumns = []string{"SKU", "sku", "ItemCode", "item_code", "ArticleNumber", "article_number"}

// Orchestrator turns validation results into operator tasks without
// flooding the backlog, and decides whether a run is quarantined.
type Orchestrator struct {
	tasks          TaskService
	notifier       Notifier
	bus            *events.EventBus
	opts           Options
	neverSummarize map[string]struct{}
	logger         zerolog.Logger
}

func New(tasks TaskService, notifier Notifier, bus *events.EventBus, opts Options, logger *zerolog.Logger) *Orchestrator {
	if opts.SummaryThreshold <= 0 {
		opts.SummaryThreshold = models.DefaultSummaryThreshold
	}
	if opts.KeyPreview <= 0 {
		opts.KeyPreview = models.SummaryKeyPreview
	}

	never := make(map[string]struct{}, len(opts.NeverSummarize))
	for _, t := range opts.NeverSummarize {
		never[t] = struct{}{}
	}

	return &Orchestrator{
		tasks:          tasks,
		notifier:       notifier,
		bus:            bus,
		opts:           opts,
		neverSummarize: never,
		logger:         logging.Component(logger, "orchestrator"),
	}
}

// ProcessResults walks a suite's results, files tasks for every FAILED
// rule, and aggregates the quarantine decision. Rule results with
// status ERROR count as failures for reporting but never quarantine on
// their own; quarantine is a property of the rule configuration.
func (o *Orchestrator) ProcessResults(ctx context.Context, sessionID string, suite *validation.SuiteResult) (*Outcome, error) {
	outcome := &Outcome{FinalStatus: models.JobCompleted}

	var quarantinedRules []string
	for i := range suite.Results {
		result := &suite.Results[i]

		switch result.Status {
		case validation.StatusFailed:
			outcome.FailureCount++
			if err := o.fileTasks(ctx, sessionID, result); err != nil {
				return nil, err
			}
			if result.Rule.OnFailureQuarantine {
				outcome.QuarantineTriggered = true
				quarantinedRules = append(quarantinedRules, result.Rule.Name)
			}
		case validation.StatusError:
			outcome.FailureCount++
			o.logger.Error().
				Str("rule", result.Rule.Name).
				Str("message", result.Message).
				Msg("rule errored during evaluation")
		}
	}

	if outcome.QuarantineTriggered {
		outcome.FinalStatus = models.JobQuarantined
		metrics.IncQuarantine(suite.Suite)

		message := fmt.Sprintf("validation suite %s quarantined: %s", suite.Suite, strings.Join(quarantinedRules, ", "))
		if o.notifier != nil {
			if err := o.notifier.ReportFailure(ctx, "validation:"+suite.Suite, message, models.SeverityCritical,
				fmt.Sprintf("%d failing rules in suite", outcome.FailureCount), sessionID); err != nil {
				o.logger.Error().Err(err).Msg("failed to escalate quarantine")
			}
		}
	}

	return outcome, nil
}

// fileTasks creates or updates tasks for one failed rule: per-entity
// tasks when the count is small or the type must never be summarized,
// otherwise a single summary task.
func (o *Orchestrator) fileTasks(ctx context.Context, sessionID string, result *validation.RuleResult) error {
	rule := result.Rule
	taskType := rule.OnFailureTaskType
	if taskType == "" {
		taskType = "validation_failure"
	}

	_, alwaysPerEntity := o.neverSummarize[taskType]
	if alwaysPerEntity || len(result.Discrepancies) <= o.opts.SummaryThreshold {
		for _, d := range result.Discrepancies {
			if err := o.fileEntityTask(ctx, sessionID, taskType, rule.OnFailureTitle, rule.OnFailureNotes, d); err != nil {
				return err
			}
		}
		return nil
	}

	return o.fileSummaryTask(ctx, sessionID, taskType, result)
}

// fileEntityTask enforces the dedup invariant: exactly one creation or
// exactly one update per discrepancy, never both, never neither.
func (o *Orchestrator) fileEntityTask(ctx context.Context, sessionID, taskType, titleTpl, notesTpl string, d validation.Discrepancy) error {
	entityID := entityID(d)

	existing, err := o.tasks.FindOpenTaskByType(ctx, taskType, entityID)
	if err != nil {
		return fmt.Errorf("dedup lookup for %s/%s: %w", taskType, entityID, err)
	}

	if existing != nil {
		note := fmt.Sprintf("recurred in session %s: %s", sessionID, d.Details)
		if err := o.tasks.IncrementOccurrence(ctx, existing.ID, note); err != nil {
			return fmt.Errorf("bump occurrence on task %d: %w", existing.ID, err)
		}
		metrics.IncTaskFiled("updated")
		return nil
	}

	title := expandTemplate(titleTpl, d)
	if title == "" {
		title = fmt.Sprintf("%s: %s", taskType, entityID)
	}
	notes := expandTemplate(notesTpl, d)
	if notes == "" {
		notes = d.Details
	}

	task := &models.Task{
		TaskType:  taskType,
		EntityID:  entityID,
		Name:      d.Name,
		Title:     title,
		Notes:     notes,
		SessionID: sessionID,
	}
	if err := o.tasks.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create task for %s/%s: %w", taskType, entityID, err)
	}
	metrics.IncTaskFiled("created")
	o.publishCreated(task)
	return nil
}

// fileSummaryTask collapses a systemic failure into one task so a
// single bad import cannot bury the operator queue.
func (o *Orchestrator) fileSummaryTask(ctx context.Context, sessionID, taskType string, result *validation.RuleResult) error {
	rule := result.Rule
	count := len(result.Discrepancies)

	preview := make([]string, 0, o.opts.KeyPreview)
	for i, d := range result.Discrepancies {
		if i >= o.opts.KeyPreview {
			break
		}
		preview = append(preview, d.Key)
	}

	entityID := "summary:" + rule.Name
	title := fmt.Sprintf("%s: %d discrepancies", rule.Name, count)
	notes := fmt.Sprintf("First %d keys: %s\nSee the job log for the full list.",
		len(preview), strings.Join(preview, ", "))

	existing, err := o.tasks.FindOpenTaskByType(ctx, taskType, entityID)
	if err != nil {
		return fmt.Errorf("dedup lookup for summary %s: %w", entityID, err)
	}
	if existing != nil {
		if err := o.tasks.IncrementOccurrence(ctx, existing.ID, fmt.Sprintf("recurred in session %s with %d discrepancies", sessionID, count)); err != nil {
			return fmt.Errorf("bump occurrence on summary task %d: %w", existing.ID, err)
		}
		metrics.IncTaskFiled("updated")
		return nil
	}

	task := &models.Task{
		TaskType:  taskType,
		EntityID:  entityID,
		Title:     title,
		Notes:     notes,
		SessionID: sessionID,
	}
	if err := o.tasks.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create summary task for %s: %w", rule.Name, err)
	}
	metrics.IncTaskFiled("summary")
	o.publishCreated(task)
	return nil
}

func (o *Orchestrator) publishCreated(task *models.Task) {
	if err := o.bus.PublishJSON(events.EventTaskCreated, events.TaskEventPayload{
		TaskType:  task.TaskType,
		EntityID:  task.EntityID,
		Title:     task.Title,
		SessionID: task.SessionID,
	}); err != nil {
		o.logger.Warn().Err(err).Str("task_type", task.TaskType).Msg("publish task event")
	}
}

// entityID prefers a SKU-like field from the raw row, falling back to
// the discrepancy key.
func entityID(d validation.Discrepancy) string {
	for _, col := range skuColumns {
		if v := strings.TrimSpace(d.Data[col]); v != "" {
			return v
		}
	}
	return d.Key
}
