package notify

import (
	"context"
	"testing"

	"erpsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTasks struct {
	tasks  map[string]*models.Task
	nextID int64
	bumped int
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{tasks: make(map[string]*models.Task)}
}

func (f *fakeTasks) CreateTask(ctx context.Context, task *models.Task) error {
	f.nextID++
	task.ID = f.nextID
	task.Occurrences = 1
	f.tasks[task.TaskType+"|"+task.EntityID] = task
	return nil
}

func (f *fakeTasks) FindOpenTaskByType(ctx context.Context, taskType, entityID string) (*models.Task, error) {
	return f.tasks[taskType+"|"+entityID], nil
}

func (f *fakeTasks) UpdateTaskNotes(ctx context.Context, id int64, notes string) error { return nil }

func (f *fakeTasks) IncrementOccurrence(ctx context.Context, id int64, note string) error {
	f.bumped++
	return nil
}

type fakeChannel struct {
	sent []string
}

func (f *fakeChannel) Send(ctx context.Context, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func TestReportFailure_CreatesTask(t *testing.T) {
	tasks := newFakeTasks()
	s := NewService(tasks, nil, nil)

	err := s.ReportFailure(context.Background(), "import:erp", "ERP feed missing", models.SeverityWarning, "no file found", "sess-1")
	require.NoError(t, err)

	task := tasks.tasks["sync_failure|import:erp"]
	require.NotNil(t, task)
	assert.Equal(t, "[Warning] ERP feed missing", task.Title)
	assert.Equal(t, "no file found", task.Notes)
	assert.Equal(t, "sess-1", task.SessionID)
}

func TestReportFailure_DedupsByContext(t *testing.T) {
	tasks := newFakeTasks()
	s := NewService(tasks, nil, nil)
	ctx := context.Background()

	require.NoError(t, s.ReportFailure(ctx, "import:erp", "boom", models.SeverityWarning, "", "sess-1"))
	require.NoError(t, s.ReportFailure(ctx, "import:erp", "boom again", models.SeverityWarning, "", "sess-2"))

	assert.Len(t, tasks.tasks, 1)
	assert.Equal(t, 1, tasks.bumped)
}

func TestReportFailure_CriticalSendsToChannel(t *testing.T) {
	tasks := newFakeTasks()
	channel := &fakeChannel{}
	s := NewService(tasks, channel, nil)
	ctx := context.Background()

	require.NoError(t, s.ReportFailure(ctx, "validation:catalog", "suite quarantined", models.SeverityCritical, "2 rules", "sess-1"))
	require.Len(t, channel.sent, 1)
	assert.Contains(t, channel.sent[0], "validation:catalog")
	assert.Contains(t, channel.sent[0], "suite quarantined")

	require.NoError(t, s.ReportFailure(ctx, "import:erp", "warning only", models.SeverityWarning, "", "sess-1"))
	assert.Len(t, channel.sent, 1, "warnings stay out of the channel")
}

func TestReportFailure_NilChannelIsLogOnly(t *testing.T) {
	tasks := newFakeTasks()
	s := NewService(tasks, nil, nil)

	err := s.ReportFailure(context.Background(), "validation:catalog", "critical", models.SeverityCritical, "", "sess-1")
	assert.NoError(t, err)
}
