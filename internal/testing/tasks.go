package testing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"atum-server/internal/middleware"
	"atum-server/internal/models"
)

// TaskRelay stands in for Cloud Tasks. Each enqueued job is delivered straight to the
// job endpoint of Handler, authenticated the way a real queue would be.
type TaskRelay struct {
	Handler http.Handler
	Secret  string
	Path    string

	mu        sync.Mutex
	delivered []*models.Job
	statuses  []int
}

// NewTaskRelay creates a relay posting to /jobs/process with the shared job secret.
// Handler may be set later, once the engine that owns the queue has been built.
func NewTaskRelay(secret string) *TaskRelay {
	return &TaskRelay{Secret: secret, Path: "/jobs/process"}
}

// EnqueueJob delivers the job and fails unless the endpoint accepted it.
func (r *TaskRelay) EnqueueJob(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	if r.Handler == nil {
		return fmt.Errorf("task relay has no handler for job %s", job.ID)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Cloudtasks-Taskname", job.ID)
	req.Header.Set("X-Cloudtasks-Taskretrycount", "0")
	req.Header.Set(middleware.JobSecretHeader, r.Secret)

	w := httptest.NewRecorder()
	r.Handler.ServeHTTP(w, req)

	r.mu.Lock()
	r.delivered = append(r.delivered, job)
	r.statuses = append(r.statuses, w.Code)
	r.mu.Unlock()

	if w.Code != http.StatusOK {
		return fmt.Errorf("job processor returned status %d: %s", w.Code, w.Body.String())
	}
	return nil
}

// Delivered returns the jobs relayed so far.
func (r *TaskRelay) Delivered() []*models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]*models.Job, len(r.delivered))
	copy(jobs, r.delivered)
	return jobs
}

// Statuses returns the HTTP status of each delivery, in order.
func (r *TaskRelay) Statuses() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	statuses := make([]int, len(r.statuses))
	copy(statuses, r.statuses)
	return statuses
}
