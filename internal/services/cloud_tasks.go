package services

import (
	"context"
	"encoding/json"
	"fmt"

	"atum-server/internal/log"
	"atum-server/internal/models"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	cloudtaskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// CloudTasksService queues jobs for the job processor endpoint.
type CloudTasksService struct {
	client              *cloudtasks.Client
	projectID           string
	location            string
	queueName           string
	workerURL           string
	secret              string
	serviceAccountEmail string
}

// CloudTasksConfig configures the queue and the endpoint tasks are delivered to.
type CloudTasksConfig struct {
	ProjectID           string
	Location            string
	QueueName           string
	WorkerURL           string
	Secret              string
	ServiceAccountEmail string
}

// NewCloudTasksService creates a Cloud Tasks client for the configured queue.
func NewCloudTasksService(ctx context.Context, config CloudTasksConfig) (*CloudTasksService, error) {
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		log.Error(ctx, "Failed to create Cloud Tasks client",
			"error", err,
			"project_id", config.ProjectID,
			"location", config.Location,
			"queue_name", config.QueueName,
			"operation", "create_cloud_tasks_client",
		)
		return nil, fmt.Errorf("failed to create Cloud Tasks client: %w", err)
	}

	return &CloudTasksService{
		client:              client,
		projectID:           config.ProjectID,
		location:            config.Location,
		queueName:           config.QueueName,
		workerURL:           config.WorkerURL,
		secret:              config.Secret,
		serviceAccountEmail: config.ServiceAccountEmail,
	}, nil
}

// Close releases the client connection.
func (cts *CloudTasksService) Close() error {
	return cts.client.Close()
}

func (cts *CloudTasksService) queuePath() string {
	return fmt.Sprintf("projects/%s/locations/%s/queues/%s", cts.projectID, cts.location, cts.queueName)
}

// buildTask converts a job into an HTTP task. Authentication is an OIDC token when a service
// account is configured, otherwise the shared secret header.
func (cts *CloudTasksService) buildTask(job *models.Job) (*cloudtaskspb.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"X-Job-ID":     job.ID,
		"X-Trace-ID":   job.TraceID,
	}

	httpRequest := &cloudtaskspb.HttpRequest{
		HttpMethod: cloudtaskspb.HttpMethod_POST,
		Url:        cts.workerURL,
		Headers:    headers,
		Body:       payload,
	}

	if cts.serviceAccountEmail != "" {
		httpRequest.AuthorizationHeader = &cloudtaskspb.HttpRequest_OidcToken{
			OidcToken: &cloudtaskspb.OidcToken{
				ServiceAccountEmail: cts.serviceAccountEmail,
				Audience:            cts.workerURL,
			},
		}
	} else if cts.secret != "" {
		headers["X-Cloud-Tasks-Secret"] = cts.secret
	}

	return &cloudtaskspb.Task{
		MessageType:  &cloudtaskspb.Task_HttpRequest{HttpRequest: httpRequest},
		ScheduleTime: timestamppb.Now(),
	}, nil
}

// EnqueueJob validates and queues a job.
func (cts *CloudTasksService) EnqueueJob(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		log.Error(ctx, "Invalid job for Cloud Tasks",
			"error", err,
			"job_id", job.ID,
			"job_type", job.Type,
			"operation", "validate_job",
		)
		return fmt.Errorf("invalid job: %w", err)
	}

	task, err := cts.buildTask(job)
	if err != nil {
		return err
	}

	createdTask, err := cts.client.CreateTask(ctx, &cloudtaskspb.CreateTaskRequest{
		Parent: cts.queuePath(),
		Task:   task,
	})
	if err != nil {
		log.Error(ctx, "Failed to create Cloud Tasks task",
			"error", err,
			"job_id", job.ID,
			"job_type", job.Type,
			"queue_path", cts.queuePath(),
			"worker_url", cts.workerURL,
			"operation", "create_cloud_tasks_task",
		)
		return fmt.Errorf("failed to create task: %w", err)
	}

	log.Info(ctx, "Job queued",
		"job_id", job.ID,
		"job_type", job.Type,
		"task_name", createdTask.GetName(),
	)

	return nil
}
