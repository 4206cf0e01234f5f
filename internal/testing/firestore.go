// Package testing provides test doubles and the Firestore emulator harness.
package testing

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/exec"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	emulatorHostEnv     = "FIRESTORE_EMULATOR_HOST"
	emulatorStartupTime = 10 * time.Second
	pollInterval        = 100 * time.Millisecond
	resetTimeout        = 10 * time.Second
	probeTimeout        = time.Second
)

var (
	ErrEmulatorStartTimeout = errors.New("emulator did not start within timeout")
	ErrEmulatorResetFailed  = errors.New("failed to reset emulator data")
)

// Emulator is a Firestore emulator scoped to one test, isolated by a unique project ID.
type Emulator struct {
	Host      string
	ProjectID string
	Client    *firestore.Client
	cmd       *exec.Cmd
}

// StartFirestore connects to the emulator named by FIRESTORE_EMULATOR_HOST, or starts one with
// gcloud. The test is skipped when neither is available, and everything is torn down with it.
func StartFirestore(t *testing.T) *Emulator {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Firestore emulator test in short mode")
	}

	e := &Emulator{ProjectID: uniqueProjectID()}
	if host := os.Getenv(emulatorHostEnv); host != "" {
		e.Host = host
	} else if err := e.launch(t); err != nil {
		t.Skipf("Firestore emulator unavailable: %v", err)
	}

	conn, err := grpc.Dial(e.Host, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		e.stop()
		t.Fatalf("Failed to dial Firestore emulator: %v", err)
	}
	client, err := firestore.NewClient(context.Background(), e.ProjectID, option.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		e.stop()
		t.Fatalf("Failed to create Firestore client: %v", err)
	}
	e.Client = client

	t.Cleanup(func() {
		_ = client.Close()
		e.stop()
	})

	if err := e.Reset(context.Background()); err != nil {
		t.Logf("Warning: %v", err)
	}
	return e
}

// uniqueProjectID keeps concurrently running tests apart. GCP project IDs are at most 30 chars.
func uniqueProjectID() string {
	suffix := rand.New(rand.NewSource(time.Now().UnixNano())).Intn(100000)
	return fmt.Sprintf("atum-%d-%d", time.Now().Unix()%1000000, suffix)
}

func freePort() (int, error) {
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find a free port: %w", err)
	}
	defer func() { _ = listener.Close() }()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

func (e *Emulator) launch(t *testing.T) error {
	t.Helper()

	if _, err := exec.LookPath("gcloud"); err != nil {
		return fmt.Errorf("gcloud not found in PATH: %w", err)
	}
	port, err := freePort()
	if err != nil {
		return err
	}

	e.Host = fmt.Sprintf("localhost:%d", port)
	// #nosec G204 -- fixed arguments
	e.cmd = exec.Command("gcloud", "emulators", "firestore", "start", "--host-port", e.Host)
	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start emulator: %w", err)
	}
	t.Setenv(emulatorHostEnv, e.Host)

	if err := e.waitReady(); err != nil {
		e.stop()
		return err
	}
	t.Logf("Started Firestore emulator at %s", e.Host)
	return nil
}

func (e *Emulator) waitReady() error {
	deadline := time.Now().Add(emulatorStartupTime)
	url := fmt.Sprintf("http://%s/", e.Host)

	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err == nil {
			if resp, err := http.DefaultClient.Do(req); err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					cancel()
					return nil
				}
			}
		}
		cancel()
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("%w: %v", ErrEmulatorStartTimeout, emulatorStartupTime)
}

func (e *Emulator) stop() {
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
}

// Reset deletes every document of the emulator project.
func (e *Emulator) Reset(ctx context.Context) error {
	url := fmt.Sprintf("http://%s/emulator/v1/projects/%s/databases/(default)/documents", e.Host, e.ProjectID)

	ctx, cancel := context.WithTimeout(ctx, resetTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build reset request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEmulatorResetFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// A fresh project may not exist yet, which the emulator reports as 404 or 500
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotFound, http.StatusInternalServerError:
		return nil
	}
	return fmt.Errorf("%w: status %d", ErrEmulatorResetFailed, resp.StatusCode)
}
