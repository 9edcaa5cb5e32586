package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/cloudpilot/pkg/engine"
	"github.com/openfroyo/cloudpilot/pkg/remote"
)

func newRemotePair(t *testing.T, opts SimulatorOptions) (*Simulator, *RemoteBackend) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sim := newTestSimulator(opts)
	router := gin.New()
	NewServer(sim, zerolog.Nop()).Mount(router.Group("/v1/backend"))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	client := remote.New(remote.Options{
		Name:    "backend",
		BaseURL: srv.URL + "/v1/backend",
		Logger:  zerolog.Nop(),
	})
	rb := NewRemote(client, zerolog.Nop())
	require.NoError(t, rb.Refresh(context.Background()))
	return sim, rb
}

func TestRemoteBackend_RoundTrip(t *testing.T) {
	_, rb := newRemotePair(t, SimulatorOptions{})
	ctx := context.Background()

	assert.True(t, rb.HasHandler(engine.ActionCreate, "s3"))
	assert.True(t, rb.HasHandler(engine.ActionDeploy, "EKS"))
	assert.False(t, rb.HasHandler(engine.ActionDeploy, "s3"))

	res, err := rb.Execute(ctx, engine.ExecuteRequest{Action: engine.ActionCreate, ResourceType: "dynamodb", ResourceName: "orders"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "orders", res.PayloadString("table_name"))

	desc, err := rb.Describe(ctx, "dynamodb", "orders")
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", desc["status"])

	items, err := rb.List(ctx, "subnet", 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	choices, err := rb.ListChoices(ctx, "security_group", 5)
	require.NoError(t, err)
	require.Len(t, choices, 1)
	assert.Equal(t, "sg-default | default", choices[0])
	id, name, found := strings.Cut(choices[0], " | ")
	assert.True(t, found)
	assert.Equal(t, "sg-default", id)
	assert.Equal(t, "default", name)

	inv, err := rb.DiscoverInventory(ctx, []string{"vpc"}, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, inv["vpc"].Count)

	out, err := rb.Invoke(ctx, engine.OperationCall{Service: "sqs", Operation: "CreateQueue", Payload: map[string]interface{}{"QueueName": "jobs"}})
	require.NoError(t, err)
	assert.Equal(t, "sqs", out["service"])

	filled, err := rb.AutoFill(ctx, engine.AutoFillRequest{Action: engine.ActionCreate, ResourceType: "lambda", Environment: "dev"})
	require.NoError(t, err)
	assert.Equal(t, "python3.12", filled["runtime"])

	step, err := rb.RunRemediationStep(ctx, engine.RemediationStep{Type: "ensure_managed_instance_profile", Environment: "dev"})
	require.NoError(t, err)
	assert.Equal(t, true, step["success"])
}

func TestRemoteBackend_ErrorMapping(t *testing.T) {
	_, rb := newRemotePair(t, SimulatorOptions{})
	ctx := context.Background()

	_, err := rb.Describe(ctx, "rds", "missing")
	assert.True(t, engine.IsNotFound(err), "expected not-found, got %v", err)

	_, err = rb.Invoke(ctx, engine.OperationCall{Service: "s3", Operation: "FrobnicateBucket"})
	assert.True(t, errors.Is(err, engine.ErrUnsupported), "expected unsupported, got %v", err)

	_, err = rb.Execute(ctx, engine.ExecuteRequest{Action: engine.ActionDeploy, ResourceType: "s3"})
	assert.True(t, errors.Is(err, engine.ErrUnsupported), "expected unsupported, got %v", err)
}

func TestRemoteBackend_ForwardsCredentials(t *testing.T) {
	sim, rb := newRemotePair(t, SimulatorOptions{RequireCredentials: true})

	_, err := rb.List(context.Background(), "vpc", 0)
	assert.True(t, engine.IsValidation(err), "expected validation error, got %v", err)

	ctx := engine.WithCredentials(context.Background(), &engine.Credentials{
		AccessKey: "AKIAEXAMPLE",
		SecretKey: "secret",
		Region:    "ap-south-1",
	})
	res, err := rb.Execute(ctx, engine.ExecuteRequest{Action: engine.ActionCreate, ResourceType: "s3", ResourceName: "media"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	stored, ok := sim.Resource("s3", "media")
	require.True(t, ok)
	assert.Equal(t, "ap-south-1", stored.Region)
}

func TestRemoteBackend_CircuitOpens(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var transitions []string
	client := remote.New(remote.Options{
		Name:             "backend",
		BaseURL:          srv.URL,
		FailureThreshold: 2,
		Logger:           zerolog.Nop(),
		OnStateChange: func(name, from, to string) {
			transitions = append(transitions, from+"->"+to)
		},
	})
	rb := NewRemote(client, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := rb.List(ctx, "s3", 0)
		require.Error(t, err)
		assert.True(t, engine.IsExecutionFailure(err))
	}
	_, err := rb.List(ctx, "s3", 0)
	assert.True(t, errors.Is(err, remote.ErrCircuitOpen), "expected open circuit, got %v", err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"closed->open"}, transitions)
	assert.Equal(t, "open", client.State())
}
