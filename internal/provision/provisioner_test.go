package provision

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"log/slog"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/skylift/skylift/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() config.Config {
	return config.Config{
		ImageID:      "ami-test",
		InstanceType: "t3.large",
		KeyName:      "skylift",
		RunningWait:  200 * time.Millisecond,
		HealthWait:   50 * time.Millisecond,
		GraceDelay:   time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
}

type fakeComputeClient struct {
	runErr         error
	describeCalls  int
	runningAfter   int
	statusOK       bool
	terminated     [][]string
	preexistingIDs []string
	launchedID     string
	capturedRun    *ec2.RunInstancesInput
}

func (f *fakeComputeClient) RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	f.capturedRun = params
	if f.launchedID == "" {
		f.launchedID = "i-new"
	}
	return &ec2.RunInstancesOutput{Instances: []ec2types.Instance{{InstanceId: awsv2.String(f.launchedID)}}}, nil
}

func (f *fakeComputeClient) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if len(params.InstanceIds) == 0 {
		// Tag-filtered cleanup query.
		var instances []ec2types.Instance
		for _, id := range f.preexistingIDs {
			instances = append(instances, ec2types.Instance{InstanceId: awsv2.String(id)})
		}
		return &ec2.DescribeInstancesOutput{Reservations: []ec2types.Reservation{{Instances: instances}}}, nil
	}
	f.describeCalls++
	state := ec2types.InstanceStateNamePending
	var ip *string
	if f.describeCalls > f.runningAfter {
		state = ec2types.InstanceStateNameRunning
		ip = awsv2.String("203.0.113.10")
	}
	return &ec2.DescribeInstancesOutput{Reservations: []ec2types.Reservation{{
		Instances: []ec2types.Instance{{
			InstanceId:      awsv2.String(f.launchedID),
			State:           &ec2types.InstanceState{Name: state},
			PublicIpAddress: ip,
		}},
	}}}, nil
}

func (f *fakeComputeClient) DescribeInstanceStatus(ctx context.Context, params *ec2.DescribeInstanceStatusInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error) {
	if !f.statusOK {
		return &ec2.DescribeInstanceStatusOutput{}, nil
	}
	return &ec2.DescribeInstanceStatusOutput{InstanceStatuses: []ec2types.InstanceStatus{{
		SystemStatus:   &ec2types.InstanceStatusSummary{Status: ec2types.SummaryStatusOk},
		InstanceStatus: &ec2types.InstanceStatusSummary{Status: ec2types.SummaryStatusOk},
	}}}, nil
}

func (f *fakeComputeClient) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.terminated = append(f.terminated, params.InstanceIds)
	return &ec2.TerminateInstancesOutput{}, nil
}

func TestProvisionFreshInstance(t *testing.T) {
	client := &fakeComputeClient{runningAfter: 2, statusOK: true, preexistingIDs: []string{"i-old1", "i-old2"}}
	p := New(client, fastConfig(), testLogger())

	target, err := p.Provision(context.Background(), "myapp", "#!/bin/bash\necho hi\n")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if target.ID != "i-new" || target.PublicAddress != "203.0.113.10" {
		t.Fatalf("unexpected target: %+v", target)
	}
	if target.State != "running" {
		t.Fatalf("state = %q", target.State)
	}
	if len(client.terminated) != 1 || len(client.terminated[0]) != 2 {
		t.Fatalf("previous instances not terminated: %v", client.terminated)
	}
	if client.capturedRun.UserData == nil || *client.capturedRun.UserData == "" {
		t.Fatalf("user data not passed")
	}
}

func TestProvisionRunningWaitTimeout(t *testing.T) {
	client := &fakeComputeClient{runningAfter: 1 << 30}
	cfg := fastConfig()
	cfg.RunningWait = 20 * time.Millisecond
	p := New(client, cfg, testLogger())

	_, err := p.Provision(context.Background(), "myapp", "")
	var provErr *ProvisioningError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProvisioningError, got %v", err)
	}
	if provErr.Stage != "running-wait" {
		t.Fatalf("stage = %q", provErr.Stage)
	}
}

func TestProvisionHealthTimeoutIsNotFatal(t *testing.T) {
	client := &fakeComputeClient{runningAfter: 0, statusOK: false}
	p := New(client, fastConfig(), testLogger())

	target, err := p.Provision(context.Background(), "myapp", "")
	if err != nil {
		t.Fatalf("health wait timeout must degrade, not fail: %v", err)
	}
	if target.State != "running" {
		t.Fatalf("state = %q", target.State)
	}
}

func TestProvisionReuseExisting(t *testing.T) {
	cfg := fastConfig()
	cfg.ExistingInstanceID = "i-reuse"
	cfg.ExistingInstanceIP = "198.51.100.4"
	client := &fakeComputeClient{}
	p := New(client, cfg, testLogger())

	target, err := p.Provision(context.Background(), "myapp", "")
	if err != nil {
		t.Fatalf("reuse: %v", err)
	}
	if !target.Reused || target.ID != "i-reuse" || target.PublicAddress != "198.51.100.4" {
		t.Fatalf("unexpected target: %+v", target)
	}
	if client.capturedRun != nil {
		t.Fatalf("reuse path must not launch instances")
	}
}

func TestProvisionReuseMissingIPFails(t *testing.T) {
	cfg := fastConfig()
	cfg.ExistingInstanceID = "i-reuse"
	p := New(&fakeComputeClient{}, cfg, testLogger())

	_, err := p.Provision(context.Background(), "myapp", "")
	var provErr *ProvisioningError
	if !errors.As(err, &provErr) || provErr.Stage != "reuse" {
		t.Fatalf("expected reuse error, got %v", err)
	}
}

func TestProvisionRunInstancesError(t *testing.T) {
	client := &fakeComputeClient{runErr: errors.New("quota exceeded")}
	p := New(client, fastConfig(), testLogger())

	_, err := p.Provision(context.Background(), "myapp", "")
	var provErr *ProvisioningError
	if !errors.As(err, &provErr) || provErr.Stage != "launch" {
		t.Fatalf("expected launch error, got %v", err)
	}
}

func TestProvisionCancelled(t *testing.T) {
	client := &fakeComputeClient{runningAfter: 1 << 30}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(client, fastConfig(), testLogger()).Provision(ctx, "myapp", "")
	if err == nil {
		t.Fatalf("expected error on cancelled context")
	}
}
