// Package provision obtains a reachable compute target for a deployment:
// either a caller-supplied instance taken on trust, or a freshly launched
// one after older instances tagged for the same project are terminated.
package provision

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"log/slog"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/skylift/skylift/internal/domain"
	"github.com/skylift/skylift/pkg/config"
)

// createdByTag marks instances launched by this service so cleanup never
// touches anything else.
const createdByTag = "skylift"

// ProvisioningError reports an instance that never became usable.
type ProvisioningError struct {
	Stage string
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s: %v", e.Stage, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// ComputeClient defines the EC2 operations the provisioner needs.
type ComputeClient interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeInstanceStatus(ctx context.Context, params *ec2.DescribeInstanceStatusInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// Provisioner launches and reaps instances for deployments. Provisioning is
// serialized per project tag: the cleanup-then-create sequence is not safe
// to interleave for the same project.
type Provisioner struct {
	client ComputeClient
	cfg    config.Config
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Provisioner.
func New(client ComputeClient, cfg config.Config, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		client: client,
		cfg:    cfg,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// NewFromConfig builds a Provisioner backed by a real EC2 client.
func NewFromConfig(awsCfg awsv2.Config, cfg config.Config, logger *slog.Logger) *Provisioner {
	return New(ec2.NewFromConfig(awsCfg), cfg, logger)
}

// Provision returns a running target for the project. When the configuration
// names an existing instance it is trusted without verification. Otherwise
// previous instances tagged with the project are terminated (best effort)
// and a fresh one is launched with the given bootstrap script.
func (p *Provisioner) Provision(ctx context.Context, projectTag, userData string) (domain.TargetInstance, error) {
	if p.cfg.ExistingInstanceID != "" || p.cfg.ExistingInstanceIP != "" {
		return p.reuseExisting()
	}

	lock := p.tagLock(projectTag)
	lock.Lock()
	defer lock.Unlock()

	p.cleanupPrevious(ctx, projectTag)

	id, err := p.launch(ctx, projectTag, userData)
	if err != nil {
		return domain.TargetInstance{}, &ProvisioningError{Stage: "launch", Err: err}
	}
	p.logger.Info("instance launched", "instance_id", id, "project", projectTag)

	address, err := p.waitRunning(ctx, id)
	if err != nil {
		return domain.TargetInstance{}, &ProvisioningError{Stage: "running-wait", Err: err}
	}
	p.logger.Info("instance running", "instance_id", id, "public_ip", address)

	if err := p.waitHealthy(ctx, id); err != nil {
		// Status checks are advisory: continue after a grace delay rather
		// than discarding an instance that is probably still booting.
		p.logger.Warn("instance status checks did not pass in time, continuing", "instance_id", id, "error", err)
		if err := sleepCtx(ctx, p.cfg.GraceDelay); err != nil {
			return domain.TargetInstance{}, &ProvisioningError{Stage: "grace-delay", Err: err}
		}
	}

	return domain.TargetInstance{ID: id, PublicAddress: address, State: domain.StateRunning}, nil
}

func (p *Provisioner) reuseExisting() (domain.TargetInstance, error) {
	if p.cfg.ExistingInstanceID == "" || p.cfg.ExistingInstanceIP == "" {
		return domain.TargetInstance{}, &ProvisioningError{
			Stage: "reuse",
			Err:   fmt.Errorf("both existing instance id and ip are required"),
		}
	}
	p.logger.Info("reusing existing instance", "instance_id", p.cfg.ExistingInstanceID)
	return domain.TargetInstance{
		ID:            p.cfg.ExistingInstanceID,
		PublicAddress: p.cfg.ExistingInstanceIP,
		State:         domain.StateRunning,
		Reused:        true,
	}, nil
}

func (p *Provisioner) tagLock(tag string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[tag]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[tag] = lock
	}
	return lock
}

// cleanupPrevious terminates older instances for the same project to contain
// cost. Failures are logged, never fatal.
func (p *Provisioner) cleanupPrevious(ctx context.Context, projectTag string) {
	out, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: awsv2.String("tag:Project"), Values: []string{projectTag}},
			{Name: awsv2.String("tag:CreatedBy"), Values: []string{createdByTag}},
			{Name: awsv2.String("instance-state-name"), Values: []string{"pending", "running", "stopped"}},
		},
	})
	if err != nil {
		p.logger.Warn("cleanup describe failed, continuing", "project", projectTag, "error", err)
		return
	}
	var ids []string
	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			if instance.InstanceId != nil {
				ids = append(ids, *instance.InstanceId)
			}
		}
	}
	if len(ids) == 0 {
		return
	}
	p.logger.Info("terminating previous instances", "project", projectTag, "count", len(ids))
	if _, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids}); err != nil {
		p.logger.Warn("cleanup terminate failed, continuing", "project", projectTag, "error", err)
	}
}

func (p *Provisioner) launch(ctx context.Context, projectTag, userData string) (string, error) {
	input := &ec2.RunInstancesInput{
		ImageId:          awsv2.String(p.cfg.ImageID),
		InstanceType:     ec2types.InstanceType(p.cfg.InstanceType),
		KeyName:          awsv2.String(p.cfg.KeyName),
		MinCount:         awsv2.Int32(1),
		MaxCount:         awsv2.Int32(1),
		SecurityGroupIds: p.cfg.SecurityGroupIDs,
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags: []ec2types.Tag{
				{Key: awsv2.String("Name"), Value: awsv2.String(createdByTag + "-" + projectTag)},
				{Key: awsv2.String("Project"), Value: awsv2.String(projectTag)},
				{Key: awsv2.String("CreatedBy"), Value: awsv2.String(createdByTag)},
			},
		}},
	}
	if userData != "" {
		input.UserData = awsv2.String(base64.StdEncoding.EncodeToString([]byte(userData)))
	}
	if p.cfg.AvailabilityZone != "" {
		input.Placement = &ec2types.Placement{AvailabilityZone: awsv2.String(p.cfg.AvailabilityZone)}
	}
	out, err := p.client.RunInstances(ctx, input)
	if err != nil {
		return "", err
	}
	if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return "", fmt.Errorf("run instances returned no instance")
	}
	return *out.Instances[0].InstanceId, nil
}

// waitRunning polls until the instance reports running with a public address
// or the primary wait deadline passes.
func (p *Provisioner) waitRunning(ctx context.Context, id string) (string, error) {
	deadline := time.Now().Add(p.cfg.RunningWait)
	for {
		out, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
		if err == nil {
			if addr, running := runningAddress(out); running {
				return addr, nil
			}
		} else {
			p.logger.Debug("describe instances failed, retrying", "instance_id", id, "error", err)
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("instance %s not running within %s", id, p.cfg.RunningWait)
		}
		if err := sleepCtx(ctx, p.cfg.PollInterval); err != nil {
			return "", err
		}
	}
}

func runningAddress(out *ec2.DescribeInstancesOutput) (string, bool) {
	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			if instance.State == nil || instance.State.Name != ec2types.InstanceStateNameRunning {
				continue
			}
			if instance.PublicIpAddress != nil && *instance.PublicIpAddress != "" {
				return *instance.PublicIpAddress, true
			}
		}
	}
	return "", false
}

// waitHealthy polls instance status checks until both pass or the secondary
// wait deadline passes.
func (p *Provisioner) waitHealthy(ctx context.Context, id string) error {
	deadline := time.Now().Add(p.cfg.HealthWait)
	for {
		out, err := p.client.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
			InstanceIds: []string{id},
		})
		if err == nil && statusChecksPassed(out) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("instance %s status checks not passed within %s", id, p.cfg.HealthWait)
		}
		if err := sleepCtx(ctx, p.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func statusChecksPassed(out *ec2.DescribeInstanceStatusOutput) bool {
	for _, status := range out.InstanceStatuses {
		systemOK := status.SystemStatus != nil && status.SystemStatus.Status == ec2types.SummaryStatusOk
		instanceOK := status.InstanceStatus != nil && status.InstanceStatus.Status == ec2types.SummaryStatusOk
		if systemOK && instanceOK {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
