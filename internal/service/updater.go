// Package service points the ECS service at a task definition revision and
// waits for it to converge.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsecs "github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/rs/zerolog"

	"github.com/vitorbretz/bia/internal/awsx"
	"github.com/vitorbretz/bia/internal/config"
)

// ErrServiceNotFound means the cluster/service pair is unknown to the
// control plane. This is an operator configuration error; not retried.
var ErrServiceNotFound = errors.New("service not found")

// Outcome is the result of waiting for convergence.
type Outcome int

const (
	// Stable means the service converged to the target revision.
	Stable Outcome = iota
	// TimedOut means the wait budget elapsed first. The submitted update
	// stays in place; the operator decides what to do.
	TimedOut
)

func (o Outcome) String() string {
	if o == Stable {
		return "stable"
	}
	return "timed out"
}

// Updater mutates one service's task definition pointer.
type Updater struct {
	cfg config.Config
	ecs *awsecs.Client
	log zerolog.Logger
}

// NewUpdater creates an Updater for the configured cluster and service.
func NewUpdater(cfg config.Config, clients *awsx.Clients, logger zerolog.Logger) *Updater {
	return &Updater{cfg: cfg, ecs: clients.ECS, log: logger}
}

// Update points the service at taskDefARN.
func (u *Updater) Update(ctx context.Context, taskDefARN string) error {
	_, err := u.ecs.UpdateService(ctx, &awsecs.UpdateServiceInput{
		Cluster:        aws.String(u.cfg.Cluster),
		Service:        aws.String(u.cfg.Service),
		TaskDefinition: aws.String(taskDefARN),
	})
	if err != nil {
		var notFound *ecstypes.ServiceNotFoundException
		if errors.As(err, &notFound) {
			return fmt.Errorf("%w: %s/%s", ErrServiceNotFound, u.cfg.Cluster, u.cfg.Service)
		}
		return fmt.Errorf("updating service %s/%s: %w", u.cfg.Cluster, u.cfg.Service, err)
	}
	u.log.Info().
		Str("service", u.cfg.Service).
		Str("taskdef", taskDefARN).
		Msg("service update submitted")
	return nil
}

// AwaitStable polls the control plane until the service runs taskDefARN
// with a single converged deployment, or until timeout. Cancelling ctx
// stops the wait between polls; the submitted update is never undone.
func (u *Updater) AwaitStable(ctx context.Context, taskDefARN string, timeout time.Duration) (Outcome, error) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(u.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return TimedOut, ctx.Err()
		case <-deadline:
			u.log.Warn().
				Str("service", u.cfg.Service).
				Dur("timeout", timeout).
				Msg("service did not stabilize in time")
			return TimedOut, nil
		case <-ticker.C:
			stable, err := u.describeStable(ctx, taskDefARN)
			if err != nil {
				return TimedOut, err
			}
			if stable {
				u.log.Info().Str("service", u.cfg.Service).Msg("service is stable")
				return Stable, nil
			}
		}
	}
}

// Current returns the task definition ARN the service points at, or the
// empty string when the service does not exist yet.
func (u *Updater) Current(ctx context.Context) (string, error) {
	result, err := u.ecs.DescribeServices(ctx, &awsecs.DescribeServicesInput{
		Cluster:  aws.String(u.cfg.Cluster),
		Services: []string{u.cfg.Service},
	})
	if err != nil {
		return "", fmt.Errorf("describing service %s/%s: %w", u.cfg.Cluster, u.cfg.Service, err)
	}
	if len(result.Services) == 0 {
		return "", nil
	}
	return aws.ToString(result.Services[0].TaskDefinition), nil
}

// describeStable checks whether the service has converged: exactly one
// deployment, targeting the requested revision, rollout complete, and
// running count matching desired count.
func (u *Updater) describeStable(ctx context.Context, taskDefARN string) (bool, error) {
	result, err := u.ecs.DescribeServices(ctx, &awsecs.DescribeServicesInput{
		Cluster:  aws.String(u.cfg.Cluster),
		Services: []string{u.cfg.Service},
	})
	if err != nil {
		return false, fmt.Errorf("describing service %s/%s: %w", u.cfg.Cluster, u.cfg.Service, err)
	}
	for _, failure := range result.Failures {
		if aws.ToString(failure.Reason) == "MISSING" {
			return false, fmt.Errorf("%w: %s/%s", ErrServiceNotFound, u.cfg.Cluster, u.cfg.Service)
		}
	}
	if len(result.Services) == 0 {
		return false, fmt.Errorf("%w: %s/%s", ErrServiceNotFound, u.cfg.Cluster, u.cfg.Service)
	}

	svc := result.Services[0]
	if aws.ToString(svc.TaskDefinition) != taskDefARN {
		return false, nil
	}
	if len(svc.Deployments) != 1 {
		return false, nil
	}
	dep := svc.Deployments[0]
	if aws.ToString(dep.TaskDefinition) != taskDefARN {
		return false, nil
	}
	if dep.RolloutState != "" && dep.RolloutState != ecstypes.DeploymentRolloutStateCompleted {
		return false, nil
	}
	return dep.RunningCount == dep.DesiredCount && dep.DesiredCount == svc.DesiredCount, nil
}
