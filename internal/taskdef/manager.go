// Package taskdef manages the task definition family the service runs:
// fetching the active revision, deriving the next one, and registering it.
package taskdef

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	awsecs "github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/rs/zerolog"

	"github.com/vitorbretz/bia/internal/awsx"
	"github.com/vitorbretz/bia/internal/config"
)

var (
	// ErrRegistrationRejected means the control plane refused the task
	// definition. Retrying without an operator fix would fail again.
	ErrRegistrationRejected = errors.New("task definition registration rejected")

	// ErrControlPlaneUnreachable wraps read failures against the control
	// plane.
	ErrControlPlaneUnreachable = errors.New("control plane unreachable")
)

// Manager derives and registers task definition revisions for one family.
type Manager struct {
	cfg        config.Config
	ecs        *awsecs.Client
	cloudwatch *cloudwatchlogs.Client
	log        zerolog.Logger
}

// NewManager creates a Manager for the configured family.
func NewManager(cfg config.Config, clients *awsx.Clients, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		ecs:        clients.ECS,
		cloudwatch: clients.CloudWatch,
		log:        logger,
	}
}

// FetchActive returns the latest ACTIVE revision of the family, or nil if
// the family has never been registered.
func (m *Manager) FetchActive(ctx context.Context) (*ecstypes.TaskDefinition, error) {
	result, err := m.ecs.DescribeTaskDefinition(ctx, &awsecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(m.cfg.Family),
	})
	if err != nil {
		// ECS reports an unknown family as a ClientException with this
		// message, not a typed not-found error. Any other ClientException
		// is a real failure.
		var clientErr *ecstypes.ClientException
		if errors.As(err, &clientErr) && strings.Contains(clientErr.ErrorMessage(), "Unable to describe task definition") {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: describing task definition %s: %v", ErrControlPlaneUnreachable, m.cfg.Family, err)
	}
	return result.TaskDefinition, nil
}

// Derive produces the registration input for the next revision. With no
// current revision it synthesizes the bootstrap definition; otherwise it
// clones the current one and replaces only the first container's image.
func (m *Manager) Derive(current *ecstypes.TaskDefinition, imageRef string) (*awsecs.RegisterTaskDefinitionInput, error) {
	if current == nil {
		return m.bootstrapDefinition(imageRef), nil
	}
	if len(current.ContainerDefinitions) == 0 {
		return nil, fmt.Errorf("task definition %s has no containers", aws.ToString(current.TaskDefinitionArn))
	}

	containers := make([]ecstypes.ContainerDefinition, len(current.ContainerDefinitions))
	copy(containers, current.ContainerDefinitions)
	containers[0].Image = aws.String(imageRef)

	// Copy every operator-tuned field; leave out everything the control
	// plane assigns on registration (ARN, revision, status, computed
	// attributes and compatibilities, registration metadata).
	return &awsecs.RegisterTaskDefinitionInput{
		Family:                  current.Family,
		ContainerDefinitions:    containers,
		Cpu:                     current.Cpu,
		Memory:                  current.Memory,
		EphemeralStorage:        current.EphemeralStorage,
		ExecutionRoleArn:        current.ExecutionRoleArn,
		TaskRoleArn:             current.TaskRoleArn,
		NetworkMode:             current.NetworkMode,
		IpcMode:                 current.IpcMode,
		PidMode:                 current.PidMode,
		PlacementConstraints:    current.PlacementConstraints,
		ProxyConfiguration:      current.ProxyConfiguration,
		RequiresCompatibilities: current.RequiresCompatibilities,
		RuntimePlatform:         current.RuntimePlatform,
		Volumes:                 current.Volumes,
	}, nil
}

// bootstrapDefinition is the first-deploy default: a single Fargate
// container with the awslogs driver pointed at the family's log group.
func (m *Manager) bootstrapDefinition(imageRef string) *awsecs.RegisterTaskDefinitionInput {
	container := ecstypes.ContainerDefinition{
		Name:      aws.String(m.cfg.Family),
		Image:     aws.String(imageRef),
		Essential: aws.Bool(true),
		PortMappings: []ecstypes.PortMapping{
			{
				ContainerPort: aws.Int32(int32(m.cfg.ContainerPort)),
				Protocol:      ecstypes.TransportProtocolTcp,
			},
		},
		LogConfiguration: &ecstypes.LogConfiguration{
			LogDriver: ecstypes.LogDriverAwslogs,
			Options: map[string]string{
				"awslogs-group":         m.cfg.LogGroup(),
				"awslogs-region":        m.cfg.Region,
				"awslogs-stream-prefix": "ecs",
			},
		},
	}

	return &awsecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(m.cfg.Family),
		ContainerDefinitions:    []ecstypes.ContainerDefinition{container},
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.CompatibilityFargate},
		NetworkMode:             ecstypes.NetworkModeAwsvpc,
		Cpu:                     aws.String("256"),
		Memory:                  aws.String("512"),
		ExecutionRoleArn:        aws.String(executionRoleARN(imageRef)),
	}
}

// Register submits the definition; the control plane assigns the next
// revision atomically. Returns the fully qualified revision ARN.
func (m *Manager) Register(ctx context.Context, input *awsecs.RegisterTaskDefinitionInput) (string, error) {
	result, err := m.ecs.RegisterTaskDefinition(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRegistrationRejected, err)
	}
	arn := aws.ToString(result.TaskDefinition.TaskDefinitionArn)
	m.log.Info().
		Str("family", aws.ToString(input.Family)).
		Int32("revision", result.TaskDefinition.Revision).
		Str("arn", arn).
		Msg("registered task definition")
	return arn, nil
}

// ListRecent returns up to limit revision ARNs for the family, newest
// first.
func (m *Manager) ListRecent(ctx context.Context, limit int32) ([]string, error) {
	result, err := m.ecs.ListTaskDefinitions(ctx, &awsecs.ListTaskDefinitionsInput{
		FamilyPrefix: aws.String(m.cfg.Family),
		Status:       ecstypes.TaskDefinitionStatusActive,
		Sort:         ecstypes.SortOrderDesc,
		MaxResults:   aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing task definitions for %s: %v", ErrControlPlaneUnreachable, m.cfg.Family, err)
	}
	return result.TaskDefinitionArns, nil
}

// Describe fetches one revision by ARN or family:revision.
func (m *Manager) Describe(ctx context.Context, id string) (*ecstypes.TaskDefinition, error) {
	result, err := m.ecs.DescribeTaskDefinition(ctx, &awsecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(id),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: describing %s: %v", ErrControlPlaneUnreachable, id, err)
	}
	return result.TaskDefinition, nil
}

// EnsureLogGroup creates the family's log group so the bootstrap
// definition's awslogs driver has somewhere to write. Idempotent.
func (m *Manager) EnsureLogGroup(ctx context.Context) error {
	_, err := m.cloudwatch.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(m.cfg.LogGroup()),
	})
	if err != nil {
		var exists *cwtypes.ResourceAlreadyExistsException
		if errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("creating log group %s: %w", m.cfg.LogGroup(), err)
	}
	m.log.Info().Str("group", m.cfg.LogGroup()).Msg("created log group")
	return nil
}

// executionRoleARN composes the fixed execution role reference from the
// account embedded in the image's registry host.
func executionRoleARN(imageRef string) string {
	account, _, _ := strings.Cut(imageRef, ".")
	return fmt.Sprintf("arn:aws:iam::%s:role/ecsTaskExecutionRole", account)
}
