// Package image builds the application's container image and publishes it
// to the ECR repository the task definitions reference.
package image

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/docker/docker/api/types"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/rs/zerolog"

	"github.com/vitorbretz/bia/internal/awsx"
	"github.com/vitorbretz/bia/internal/config"
)

var (
	// ErrMissingAccountIdentity means the caller identity lookup failed,
	// so the registry URI cannot be composed.
	ErrMissingAccountIdentity = errors.New("unable to resolve AWS account identity")

	// ErrRegistryAuth means the ECR authorization token could not be
	// obtained or decoded.
	ErrRegistryAuth = errors.New("registry authentication failed")

	// ErrPushFailed means the registry rejected or interrupted a push.
	ErrPushFailed = errors.New("image push failed")
)

// Publisher builds and publishes version-tagged images.
type Publisher struct {
	cfg    config.Config
	docker client.APIClient
	ecr    *ecr.Client
	sts    *sts.Client
	out    io.Writer
	log    zerolog.Logger
}

// NewPublisher creates a Publisher. Build and push progress streams are
// rendered to out.
func NewPublisher(cfg config.Config, clients *awsx.Clients, docker client.APIClient, out io.Writer, logger zerolog.Logger) *Publisher {
	return &Publisher{
		cfg:    cfg,
		docker: docker,
		ecr:    clients.ECR,
		sts:    clients.STS,
		out:    out,
		log:    logger,
	}
}

// NewDockerClient connects to the Docker daemon, honoring the configured
// host override when set.
func NewDockerClient(cfg config.Config) (client.APIClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.DockerHost != "" {
		opts = append(opts, client.WithHost(cfg.DockerHost))
	}
	return client.NewClientWithOpts(opts...)
}

// Build runs the Docker build for the configured context, tagging the
// result with the version and with the floating latest marker.
func (p *Publisher) Build(ctx context.Context, version string) error {
	buildCtx, err := archive.TarWithOptions(p.cfg.BuildContext, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("archiving build context %s: %w", p.cfg.BuildContext, err)
	}
	defer buildCtx.Close()

	tags := []string{
		p.cfg.Repository + ":" + version,
		p.cfg.Repository + ":latest",
	}
	p.log.Info().Str("version", version).Strs("tags", tags).Msg("building image")

	resp, err := p.docker.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       tags,
		Dockerfile: p.cfg.Dockerfile,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("docker build: %w", err)
	}
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, p.out, 0, false, nil); err != nil {
		return fmt.Errorf("docker build: %w", err)
	}
	return nil
}

// RegistryURI composes the repository URI from the caller's account and
// the configured region and repository name.
func (p *Publisher) RegistryURI(ctx context.Context) (string, error) {
	ident, err := p.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingAccountIdentity, err)
	}
	account := aws.ToString(ident.Account)
	if account == "" {
		return "", ErrMissingAccountIdentity
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/%s", account, p.cfg.Region, p.cfg.Repository), nil
}

// Push authenticates to ECR and pushes the version tag and the latest tag
// to registryURI. Safe to re-run: same tags, same bytes.
func (p *Publisher) Push(ctx context.Context, version, registryURI string) error {
	auth, err := p.loginAuth(ctx)
	if err != nil {
		return err
	}

	for _, tag := range []string{version, "latest"} {
		local := p.cfg.Repository + ":" + tag
		remote := registryURI + ":" + tag
		if err := p.docker.ImageTag(ctx, local, remote); err != nil {
			return fmt.Errorf("tagging %s as %s: %w", local, remote, err)
		}

		p.log.Info().Str("image", remote).Msg("pushing image")
		rc, err := p.docker.ImagePush(ctx, remote, imagetypes.PushOptions{RegistryAuth: auth})
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrPushFailed, remote, err)
		}
		err = jsonmessage.DisplayJSONMessagesStream(rc, p.out, 0, false, nil)
		rc.Close()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrPushFailed, remote, err)
		}
	}
	return nil
}

// TagExists reports whether the repository holds an image with the given
// tag.
func (p *Publisher) TagExists(ctx context.Context, tag string) (bool, error) {
	_, err := p.ecr.DescribeImages(ctx, &ecr.DescribeImagesInput{
		RepositoryName: aws.String(p.cfg.Repository),
		ImageIds:       []ecrtypes.ImageIdentifier{{ImageTag: aws.String(tag)}},
	})
	if err != nil {
		var notFound *ecrtypes.ImageNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		var noRepo *ecrtypes.RepositoryNotFoundException
		if errors.As(err, &noRepo) {
			return false, nil
		}
		return false, fmt.Errorf("describing image %s:%s: %w", p.cfg.Repository, tag, err)
	}
	return true, nil
}

// loginAuth obtains an ECR authorization token and returns it encoded for
// the Docker Engine API.
func (p *Publisher) loginAuth(ctx context.Context) (string, error) {
	result, err := p.ecr.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRegistryAuth, err)
	}
	if len(result.AuthorizationData) == 0 {
		return "", fmt.Errorf("%w: no authorization data returned", ErrRegistryAuth)
	}
	data := result.AuthorizationData[0]

	// Token is base64-encoded "user:password".
	raw, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return "", fmt.Errorf("%w: decoding token: %v", ErrRegistryAuth, err)
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", fmt.Errorf("%w: malformed authorization token", ErrRegistryAuth)
	}

	encoded, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      user,
		Password:      pass,
		ServerAddress: aws.ToString(data.ProxyEndpoint),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRegistryAuth, err)
	}
	return encoded, nil
}
