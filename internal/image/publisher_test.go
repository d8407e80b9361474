package image

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/docker/api/types/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vitorbretz/bia/internal/awsx"
	"github.com/vitorbretz/bia/internal/config"
	"github.com/vitorbretz/bia/internal/simaws"
)

const registryURI = "123456789012.dkr.ecr.us-east-1.amazonaws.com/bia-app"

func testPublisher(t *testing.T, sim *simaws.Server, daemon *simaws.Daemon) *Publisher {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM scratch\n"), 0o644))

	cfg := config.Default()
	cfg.BuildContext = dir
	cfg.DockerHost = daemon.Host()

	clients, err := awsx.NewClients(context.Background(), cfg.Region, sim.URL())
	require.NoError(t, err)
	docker, err := NewDockerClient(cfg)
	require.NoError(t, err)
	return NewPublisher(cfg, clients, docker, io.Discard, zerolog.Nop())
}

func TestBuildTagsVersionAndLatest(t *testing.T) {
	sim := simaws.New()
	defer sim.Close()
	daemon := simaws.NewDaemon()
	defer daemon.Close()
	p := testPublisher(t, sim, daemon)

	require.NoError(t, p.Build(context.Background(), "abc1234"))
	require.Len(t, daemon.BuiltTags, 1)
	require.ElementsMatch(t, []string{"bia-app:abc1234", "bia-app:latest"}, daemon.BuiltTags[0])
}

func TestBuildFailureSurfaces(t *testing.T) {
	sim := simaws.New()
	defer sim.Close()
	daemon := simaws.NewDaemon()
	defer daemon.Close()
	daemon.FailBuild = true
	p := testPublisher(t, sim, daemon)

	require.Error(t, p.Build(context.Background(), "abc1234"))
}

func TestRegistryURI(t *testing.T) {
	sim := simaws.New()
	defer sim.Close()
	daemon := simaws.NewDaemon()
	defer daemon.Close()
	p := testPublisher(t, sim, daemon)

	uri, err := p.RegistryURI(context.Background())
	require.NoError(t, err)
	require.Equal(t, registryURI, uri)
}

func TestPushBothTagsWithECRAuth(t *testing.T) {
	sim := simaws.New()
	defer sim.Close()
	daemon := simaws.NewDaemon()
	defer daemon.Close()
	p := testPublisher(t, sim, daemon)

	require.NoError(t, p.Push(context.Background(), "abc1234", registryURI))

	require.Equal(t, []string{
		"bia-app:abc1234 -> " + registryURI + ":abc1234",
		"bia-app:latest -> " + registryURI + ":latest",
	}, daemon.Tagged)
	require.Equal(t, []string{
		registryURI + ":abc1234",
		registryURI + ":latest",
	}, daemon.Pushed)

	// The ECR token must arrive decoded into a Docker auth config.
	require.NotEmpty(t, daemon.PushAuth[0])
	raw, err := base64.URLEncoding.DecodeString(daemon.PushAuth[0])
	require.NoError(t, err)
	var auth registry.AuthConfig
	require.NoError(t, json.Unmarshal(raw, &auth))
	require.Equal(t, "AWS", auth.Username)
	require.Equal(t, "simulated-password", auth.Password)
}

func TestPushFailureSurfaces(t *testing.T) {
	sim := simaws.New()
	defer sim.Close()
	daemon := simaws.NewDaemon()
	defer daemon.Close()
	daemon.FailPush = true
	p := testPublisher(t, sim, daemon)

	err := p.Push(context.Background(), "abc1234", registryURI)
	require.ErrorIs(t, err, ErrPushFailed)
}

func TestTagExists(t *testing.T) {
	sim := simaws.New()
	defer sim.Close()
	daemon := simaws.NewDaemon()
	defer daemon.Close()
	p := testPublisher(t, sim, daemon)

	// Repository not created yet.
	exists, err := p.TagExists(context.Background(), "abc1234")
	require.NoError(t, err)
	require.False(t, exists)

	sim.AddImage("bia-app", "abc1234")

	exists, err = p.TagExists(context.Background(), "abc1234")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = p.TagExists(context.Background(), "ffffff0")
	require.NoError(t, err)
	require.False(t, exists)
}
