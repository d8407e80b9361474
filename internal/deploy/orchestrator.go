// Package deploy composes version resolution, image publishing, task
// definition management, and the service update into the forward-deploy
// and rollback workflows. It is the only layer that touches the handoff
// state file; the components underneath exchange plain values.
package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vitorbretz/bia/internal/config"
	"github.com/vitorbretz/bia/internal/gitrev"
	"github.com/vitorbretz/bia/internal/image"
	"github.com/vitorbretz/bia/internal/service"
	"github.com/vitorbretz/bia/internal/taskdef"
)

// ErrArtifactNotFound means a rollback target has no image in the
// registry. Rollback never registers a task definition pointing at an
// image that does not exist.
var ErrArtifactNotFound = errors.New("no image found for version")

// Orchestrator runs the deployment workflows.
type Orchestrator struct {
	cfg       config.Config
	dir       string
	publisher *image.Publisher
	taskdefs  *taskdef.Manager
	services  *service.Updater
	log       zerolog.Logger
}

// NewOrchestrator creates an Orchestrator working in dir (the application
// checkout the tool is invoked from).
func NewOrchestrator(cfg config.Config, dir string, publisher *image.Publisher, taskdefs *taskdef.Manager, services *service.Updater, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		dir:       dir,
		publisher: publisher,
		taskdefs:  taskdefs,
		services:  services,
		log:       logger,
	}
}

// Build resolves the version from the checkout, builds the image, and
// records version and registry URI in the handoff state.
func (o *Orchestrator) Build(ctx context.Context) (*State, error) {
	version, err := gitrev.Resolve(ctx, o.dir)
	if err != nil {
		return nil, err
	}
	o.log.Info().Str("version", version).Msg("resolved version")
	return o.buildVersion(ctx, version)
}

// buildVersion runs the image build for an already-resolved version and
// writes the first checkpoint.
func (o *Orchestrator) buildVersion(ctx context.Context, version string) (*State, error) {
	if err := o.publisher.Build(ctx, version); err != nil {
		return nil, err
	}
	uri, err := o.publisher.RegistryURI(ctx)
	if err != nil {
		return nil, err
	}

	st := &State{Version: version, RegistryURI: uri}
	if err := SaveState(o.dir, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Push publishes the image recorded by a prior Build. Idempotent: same
// tags, same bytes.
func (o *Orchestrator) Push(ctx context.Context) (*State, error) {
	st, err := LoadState(o.dir)
	if err != nil {
		if errors.Is(err, ErrNoState) {
			return nil, fmt.Errorf("%w: run \"bia build\" first", err)
		}
		return nil, err
	}
	if err := o.publisher.Push(ctx, st.Version, st.RegistryURI); err != nil {
		return nil, err
	}
	return st, nil
}

// FullDeploy runs the whole forward pipeline: resolve, build, push,
// register the next task definition revision, update the service, and wait
// for convergence. On success the handoff state is cleared; any failure
// leaves it at the last successful checkpoint, and a later FullDeploy for
// the same revision picks up from that checkpoint instead of repeating
// the completed steps.
func (o *Orchestrator) FullDeploy(ctx context.Context) (service.Outcome, error) {
	version, err := gitrev.Resolve(ctx, o.dir)
	if err != nil {
		return service.TimedOut, err
	}
	o.log.Info().Str("version", version).Msg("resolved version")

	st, err := LoadState(o.dir)
	switch {
	case err == nil && st.Version == version:
		// A prior build or deploy of this same revision checkpointed
		// here. The image is already built; a recorded task definition
		// also makes the push and registration redundant.
		if st.TaskDefARN != "" {
			o.log.Info().Str("taskdef", st.TaskDefARN).Msg("resuming at service update")
			return o.finish(ctx, st)
		}
		o.log.Info().Str("version", version).Msg("resuming with the built image")
	case err != nil && !errors.Is(err, ErrNoState):
		return service.TimedOut, err
	default:
		// No checkpoint, or one for a different revision: start over.
		if st, err = o.buildVersion(ctx, version); err != nil {
			return service.TimedOut, err
		}
	}

	if err := o.publisher.Push(ctx, st.Version, st.RegistryURI); err != nil {
		return service.TimedOut, err
	}
	return o.release(ctx, st)
}

// Rollback redeploys a previously published version. It never rebuilds:
// the artifact must already exist in the registry, and from there the path
// is identical to a forward deploy (new revision, service update, wait).
func (o *Orchestrator) Rollback(ctx context.Context, targetVersion string) (service.Outcome, error) {
	uri, err := o.publisher.RegistryURI(ctx)
	if err != nil {
		return service.TimedOut, err
	}
	exists, err := o.publisher.TagExists(ctx, targetVersion)
	if err != nil {
		return service.TimedOut, err
	}
	if !exists {
		return service.TimedOut, fmt.Errorf("%w: %s:%s", ErrArtifactNotFound, o.cfg.Repository, targetVersion)
	}

	o.log.Info().Str("version", targetVersion).Msg("rolling back")
	st := &State{Version: targetVersion, RegistryURI: uri}
	if err := SaveState(o.dir, st); err != nil {
		return service.TimedOut, err
	}
	return o.release(ctx, st)
}

// release is the shared tail of forward deploy and rollback: register a
// revision for the state's image, point the service at it, and wait.
func (o *Orchestrator) release(ctx context.Context, st *State) (service.Outcome, error) {
	arn, err := o.createOrUpdate(ctx, st.ImageRef())
	if err != nil {
		return service.TimedOut, err
	}
	st.TaskDefARN = arn
	if err := SaveState(o.dir, st); err != nil {
		return service.TimedOut, err
	}
	return o.finish(ctx, st)
}

// finish points the service at the state's registered revision and waits
// for convergence, clearing the checkpoint once the service is stable.
func (o *Orchestrator) finish(ctx context.Context, st *State) (service.Outcome, error) {
	if err := o.services.Update(ctx, st.TaskDefARN); err != nil {
		return service.TimedOut, err
	}

	outcome, err := o.services.AwaitStable(ctx, st.TaskDefARN, o.cfg.WaitTimeout)
	if err != nil {
		return outcome, err
	}
	if outcome == service.Stable {
		if err := ClearState(o.dir); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// createOrUpdate fetches the active revision of the family, derives the
// next one for imageRef (bootstrapping on first deploy), and registers it.
// Registration is the single atomic commit point; nothing before it
// mutates remote state.
func (o *Orchestrator) createOrUpdate(ctx context.Context, imageRef string) (string, error) {
	current, err := o.taskdefs.FetchActive(ctx)
	if err != nil {
		return "", err
	}
	if current == nil {
		o.log.Info().Str("family", o.cfg.Family).Msg("family has no revisions yet, bootstrapping")
		if err := o.taskdefs.EnsureLogGroup(ctx); err != nil {
			return "", err
		}
	}
	input, err := o.taskdefs.Derive(current, imageRef)
	if err != nil {
		return "", err
	}
	return o.taskdefs.Register(ctx, input)
}

// Revision is one entry of the deploy history listing.
type Revision struct {
	ARN          string
	Revision     int32
	Image        string
	RegisteredAt string
	Active       bool
}

// List returns up to limit registered revisions, newest first, marking the
// one the service currently runs.
func (o *Orchestrator) List(ctx context.Context, limit int32) ([]Revision, error) {
	arns, err := o.taskdefs.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	current, err := o.services.Current(ctx)
	if err != nil {
		return nil, err
	}

	revisions := make([]Revision, 0, len(arns))
	for _, arn := range arns {
		td, err := o.taskdefs.Describe(ctx, arn)
		if err != nil {
			return nil, err
		}
		rev := Revision{
			ARN:      arn,
			Revision: td.Revision,
			Active:   arn == current,
		}
		if len(td.ContainerDefinitions) > 0 && td.ContainerDefinitions[0].Image != nil {
			rev.Image = *td.ContainerDefinitions[0].Image
		}
		if td.RegisteredAt != nil {
			rev.RegisteredAt = td.RegisteredAt.UTC().Format("2006-01-02 15:04:05")
		}
		revisions = append(revisions, rev)
	}
	return revisions, nil
}
