package runner

import (
	"strings"

	"github.com/tigerroll/feedpipe/pkg/batch/core/config"
	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/worker"
)

// TargetResolver decides which name of an entity a stage worker receives.
type TargetResolver interface {
	Resolve(stage model.Stage, entity model.Entity) worker.Target
}

// StageTargetResolver hands the source name to the stages reading the source
// catalog and the destination name to the others.
type StageTargetResolver struct {
	destination map[model.Stage]bool
}

var _ TargetResolver = (*StageTargetResolver)(nil)

// NewDefaultTargetResolver resolves COLLECT and CONVERT to the source name and
// IMAGE, PRICE and REGISTER to the destination name.
func NewDefaultTargetResolver() *StageTargetResolver {
	return &StageTargetResolver{destination: map[model.Stage]bool{
		model.StageImage:    true,
		model.StagePrice:    true,
		model.StageRegister: true,
	}}
}

// NewStageTargetResolver applies the per-stage target settings of cfg over the defaults.
func NewStageTargetResolver(cfg config.PipelineConfig) *StageTargetResolver {
	r := NewDefaultTargetResolver()
	for name, sc := range cfg.Stages {
		stage := model.Stage(strings.ToUpper(name))
		switch strings.ToLower(sc.Target) {
		case "source":
			r.destination[stage] = false
		case "destination":
			r.destination[stage] = true
		}
	}
	return r
}

func (r *StageTargetResolver) Resolve(stage model.Stage, entity model.Entity) worker.Target {
	name := entity.SourceName
	if r.destination[stage] {
		name = entity.Destination()
	}
	return worker.Target{Name: name, Mall: entity.Mall, EntityKey: entity.Key()}
}
