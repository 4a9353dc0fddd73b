package test

import (
	"fmt"

	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
)

// NewTestEntities returns n entities of mall named Brand1..BrandN.
// Odd-numbered brands carry a distinct destination name.
func NewTestEntities(mall string, n int) []model.Entity {
	entities := make([]model.Entity, 0, n)
	for i := 1; i <= n; i++ {
		e := model.Entity{Mall: mall, SourceName: fmt.Sprintf("Brand%d", i)}
		if i%2 == 1 {
			e.DestinationName = fmt.Sprintf("BUYMA Brand%d", i)
		}
		entities = append(entities, e)
	}
	return entities
}

// NewTestEntity returns a single entity of mall with the given source and destination names.
func NewTestEntity(mall, source, destination string) model.Entity {
	return model.Entity{Mall: mall, SourceName: source, DestinationName: destination}
}
