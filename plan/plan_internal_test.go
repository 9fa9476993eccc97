package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360studio/semguard/vocabulary/checkin"
)

func TestStepPredicatesResolveFromRegistry(t *testing.T) {
	tests := map[string]string{
		checkin.PredicateHasStep:         hasStepPred.Value,
		checkin.PredicateStepOrder:       orderPred.Value,
		checkin.PredicateStepDescription: descriptionPred.Value,
		checkin.PredicateDependsOn:       dependsOnPred.Value,
	}
	for name, got := range tests {
		assert.Equal(t, checkin.PredicateIRI(name), got, name)
	}
}

func TestMustPredicatePanicsWhenUnregistered(t *testing.T) {
	assert.Panics(t, func() { mustPredicate("checkin.step.unknown") })
}
