package checkin_test

import (
	"testing"

	"github.com/c360studio/semstreams/vocabulary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semguard/vocabulary/checkin"
)

func TestPredicatesRegistered(t *testing.T) {
	tests := map[string]string{
		checkin.PredicateHasStep:         checkin.HasStep,
		checkin.PredicateStepOrder:       checkin.StepOrder,
		checkin.PredicateStepDescription: checkin.StepDescription,
		checkin.PredicateDependsOn:       checkin.DependsOn,
	}
	for name, iri := range tests {
		t.Run(name, func(t *testing.T) {
			meta := vocabulary.GetPredicateMetadata(name)
			require.NotNil(t, meta, "predicate %q not registered", name)
			assert.Equal(t, iri, meta.StandardIRI)
			assert.NotEmpty(t, meta.Description)
		})
	}
}

func TestFixPrefixesExtendRequired(t *testing.T) {
	assert.Len(t, checkin.FixPrefixes, len(checkin.RequiredPrefixes)+2)
	assert.Equal(t, checkin.RequiredPrefixes, checkin.FixPrefixes[:len(checkin.RequiredPrefixes)])
}

func TestPredicateIRI(t *testing.T) {
	assert.Equal(t, checkin.StepOrder, checkin.PredicateIRI(checkin.PredicateStepOrder))
	assert.Empty(t, checkin.PredicateIRI("checkin.step.unknown"))
}
