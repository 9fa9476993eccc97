package plan_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semguard/graph"
	"github.com/c360studio/semguard/plan"
	"github.com/c360studio/semguard/validation"
)

const prefixes = `
@prefix rdf: <http://www.w3.org/1999/02/22-rdf-syntax-ns#> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
@prefix owl: <http://www.w3.org/2002/07/owl#> .
@prefix xsd: <http://www.w3.org/2001/XMLSchema#> .
@prefix checkin: <http://example.org/checkin#> .
@prefix guidance: <https://raw.githubusercontent.com/louspringer/ontology-framework/main/guidance#> .
@prefix time: <http://www.w3.org/2006/time#> .
@prefix ex: <http://example.org/plans/> .
`

const validPlan = prefixes + `
ex:release a guidance:IntegrationProcess , checkin:CheckinPlan ;
    rdfs:label "Release" ;
    rdfs:comment "Release check-in" ;
    owl:versionInfo "1.0.0" ;
    checkin:hasStep ex:parse , ex:load , ex:verify .

ex:parse a checkin:IntegrationStep ;
    rdfs:label "Parse" ;
    checkin:stepDescription "Parse the ontology" ;
    checkin:stepOrder 1 .

ex:load a checkin:IntegrationStep ;
    rdfs:label "Load" ;
    checkin:stepDescription "Load into staging" ;
    checkin:stepOrder 2 ;
    checkin:dependsOn ex:parse .

ex:verify a checkin:IntegrationStep ;
    rdfs:label "Verify" ;
    checkin:stepDescription "Verify counts" ;
    checkin:stepOrder 3 ;
    checkin:dependsOn ex:load .
`

func parse(t *testing.T, src string) *graph.Document {
	t.Helper()
	doc, err := graph.ParseString(src, "")
	require.NoError(t, err)
	return doc
}

func byConstraint(r validation.Report, id string) []validation.Violation {
	var out []validation.Violation
	for _, v := range r.Violations {
		if v.ConstraintID == id {
			out = append(out, v)
		}
	}
	return out
}

func TestValidate_ValidPlan(t *testing.T) {
	r := plan.NewValidator().Validate(parse(t, validPlan))
	assert.Empty(t, r.Violations)
	assert.True(t, r.Passed())
}

func TestValidate_MissingOrderIsOneViolation(t *testing.T) {
	src := prefixes + `
ex:p a guidance:IntegrationProcess , checkin:CheckinPlan ;
    rdfs:label "P" ;
    owl:versionInfo "1" ;
    checkin:hasStep ex:a , ex:b .

ex:a a checkin:IntegrationStep ;
    rdfs:label "A" ;
    checkin:stepDescription "first" .

ex:b a checkin:IntegrationStep ;
    checkin:stepDescription "second" ;
    checkin:stepOrder 1 .
`
	r := plan.NewValidator().Validate(parse(t, src))
	require.False(t, r.Passed())

	var orderViolations, other []validation.Violation
	for _, v := range r.Violations {
		if v.Focus == "http://example.org/plans/a" && v.Path == "http://example.org/checkin#stepOrder" {
			orderViolations = append(orderViolations, v)
		} else {
			other = append(other, v)
		}
	}
	require.Len(t, orderViolations, 1)
	assert.Equal(t, plan.ConstraintRequiredProperty, orderViolations[0].ConstraintID)
	assert.True(t, orderViolations[0].IsBlocking())

	// The plan comment and step b's label are still reported.
	paths := make(map[string]string)
	for _, v := range other {
		paths[v.Focus+" "+v.Path] = v.ConstraintID
	}
	assert.Equal(t, plan.ConstraintRequiredProperty, paths["http://example.org/plans/p "+graph.RDFSComment])
	assert.Equal(t, plan.ConstraintRequiredProperty, paths["http://example.org/plans/b "+graph.RDFSLabel])
	assert.Len(t, other, 2)
}

func TestValidate_Cycle(t *testing.T) {
	src := prefixes + `
ex:p a guidance:IntegrationProcess , checkin:CheckinPlan ;
    rdfs:label "P" ; rdfs:comment "c" ; owl:versionInfo "1" ;
    checkin:hasStep ex:a , ex:b .
ex:a a checkin:IntegrationStep ; rdfs:label "A" ; checkin:stepDescription "a" ;
    checkin:stepOrder 1 ; checkin:dependsOn ex:b .
ex:b a checkin:IntegrationStep ; rdfs:label "B" ; checkin:stepDescription "b" ;
    checkin:stepOrder 2 ; checkin:dependsOn ex:a .
`
	r := plan.NewValidator().Validate(parse(t, src))
	cycles := byConstraint(r, plan.ConstraintAcyclic)
	require.Len(t, cycles, 1)
	assert.True(t, cycles[0].IsBlocking())

	var cycleErr *validation.DependencyCycleError
	require.True(t, errors.As(r.Err(), &cycleErr))
	assert.ErrorIs(t, r.Err(), validation.ErrCycle)
	assert.Len(t, cycleErr.Cycle, 3)
	assert.Equal(t, cycleErr.Cycle[0], cycleErr.Cycle[2])
	assert.ElementsMatch(t,
		[]string{"http://example.org/plans/a", "http://example.org/plans/b"},
		cycleErr.Cycle[:2])
}

func TestValidate_Orders(t *testing.T) {
	step := func(name string, order string) string {
		return "ex:" + name + " a checkin:IntegrationStep ; rdfs:label \"" + name +
			"\" ; checkin:stepDescription \"d\" ; checkin:stepOrder " + order + " .\n"
	}
	root := `ex:p a guidance:IntegrationProcess , checkin:CheckinPlan ;
    rdfs:label "P" ; rdfs:comment "c" ; owl:versionInfo "1" ;
    checkin:hasStep ex:a , ex:b .
`
	tests := []struct {
		name       string
		a, b       string
		constraint string
		blocking   bool
	}{
		{"duplicate", "1", "1", plan.ConstraintUniqueOrder, true},
		{"gap", "1", "3", plan.ConstraintContiguousOrder, false},
		{"not from one", "2", "3", plan.ConstraintContiguousOrder, false},
		{"non-integer", "\"first\"", "1", plan.ConstraintIntegerOrder, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := prefixes + root + step("a", tt.a) + step("b", tt.b)
			r := plan.NewValidator().Validate(parse(t, src))
			require.Len(t, r.Violations, 1, "%v", r.Violations)
			assert.Equal(t, tt.constraint, r.Violations[0].ConstraintID)
			assert.Equal(t, tt.blocking, r.Violations[0].IsBlocking())
		})
	}
}

func TestValidate_UndeclaredDependency(t *testing.T) {
	src := prefixes + `
ex:p a guidance:IntegrationProcess , checkin:CheckinPlan ;
    rdfs:label "P" ; rdfs:comment "c" ; owl:versionInfo "1" ;
    checkin:hasStep ex:a .
ex:a a checkin:IntegrationStep ; rdfs:label "A" ; checkin:stepDescription "a" ;
    checkin:stepOrder 1 ; checkin:dependsOn ex:elsewhere .
`
	r := plan.NewValidator().Validate(parse(t, src))
	deps := byConstraint(r, plan.ConstraintDeclaredDependency)
	require.Len(t, deps, 1)
	assert.Equal(t, "http://example.org/plans/a", deps[0].Focus)
	assert.Empty(t, byConstraint(r, plan.ConstraintAcyclic))
}

func TestValidate_DocumentLevel(t *testing.T) {
	t.Run("no plan root", func(t *testing.T) {
		r := plan.NewValidator().Validate(parse(t, prefixes+`ex:x a ex:Thing .`))
		require.Len(t, r.Violations, 1)
		assert.Equal(t, plan.ConstraintPlanPresent, r.Violations[0].ConstraintID)
		assert.ErrorIs(t, r.Err(), plan.ErrNoPlan)
		assert.ErrorIs(t, r.Err(), validation.ErrStructural)
	})

	t.Run("missing prefixes and root type", func(t *testing.T) {
		src := `
@prefix checkin: <http://example.org/checkin#> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
<http://example.org/plans/p> a checkin:CheckinPlan ;
    rdfs:label "P" ; rdfs:comment "c" ;
    <http://www.w3.org/2002/07/owl#versionInfo> "1" .
`
		r := plan.NewValidator().Validate(parse(t, src))
		assert.Len(t, byConstraint(r, plan.ConstraintRequiredPrefix), 3, "rdf, owl and xsd")
		assert.Len(t, byConstraint(r, plan.ConstraintRequiredType), 1)
		steps := byConstraint(r, plan.ConstraintHasSteps)
		require.Len(t, steps, 1)
		assert.False(t, steps[0].IsBlocking())
	})
}
