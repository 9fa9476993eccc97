// Package checkin provides the vocabulary of check-in plan documents.
//
// A plan is a node typed both guidance:IntegrationProcess and
// checkin:CheckinPlan. Its steps hang off checkin:hasStep and are ordered by
// checkin:stepOrder.
//
// Import this package to auto-register predicates:
//
//	import _ "github.com/c360studio/semguard/vocabulary/checkin"
package checkin

import "github.com/c360studio/semstreams/vocabulary"

// Namespaces used by plan documents.
const (
	Namespace         = "http://example.org/checkin#"
	GuidanceNamespace = "https://raw.githubusercontent.com/louspringer/ontology-framework/main/guidance#"
	TimeNamespace     = "http://www.w3.org/2006/time#"
)

// Class IRIs.
const (
	CheckinPlan        = Namespace + "CheckinPlan"
	IntegrationStep    = Namespace + "IntegrationStep"
	IntegrationProcess = GuidanceNamespace + "IntegrationProcess"
)

// Property IRIs.
const (
	HasStep         = Namespace + "hasStep"
	StepOrder       = Namespace + "stepOrder"
	StepDescription = Namespace + "stepDescription"
	DependsOn       = Namespace + "dependsOn"
)

// Registered predicate names.
const (
	// PredicateHasStep links a plan to one of its steps.
	PredicateHasStep = "checkin.plan.step"

	// PredicateStepOrder is the 1-based execution position of a step.
	PredicateStepOrder = "checkin.step.order"

	// PredicateStepDescription is what the step does.
	PredicateStepDescription = "checkin.step.description"

	// PredicateDependsOn links a step to a step that must run before it.
	PredicateDependsOn = "checkin.step.depends_on"
)

func init() {
	vocabulary.Register(PredicateHasStep,
		vocabulary.WithDescription("Step belonging to a check-in plan"),
		vocabulary.WithDataType("entity_id"),
		vocabulary.WithIRI(HasStep))

	vocabulary.Register(PredicateStepOrder,
		vocabulary.WithDescription("Execution position of a step within its plan"),
		vocabulary.WithDataType("int"),
		vocabulary.WithRange("positive"),
		vocabulary.WithIRI(StepOrder))

	vocabulary.Register(PredicateStepDescription,
		vocabulary.WithDescription("Description of a plan step"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(StepDescription))

	vocabulary.Register(PredicateDependsOn,
		vocabulary.WithDescription("Step that must complete before this one"),
		vocabulary.WithDataType("entity_id"),
		vocabulary.WithIRI(DependsOn))
}

// PredicateIRI returns the IRI registered for a predicate name, or "" when
// the name is not registered or has no IRI.
func PredicateIRI(name string) string {
	meta := vocabulary.GetPredicateMetadata(name)
	if meta == nil {
		return ""
	}
	return meta.StandardIRI
}
