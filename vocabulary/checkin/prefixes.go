package checkin

import "github.com/c360studio/semguard/graph"

// Prefix is a required prefix binding.
type Prefix struct {
	Name      string
	Namespace string
}

// RequiredPrefixes must be bound in every plan document.
var RequiredPrefixes = []Prefix{
	{"rdf", graph.RDF},
	{"rdfs", graph.RDFS},
	{"owl", graph.OWL},
	{"xsd", graph.XSD},
	{"checkin", Namespace},
}

// FixPrefixes are bound when a plan is repaired. It adds the guidance and
// time namespaces to RequiredPrefixes.
var FixPrefixes = append(append([]Prefix{}, RequiredPrefixes...),
	Prefix{"guidance", GuidanceNamespace},
	Prefix{"time", TimeNamespace},
)
