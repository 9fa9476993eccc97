package plan

import (
	"fmt"
	"sort"

	"github.com/c360studio/semguard/graph"
)

// FixKind names one auto-fixable issue.
type FixKind string

const (
	FixPrefix          FixKind = "prefix"
	FixRootType        FixKind = "root_type"
	FixPlanLabel       FixKind = "plan_label"
	FixPlanComment     FixKind = "plan_comment"
	FixPlanVersion     FixKind = "plan_version"
	FixStepType        FixKind = "step_type"
	FixStepLabel       FixKind = "step_label"
	FixStepDescription FixKind = "step_description"
	FixStepOrder       FixKind = "step_order"
	FixRenumber        FixKind = "renumber"
)

// DefaultVersion is assigned to a plan without owl:versionInfo.
const DefaultVersion = "0.1.0"

// Fix is one applied repair.
type Fix struct {
	Kind    FixKind `json:"kind"`
	Subject string  `json:"subject,omitempty"`
	Detail  string  `json:"detail"`
}

func (f Fix) String() string {
	if f.Subject == "" {
		return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
	}
	return fmt.Sprintf("%s %s: %s", f.Kind, f.Subject, f.Detail)
}

// Fix returns a repaired copy of doc and the repairs applied to it. doc is
// not modified. Only missing prefixes, types, labels, comments, versions,
// descriptions and orders are filled in, and duplicate orders renumbered;
// every other violation is left for the author.
func (v *Validator) Fix(doc *graph.Document) (*graph.Document, []Fix) {
	out := doc.Clone()
	var fixes []Fix

	for _, p := range v.fixPrefixes {
		if _, ok := out.Namespace(p.Name); ok {
			continue
		}
		if err := out.Bind(p.Name, p.Namespace); err == nil {
			fixes = append(fixes, Fix{Kind: FixPrefix, Subject: p.Name, Detail: "bound to <" + p.Namespace + ">"})
		}
	}

	for _, root := range Roots(out) {
		fixes = append(fixes, fixRoot(out, root)...)
		fixes = append(fixes, fixSteps(out, root)...)
	}

	if len(fixes) > 0 {
		v.logger.Debug("Plan fixes applied", "count", len(fixes))
	}
	return out, fixes
}

func fixRoot(doc *graph.Document, root graph.Term) []Fix {
	var fixes []Fix
	name := nodeName(root)
	for _, rt := range rootTypes {
		if doc.Add(root, typePred, rt) {
			fixes = append(fixes, Fix{Kind: FixRootType, Subject: name, Detail: "added type <" + rt.Value + ">"})
		}
	}
	local := graph.LocalName(root.Value)
	defaults := []struct {
		kind  FixKind
		pred  graph.Term
		value string
	}{
		{FixPlanLabel, labelPred, local},
		{FixPlanComment, commentPred, "Check-in plan for " + local},
		{FixPlanVersion, versionPred, DefaultVersion},
	}
	for _, d := range defaults {
		if _, ok := doc.Object(root, d.pred); ok {
			continue
		}
		doc.Add(root, d.pred, graph.Literal(d.value))
		fixes = append(fixes, Fix{Kind: d.kind, Subject: name, Detail: fmt.Sprintf("set to %q", d.value)})
	}
	return fixes
}

func fixSteps(doc *graph.Document, root graph.Term) []Fix {
	var fixes []Fix
	p := Load(doc, root)
	for i, s := range p.Steps {
		name := nodeName(s.Node)
		local := graph.LocalName(s.Node.Value)
		if doc.Add(s.Node, typePred, stepType) {
			fixes = append(fixes, Fix{Kind: FixStepType, Subject: name, Detail: "added type <" + stepType.Value + ">"})
		}
		if _, ok := doc.Object(s.Node, labelPred); !ok {
			doc.Add(s.Node, labelPred, graph.Literal(local))
			fixes = append(fixes, Fix{Kind: FixStepLabel, Subject: name, Detail: fmt.Sprintf("set to %q", local)})
		}
		if _, ok := doc.Object(s.Node, descriptionPred); !ok {
			desc := "Step " + local
			doc.Add(s.Node, descriptionPred, graph.Literal(desc))
			fixes = append(fixes, Fix{Kind: FixStepDescription, Subject: name, Detail: fmt.Sprintf("set to %q", desc)})
		}
		if !s.HasOrder {
			doc.Add(s.Node, orderPred, graph.IntegerLiteral(i+1))
			fixes = append(fixes, Fix{Kind: FixStepOrder, Subject: name, Detail: fmt.Sprintf("set to %d by position", i+1)})
		}
	}
	return append(fixes, renumber(doc, root)...)
}

// renumber assigns 1..n to the integer-ordered steps of root when any order
// value is shared, keeping the existing (order, label, node) sequence.
func renumber(doc *graph.Document, root graph.Term) []Fix {
	p := Load(doc, root)
	var steps []Step
	seen := make(map[int]bool)
	duplicate := false
	for _, s := range p.Steps {
		if !s.HasOrder || !s.ValidOrder {
			continue
		}
		if seen[s.Order] {
			duplicate = true
		}
		seen[s.Order] = true
		steps = append(steps, s)
	}
	if !duplicate {
		return nil
	}

	sort.SliceStable(steps, func(i, j int) bool {
		a, b := steps[i], steps[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return nodeName(a.Node) < nodeName(b.Node)
	})

	var fixes []Fix
	for i, s := range steps {
		want := i + 1
		if s.Order == want {
			continue
		}
		for _, o := range doc.Objects(s.Node, orderPred) {
			doc.Remove(s.Node, orderPred, o)
		}
		doc.Add(s.Node, orderPred, graph.IntegerLiteral(want))
		fixes = append(fixes, Fix{
			Kind:    FixRenumber,
			Subject: nodeName(s.Node),
			Detail:  fmt.Sprintf("order %d renumbered to %d", s.Order, want),
		})
	}
	return fixes
}
