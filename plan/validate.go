package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/semguard/graph"
	"github.com/c360studio/semguard/validation"
	"github.com/c360studio/semguard/vocabulary/checkin"
)

// Constraint identifiers used in plan violations.
const (
	ConstraintRequiredPrefix     = "plan:RequiredPrefix"
	ConstraintPlanPresent        = "plan:PlanPresent"
	ConstraintRequiredType       = "plan:RequiredType"
	ConstraintRequiredProperty   = "plan:RequiredProperty"
	ConstraintIntegerOrder       = "plan:IntegerOrder"
	ConstraintHasSteps           = "plan:HasSteps"
	ConstraintUniqueOrder        = "plan:UniqueOrder"
	ConstraintContiguousOrder    = "plan:ContiguousOrder"
	ConstraintDeclaredDependency = "plan:DeclaredDependency"
	ConstraintAcyclic            = "plan:AcyclicDependencies"
)

const (
	shapeDocument = "plan:Document"
	shapePlan     = "plan:Plan"
	shapeStep     = "plan:Step"
)

// Validate runs every plan check and collects the results. A missing or
// invalid property is reported as a violation and never stops the
// remaining checks.
func (v *Validator) Validate(doc *graph.Document) validation.Report {
	var r validation.Report
	r.Add(v.checkPrefixes(doc)...)

	roots := Roots(doc)
	if len(roots) == 0 {
		r.Add(blocking(shapeDocument, "", "plan", ConstraintPlanPresent, ErrNoPlan.Error(),
			&validation.StructuralError{Kind: "plan", Msg: "document has no plan root", Err: ErrNoPlan}))
		return r
	}

	for _, root := range roots {
		p := Load(doc, root)
		r.Add(checkRoot(doc, root)...)
		if len(p.Steps) == 0 {
			r.Add(validation.Violation{
				Focus:        nodeName(root),
				Path:         checkin.HasStep,
				Shape:        shapePlan,
				ConstraintID: ConstraintHasSteps,
				Message:      "plan has no steps",
				Severity:     validation.SeverityAdvisory,
			})
			continue
		}
		for _, s := range p.Steps {
			r.Add(checkStep(doc, s)...)
		}
		r.Add(checkOrders(p)...)
		r.Add(checkDependencies(p)...)
		r.Add(checkCycles(p)...)
	}
	return r
}

func (v *Validator) checkPrefixes(doc *graph.Document) []validation.Violation {
	var out []validation.Violation
	for _, want := range v.required {
		got, ok := doc.Namespace(want.Name)
		switch {
		case !ok:
			msg := fmt.Sprintf("missing prefix binding %s: <%s>", want.Name, want.Namespace)
			out = append(out, blocking(shapeDocument, "", "prefix:"+want.Name, ConstraintRequiredPrefix, msg,
				&validation.StructuralError{Kind: "prefix", Subject: want.Name, Msg: msg}))
		case got != want.Namespace:
			msg := fmt.Sprintf("prefix %s bound to <%s>, expected <%s>", want.Name, got, want.Namespace)
			out = append(out, blocking(shapeDocument, "", "prefix:"+want.Name, ConstraintRequiredPrefix, msg,
				&validation.StructuralError{Kind: "prefix", Subject: want.Name, Msg: msg}))
		}
	}
	return out
}

func checkRoot(doc *graph.Document, root graph.Term) []validation.Violation {
	var out []validation.Violation
	for _, rt := range rootTypes {
		if !doc.Has(root, typePred, rt) {
			msg := fmt.Sprintf("plan %s missing required type <%s>", nodeName(root), rt.Value)
			out = append(out, blocking(shapePlan, nodeName(root), graph.RDFType, ConstraintRequiredType, msg,
				structural("plan", root, msg)))
		}
	}
	for _, p := range []graph.Term{labelPred, commentPred, versionPred} {
		if _, ok := doc.Object(root, p); !ok {
			out = append(out, missing("plan", root, p))
		}
	}
	return out
}

func checkStep(doc *graph.Document, s Step) []validation.Violation {
	var out []validation.Violation
	if !doc.Has(s.Node, typePred, stepType) {
		msg := fmt.Sprintf("step %s missing required type <%s>", nodeName(s.Node), checkin.IntegrationStep)
		out = append(out, blocking(shapeStep, nodeName(s.Node), graph.RDFType, ConstraintRequiredType, msg,
			structural("step", s.Node, msg)))
	}
	if _, ok := doc.Object(s.Node, labelPred); !ok {
		out = append(out, missing("step", s.Node, labelPred))
	}
	if _, ok := doc.Object(s.Node, descriptionPred); !ok {
		out = append(out, missing("step", s.Node, descriptionPred))
	}
	switch {
	case !s.HasOrder:
		out = append(out, missing("step", s.Node, orderPred))
	case !s.ValidOrder:
		o, _ := doc.Object(s.Node, orderPred)
		msg := fmt.Sprintf("step %s has invalid order format: %s", nodeName(s.Node), o)
		out = append(out, blocking(shapeStep, nodeName(s.Node), checkin.StepOrder, ConstraintIntegerOrder, msg,
			structural("step", s.Node, msg)))
	}
	return out
}

// checkOrders reports each order value shared by more than one step, and
// gaps in an otherwise unique 1..n ordering. Steps without a valid order
// take part in neither check.
func checkOrders(p Plan) []validation.Violation {
	byOrder := make(map[int][]Step)
	for _, s := range p.Steps {
		if s.HasOrder && s.ValidOrder {
			byOrder[s.Order] = append(byOrder[s.Order], s)
		}
	}
	orders := make([]int, 0, len(byOrder))
	for o := range byOrder {
		orders = append(orders, o)
	}
	sort.Ints(orders)

	var out []validation.Violation
	for _, o := range orders {
		steps := byOrder[o]
		if len(steps) < 2 {
			continue
		}
		names := make([]string, len(steps))
		for i, s := range steps {
			names[i] = nodeName(s.Node)
		}
		msg := fmt.Sprintf("order %d used by %d steps: %s", o, len(steps), strings.Join(names, ", "))
		out = append(out, blocking(shapePlan, nodeName(p.Root), checkin.StepOrder, ConstraintUniqueOrder, msg,
			structural("plan", p.Root, msg)))
	}

	for i, o := range orders {
		if o != i+1 {
			out = append(out, validation.Violation{
				Focus:        nodeName(p.Root),
				Path:         checkin.StepOrder,
				Shape:        shapePlan,
				ConstraintID: ConstraintContiguousOrder,
				Message:      fmt.Sprintf("step orders %v are not contiguous from 1", orders),
				Severity:     validation.SeverityAdvisory,
			})
			break
		}
	}
	return out
}

func checkDependencies(p Plan) []validation.Violation {
	declared := make(map[graph.Term]bool, len(p.Steps))
	for _, s := range p.Steps {
		declared[s.Node] = true
	}
	var out []validation.Violation
	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if declared[dep] {
				continue
			}
			msg := fmt.Sprintf("step %s depends on %s, which is not a step of plan %s",
				nodeName(s.Node), nodeName(dep), nodeName(p.Root))
			out = append(out, blocking(shapeStep, nodeName(s.Node), checkin.DependsOn, ConstraintDeclaredDependency, msg,
				structural("step", s.Node, msg)))
		}
	}
	return out
}

const (
	unvisited = iota
	onStack
	done
)

// checkCycles walks dependsOn edges between declared steps depth first.
// Every edge back into the current recursion stack closes a cycle.
func checkCycles(p Plan) []validation.Violation {
	edges := make(map[graph.Term][]graph.Term, len(p.Steps))
	for _, s := range p.Steps {
		edges[s.Node] = nil
	}
	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := edges[dep]; ok {
				edges[s.Node] = append(edges[s.Node], dep)
			}
		}
	}

	state := make(map[graph.Term]int, len(edges))
	var stack []graph.Term
	var cycles [][]string

	var visit func(n graph.Term)
	visit = func(n graph.Term) {
		state[n] = onStack
		stack = append(stack, n)
		for _, next := range edges[n] {
			switch state[next] {
			case unvisited:
				visit(next)
			case onStack:
				cycles = append(cycles, cyclePath(stack, next))
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
	}
	for _, s := range p.Steps {
		if state[s.Node] == unvisited {
			visit(s.Node)
		}
	}

	out := make([]validation.Violation, 0, len(cycles))
	for _, c := range cycles {
		err := &validation.DependencyCycleError{Cycle: c}
		out = append(out, blocking(shapeStep, c[0], checkin.DependsOn, ConstraintAcyclic, err.Error(), err))
	}
	return out
}

// cyclePath returns the stack suffix starting at target, closed by target.
func cyclePath(stack []graph.Term, target graph.Term) []string {
	start := 0
	for i, n := range stack {
		if n == target {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, n := range stack[start:] {
		path = append(path, nodeName(n))
	}
	return append(path, nodeName(target))
}

func missing(kind string, node, pred graph.Term) validation.Violation {
	msg := fmt.Sprintf("%s %s is missing <%s>", kind, nodeName(node), pred.Value)
	shape := shapeStep
	if kind == "plan" {
		shape = shapePlan
	}
	return blocking(shape, nodeName(node), pred.Value, ConstraintRequiredProperty, msg, structural(kind, node, msg))
}

func structural(kind string, node graph.Term, msg string) error {
	return &validation.StructuralError{Kind: kind, Subject: nodeName(node), Msg: msg}
}

func blocking(shape, focus, path, constraint, msg string, cause error) validation.Violation {
	return validation.Violation{
		Focus:        focus,
		Path:         path,
		Shape:        shape,
		ConstraintID: constraint,
		Message:      msg,
		Severity:     validation.SeverityBlocking,
		Cause:        cause,
	}
}
