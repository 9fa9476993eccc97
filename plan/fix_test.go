package plan_test

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semguard/graph"
	"github.com/c360studio/semguard/metrics"
	"github.com/c360studio/semguard/plan"
	"github.com/c360studio/semguard/vocabulary/checkin"
)

const duplicateOrderPlan = prefixes + `
ex:p a guidance:IntegrationProcess , checkin:CheckinPlan ;
    rdfs:label "P" ; rdfs:comment "c" ; owl:versionInfo "1" ;
    checkin:hasStep ex:parse , ex:load .
ex:parse a checkin:IntegrationStep ; rdfs:label "Parse" ;
    checkin:stepDescription "parse" ; checkin:stepOrder 1 .
ex:load a checkin:IntegrationStep ; rdfs:label "Load" ;
    checkin:stepDescription "load" ; checkin:stepOrder 1 .
`

func orders(t *testing.T, doc *graph.Document, root string) map[string]int {
	t.Helper()
	out := make(map[string]int)
	for _, s := range plan.Load(doc, graph.IRI(root)).Steps {
		require.True(t, s.ValidOrder, "step %s", s.Node.Value)
		out[s.Label] = s.Order
	}
	return out
}

func TestFix_RenumbersDuplicateOrders(t *testing.T) {
	v := plan.NewValidator()
	doc := parse(t, duplicateOrderPlan)
	require.Len(t, byConstraint(v.Validate(doc), plan.ConstraintUniqueOrder), 1)

	fixed, fixes := v.Fix(doc)
	require.NotEmpty(t, fixes)
	assert.True(t, v.Validate(fixed).Passed())

	got := orders(t, fixed, "http://example.org/plans/p")
	values := []int{got["Parse"], got["Load"]}
	sort.Ints(values)
	assert.Equal(t, []int{1, 2}, values)
	assert.Equal(t, map[string]int{"Load": 1, "Parse": 2}, got, "ties break on label")

	// The input document is untouched.
	assert.Len(t, byConstraint(v.Validate(doc), plan.ConstraintUniqueOrder), 1)
}

func TestFix_FillsDefaults(t *testing.T) {
	src := `
@prefix checkin: <http://example.org/checkin#> .
<http://example.org/plans/nightly> a checkin:CheckinPlan ;
    checkin:hasStep <http://example.org/plans/build> , <http://example.org/plans/test> .
<http://example.org/plans/build> <http://www.w3.org/2000/01/rdf-schema#label> "Build" .
<http://example.org/plans/test> checkin:stepOrder 1 .
`
	v := plan.NewValidator()
	doc := parse(t, src)
	fixed, fixes := v.Fix(doc)

	r := v.Validate(fixed)
	assert.True(t, r.Passed(), "%v", r.Violations)

	kinds := make(map[plan.FixKind]int)
	for _, f := range fixes {
		kinds[f.Kind]++
	}
	assert.Equal(t, len(checkin.FixPrefixes)-1, kinds[plan.FixPrefix], "checkin was already bound")
	assert.Equal(t, 1, kinds[plan.FixRootType])
	assert.Equal(t, 1, kinds[plan.FixPlanLabel])
	assert.Equal(t, 1, kinds[plan.FixPlanComment])
	assert.Equal(t, 1, kinds[plan.FixPlanVersion])
	assert.Equal(t, 2, kinds[plan.FixStepType])
	assert.Equal(t, 1, kinds[plan.FixStepLabel])
	assert.Equal(t, 2, kinds[plan.FixStepDescription])
	assert.Equal(t, 1, kinds[plan.FixStepOrder])

	root := graph.IRI("http://example.org/plans/nightly")
	comment, ok := fixed.Object(root, graph.IRI(graph.RDFSComment))
	require.True(t, ok)
	assert.Equal(t, "Check-in plan for nightly", comment.Value)
	version, _ := fixed.Object(root, graph.IRI(graph.OWLVersionInfo))
	assert.Equal(t, plan.DefaultVersion, version.Value)

	desc, _ := fixed.Object(graph.IRI("http://example.org/plans/test"), graph.IRI(checkin.StepDescription))
	assert.Equal(t, "Step test", desc.Value)

	// build had no order; position 1 collides with test's explicit 1.
	got := orders(t, fixed, root.Value)
	assert.ElementsMatch(t, []int{1, 2}, []int{got["Build"], got["test"]})
}

func TestFix_LeavesUnfixableAlone(t *testing.T) {
	src := prefixes + `
ex:p a guidance:IntegrationProcess , checkin:CheckinPlan ;
    rdfs:label "P" ; rdfs:comment "c" ; owl:versionInfo "1" ;
    checkin:hasStep ex:a , ex:b .
ex:a a checkin:IntegrationStep ; rdfs:label "A" ; checkin:stepDescription "a" ;
    checkin:stepOrder 1 ; checkin:dependsOn ex:b .
ex:b a checkin:IntegrationStep ; rdfs:label "B" ; checkin:stepDescription "b" ;
    checkin:stepOrder "two" ; checkin:dependsOn ex:a .
`
	v := plan.NewValidator()
	fixed, fixes := v.Fix(parse(t, src))
	assert.Empty(t, fixes)

	r := v.Validate(fixed)
	assert.Len(t, byConstraint(r, plan.ConstraintAcyclic), 1)
	assert.Len(t, byConstraint(r, plan.ConstraintIntegerOrder), 1)
}

func writePlan(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestFixFile_WritesBackupFirst(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	v := plan.NewValidator(plan.WithMetrics(m))
	path := writePlan(t, t.TempDir(), "plan.ttl", duplicateOrderPlan)

	res, err := v.FixFile(path)
	require.NoError(t, err)
	assert.Equal(t, path+plan.DefaultBackupSuffix, res.BackupPath)
	assert.False(t, res.Before.Passed())
	assert.True(t, res.After.Passed())

	backup, err := os.ReadFile(res.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, duplicateOrderPlan, string(backup))

	reparsed, err := graph.ParseFile(path)
	require.NoError(t, err)
	assert.True(t, v.Validate(reparsed).Passed(), "written plan keeps required prefixes")
	got := orders(t, reparsed, "http://example.org/plans/p")
	assert.Equal(t, map[string]int{"Load": 1, "Parse": 2}, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temporary files left behind")
}

func TestFixFile_NothingToFix(t *testing.T) {
	dir := t.TempDir()
	path := writePlan(t, dir, "plan.ttl", validPlan)

	res, err := plan.NewValidator(plan.WithBackupSuffix(".orig")).FixFile(path)
	require.NoError(t, err)
	assert.Empty(t, res.Fixes)
	assert.Empty(t, res.BackupPath)
	assert.NoFileExists(t, path+".orig")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, validPlan, string(data))
}

func TestFixFile_ParseErrorMutatesNothing(t *testing.T) {
	path := writePlan(t, t.TempDir(), "broken.ttl", "ex:a ex:b")
	_, err := plan.FixFile(path)
	require.Error(t, err)
	assert.True(t, graph.IsParseError(err))
	assert.NoFileExists(t, path+plan.DefaultBackupSuffix)
}

func TestValidateFile_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	v := plan.NewValidator(plan.WithMetrics(m))
	dir := t.TempDir()

	_, err = v.ValidateFile(writePlan(t, dir, "ok.ttl", validPlan))
	require.NoError(t, err)
	_, err = v.ValidateFile(writePlan(t, dir, "dup.ttl", duplicateOrderPlan))
	require.NoError(t, err)

	assert.Equal(t, 2, testutil.CollectAndCount(reg, "semguard_plan_files_total"))
}
