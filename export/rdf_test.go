package export_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/c360studio/semguard/export"
	"github.com/c360studio/semguard/graph"
)

const sample = `
@prefix ex: <http://example.org/> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
ex:Widget a rdfs:Class ;
    rdfs:label "Widget \"W\"" , "Gerät"@de ;
    ex:count 3 ;
    ex:owner [ ex:name "Ann" ] .
`

func TestExportTurtle(t *testing.T) {
	doc, err := graph.ParseString(sample, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	output, err := export.Serialize(doc, export.FormatTurtle)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	for _, want := range []string{
		"@prefix ex: <http://example.org/> .",
		"@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .",
		"ex:Widget\n    a rdfs:Class ;",
		`"Widget \"W\""`,
		`"Gerät"@de`,
		"ex:count 3 ;",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Turtle output missing %q:\n%s", want, output)
		}
	}
	if strings.Contains(output, "@prefix owl:") {
		t.Error("unused default prefixes should not be declared")
	}
}

func TestExportTurtle_RoundTrip(t *testing.T) {
	doc, err := graph.ParseString(sample, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	output, err := export.Serialize(doc, export.FormatTurtle)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	again, err := graph.ParseString(output, "")
	if err != nil {
		t.Fatalf("re-parse failed: %v\n%s", err, output)
	}
	if again.Len() != doc.Len() {
		t.Errorf("round trip changed statement count: %d -> %d", doc.Len(), again.Len())
	}

	second, _ := export.Serialize(again, export.FormatTurtle)
	if second != output {
		t.Errorf("serialization is not stable:\n%s\n---\n%s", output, second)
	}
}

func TestExportNTriples(t *testing.T) {
	doc := graph.NewDocument()
	doc.Add(graph.IRI("http://e/s"), graph.IRI("http://e/p"), graph.IntegerLiteral(7))
	doc.Add(graph.IRI("http://e/a"), graph.IRI("http://e/p"), graph.Literal("line\nbreak"))

	output, err := export.Serialize(doc, export.FormatNTriples)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != `<http://e/a> <http://e/p> "line\nbreak" .` {
		t.Errorf("unexpected first line: %s", lines[0])
	}
	if lines[1] != `<http://e/s> <http://e/p> "7"^^<http://www.w3.org/2001/XMLSchema#integer> .` {
		t.Errorf("unexpected second line: %s", lines[1])
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	_, err := export.Serialize(graph.NewDocument(), export.Format("rdfxml"))
	if err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestWriteFile(t *testing.T) {
	doc := graph.NewDocument()
	doc.Add(graph.IRI("http://e/s"), graph.IRI("http://e/p"), graph.Literal("v"))

	path := filepath.Join(t.TempDir(), "out.nt")
	if err := export.WriteFile(path, doc); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "<http://e/s> <http://e/p> \"v\" .\n" {
		t.Errorf("unexpected file content: %q", data)
	}
}

func TestFormatForPath(t *testing.T) {
	tests := map[string]export.Format{
		"a.ttl": export.FormatTurtle,
		"a.NT":  export.FormatNTriples,
		"a.owl": export.FormatTurtle,
		"plan":  export.FormatTurtle,
	}
	for path, want := range tests {
		if got := export.FormatForPath(path); got != want {
			t.Errorf("FormatForPath(%q) = %s, want %s", path, got, want)
		}
	}
}

func TestExportTurtle_KeepsBoundPrefixes(t *testing.T) {
	doc, err := graph.ParseString(`
@prefix xsd: <http://www.w3.org/2001/XMLSchema#> .
@prefix ex: <http://example.org/> .
ex:a ex:b ex:c .
`, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	output, err := export.Serialize(doc, export.FormatTurtle)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if !strings.Contains(output, "@prefix xsd: <http://www.w3.org/2001/XMLSchema#> .") {
		t.Errorf("prefix bound by the document was dropped:\n%s", output)
	}
}
