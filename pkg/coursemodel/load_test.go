package coursemodel

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleSpec = `
name: intro-to-go
output_targets:
  - name: public
    output_root: output/public
    languages: [en]
    formats: [html, notebook]
    kinds: [code-along, completed]
sections:
  - name: basics
    topics:
      - name: variables
        files:
          - path: topics/basics/01_vars.ipynb
            kind: notebook
            prog_lang: go
            execution_stage: 0
          - path: topics/basics/overview.puml
            kind: diagram
            diagram_format: plantuml
            execution_stage: 0
          - path: topics/basics/logo.png
            kind: asset
            execution_stage: 0
`

func TestLoadParsesSampleSpec(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "course.yaml")
	if err := os.WriteFile(path, []byte(sampleSpec), 0o644); err != nil {
		t.Fatal(err)
	}

	course, targets, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if course.Name != "intro-to-go" {
		t.Errorf("Name = %q", course.Name)
	}
	files := course.Files()
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}
	if files[0].Kind != FileKindNotebook || files[0].ProgLang != "go" {
		t.Errorf("file 0 = %+v", files[0])
	}
	if files[1].Kind != FileKindDiagram || files[1].DiagramFormat != DiagramFormatPlantUML {
		t.Errorf("file 1 = %+v", files[1])
	}
	if files[2].Kind != FileKindAsset {
		t.Errorf("file 2 = %+v", files[2])
	}

	if len(targets) != 1 || targets[0].Name != "public" {
		t.Fatalf("targets = %+v", targets)
	}
}

func TestLoadRejectsUnknownFileKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "course.yaml")
	bad := "name: x\nsections:\n  - name: s\n    topics:\n      - name: t\n        files:\n          - path: a\n            kind: bogus\n"
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown file kind")
	}
}
