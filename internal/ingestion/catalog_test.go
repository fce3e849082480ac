package ingestion

import "testing"

func TestInferSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		srcName  string
		label    string
		strategy Strategy
	}{
		{
			name:     "constitution",
			path:     "data/constitution.txt",
			srcName:  "constitution",
			label:    "Constitution of the Federal Republic of Nigeria 1999",
			strategy: StrategySection,
		},
		{
			name:     "labour act pdf",
			path:     "/laws/Labour_Act.pdf",
			srcName:  "labour_act",
			label:    "Labour Act",
			strategy: StrategySection,
		},
		{
			name:     "criminal code is numbered",
			path:     "criminal-code.txt",
			srcName:  "criminal_code",
			label:    "Criminal Code Act",
			strategy: StrategyNumbered,
		},
		{
			name:     "police act",
			path:     "police_act_2020.txt",
			srcName:  "police_act",
			label:    "Police Act 2020",
			strategy: StrategySection,
		},
		{
			name:     "unknown document falls back to file name",
			path:     "land_use-act.txt",
			srcName:  "land_use_act",
			label:    "Land Use Act",
			strategy: StrategySection,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := InferSource(tc.path)
			if got.Path != tc.path {
				t.Errorf("path: want %q, got %q", tc.path, got.Path)
			}
			if got.Name != tc.srcName {
				t.Errorf("name: want %q, got %q", tc.srcName, got.Name)
			}
			if got.Label != tc.label {
				t.Errorf("label: want %q, got %q", tc.label, got.Label)
			}
			if got.Strategy != tc.strategy {
				t.Errorf("strategy: want %q, got %q", tc.strategy, got.Strategy)
			}
		})
	}
}

func TestParseSources(t *testing.T) {
	t.Parallel()

	got, err := ParseSources(" constitution.txt , laws/tax.txt=numbered:Personal Income Tax Act,labour.pdf=:Labour Act 2004,")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 sources, got %d", len(got))
	}

	if got[0].Path != "constitution.txt" || got[0].Name != "constitution" {
		t.Errorf("source 0: got %+v", got[0])
	}
	if got[1].Strategy != StrategyNumbered || got[1].Label != "Personal Income Tax Act" || got[1].Name != "tax" {
		t.Errorf("source 1: got %+v", got[1])
	}
	if got[2].Strategy != StrategySection || got[2].Label != "Labour Act 2004" {
		t.Errorf("source 2: got %+v", got[2])
	}
}

func TestParseSources_Errors(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{"law.txt=chapters", "=section:Label"} {
		if _, err := ParseSources(spec); err == nil {
			t.Errorf("ParseSources(%q): expected error", spec)
		}
	}

	got, err := ParseSources("")
	if err != nil || len(got) != 0 {
		t.Errorf("empty spec: want no sources, got %v, %v", got, err)
	}
}

func TestUniqueNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "distinct", in: []string{"constitution", "labour_act"}, want: []string{"constitution", "labour_act"}},
		{name: "duplicate", in: []string{"criminal_code", "criminal_code"}, want: []string{"criminal_code", "criminal_code_2"}},
		{name: "triple", in: []string{"act", "act", "act"}, want: []string{"act", "act_2", "act_3"}},
		{name: "suffix already taken", in: []string{"act", "act", "act_2"}, want: []string{"act", "act_3", "act_2"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			in := make([]Source, len(tc.in))
			for i, n := range tc.in {
				in[i] = Source{Name: n}
			}
			got := UniqueNames(in)
			for i, w := range tc.want {
				if got[i].Name != w {
					t.Errorf("source %d: got %q, want %q", i, got[i].Name, w)
				}
			}
			if in[1].Name != tc.in[1] {
				t.Error("input slice was modified")
			}
		})
	}
}

func TestParseSources_CatalogCollisionsGetDistinctNames(t *testing.T) {
	t.Parallel()

	got, err := ParseSources("criminal_code.txt,criminal_code_amendment.txt,constitution.txt,laws/constitution.pdf")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"criminal_code", "criminal_code_2", "constitution", "constitution_2"}
	for i, w := range want {
		if got[i].Name != w {
			t.Errorf("source %d (%s): name %q, want %q", i, got[i].Path, got[i].Name, w)
		}
	}
}
