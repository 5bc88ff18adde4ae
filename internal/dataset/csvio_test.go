package dataset

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

var testPaths = SplitPaths{
	Train: "/out/train_set.csv",
	Val:   "/out/val_set.csv",
	Test:  "/out/test_set.csv",
}

func TestWriteSplits_Overwrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Split(makeSamples(30, 20), 0.2, 0.2, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if _, err := WriteSplits(fs, testPaths, s, false); err != nil {
		t.Fatalf("WriteSplits: %v", err)
	}
	// second run without append replaces the files
	if _, err := WriteSplits(fs, testPaths, s, false); err != nil {
		t.Fatalf("WriteSplits: %v", err)
	}

	data, err := afero.ReadFile(fs, testPaths.Train)
	if err != nil {
		t.Fatal(err)
	}
	header := strings.SplitN(string(data), "\n", 2)[0]
	if header != "index,filename,label,label_str" {
		t.Errorf("header = %q", header)
	}

	train, err := ReadCSV(fs, testPaths.Train, false)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(train) != len(s.Train) {
		t.Fatalf("train rows %d, want %d", len(train), len(s.Train))
	}
	for i, row := range train {
		if row.Index != i || row.Filename != s.Train[i].Filename || row.LabelStr != LabelString(row.Label) {
			t.Fatalf("row %d = %+v, want filename %s", i, row, s.Train[i].Filename)
		}
	}
	if exists, _ := afero.Exists(fs, testPaths.Train+".tmp"); exists {
		t.Error("temp file left behind")
	}
}

func TestWriteSplits_AppendAddsRows(t *testing.T) {
	fs := afero.NewMemMapFs()
	first, err := Split(makeSamples(30, 20), 0.2, 0.2, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if _, err := WriteSplits(fs, testPaths, first, false); err != nil {
		t.Fatalf("WriteSplits: %v", err)
	}

	extra := makeSamples(0, 0, 15, 15)
	second, err := Split(extra, 0.2, 0.2, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	written, err := WriteSplits(fs, testPaths, second, true)
	if err != nil {
		t.Fatalf("WriteSplits append: %v", err)
	}

	before := first.Named()
	added := second.Named()
	for i, part := range written.Named() {
		onDisk, err := ReadCSV(fs, []string{testPaths.Train, testPaths.Val, testPaths.Test}[i], false)
		if err != nil {
			t.Fatalf("ReadCSV %s: %v", part.Name, err)
		}
		want := len(before[i].Samples) + len(added[i].Samples)
		if len(onDisk) != want || len(part.Samples) != want {
			t.Errorf("%s: %d rows on disk, %d returned, want %d", part.Name, len(onDisk), len(part.Samples), want)
		}
		if onDisk[0].Filename != before[i].Samples[0].Filename {
			t.Errorf("%s: existing rows must stay first", part.Name)
		}
	}
}

func TestWriteSplits_AppendToMissingFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := Splits{
		Train: makeSamples(2),
		Val:   makeSamples(1),
		Test:  makeSamples(1),
	}
	written, err := WriteSplits(fs, testPaths, s, true)
	if err != nil {
		t.Fatalf("WriteSplits: %v", err)
	}
	if written.Len() != 4 {
		t.Errorf("written %d rows, want 4", written.Len())
	}
}

func TestWriteSplits_BadExistingFileWritesNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	original := "index,filename,label,label_str\n0,a.jpg,0,non-COVID-19\n"
	if err := afero.WriteFile(fs, testPaths.Train, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, testPaths.Val, []byte("index,filename,label,label_str\n0,b.jpg,notanint,x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := Splits{Train: makeSamples(2), Val: makeSamples(1), Test: makeSamples(1)}
	if _, err := WriteSplits(fs, testPaths, s, true); err == nil {
		t.Fatal("expected parse error for malformed val CSV")
	}
	data, err := afero.ReadFile(fs, testPaths.Train)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(original, string(data)); diff != "" {
		t.Errorf("train CSV changed (-want +got):\n%s", diff)
	}
	if exists, _ := afero.Exists(fs, testPaths.Test); exists {
		t.Error("test CSV must not be written")
	}
}

func TestReadCSV_PandasIndexColumn(t *testing.T) {
	fs := afero.NewMemMapFs()
	body := ",filename,label,label_str\n0,x.jpg,1,COVID-19\n1,y.jpg,0,non-COVID-19\n"
	if err := afero.WriteFile(fs, "/p.csv", []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	rows, err := ReadCSV(fs, "/p.csv", false)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	want := []Sample{
		{Filename: "x.jpg", Label: 1, LabelStr: "COVID-19"},
		{Filename: "y.jpg", Label: 0, LabelStr: "non-COVID-19"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows (-want +got):\n%s", diff)
	}
}

func TestWriteSplits_AppendKeepsPandasIndexHeader(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths := SplitPaths{Train: "/out/train.csv", Val: "/out/val.csv", Test: "/out/test.csv"}
	pandas := ",filename,label,label_str\n0,x.jpg,1,COVID-19\n"
	for _, p := range []string{paths.Train, paths.Val} {
		if err := afero.WriteFile(fs, p, []byte(pandas), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s := Splits{
		Train: []Sample{{Filename: "a.jpg", Label: 0, LabelStr: LabelNonCOVID}},
		Val:   []Sample{{Filename: "b.jpg", Label: 1, LabelStr: LabelCOVID}},
		Test:  []Sample{{Filename: "c.jpg", Label: 0, LabelStr: LabelNonCOVID}},
	}
	if _, err := WriteSplits(fs, paths, s, true); err != nil {
		t.Fatalf("WriteSplits: %v", err)
	}

	got, err := afero.ReadFile(fs, paths.Train)
	if err != nil {
		t.Fatal(err)
	}
	want := ",filename,label,label_str\n0,x.jpg,1,COVID-19\n1,a.jpg,0,non-COVID-19\n"
	if diff := cmp.Diff(want, string(got)); diff != "" {
		t.Errorf("train body (-want +got):\n%s", diff)
	}
	rows, err := ReadCSV(fs, paths.Val, false)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != 2 || rows[1].Filename != "b.jpg" {
		t.Errorf("val rows = %+v", rows)
	}

	// a file this tool created keeps the named column
	test, err := afero.ReadFile(fs, paths.Test)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(test), "index,filename,label,label_str\n") {
		t.Errorf("test header = %q", test)
	}
}
