package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/multierr"

	"alphahistory/internal/models"
	"alphahistory/internal/xerrors"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.json")

	m := models.PartitionManifest{
		"bars_1m.db": {FileName: "bars_1m.db", RecordCount: 100, Sha256: "abc", Symbol: "SPX", BuildVersion: BuildVersion},
	}
	if err := Save(path, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["bars_1m.db"].RecordCount != 100 {
		t.Fatalf("got %+v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "meta.json"))
	if err == nil {
		t.Fatalf("expected error for missing manifest")
	}
	if !xerrors.Is(err, xerrors.KindManifestMissing) {
		t.Fatalf("expected KindManifestMissing, got %v", err)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.json")
	writeFile(t, dir, "meta.json", "{not valid json")

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected error for corrupt manifest")
	}
	if !xerrors.Is(err, xerrors.KindManifestCorrupt) {
		t.Fatalf("expected KindManifestCorrupt, got %v", err)
	}
}

func TestRecordEntryAndVerifySucceeds(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chain_2024-03-07.col", "hello world")

	entry, err := RecordEntry(dir, "chain_2024-03-07.col", "SPX", "2024-03-07", 3, time.Now())
	if err != nil {
		t.Fatalf("RecordEntry: %v", err)
	}
	m := models.PartitionManifest{"chain_2024-03-07.col": entry}

	results := Verify(dir, m, func(fileName string) (int64, error) { return 3, nil })
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("Verify: unexpected failure for %s: %v", r.FileName, r.Err)
		}
	}
}

func TestVerifyDetectsTamperingAndAggregatesAllViolations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chain_2024-03-07.col", "original content")
	entry, err := RecordEntry(dir, "chain_2024-03-07.col", "SPX", "2024-03-07", 5, time.Now())
	if err != nil {
		t.Fatalf("RecordEntry: %v", err)
	}

	// Tamper with the file after hashing.
	writeFile(t, dir, "chain_2024-03-07.col", "tampered content")

	m := models.PartitionManifest{
		"chain_2024-03-07.col": entry,
		"missing.col":          {FileName: "missing.col", Sha256: "whatever", RecordCount: 1},
	}

	results := Verify(dir, m, func(fileName string) (int64, error) { return 999, nil })
	verifyErr := Errors(results)
	if verifyErr == nil {
		t.Fatalf("expected verification failures")
	}
	errs := multierr.Errors(verifyErr)
	if len(errs) != 2 {
		t.Fatalf("expected 2 aggregated errors (tamper + missing), got %d: %v", len(errs), errs)
	}
	for _, e := range errs {
		if !xerrors.Is(e, xerrors.KindIntegrityViolation) {
			t.Errorf("expected KindIntegrityViolation, got %v", e)
		}
	}

	var missing, corrupted int
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		if r.Missing {
			missing++
		} else {
			corrupted++
		}
	}
	if missing != 1 || corrupted != 1 {
		t.Fatalf("expected 1 missing and 1 corrupted result, got missing=%d corrupted=%d", missing, corrupted)
	}
}
