package manifest

import (
	"path/filepath"
	"testing"
	"time"

	"alphahistory/internal/models"
)

func TestVerifyPartitionMetadataMissing(t *testing.T) {
	dir := t.TempDir()
	rep, err := VerifyPartition(filepath.Join(dir, "meta.json"), dir, nil)
	if err != nil {
		t.Fatalf("VerifyPartition: %v", err)
	}
	if rep.Status != StatusMetadataMissing {
		t.Fatalf("expected METADATA_MISSING, got %v", rep.Status)
	}
}

func TestVerifyPartitionValid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chain_2024-03-07.col", "content")
	entry, err := RecordEntry(dir, "chain_2024-03-07.col", "SPX", "2024-03-07", 3, time.Now())
	if err != nil {
		t.Fatalf("RecordEntry: %v", err)
	}
	manifestPath := filepath.Join(dir, "meta.json")
	if err := Save(manifestPath, models.PartitionManifest{"chain_2024-03-07.col": entry}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rep, err := VerifyPartition(manifestPath, dir, func(string) (int64, error) { return 3, nil })
	if err != nil {
		t.Fatalf("VerifyPartition: %v", err)
	}
	if rep.Status != StatusValid {
		t.Fatalf("expected VALID, got %v (%+v)", rep.Status, rep)
	}
	if rep.VerifiedFiles != 1 || rep.TotalFiles != 1 {
		t.Fatalf("unexpected counts: %+v", rep)
	}
}

// TestVerifyPartitionCorruptedSingleFile mirrors spec scenario 6: flip one
// byte in a tracked file and confirm it alone lands in CorruptedFiles.
func TestVerifyPartitionCorruptedSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chain_2024-03-07.col", "original content")
	writeFile(t, dir, "bars_1m.db", "bar bytes")

	chainEntry, err := RecordEntry(dir, "chain_2024-03-07.col", "SPX", "2024-03-07", 3, time.Now())
	if err != nil {
		t.Fatalf("RecordEntry chain: %v", err)
	}
	barEntry, err := RecordEntry(dir, "bars_1m.db", "SPX", "2024-03-07", 390, time.Now())
	if err != nil {
		t.Fatalf("RecordEntry bars: %v", err)
	}

	manifestPath := filepath.Join(dir, "meta.json")
	m := models.PartitionManifest{
		"chain_2024-03-07.col": chainEntry,
		"bars_1m.db":            barEntry,
	}
	if err := Save(manifestPath, m); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Flip a byte in the chain file after hashing.
	writeFile(t, dir, "chain_2024-03-07.col", "priginal content")

	rep, err := VerifyPartition(manifestPath, dir, nil)
	if err != nil {
		t.Fatalf("VerifyPartition: %v", err)
	}
	if rep.Status != StatusCorrupted {
		t.Fatalf("expected CORRUPTED, got %v", rep.Status)
	}
	if len(rep.CorruptedFiles) != 1 || rep.CorruptedFiles[0] != "chain_2024-03-07.col" {
		t.Fatalf("expected exactly chain file corrupted, got %v", rep.CorruptedFiles)
	}
	if len(rep.MissingFiles) != 0 {
		t.Fatalf("expected no missing files, got %v", rep.MissingFiles)
	}
	if rep.VerifiedFiles != rep.TotalFiles-1 {
		t.Fatalf("expected verifiedFiles = totalFiles-1, got %d/%d", rep.VerifiedFiles, rep.TotalFiles)
	}
}

func TestValidateSessionDowngradesOnLowRatio(t *testing.T) {
	files := VerifyReport{Status: StatusValid, VerifiedFiles: 2, TotalFiles: 2}

	valid := ValidateSession(files, 390, 380)
	if valid.Status != SessionValid {
		t.Fatalf("expected VALID at ratio %.3f, got %v", valid.MinuteBarRatio, valid.Status)
	}

	incomplete := ValidateSession(files, 390, 330)
	if incomplete.Status != SessionIncomplete {
		t.Fatalf("expected INCOMPLETE at ratio %.3f, got %v", incomplete.MinuteBarRatio, incomplete.Status)
	}

	corrupted := ValidateSession(files, 390, 200)
	if corrupted.Status != SessionCorrupted {
		t.Fatalf("expected CORRUPTED at ratio %.3f, got %v", corrupted.MinuteBarRatio, corrupted.Status)
	}
}

func TestValidateSessionCorruptedFilesDominate(t *testing.T) {
	files := VerifyReport{Status: StatusCorrupted, CorruptedFiles: []string{"chain_2024-03-07.col"}}
	rep := ValidateSession(files, 390, 390)
	if rep.Status != SessionCorrupted {
		t.Fatalf("expected file corruption to force CORRUPTED regardless of bar ratio, got %v", rep.Status)
	}
}

func TestValidateSessionMetadataMissingIsIncomplete(t *testing.T) {
	files := VerifyReport{Status: StatusMetadataMissing}
	rep := ValidateSession(files, 390, 390)
	if rep.Status != SessionIncomplete {
		t.Fatalf("expected INCOMPLETE when metadata missing, got %v", rep.Status)
	}
}
