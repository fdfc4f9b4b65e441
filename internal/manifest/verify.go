package manifest

import (
	"sort"

	"alphahistory/internal/xerrors"
)

// Status is the outcome of verifying one partition's tracked files
// against their manifest entries (spec.md §4.5).
type Status string

const (
	StatusValid           Status = "VALID"
	StatusMetadataMissing Status = "METADATA_MISSING"
	StatusCorrupted       Status = "CORRUPTED"
)

// VerifyReport is the structured result of VerifyPartition: which
// tracked files are missing from disk, which have a content mismatch,
// and how many verified cleanly.
type VerifyReport struct {
	Status         Status
	MissingFiles   []string
	CorruptedFiles []string
	VerifiedFiles  int
	TotalFiles     int
}

// VerifyPartition checks every file the manifest at manifestPath tracks
// against dir, via Verify, then sorts the per-file results into
// missing-from-disk vs. any-other-integrity-failure (hash or, when
// countFn is given, record count). A missing manifest itself yields
// MetadataMissing rather than an error, since "no manifest yet" is a
// valid partition state (a fresh, not-yet-finalized write) distinct
// from corruption.
func VerifyPartition(manifestPath, dir string, countFn func(fileName string) (int64, error)) (VerifyReport, error) {
	m, err := Load(manifestPath)
	if err != nil {
		if xerrors.Is(err, xerrors.KindManifestMissing) {
			return VerifyReport{Status: StatusMetadataMissing}, nil
		}
		return VerifyReport{}, err
	}

	results := Verify(dir, m, countFn)
	var missing, corrupted []string
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		if r.Missing {
			missing = append(missing, r.FileName)
		} else {
			corrupted = append(corrupted, r.FileName)
		}
	}
	sort.Strings(missing)
	sort.Strings(corrupted)

	status := StatusValid
	if len(missing) > 0 || len(corrupted) > 0 {
		status = StatusCorrupted
	}

	return VerifyReport{
		Status:         status,
		MissingFiles:   missing,
		CorruptedFiles: corrupted,
		VerifiedFiles:  len(m) - len(missing) - len(corrupted),
		TotalFiles:     len(m),
	}, nil
}

// SessionStatus is the combined file-integrity + minute-bar-completeness
// verdict for one session (spec.md §4.5's status-downgrade ladder).
type SessionStatus string

const (
	SessionValid      SessionStatus = "VALID"
	SessionIncomplete SessionStatus = "INCOMPLETE"
	SessionCorrupted  SessionStatus = "CORRUPTED"
)

// SessionIntegrityReport combines a partition's file verification with
// its minute-bar completeness ratio.
type SessionIntegrityReport struct {
	Status             SessionStatus
	Files              VerifyReport
	ExpectedMinuteBars int
	ActualMinuteBars   int
	MinuteBarRatio     float64
}

// ValidateSession applies the status-downgrade ladder: any corrupted
// file, or a minute-bar ratio below 0.80, downgrades to Corrupted;
// a ratio in [0.80, 0.95) or missing metadata downgrades to Incomplete;
// otherwise the session is Valid.
func ValidateSession(files VerifyReport, expectedMinuteBars, actualMinuteBars int) SessionIntegrityReport {
	ratio := 1.0
	if expectedMinuteBars > 0 {
		ratio = float64(actualMinuteBars) / float64(expectedMinuteBars)
	}

	status := SessionValid
	switch {
	case files.Status == StatusCorrupted || ratio < 0.80:
		status = SessionCorrupted
	case ratio < 0.95 || files.Status == StatusMetadataMissing:
		status = SessionIncomplete
	}

	return SessionIntegrityReport{
		Status:             status,
		Files:              files,
		ExpectedMinuteBars: expectedMinuteBars,
		ActualMinuteBars:   actualMinuteBars,
		MinuteBarRatio:     ratio,
	}
}
