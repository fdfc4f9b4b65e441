// Package layout derives the deterministic on-disk partition paths.
//
// Every path is a pure function of (root, symbol, session date); nothing
// here performs I/O. The root is supplied at construction, replacing the
// teacher's ambient config.DefaultConfigDir() pattern per spec.md §9
// redesign note 1 — there is no package-level default path anywhere in
// this package.
package layout

import (
	"fmt"
	"path/filepath"
	"strings"

	"alphahistory/internal/models"
	"alphahistory/internal/xerrors"
)

const (
	partitionSegment = "alpha"
	barFileName      = "bars_1m.db"
	manifestFileName = "meta.json"
)

// Layout derives partition paths rooted at Root, restricted to a fixed
// symbol Vocabulary.
type Layout struct {
	Root       string
	Vocabulary map[models.Symbol]struct{}
}

// New constructs a Layout. If vocabulary is empty, models.DefaultVocabulary
// is used.
func New(root string, vocabulary []models.Symbol) *Layout {
	if len(vocabulary) == 0 {
		vocabulary = models.DefaultVocabulary
	}
	vocab := make(map[models.Symbol]struct{}, len(vocabulary))
	for _, s := range vocabulary {
		vocab[s] = struct{}{}
	}
	return &Layout{Root: root, Vocabulary: vocab}
}

// ValidateSymbol rejects invalid or out-of-vocabulary symbols before any
// I/O is attempted, per spec.md §4.2.
func (l *Layout) ValidateSymbol(symbol models.Symbol) error {
	if !symbol.Valid() {
		return xerrors.InvalidArgument("invalid symbol shape: %q", symbol)
	}
	if _, ok := l.Vocabulary[symbol]; !ok {
		return xerrors.InvalidArgument("symbol %q is not in the configured vocabulary", symbol)
	}
	return nil
}

// PartitionDir returns {root}/alpha/{SYMBOL}/{YYYY}/{MM}/.
func (l *Layout) PartitionDir(symbol models.Symbol, session models.SessionDate) (string, error) {
	if err := l.ValidateSymbol(symbol); err != nil {
		return "", err
	}
	return filepath.Join(
		l.Root,
		partitionSegment,
		strings.ToUpper(string(symbol)),
		fmt.Sprintf("%04d", session.Year()),
		fmt.Sprintf("%02d", int(session.Month())),
	), nil
}

// BarFilePath returns the path to the month's row-store bar file.
func (l *Layout) BarFilePath(symbol models.Symbol, session models.SessionDate) (string, error) {
	dir, err := l.PartitionDir(symbol, session)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, barFileName), nil
}

// ChainFilePath returns the path to the session's daily chain file.
func (l *Layout) ChainFilePath(symbol models.Symbol, session models.SessionDate) (string, error) {
	dir, err := l.PartitionDir(symbol, session)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("chain_%s.col", session.String())), nil
}

// SnapshotFilePath returns the path to the session's minute-snapshot file.
func (l *Layout) SnapshotFilePath(symbol models.Symbol, session models.SessionDate) (string, error) {
	dir, err := l.PartitionDir(symbol, session)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("snapshots_%s.col", session.String())), nil
}

// ManifestPath returns the path to the month partition's meta.json.
func (l *Layout) ManifestPath(symbol models.Symbol, session models.SessionDate) (string, error) {
	dir, err := l.PartitionDir(symbol, session)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, manifestFileName), nil
}

// SessionFileNames returns the filenames (relative to PartitionDir) that
// a fully-written session is expected to contribute to the manifest:
// the chain file and the snapshot file. The month-scoped bar file is
// tracked in the manifest too but is not session-scoped, so callers
// verifying a single session should union this with the bar file name
// separately when checking month-wide completeness.
func SessionFileNames(session models.SessionDate) []string {
	return []string{
		fmt.Sprintf("chain_%s.col", session.String()),
		fmt.Sprintf("snapshots_%s.col", session.String()),
	}
}

// BarFileName is the fixed name of the month-scoped row-store file.
func BarFileName() string { return barFileName }

// ManifestFileName is the fixed name of the manifest file.
func ManifestFileName() string { return manifestFileName }
