package plan

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/c360studio/semguard/export"
	"github.com/c360studio/semguard/graph"
	"github.com/c360studio/semguard/validation"
)

// File results recorded in metrics.
const (
	ResultPassed = "passed"
	ResultFailed = "failed"
	ResultFixed  = "fixed"
	ResultError  = "error"
)

// FileReport is the validation outcome for one plan file.
type FileReport struct {
	Path   string            `json:"path"`
	Report validation.Report `json:"report"`

	// Err is set when the file could not be read or parsed.
	Err error `json:"-"`
}

// Passed reports whether the file parsed and has no blocking violation.
func (r FileReport) Passed() bool { return r.Err == nil && r.Report.Passed() }

// ValidateFile parses and validates the plan at path. Parse failures are
// returned as *graph.ParseError.
func (v *Validator) ValidateFile(path string) (validation.Report, error) {
	doc, err := graph.ParseFile(path)
	if err != nil {
		v.metrics.RecordPlanFile(ResultError)
		return validation.Report{}, err
	}
	r := v.Validate(doc)
	if r.Passed() {
		v.metrics.RecordPlanFile(ResultPassed)
	} else {
		v.metrics.RecordPlanFile(ResultFailed)
	}
	return r, nil
}

// FixResult describes a FixFile run.
type FixResult struct {
	Path string `json:"path"`

	// BackupPath holds the original content; empty when nothing was fixed.
	BackupPath string `json:"backup_path,omitempty"`

	Fixes []Fix `json:"fixes"`

	// Before and After are the reports of the original and repaired plan.
	Before validation.Report `json:"before"`
	After  validation.Report `json:"after"`
}

// FixFile repairs the plan at path in place. The original bytes are written
// durably to path plus the backup suffix before the plan is replaced, and the
// replacement is an atomic rename, so path holds either the old or the new
// content on every exit path. When no fix applies the file is left
// untouched and no backup is written.
func (v *Validator) FixFile(path string) (FixResult, error) {
	res := FixResult{Path: path}

	original, err := os.ReadFile(path)
	if err != nil {
		v.metrics.RecordPlanFile(ResultError)
		return res, fmt.Errorf("read plan %s: %w", path, err)
	}
	doc, err := graph.ParseFile(path)
	if err != nil {
		v.metrics.RecordPlanFile(ResultError)
		return res, err
	}

	res.Before = v.Validate(doc)
	fixed, fixes := v.Fix(doc)
	res.Fixes = fixes
	res.After = v.Validate(fixed)
	if len(fixes) == 0 {
		v.recordFixResult(res)
		return res, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		v.metrics.RecordPlanFile(ResultError)
		return res, fmt.Errorf("stat plan %s: %w", path, err)
	}

	backup := path + v.backupSuffix
	if err := writeDurable(backup, original, info.Mode().Perm()); err != nil {
		v.metrics.RecordPlanFile(ResultError)
		return res, fmt.Errorf("back up plan %s: %w", path, err)
	}
	res.BackupPath = backup

	data, err := export.Serialize(fixed, export.FormatTurtle)
	if err != nil {
		v.metrics.RecordPlanFile(ResultError)
		return res, fmt.Errorf("serialize plan %s: %w", path, err)
	}
	if err := writeDurable(path, []byte(data), info.Mode().Perm()); err != nil {
		v.metrics.RecordPlanFile(ResultError)
		return res, fmt.Errorf("write plan %s: %w", path, err)
	}

	v.logger.Info("Plan fixed", "path", path, "fixes", len(fixes), "backup", backup,
		"remaining_blocking", len(res.After.Blocking()))
	v.recordFixResult(res)
	return res, nil
}

func (v *Validator) recordFixResult(res FixResult) {
	switch {
	case !res.After.Passed():
		v.metrics.RecordPlanFile(ResultFailed)
	case len(res.Fixes) > 0:
		v.metrics.RecordPlanFile(ResultFixed)
	default:
		v.metrics.RecordPlanFile(ResultPassed)
	}
}

// FixFile repairs the plan at path with a default Validator.
func FixFile(path string) (FixResult, error) {
	return NewValidator().FixFile(path)
}

// writeDurable replaces path with data through a synced temporary file in
// the same directory and an atomic rename. The directory is synced after the
// rename so the new entry survives a crash.
func writeDurable(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}

	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	// Some filesystems reject directory sync; the rename already happened.
	_ = d.Sync()
	return nil
}
