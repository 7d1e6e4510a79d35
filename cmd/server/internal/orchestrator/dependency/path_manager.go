package dependency

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathManager lays out the data volume:
//
//	{base}/uploads/{jobID}{ext}                 original upload
//	{base}/work/{jobID}/seg_00000.wav           extracted slice
//	{base}/work/{jobID}/seg_00000_stretched.wav tempo-adjusted slice
//	{base}/work/{jobID}/concat_list.txt         concatenation manifest
//	{base}/outputs/{jobID}_normalized.{ext}     final output
//
// The work directory belongs to a single adjust run and is removed when it ends.
type PathManager struct {
	baseDir string
}

// NewPathManager creates a PathManager rooted at baseDir.
func NewPathManager(baseDir string) *PathManager {
	return &PathManager{baseDir: baseDir}
}

// BaseDir returns the data root.
func (pm *PathManager) BaseDir() string { return pm.baseDir }

func (pm *PathManager) UploadsDir() string { return filepath.Join(pm.baseDir, "uploads") }
func (pm *PathManager) OutputsDir() string { return filepath.Join(pm.baseDir, "outputs") }
func (pm *PathManager) WorkRoot() string   { return filepath.Join(pm.baseDir, "work") }

// UploadPath ext includes the dot, e.g. ".mp3".
func (pm *PathManager) UploadPath(jobID, ext string) string {
	return filepath.Join(pm.UploadsDir(), jobID+strings.ToLower(ext))
}

// OutputPath ext excludes the dot, e.g. "mp3".
func (pm *PathManager) OutputPath(jobID, ext string) string {
	return filepath.Join(pm.OutputsDir(), fmt.Sprintf("%s_normalized.%s", jobID, ext))
}

// JobWorkDir is the per-job scratch directory.
func (pm *PathManager) JobWorkDir(jobID string) string {
	return filepath.Join(pm.WorkRoot(), jobID)
}

// SegmentBasename fixed-width index keeps names collision-free and sortable.
// Example: SegmentBasename(7) -> "seg_00007"
func (pm *PathManager) SegmentBasename(index int) string {
	return fmt.Sprintf("seg_%05d", index)
}

func (pm *PathManager) SegmentPath(workDir string, index int) string {
	return filepath.Join(workDir, pm.SegmentBasename(index)+".wav")
}

func (pm *PathManager) StretchedSegmentPath(workDir string, index int) string {
	return filepath.Join(workDir, pm.SegmentBasename(index)+"_stretched.wav")
}

func (pm *PathManager) ManifestPath(workDir string) string {
	return filepath.Join(workDir, "concat_list.txt")
}

// EnsureLayout creates uploads, outputs and work directories.
func (pm *PathManager) EnsureLayout() error {
	for _, dir := range []string{pm.UploadsDir(), pm.OutputsDir(), pm.WorkRoot()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// ResetJobWorkDir removes whatever a previous, interrupted run left and
// creates an empty work directory.
func (pm *PathManager) ResetJobWorkDir(jobID string) (string, error) {
	dir := pm.JobWorkDir(jobID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clear work directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	return dir, nil
}

// RemoveJobWorkDir deletes the job's work directory and everything in it.
func (pm *PathManager) RemoveJobWorkDir(jobID string) error {
	return os.RemoveAll(pm.JobWorkDir(jobID))
}

// ValidatePath checks that path is inside the data root, is not a symlink and
// does not reach into system directories.
func (pm *PathManager) ValidatePath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path contains dangerous characters '..'")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absBase, err := filepath.Abs(pm.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %s is outside shared volume (%s)", path, pm.baseDir)
	}

	for _, prefix := range forbiddenPrefixes {
		if absPath == prefix || strings.HasPrefix(absPath, prefix+"/") {
			return fmt.Errorf("access to system directory %s is forbidden", prefix)
		}
	}

	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("symbolic links are not allowed")
	}
	return nil
}
