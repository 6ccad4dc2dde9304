package grader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kth-id2202/autograder/pkg/executor"
)

// mimetype shells out to `file -b --mime <path>` and returns just the media
// type, discarding the trailing charset clause (e.g. "text/plain; charset=us-ascii"
// becomes "text/plain").
func mimetype(ctx context.Context, path string) (string, error) {
	code := 0
	res, err := executor.Run(ctx, []string{"file", "-b", "--mime", path}, executor.Options{
		Timeout:      10 * time.Second,
		ExpectedCode: &code,
		MaxStdout:    4096,
		MaxStderr:    4096,
	})
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(res.Stdout))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.TrimSuffix(fields[0], ";"), nil
}

// scanProhibitedFiles recursively walks root, returning the root-relative
// paths of every file whose MIME type is neither text/* nor explicitly
// allowed by mimetype prefix or exact path.
func scanProhibitedFiles(ctx context.Context, root string, allowedFiles, allowedMimePrefixes []string) ([]string, error) {
	allowedSet := make(map[string]bool, len(allowedFiles))
	for _, f := range allowedFiles {
		allowedSet[filepath.Clean(f)] = true
	}

	var prohibited []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if allowedSet[filepath.Clean(rel)] {
			return nil
		}

		mt, err := mimetype(ctx, path)
		if err != nil {
			return err
		}
		if strings.HasPrefix(mt, "text/") {
			return nil
		}
		for _, prefix := range allowedMimePrefixes {
			if strings.HasPrefix(mt, prefix) {
				return nil
			}
		}
		prohibited = append(prohibited, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prohibited, nil
}
