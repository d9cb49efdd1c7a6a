package dirty

import (
	"os"
	"time"

	"github.com/go-git/go-billy/v5"
)

// StatResult is the subset of file metadata the predicate needs, gathered
// via lstat (symlinks are not followed) so mode-class comparisons see the
// symlink itself, matching how the index records symlink entries.
type StatResult struct {
	Exists    bool
	IsDir     bool
	IsSymlink bool
	IsRegular bool

	Size    int64
	ModTime time.Time
	CTime   time.Time
	Dev     uint64
	Inode   uint64
}

// Lstat gathers a StatResult for path within fs. A non-existent path is
// not an error: StatResult.Exists is false.
func Lstat(fs billy.Filesystem, path string) (StatResult, error) {
	fi, err := fs.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StatResult{Exists: false}, nil
		}
		return StatResult{}, err
	}
	r := statResultFromInfo(fi)
	r.Exists = true
	return r, nil
}
