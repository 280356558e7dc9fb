package version

import (
	"strconv"
	"strings"
	"time"

	"github.com/p-blackswan/codevault/internal/history"
)

// DefaultWindow is the gap above which consecutive commits start a new version.
const DefaultWindow = 2 * time.Minute

// Group partitions commits, oldest first, into version groups.
//
// A leading initial commit is always a group of its own. After it, a commit
// joins the current group unless its gap to the previous commit is strictly
// greater than window.
func Group(commits []*history.Commit, window time.Duration) [][]*history.Commit {
	if len(commits) == 0 {
		return nil
	}

	var groups [][]*history.Commit
	rest := commits
	if rest[0].Type == history.CommitInitial {
		groups = append(groups, rest[:1:1])
		rest = rest[1:]
	}

	limit := window.Milliseconds()
	var current []*history.Commit
	for i, c := range rest {
		if i > 0 && c.CreatedAt-rest[i-1].CreatedAt > limit {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, c)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// Label formats a version number for display.
func Label(n int) string {
	return "v" + strconv.Itoa(n)
}

// ParseLabel accepts "v3", "V3" or "3" and returns the version number.
func ParseLabel(label string) (int, bool) {
	s := strings.TrimSpace(label)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "v"), "V")
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
