package ignore

import (
	"fmt"
	"path/filepath"
	"strings"
)

// changeRuleBase rewrites a single gitignore-style rule so that it keeps
// the same matching meaning when it is moved from the subdirectory rel up
// to a parent base directory: the result is anchored under "/rel". Ported
// from DVC's dvc/pathspec_math.py change_rule; MergePatterns uses it when
// Build folds a nested pipeline's ignore rules into its parent across a
// sub-repository boundary.
func changeRuleBase(rule, rel string) string {
	rule = strings.TrimSpace(rule)
	if rule == "" || strings.HasPrefix(rule, "#") {
		return rule
	}

	negate := strings.HasPrefix(rule, "!")
	if negate {
		rule = rule[1:]
	}

	matchAllLevels, rule := splitMatchAllLevels(rule)
	rule = strings.TrimPrefix(rule, `\`)

	var rebased string
	if matchAllLevels {
		rebased = "/**/" + rule
	} else {
		rebased = "/" + rule
	}

	if negate {
		return fmt.Sprintf("!/%s%s", rel, rebased)
	}
	return fmt.Sprintf("/%s%s", rel, rebased)
}

// splitMatchAllLevels mirrors _match_all_level: a rule containing a "/"
// before its final segment (and not already a "**/" rule) is anchored to
// a single level; otherwise it matches at any depth.
func splitMatchAllLevels(rule string) (matchAll bool, rest string) {
	if idx := strings.Index(rule[:max(0, len(rule)-1)], "/"); idx >= 0 && !strings.HasPrefix(rule, "**/") {
		rest = strings.TrimPrefix(rule, "/")
		return false, rest
	}
	if strings.HasPrefix(rule, "**/") {
		return true, rule[3:]
	}
	return true, rule
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// MergePatterns merges two independently-rooted pattern lists into one
// list based at their longest common parent directory, as DVC does when
// a sub-repository's own ignore rules need folding into an ancestor
// workspace walk. prefixA/prefixB are "/"-separated, workspace-relative
// directories (not filesystem paths), matching how this module already
// represents directories in Trie.
func MergePatterns(prefixA string, patternsA []string, prefixB string, patternsB []string) (string, []string) {
	if len(patternsA) == 0 {
		return prefixB, patternsB
	}
	if len(patternsB) == 0 {
		return prefixA, patternsA
	}

	common := longestCommonDir(prefixA, prefixB)
	relA := relBase(common, prefixA)
	relB := relBase(common, prefixB)

	rebasedA := rebaseAll(patternsA, relA)
	rebasedB := rebaseAll(patternsB, relB)

	if len(prefixA) < len(prefixB) {
		return common, append(rebasedA, rebasedB...)
	}
	return common, append(rebasedB, rebasedA...)
}

func rebaseAll(patterns []string, rel string) []string {
	if rel == "" {
		return patterns
	}
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = changeRuleBase(p, rel)
	}
	return out
}

func relBase(base, dir string) string {
	rel, err := filepath.Rel(orRoot(base), orRoot(dir))
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func orRoot(p string) string {
	if p == "" {
		return "."
	}
	return p
}

func longestCommonDir(a, b string) string {
	as := strings.Split(a, "/")
	bs := strings.Split(b, "/")
	var common []string
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			break
		}
		common = append(common, as[i])
	}
	return strings.Join(common, "/")
}
