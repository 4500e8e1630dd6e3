// Package expand implements the Input Expander (C1): turns a set of task
// sources and/or an arguments file into the ordered sequence of Task Specs
// the scheduler dispatches.
package expand

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/shlex"
	"github.com/hashicorp/go-hclog"

	"github.com/bastelbude1/parallelr/internal/config"
	"github.com/bastelbude1/parallelr/internal/task"
)

// Separator names the token splitter applied to each arguments-file line,
// per spec.md §4.1 step 2.
type Separator string

const (
	SepNone      Separator = ""
	SepSpace     Separator = "space"
	SepWhitespace Separator = "whitespace"
	SepTab       Separator = "tab"
	SepComma     Separator = "comma"
	SepSemicolon Separator = "semicolon"
	SepPipe      Separator = "pipe"
	SepColon     Separator = "colon"
)

var separatorPatterns = map[Separator]*regexp.Regexp{
	SepSpace:      regexp.MustCompile(` +`),
	SepWhitespace: regexp.MustCompile(`\s+`),
	SepTab:        regexp.MustCompile(`\t+`),
	SepComma:      regexp.MustCompile(`,`),
	SepSemicolon:  regexp.MustCompile(`;`),
	SepPipe:       regexp.MustCompile(`\|`),
	SepColon:      regexp.MustCompile(`:`),
}

// Request bundles everything the Input Expander needs to build a Task Spec
// sequence. Command-line parsing of this struct's fields is out of scope
// (spec.md §1 Non-goals); the caller is expected to have already resolved
// these values.
type Request struct {
	Sources           []string // task source paths: directories, files, or globs
	CommandTemplate   string   // contains zero or more @TASK@/@ARG@/@ARG_i@
	ArgumentsFilePath string   // optional
	Separator         Separator
	EnvNames          []string // ordered env var names to bind
	ExtensionFilter   string   // case-insensitive, e.g. ".txt"; empty = no filter
	WorkingDirectory  string   // shared working directory for all specs
	Config            config.Resolved
	Logger            hclog.Logger
}

var argPlaceholderRe = regexp.MustCompile(`@ARG(_\d+)?@|@TASK@`)
var indexedArgRe = regexp.MustCompile(`^@ARG_(\d+)@$`)

// Expand produces the finite, ordered Task Spec sequence spec.md §4.1
// describes.
func Expand(req Request) ([]*task.Spec, error) {
	logger := req.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	if req.Separator != SepNone && req.ArgumentsFilePath == "" {
		return nil, fmt.Errorf("separator requires an arguments-file")
	}

	var files []string
	var err error
	if len(req.Sources) > 0 {
		files, err = discoverFiles(req.Sources, req.ExtensionFilter, req.Config.MaxFileSizeBytes, logger)
		if err != nil {
			return nil, err
		}
	}

	var argLines [][]string
	if req.ArgumentsFilePath != "" {
		argLines, err = readArgumentsFile(req.ArgumentsFilePath, req.Separator)
		if err != nil {
			return nil, err
		}
	}

	if req.ArgumentsFilePath == "" && containsArgPlaceholder(req.CommandTemplate) {
		return nil, fmt.Errorf("unmatched argument placeholder: no arguments-file provided")
	}

	k := -1 // column count, established by the first line, if any
	if len(argLines) > 0 {
		k = len(argLines[0])
		for i, line := range argLines {
			if len(line) != k {
				return nil, fmt.Errorf("inconsistent argument counts: line %d has %d token(s), expected %d", i+1, len(line), k)
			}
		}
	}

	envNames := req.EnvNames
	if len(envNames) > 0 && k >= 0 {
		if len(envNames) > k {
			return nil, fmt.Errorf("env-var count (%d) exceeds argument count (%d)", len(envNames), k)
		}
		if len(envNames) < k {
			logger.Warn("fewer env-var names than arguments; binding only the first names",
				"env_names", len(envNames), "arguments", k)
		}
	}

	if err := validatePlaceholders(req.CommandTemplate, k); err != nil {
		return nil, err
	}

	type unit struct {
		file string // "" if none
		args []string
	}
	var units []unit
	switch {
	case len(files) > 0 && len(argLines) > 0:
		for _, f := range files {
			for _, a := range argLines {
				units = append(units, unit{file: f, args: a})
			}
		}
	case len(files) > 0:
		for _, f := range files {
			units = append(units, unit{file: f})
		}
	case len(argLines) > 0:
		for _, a := range argLines {
			units = append(units, unit{args: a})
		}
	default:
		return nil, fmt.Errorf("no task sources and no arguments-file: nothing to do")
	}

	total := len(units)
	specs := make([]*task.Spec, 0, total)
	for i, u := range units {
		argv, err := substituteAndTokenize(req.CommandTemplate, u.file, u.args)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i+1, err)
		}
		for _, tok := range argv {
			if len(tok) > req.Config.MaxArgumentLength {
				return nil, fmt.Errorf("task %d: argument token exceeds max_argument_length (%d): %q", i+1, req.Config.MaxArgumentLength, truncateForError(tok))
			}
		}

		var bindings []task.EnvBinding
		for idx, name := range envNames {
			if idx < len(u.args) {
				bindings = append(bindings, task.EnvBinding{Name: name, Value: u.args[idx]})
			}
		}

		specs = append(specs, &task.Spec{
			Index:            i + 1,
			Total:            total,
			TaskFilePath:     u.file,
			ArgvTemplate:     argv,
			EnvBindings:      bindings,
			Arguments:        u.args,
			WorkingDirectory: req.WorkingDirectory,
		})
	}

	return specs, nil
}

func truncateForError(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func containsArgPlaceholder(cmd string) bool {
	for _, m := range argPlaceholderRe.FindAllString(cmd, -1) {
		if m != "@TASK@" {
			return true
		}
	}
	return false
}

// validatePlaceholders checks every @ARG_i@ in the template against the
// established column count k (-1 means no arguments-file at all, in which
// case any @ARG*@ is already rejected by the caller before this runs).
func validatePlaceholders(cmd string, k int) error {
	var badIndexes []string
	for _, m := range argPlaceholderRe.FindAllString(cmd, -1) {
		if m == "@TASK@" || m == "@ARG@" {
			continue
		}
		sub := indexedArgRe.FindStringSubmatch(m)
		if sub == nil {
			continue
		}
		var idx int
		fmt.Sscanf(sub[1], "%d", &idx)
		if k < 0 || idx < 1 || idx > k {
			badIndexes = append(badIndexes, m)
		}
	}
	if len(badIndexes) > 0 {
		return fmt.Errorf("placeholder index out of range: %s", strings.Join(badIndexes, ", "))
	}
	return nil
}

// substituteAndTokenize replaces @TASK@/@ARG@/@ARG_i@ in template with the
// resolved values, then tokenizes with POSIX shell word splitting.
func substituteAndTokenize(template, file string, args []string) ([]string, error) {
	result := template
	result = strings.ReplaceAll(result, "@TASK@", file) // "" when file == "", i.e. omitted
	if len(args) > 0 {
		result = strings.ReplaceAll(result, "@ARG@", args[0])
	}
	for i := len(args); i >= 1; i-- {
		placeholder := fmt.Sprintf("@ARG_%d@", i)
		result = strings.ReplaceAll(result, placeholder, args[i-1])
	}

	if strings.Contains(result, "@ARG") || strings.Contains(result, "@TASK@") {
		return nil, fmt.Errorf("unmatched placeholder remains after substitution: %q", result)
	}

	argv, err := shlex.Split(result)
	if err != nil {
		return nil, fmt.Errorf("tokenizing command: %w", err)
	}
	return argv, nil
}

// discoverFiles implements spec.md §4.1 step 1: enumerate, dedupe, sort,
// filter by extension, and validate each task source.
func discoverFiles(sources []string, extFilter string, maxSize int64, logger hclog.Logger) ([]string, error) {
	seen := map[string]bool{}
	var all []string

	for _, src := range sources {
		logger.Debug("scanning task source", "source", src)
		matches, err := resolveSource(src)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("task source %q produced no regular files", src)
		}
		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				return nil, fmt.Errorf("resolving %q: %w", m, err)
			}
			if !seen[abs] {
				seen[abs] = true
				all = append(all, abs)
			}
		}
	}

	if extFilter != "" {
		want := strings.ToLower(extFilter)
		filtered := all[:0]
		for _, f := range all {
			if strings.ToLower(filepath.Ext(f)) == want {
				filtered = append(filtered, f)
			}
		}
		all = filtered
	}

	sort.Strings(all)

	for _, f := range all {
		if err := validateTaskFile(f, maxSize); err != nil {
			return nil, err
		}
	}

	return all, nil
}

func resolveSource(src string) ([]string, error) {
	info, err := os.Stat(src)
	if err == nil {
		if info.IsDir() {
			entries, err := os.ReadDir(src)
			if err != nil {
				return nil, fmt.Errorf("reading directory %q: %w", src, err)
			}
			var files []string
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				files = append(files, filepath.Join(src, e.Name()))
			}
			return files, nil
		}
		if info.Mode().IsRegular() {
			return []string{src}, nil
		}
		return nil, fmt.Errorf("task source %q is neither a regular file nor a directory", src)
	}

	// Not a plain path: try it as a glob.
	matches, gerr := filepath.Glob(src)
	if gerr != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", src, gerr)
	}
	var files []string
	for _, m := range matches {
		mi, err := os.Stat(m)
		if err == nil && mi.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	return files, nil
}

func validateTaskFile(path string, maxSize int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("task file %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("task file %q is not a regular file", path)
	}
	if info.Size() > maxSize {
		return fmt.Errorf("task file %q exceeds max_file_size_bytes (%d > %d)", path, info.Size(), maxSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("task file %q is not readable: %w", path, err)
	}
	f.Close()
	return nil
}

// readArgumentsFile implements spec.md §4.1 step 2.
func readArgumentsFile(path string, sep Separator) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening arguments-file %q: %w", path, err)
	}
	defer f.Close()

	var lines [][]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines = append(lines, splitLine(line, sep))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading arguments-file %q: %w", path, err)
	}
	return lines, nil
}

func splitLine(line string, sep Separator) []string {
	if sep == SepNone {
		return []string{strings.TrimSpace(line)}
	}
	re := separatorPatterns[sep]
	parts := re.Split(strings.TrimSpace(line), -1)
	return parts
}
