package expand

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bastelbude1/parallelr/internal/config"
)

func baseConfig() config.Resolved {
	c := config.Default()
	c.Workspace = "/tmp"
	c.DataRoot = "/tmp"
	return c
}

func TestExpand_SingleArgumentEnvMode(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	require.NoError(t, os.WriteFile(argsFile, []byte("alpha\nbeta\ngamma\n"), 0o644))

	specs, err := Expand(Request{
		CommandTemplate:   "bash template.sh",
		ArgumentsFilePath: argsFile,
		EnvNames:          []string{"HOST"},
		Config:            baseConfig(),
	})
	require.NoError(t, err)
	require.Len(t, specs, 3)

	require.Equal(t, []string{"bash", "template.sh"}, specs[0].ArgvTemplate)
	require.Equal(t, "HOST", specs[0].EnvBindings[0].Name)
	require.Equal(t, "alpha", specs[0].EnvBindings[0].Value)
	require.Equal(t, "beta", specs[1].EnvBindings[0].Value)
	require.Equal(t, "gamma", specs[2].EnvBindings[0].Value)
	for i, s := range specs {
		require.Equal(t, i+1, s.Index)
		require.Equal(t, 3, s.Total)
	}
}

func TestExpand_MultiColumnIndexedPlaceholders(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.csv")
	require.NoError(t, os.WriteFile(argsFile, []byte("a,1,prod\nb,2,dev\n"), 0o644))

	specs, err := Expand(Request{
		CommandTemplate:   "/bin/echo @ARG_1@ @ARG_2@ @ARG_3@",
		ArgumentsFilePath: argsFile,
		Separator:         SepComma,
		EnvNames:          []string{"HOST", "PORT", "ENV"},
		Config:            baseConfig(),
	})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	require.Equal(t, []string{"a", "1", "prod"}, specs[0].Arguments)
	require.Equal(t, []string{"/bin/echo", "a", "1", "prod"}, specs[0].ArgvTemplate)
}

func TestExpand_InconsistentColumnCount(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.csv")
	require.NoError(t, os.WriteFile(argsFile, []byte("a,1\nb,2,3\n"), 0o644))

	_, err := Expand(Request{
		CommandTemplate:   "/bin/echo @ARG_1@",
		ArgumentsFilePath: argsFile,
		Separator:         SepComma,
		Config:            baseConfig(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "inconsistent argument counts")
}

func TestExpand_PlaceholderIndexOutOfRange(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	require.NoError(t, os.WriteFile(argsFile, []byte("only-one\n"), 0o644))

	_, err := Expand(Request{
		CommandTemplate:   "echo @ARG_1@ @ARG_2@",
		ArgumentsFilePath: argsFile,
		Config:            baseConfig(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "placeholder index out of range")
	require.Contains(t, err.Error(), "@ARG_2@")
}

func TestExpand_UnmatchedPlaceholderWithoutArgumentsFile(t *testing.T) {
	_, err := Expand(Request{
		CommandTemplate: "echo @ARG@",
		Config:          baseConfig(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmatched argument placeholder")
}

func TestExpand_SeparatorRequiresArgumentsFile(t *testing.T) {
	_, err := Expand(Request{
		CommandTemplate: "echo hi",
		Separator:       SepComma,
		Config:          baseConfig(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "separator requires an arguments-file")
}

func TestExpand_TaskFileDiscovery(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.dat"), []byte("x"), 0o644))

	specs, err := Expand(Request{
		Sources:         []string{dir},
		CommandTemplate: "cat @TASK@",
		ExtensionFilter: ".txt",
		Config:          baseConfig(),
	})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	require.Contains(t, specs[0].TaskFilePath, "a.txt")
	require.Contains(t, specs[1].TaskFilePath, "b.txt")
}

func TestExpand_CartesianProductFilesAndArgs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644))

	argsFile := filepath.Join(t.TempDir(), "args.txt")
	require.NoError(t, os.WriteFile(argsFile, []byte("one\ntwo\n"), 0o644))

	specs, err := Expand(Request{
		Sources:           []string{dir},
		CommandTemplate:   "run @TASK@ @ARG@",
		ArgumentsFilePath: argsFile,
		Config:            baseConfig(),
	})
	require.NoError(t, err)
	require.Len(t, specs, 4) // 2 files * 2 arg lines, file-major
	require.Contains(t, specs[0].TaskFilePath, "a.txt")
	require.Equal(t, "one", specs[0].Arguments[0])
	require.Contains(t, specs[1].TaskFilePath, "a.txt")
	require.Equal(t, "two", specs[1].Arguments[0])
	require.Contains(t, specs[2].TaskFilePath, "b.txt")
}

func TestExpand_CommentsAndBlankLinesIgnored(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	require.NoError(t, os.WriteFile(argsFile, []byte("# comment\n\nalpha\n  # another\nbeta\n"), 0o644))

	specs, err := Expand(Request{
		CommandTemplate:   "echo @ARG@",
		ArgumentsFilePath: argsFile,
		Config:            baseConfig(),
	})
	require.NoError(t, err)
	require.Len(t, specs, 2)
}

func TestExpand_MaxArgumentLengthExceeded(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	require.NoError(t, os.WriteFile(argsFile, []byte("x\n"), 0o644))

	c := baseConfig()
	c.MaxArgumentLength = 2

	_, err := Expand(Request{
		CommandTemplate:   "echo @ARG@",
		ArgumentsFilePath: argsFile,
		Config:            c,
	})
	require.Error(t, err)
}
