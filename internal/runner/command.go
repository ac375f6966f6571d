package runner

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuongbtq/primitive-orchestrator/internal/domain"
)

// DefaultExecutable is the name looked up on PATH when none is configured
const DefaultExecutable = "primitive"

// flagTable maps accepted params to command line flags, in emission order
var flagTable = []struct {
	param string
	flag  string
}{
	{"n", "-n"},
	{"m", "-m"},
	{"rep", "-rep"},
	{"nth", "-nth"},
	{"r", "-r"},
	{"s", "-s"},
	{"a", "-a"},
	{"bg", "-bg"},
	{"j", "-j"},
	{"v", "-v"},
}

// Command is a fully resolved invocation of the executable for one job
type Command struct {
	Args         []string
	Dir          string
	OutputPath   string
	FramePattern string
}

// FrameMode reports whether the executable was asked to emit numbered frames
func (c Command) FrameMode() bool {
	return c.FramePattern != ""
}

// ResolveExecutable finds name on PATH, falling back to the literal name.
// Names containing a path separator are used as given.
func ResolveExecutable(name string) string {
	if name == "" {
		name = DefaultExecutable
	}
	if strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return name
}

// BuildCommand derives the command line for job from its params
func BuildCommand(executable string, job *domain.Job, params domain.Params) Command {
	cmd := Command{
		Dir:        job.OutputDir,
		OutputPath: filepath.Join(job.OutputDir, domain.OutputFileName),
	}
	cmd.Args = []string{executable, "-i", job.InputPath, "-o", cmd.OutputPath}

	for _, entry := range flagTable {
		value, ok := formatParam(params[entry.param])
		if !ok {
			continue
		}
		if entry.param == "nth" {
			cmd.FramePattern = filepath.Join(job.OutputDir, domain.FramePattern)
			cmd.Args = append(cmd.Args, "-o", cmd.FramePattern)
		}
		cmd.Args = append(cmd.Args, entry.flag, value)
	}

	return cmd
}

// formatParam renders a scalar param value. Missing, empty, false and
// zero values are reported as absent and produce no flag.
func formatParam(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, val != ""
	case bool:
		return strconv.FormatBool(val), val
	case json.Number:
		f, err := val.Float64()
		if err == nil && f == 0 {
			return "", false
		}
		return val.String(), val.String() != ""
	case int:
		return strconv.Itoa(val), val != 0
	case int64:
		return strconv.FormatInt(val, 10), val != 0
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), val != 0
	default:
		s := fmt.Sprint(val)
		return s, s != ""
	}
}

// iterations returns the requested shape count used as the progress denominator
func iterations(params domain.Params) int {
	value, ok := formatParam(params["n"])
	if !ok {
		return domain.DefaultIterations
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return domain.DefaultIterations
	}
	return int(f)
}
