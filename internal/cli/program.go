package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	p4_config_v1 "github.com/p4lang/p4runtime/go/p4/config/v1"

	"github.com/roach88/tablesync/internal/compiler"
	"github.com/roach88/tablesync/internal/engine"
	"github.com/roach88/tablesync/internal/facts"
	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/pipeline"
	"github.com/roach88/tablesync/internal/store"
)

// LoadMode controls how errors are handled during program loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult is a loaded program.
type LoadResult struct {
	Spec      *ir.ProgramSpec
	FileCount int // number of CUE files read
}

// LoadError represents an error that occurred during program loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants, unified across all CLI commands. Program validation
// codes (E2xx) come from the compiler package.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeStore       = "E007" // Database error
	ErrCodeP4Info      = "E008" // P4Info unreadable
	ErrCodeFacts       = "E009" // Fact file unreadable
	ErrCodeSwitch      = "E010" // Switch connection error

	ErrCodeInvalidRelation = "E101" // Malformed input or output declaration
	ErrCodeInvalidRule     = "E110" // Malformed rule
	ErrCodeInvalidTemplate = "E111" // Malformed rule value or where clause
)

// LoadProgram loads and compiles a CUE program from a file or from every
// CUE file of a directory (one package).
//
// In LoadModeCollectAll each relation and rule is compiled independently and
// every error is returned along with the partial program; the program is
// also run through compiler.Validate. In LoadModeFailFast the first error
// is returned.
func LoadProgram(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("program not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing program: %v", err)}}
	}

	var (
		value cue.Value
		files = 1
	)
	if info.IsDir() {
		value, files, err = loadDir(path)
	} else {
		value, err = loadFile(path)
	}
	if err != nil {
		return nil, []error{err}
	}

	result := &LoadResult{Spec: &ir.ProgramSpec{}, FileCount: files}
	if mode == LoadModeFailFast {
		spec, err := compiler.CompileProgram(value)
		if err != nil {
			return nil, []error{convertCompileError(err, "program")}
		}
		if verrs := compiler.Validate(spec); len(verrs) > 0 {
			return nil, []error{verrs[0]}
		}
		result.Spec = spec
		return result, nil
	}

	var errs []error
	collect := func(section string, each func(cue.Value) error) {
		v := value.LookupPath(cue.ParsePath(section))
		if !v.Exists() {
			return
		}
		iter, err := v.Fields()
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating %s: %v", section, err)})
			return
		}
		for iter.Next() {
			if err := each(iter.Value()); err != nil {
				errs = append(errs, convertCompileError(err, section+"."+iter.Label()))
			}
		}
	}

	collect("input", func(v cue.Value) error {
		rel, err := compiler.CompileRelation(v, ir.RoleInput)
		if err == nil {
			result.Spec.Inputs = append(result.Spec.Inputs, *rel)
		}
		return err
	})
	collect("output", func(v cue.Value) error {
		rel, err := compiler.CompileRelation(v, ir.RoleOutput)
		if err == nil {
			result.Spec.Outputs = append(result.Spec.Outputs, *rel)
		}
		return err
	})
	collect("rule", func(v cue.Value) error {
		rule, err := compiler.CompileRule(v)
		if err == nil {
			result.Spec.Rules = append(result.Spec.Rules, *rule)
		}
		return err
	})

	for _, verr := range compiler.Validate(result.Spec) {
		errs = append(errs, verr)
	}
	return result, errs
}

func loadFile(path string) (cue.Value, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	v := cuecontext.New().CompileBytes(src, cue.Filename(path))
	if err := v.Err(); err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return v, nil
}

func loadDir(dir string) (cue.Value, int, error) {
	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return value, len(cueFiles), nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// MapFieldToErrorCode maps a compiler error field to an error code.
//
//	input.Learned.fields -> E101
//	rule.fwd.from        -> E110
//	value                -> E111
func MapFieldToErrorCode(field string) string {
	head, _, _ := strings.Cut(field, ".")
	switch head {
	case "input", "output":
		return ErrCodeInvalidRelation
	case "rule":
		return ErrCodeInvalidRule
	case "value", "where":
		return ErrCodeInvalidTemplate
	case "cue":
		return ErrCodeBuildFailed
	default:
		return ErrCodeGeneric
	}
}

// loadSpec loads a program fail-fast for commands that only need the compiled program.
func loadSpec(path string) (*ir.ProgramSpec, error) {
	res, errs := LoadProgram(path, LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return res.Spec, nil
}

// openEngine opens the store at dbPath and an engine running spec over it.
// The engine owns the store: Stop closes it.
func openEngine(ctx context.Context, spec *ir.ProgramSpec, dbPath string, logger *slog.Logger) (*engine.Program, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeStore, Message: fmt.Sprintf("opening database %s: %v", dbPath, err)}
	}
	eng, err := engine.Open(ctx, st, *spec, engine.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, &LoadError{Code: ErrCodeStore, Message: fmt.Sprintf("opening engine: %v", err)}
	}
	return eng, nil
}

// loadPipeline reads and resolves a P4Info text file.
func loadPipeline(path string) (*p4_config_v1.P4Info, *pipeline.Pipeline, error) {
	info, err := pipeline.LoadP4Info(path)
	if err != nil {
		return nil, nil, &LoadError{Code: ErrCodeP4Info, Message: err.Error()}
	}
	pl, err := pipeline.FromP4Info(info)
	if err != nil {
		return nil, nil, &LoadError{Code: ErrCodeP4Info, Message: err.Error()}
	}
	return info, pl, nil
}

// loadFacts reads a fact file against the engine's relations.
func loadFacts(path string, eng *engine.Program) ([]ir.Update, error) {
	batch, err := facts.Load(path, eng.Relations())
	if err != nil {
		return nil, &LoadError{Code: ErrCodeFacts, Message: fmt.Sprintf("%s: %v", path, err)}
	}
	return batch, nil
}

// errorCode returns the code of a LoadError, or ErrCodeGeneric.
func errorCode(err error) string {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	return ErrCodeGeneric
}

// errorMessage returns a LoadError's message without its code prefix.
func errorMessage(err error) string {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Message
	}
	return err.Error()
}
