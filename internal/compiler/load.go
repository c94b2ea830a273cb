package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// Load reads app definitions from a .cue file or a directory of .cue files.
//
// Definitions live under the app struct (app: todo: {...}). A file without
// an app struct but with a top-level initial block is a single definition
// named after its name field or the file.
func Load(path string) ([]*Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("definition path: %w", err)
	}

	ctx := cuecontext.New()
	var value cue.Value
	if info.IsDir() {
		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return nil, fmt.Errorf("no CUE instances in %s", path)
		}
		if instances[0].Err != nil {
			return nil, fmt.Errorf("loading CUE files: %w", instances[0].Err)
		}
		value = ctx.BuildInstance(instances[0])
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read definition: %w", err)
		}
		value = ctx.CompileBytes(data, cue.Filename(path))
	}
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	fallback := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return compileAll(value, fallback)
}

// LoadString compiles definitions from CUE source text.
func LoadString(src, name string) ([]*Definition, error) {
	value := cuecontext.New().CompileString(src, cue.Filename(name))
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return compileAll(value, strings.TrimSuffix(name, filepath.Ext(name)))
}

func compileAll(value cue.Value, fallback string) ([]*Definition, error) {
	appsVal := value.LookupPath(cue.ParsePath("app"))
	if !appsVal.Exists() {
		if !value.LookupPath(cue.ParsePath("initial")).Exists() {
			return nil, &CompileError{Field: "app", Message: "no app definitions found", Pos: value.Pos()}
		}
		def, err := CompileDefinition(value)
		if err != nil {
			return nil, err
		}
		if def.Name == "" {
			def.Name = fallback
		}
		if def.Replication.Key == "" {
			def.Replication.Key = def.Name
		}
		return []*Definition{def}, nil
	}

	iter, err := appsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var defs []*Definition
	for iter.Next() {
		def, err := CompileDefinition(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("app.%s: %w", iter.Label(), err)
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, &CompileError{Field: "app", Message: "no app definitions found", Pos: appsVal.Pos()}
	}
	return defs, nil
}

// Find returns the definition named name. An empty name selects the only
// definition when there is exactly one.
func Find(defs []*Definition, name string) (*Definition, error) {
	if name == "" {
		if len(defs) == 1 {
			return defs[0], nil
		}
		return nil, fmt.Errorf("%d definitions loaded, choose one by name", len(defs))
	}
	for _, d := range defs {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("definition %q not found", name)
}
