package filter

import (
	"fmt"

	celgo "github.com/google/cel-go/cel"

	"objectcore/pkg/objects"
)

type celProgram struct {
	program celgo.Program
}

func compileCEL(source string, vars []variable) (program, error) {
	opts := make([]celgo.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, celgo.Variable(v.name, celType(v.kind)))
	}
	env, err := celgo.NewEnv(opts...)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if out := ast.OutputType(); !out.IsExactType(celgo.BoolType) && !out.IsExactType(celgo.DynType) {
		return nil, fmt.Errorf("expression yields %s, want bool", out)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &celProgram{program: prg}, nil
}

func (p *celProgram) eval(vars map[string]any) (bool, error) {
	out, _, err := p.program.Eval(vars)
	if err != nil {
		return false, err
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("result %v (%T) is not a boolean", out.Value(), out.Value())
	}
	return ok, nil
}

func celType(kind objects.Kind) *celgo.Type {
	switch kind {
	case objects.KindInt32, objects.KindUInt32:
		return celgo.IntType
	case objects.KindSingle:
		return celgo.DoubleType
	case objects.KindString, objects.KindEnum:
		return celgo.StringType
	case objects.KindBoolean:
		return celgo.BoolType
	case objects.KindList:
		return celgo.ListType(celgo.DynType)
	}
	return celgo.DynType
}
