package filter

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"objectcore/pkg/objects"
)

type exprProgram struct {
	program *exprvm.Program
}

func compileExpr(source string, vars []variable) (program, error) {
	env := make(map[string]any, len(vars))
	for _, v := range vars {
		env[v.name] = exprZero(v.kind)
	}
	prog, err := exprlang.Compile(source, exprlang.Env(env), exprlang.AsBool())
	if err != nil {
		return nil, err
	}
	return &exprProgram{program: prog}, nil
}

func (p *exprProgram) eval(vars map[string]any) (bool, error) {
	out, err := exprlang.Run(p.program, vars)
	if err != nil {
		return false, err
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("result %v (%T) is not a boolean", out, out)
	}
	return ok, nil
}

func exprZero(kind objects.Kind) any {
	switch kind {
	case objects.KindInt32, objects.KindUInt32:
		return int64(0)
	case objects.KindSingle:
		return float64(0)
	case objects.KindString, objects.KindEnum:
		return ""
	case objects.KindBoolean:
		return false
	case objects.KindReference:
		return map[string]any{}
	case objects.KindList:
		return []any{}
	}
	return nil
}
