package utils

import "strings"

// NormalizeFunctionName rewrites an *ssa.Function's String() form into
// the flat key lib/translate uses for an ir.Instruction's Callee field
// and lib/callgraph uses for its FunctionMap entries:
//
//	A.B.(*C).f -> A.B.C.f
//	(A.B.C).f  -> A.B.C.f
func NormalizeFunctionName(name string) string {
	fName := strings.TrimSpace(name)
	if idx := strings.Index(fName, "(*"); idx != -1 {
		fName = fName[:idx] + fName[idx+2:]
	}
	fName = strings.ReplaceAll(fName, "(", "")
	fName = strings.ReplaceAll(fName, ")", "")
	return fName
}
