//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.
package utils

import (
	"go/token"

	"golang.org/x/tools/go/ssa"
)

// PositionOfSsaInstruction resolves an SSA instruction's source
// position through its enclosing function's package, for use as an
// rverr.Error.Pos string when lib/translate reports a capability
// failure against the original source rather than the lowered IR.
func PositionOfSsaInstruction(in ssa.Instruction) token.Position {
	if in == nil || in.Parent() == nil || in.Parent().Package() == nil {
		return token.Position{}
	}
	return in.Parent().Package().Prog.Fset.Position(in.Pos())
}

// PositionStringOfSsaInstruction is PositionOfSsaInstruction rendered
// as "file:line:col".
func PositionStringOfSsaInstruction(in ssa.Instruction) string {
	return PositionOfSsaInstruction(in).String()
}
