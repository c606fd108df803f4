package domain

// Call is a chain-defined operation: a module/function pair plus an
// ordered list of named, typed arguments. Immutable once constructed;
// argument order is part of the signed encoding.
type Call struct {
	Module   string
	Function string
	Args     []CallArg
}

// CallArg is one named call argument. TypeName selects the codec type
// used to encode Value.
type CallArg struct {
	Name     string
	TypeName string
	Value    any
}

// NewCall builds a Call from module, function and argument triples.
func NewCall(module, function string, args ...CallArg) Call {
	return Call{Module: module, Function: function, Args: args}
}

// Arg returns a CallArg.
func Arg(name, typeName string, value any) CallArg {
	return CallArg{Name: name, TypeName: typeName, Value: value}
}
