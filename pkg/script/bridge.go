package script

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/grafana/symbridge/pkg/classify"
	"github.com/grafana/symbridge/pkg/program"
)

const (
	programType = "symbridge.Program"
	symbolType  = "symbridge.Symbol"
	enumType    = "symbridge.Enum"
)

func registerTypes(L *lua.LState) {
	mt := L.NewTypeMetatable(programType)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"symbol":  programSymbol,
		"symbols": programSymbols,
	}))
	L.SetField(mt, "__tostring", L.NewFunction(programToString))

	methods := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"release":  symbolRelease,
		"released": symbolReleased,
		"repr":     symbolRepr,
	})
	mt = L.NewTypeMetatable(symbolType)
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		return symbolIndex(L, methods)
	}))
	L.SetField(mt, "__eq", L.NewFunction(symbolEq))
	L.SetField(mt, "__lt", L.NewFunction(symbolOrder))
	L.SetField(mt, "__le", L.NewFunction(symbolOrder))
	L.SetField(mt, "__tostring", L.NewFunction(symbolToString))

	mt = L.NewTypeMetatable(enumType)
	L.SetField(mt, "__tostring", L.NewFunction(enumToString))
	L.SetField(mt, "__eq", L.NewFunction(enumEq))
}

func newProgram(L *lua.LState, p *program.Program) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = p
	L.SetMetatable(ud, L.GetTypeMetatable(programType))
	return ud
}

func checkProgram(L *lua.LState, n int) *program.Program {
	ud := L.CheckUserData(n)
	if p, ok := ud.Value.(*program.Program); ok {
		return p
	}
	L.ArgError(n, "program expected")
	return nil
}

func programToString(L *lua.LState) int {
	info := checkProgram(L, 1).DebugInfo()
	L.Push(lua.LString(fmt.Sprintf("Program(origin=%s, symbols=%d)", info.Origin, info.Size)))
	return 1
}

// programSymbol implements prog:symbol(name_or_address).
func programSymbol(L *lua.LState) int {
	p := checkProgram(L, 1)
	var (
		s   *program.Symbol
		err error
	)
	switch v := L.CheckAny(2).(type) {
	case lua.LString:
		s, err = p.SymbolByName(string(v))
	case lua.LNumber:
		s, err = p.SymbolByAddress(checkAddress(L, 2, v))
	default:
		L.ArgError(2, "name or address expected")
	}
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	L.Push(newSymbol(L, s))
	return 1
}

// programSymbols implements prog:symbols([name_or_address]).
func programSymbols(L *lua.LState) int {
	p := checkProgram(L, 1)
	var (
		syms []*program.Symbol
		err  error
	)
	switch v := L.Get(2).(type) {
	case *lua.LNilType:
		syms, err = p.Symbols()
	case lua.LString:
		syms, err = p.SymbolsByName(string(v))
	case lua.LNumber:
		syms, err = p.SymbolsByAddress(checkAddress(L, 2, v))
	default:
		L.ArgError(2, "name or address expected")
	}
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	tbl := L.CreateTable(len(syms), 0)
	for _, s := range syms {
		tbl.Append(newSymbol(L, s))
	}
	L.Push(tbl)
	return 1
}

// checkAddress converts a Lua number to an address. Lua numbers are doubles,
// so addresses above 2^53 cannot be represented exactly.
func checkAddress(L *lua.LState, n int, v lua.LNumber) uint64 {
	f := float64(v)
	if f < 0 || f != math.Trunc(f) || f >= math.MaxUint64 {
		L.ArgError(n, "address must be a non-negative integer")
	}
	return uint64(f)
}

func newSymbol(L *lua.LState, s *program.Symbol) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = s
	L.SetMetatable(ud, L.GetTypeMetatable(symbolType))
	return ud
}

func checkSymbol(L *lua.LState, n int) *program.Symbol {
	ud := L.CheckUserData(n)
	if s, ok := ud.Value.(*program.Symbol); ok {
		return s
	}
	L.ArgError(n, "Symbol expected")
	return nil
}

// checkLive is checkSymbol for operations that need the record.
func checkLive(L *lua.LState, n int) *program.Symbol {
	s := checkSymbol(L, n)
	if s.Released() {
		L.RaiseError("use of a released Symbol")
	}
	return s
}

func symbolIndex(L *lua.LState, methods *lua.LTable) int {
	key := L.CheckString(2)
	if m := methods.RawGetString(key); m != lua.LNil {
		checkSymbol(L, 1)
		L.Push(m)
		return 1
	}
	s := checkLive(L, 1)
	switch key {
	case "name":
		L.Push(lua.LString(s.Name()))
	case "address":
		L.Push(lua.LNumber(s.Address()))
	case "size":
		L.Push(lua.LNumber(s.Size()))
	case "binding":
		v, err := s.Binding()
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
		L.Push(newEnum(L, v))
	case "kind":
		v, err := s.Kind()
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
		L.Push(newEnum(L, v))
	default:
		L.Push(lua.LNil)
	}
	return 1
}

func symbolRelease(L *lua.LState) int {
	checkSymbol(L, 1).Release()
	return 0
}

func symbolReleased(L *lua.LState) int {
	L.Push(lua.LBool(checkSymbol(L, 1).Released()))
	return 1
}

func symbolRepr(L *lua.LState) int {
	r, err := checkLive(L, 1).Repr()
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	L.Push(lua.LString(r))
	return 1
}

func symbolToString(L *lua.LState) int {
	return symbolRepr(L)
}

// symbolEq falls back to identity when the comparison is not applicable.
func symbolEq(L *lua.LState) int {
	a, b := L.CheckUserData(1), L.CheckUserData(2)
	sa, ok1 := a.Value.(*program.Symbol)
	sb, ok2 := b.Value.(*program.Symbol)
	if !ok1 || !ok2 {
		L.Push(lua.LBool(a == b))
		return 1
	}
	checkLive(L, 1)
	checkLive(L, 2)
	res := sa.Compare(sb, program.OpEQ)
	if !res.Applicable() {
		L.Push(lua.LBool(a == b))
		return 1
	}
	L.Push(lua.LBool(res.Bool()))
	return 1
}

func symbolOrder(L *lua.LState) int {
	L.RaiseError("attempt to compare two Symbol values")
	return 0
}

func newEnum(L *lua.LState, v classify.Value) *lua.LTable {
	tbl := L.CreateTable(0, 3)
	tbl.RawSetString("class", lua.LString(v.Class))
	tbl.RawSetString("name", lua.LString(v.Name))
	tbl.RawSetString("value", lua.LNumber(v.Raw))
	L.SetMetatable(tbl, L.GetTypeMetatable(enumType))
	return tbl
}

func enumToString(L *lua.LState) int {
	tbl := L.CheckTable(1)
	L.Push(lua.LString(tbl.RawGetString("class").String() + "." + tbl.RawGetString("name").String()))
	return 1
}

func enumEq(L *lua.LState) int {
	a, b := L.CheckTable(1), L.CheckTable(2)
	L.Push(lua.LBool(
		lua.LVAsString(a.RawGetString("class")) == lua.LVAsString(b.RawGetString("class")) &&
			a.RawGetString("value") == b.RawGetString("value"),
	))
	return 1
}
