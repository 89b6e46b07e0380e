package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// RegisterModules registers the engine.* Lua table into L:
//
//	engine.roll(expr)            -> total, or nil on a bad expression
//	engine.broadcast(room, msg)  -> nil
//	engine.get_combatant(uid)    -> table {uid, name, hp, max_hp, is_npc} or nil
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: engine global is defined in L.
func (m *Manager) RegisterModules(L *lua.LState) {
	engine := L.NewTable()

	L.SetField(engine, "roll", L.NewFunction(func(L *lua.LState) int {
		expr := L.CheckString(1)
		result, err := m.roller.RollExpr(expr)
		if err != nil {
			m.logger.Warn("scripting: bad dice expression",
				zap.String("expression", expr),
				zap.Error(err),
			)
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(result.Total()))
		return 1
	}))

	L.SetField(engine, "broadcast", L.NewFunction(func(L *lua.LState) int {
		roomID := L.CheckString(1)
		msg := L.CheckString(2)
		if m.Broadcast != nil {
			m.Broadcast(roomID, msg)
		}
		return 0
	}))

	L.SetField(engine, "get_combatant", L.NewFunction(func(L *lua.LState) int {
		uid := L.CheckString(1)
		if m.GetCombatant == nil {
			L.Push(lua.LNil)
			return 1
		}
		info := m.GetCombatant(uid)
		if info == nil {
			L.Push(lua.LNil)
			return 1
		}
		t := L.NewTable()
		L.SetField(t, "uid", lua.LString(info.UID))
		L.SetField(t, "name", lua.LString(info.Name))
		L.SetField(t, "hp", lua.LNumber(info.HP))
		L.SetField(t, "max_hp", lua.LNumber(info.MaxHP))
		L.SetField(t, "is_npc", lua.LBool(info.IsNPC))
		L.Push(t)
		return 1
	}))

	L.SetGlobal("engine", engine)
}
