// Package luabind exposes bridge handles to gopher-lua scripts.
//
// Every handle is a userdata whose metatable dispatches __index,
// __newindex, __len and __tostring to the registry. String keys name
// fields and methods; integer keys address the index slot with Lua's base
// of 1:
//
//	s, _ := luabind.New(reg) // reg created with bridge.WithIndexBase(luabind.IndexBase)
//	out, err := s.Run(ctx, "variant", ref, `
//		local gts = variant.genotypes
//		for i = 1, #gts do print(gts[i][1]) end
//		return variant.id`)
//
// Host errors are raised as userdata values with kind, phase, type, field,
// path and message fields, so pcall can inspect them. Run returns the
// original *errors.Error when a script lets one escape.
//
// Handles created inside the script are released by a finalizer when the
// userdata is collected, or earlier with bridge.release(h). Handles passed
// to Run are borrowed and never released by the state.
package luabind
