// Package vbridge exposes host-owned variant records to embedded script
// runtimes without giving up host ownership.
//
// The bridge is split into small packages:
//
//   - descriptor: per-type tables mapping script names to typed accessors
//   - bridge: the registry, handle ownership modes and the call dispatcher
//   - resource: the generation-tagged cell table behind runtime handles
//   - errors: structured errors shared by every runtime adapter
//   - variant: the record model and its descriptor bindings
//   - luabind, jsbind, wasmbind: runtime adapters for gopher-lua, goja and wazero
//   - config: YAML configuration for the CLI and embedders
//   - cmd/vbridge: runs scripts over VCF records
//
// A typical embedding registers the variant types once per runtime and then
// wraps records as they are read:
//
//	reg := bridge.New(bridge.WithIndexBase(1))
//	defer reg.Close()
//	if err := variant.Register(reg); err != nil {
//	    return err
//	}
//	L, err := luabind.New(reg)
//	if err != nil {
//	    return err
//	}
//	defer L.Close()
//
//	err = reg.WithScope(func(s *bridge.Scope) error {
//	    ref, err := s.Wrap(variant.TagRecord, rec)
//	    if err != nil {
//	        return err
//	    }
//	    _, err = L.Run(ctx, "variant", ref, script)
//	    return err
//	})
//
// Scoped wrappers are revoked when the scope closes. Records that scripts
// keep across calls are wrapped as owned shared cells instead.
package vbridge
