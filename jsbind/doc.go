// Package jsbind exposes bridge handles to goja scripts.
//
// Each handle is a goja dynamic object. Property reads and writes go to the
// registry's dispatcher; methods are returned as functions bound to the
// handle; indexable types answer to integer keys from 0 and to length:
//
//	rt, _ := jsbind.New(reg)
//	v, err := rt.Run(ctx, "variant", ref, `
//		const gts = variant.genotypes;
//		const firsts = [];
//		for (let i = 0; i < gts.length; i++) firsts.push(String(gts[i][0]));
//		firsts.join(",")`)
//
// Host errors are thrown as GoError objects with kind, phase, type and
// field properties. Run returns the original *errors.Error when a script
// does not catch one.
//
// Objects created by the script release their cells from a finalizer once
// goja drops them and the Go collector runs, or earlier via
// bridge.release(obj).
package jsbind
