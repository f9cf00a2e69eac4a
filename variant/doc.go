// Package variant is the host-side variant record model and its bindings.
//
// A Record holds the fixed VCF columns, an ordered Info map and a sample by
// ploidy genotype matrix in the BCF integer encoding. Records reference a
// shared Header that declares contigs and samples; every write is validated
// against it.
//
// Register exposes the model to a bridge.Registry under five type tags:
//
//	record     id, chrom, pos, ref, alt, qual, filters, samples; info, genotypes; clone()
//	info       data keys (int, float, string or flag); has(), delete(), merge()
//	genotypes  one sample row per index; ploidy
//	sample     one allele per index; name, gt, phased
//	allele     index, phased, missing, separator
//
// The info and genotypes handles are children of the record. Sample and
// allele handles are children of those, so every view re-resolves through
// the record on each access and sees writes made through any other view.
//
// Reader and Writer move records to and from VCF text. Only the GT format
// field is kept.
package variant
