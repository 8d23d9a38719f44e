// Package config defines the format-agnostic model of a delivery definition:
// the declared repositories, the pipelines, and which pipeline (if any)
// redeploys the definition itself.
//
// The Model is the single input of selfmutate.Plan. Concrete loaders, such as
// the HCL one, live in separate packages.
package config
