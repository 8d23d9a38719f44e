// Package hcl provides the HCL implementation of config.Loader. It parses
// pipeline definition files, analyses artifact and export references in
// attribute expressions, and renders definitions back to canonical HCL.
package hcl
