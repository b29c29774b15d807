// Package profile loads the declarative HCL build profile that supplies the
// environment bindings (${prefix}, ${sysroot_dir}, ${parallelism},
// ${OS_TRIPLET}) consumed by recipe stage bodies.
package profile
