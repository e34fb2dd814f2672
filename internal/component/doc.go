// Package component provides the component registry for playbook graphs.
//
// A Component is a pluggable unit of processing logic. Internal components run
// synchronously in-process through Execute. Non-internal components start
// out-of-band work through Notify and are later re-entered through Execute
// when an external actor resumes the suspended branch.
//
// The Registry is an explicit, constructed object: there is no process-wide
// registration. Build one at startup (usually from Builtins) and hand it to
// the engine. Tests construct registries with fake components.
//
// Each component may declare a typed configuration struct. Node configuration
// is decoded strictly into that struct and validated with
// go-playground/validator tags, so Registry.Validate can reject a playbook
// before any event reaches it.
package component
