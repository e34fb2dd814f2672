// Package compiler turns CUE playbook sources into playbook.Playbook values.
//
// A playbook file declares one or more playbooks under the top-level
// `playbook` struct, keyed by playbook id:
//
//	playbook: welcome: {
//		name:  "Welcome new users"
//		start: "trigger"
//		nodes: {
//			trigger: {component_id: "trigger.entity", configuration: {create: true}}
//			log:     {component_id: "sink.log"}
//		}
//		links: [{from: {id: "trigger", port: "out"}, to: {id: "log"}}]
//	}
//
// The compiler checks structure only. Component ids and configurations are
// validated against a component.Registry by the caller.
package compiler

import (
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/playbookd/internal/playbook"
)

// CompilePlaybook parses a CUE value into a Playbook.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
//
// The value should be the playbook struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`playbook: welcome: { ... }`)
//	pb, err := CompilePlaybook(v.LookupPath(cue.ParsePath("playbook.welcome")))
//
// The playbook id is the struct label unless an explicit `id` field is set.
func CompilePlaybook(v cue.Value) (*playbook.Playbook, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	pb := &playbook.Playbook{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		pb.ID = labels[len(labels)-1].Unquoted()
	}
	if idVal := v.LookupPath(cue.ParsePath("id")); idVal.Exists() {
		id, err := idVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		pb.ID = id
	}
	if pb.ID == "" {
		return nil, &CompileError{Field: "id", Message: "playbook id is required", Pos: v.Pos()}
	}

	name, err := optionalString(v, "name")
	if err != nil {
		return nil, err
	}
	pb.Name = name
	if pb.Name == "" {
		pb.Name = pb.ID
	}

	startVal := v.LookupPath(cue.ParsePath("start"))
	if !startVal.Exists() {
		return nil, &CompileError{Field: "start", Message: "start is required", Pos: v.Pos()}
	}
	pb.Start, err = startVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}

	if runVal := v.LookupPath(cue.ParsePath("running")); runVal.Exists() {
		pb.Running, err = runVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
	}

	nodes, err := parseNodes(v)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, &CompileError{Field: "nodes", Message: "at least one node is required", Pos: v.Pos()}
	}

	links, err := parseLinks(v)
	if err != nil {
		return nil, err
	}

	def, err := playbook.NewDefinition(nodes, links)
	if err != nil {
		return nil, &CompileError{Field: "nodes", Message: err.Error(), Pos: v.Pos()}
	}
	if _, ok := def.Node(pb.Start); !ok {
		return nil, &CompileError{
			Field:   "start",
			Message: fmt.Sprintf("start node %q is not declared in nodes", pb.Start),
			Pos:     startVal.Pos(),
		}
	}

	data, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}
	pb.Definition = string(data)

	return pb, nil
}

// parseNodes reads the `nodes` struct in declaration order.
func parseNodes(v cue.Value) ([]playbook.Node, error) {
	nodesVal := v.LookupPath(cue.ParsePath("nodes"))
	if !nodesVal.Exists() {
		return nil, &CompileError{Field: "nodes", Message: "nodes is required", Pos: v.Pos()}
	}

	iter, err := nodesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var nodes []playbook.Node
	for iter.Next() {
		nodeVal := iter.Value()
		node := playbook.Node{ID: iter.Selector().Unquoted()}

		compVal := nodeVal.LookupPath(cue.ParsePath("component_id"))
		if !compVal.Exists() {
			return nil, &CompileError{
				Field:   "nodes." + node.ID + ".component_id",
				Message: "component_id is required",
				Pos:     nodeVal.Pos(),
			}
		}
		node.ComponentID, err = compVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}

		cfgVal := nodeVal.LookupPath(cue.ParsePath("configuration"))
		if cfgVal.Exists() {
			if cfgVal.IncompleteKind() != cue.StructKind {
				return nil, &CompileError{
					Field:   "nodes." + node.ID + ".configuration",
					Message: "configuration must be a struct",
					Pos:     cfgVal.Pos(),
				}
			}
			raw, err := cfgVal.MarshalJSON()
			if err != nil {
				return nil, formatCUEError(err)
			}
			node.Configuration = raw
		}

		nodes = append(nodes, node)
	}

	return nodes, nil
}

// parseLinks reads the optional `links` list. Link endpoints are not
// checked here; a dangling link is a registry validation error.
func parseLinks(v cue.Value) ([]playbook.Link, error) {
	linksVal := v.LookupPath(cue.ParsePath("links"))
	if !linksVal.Exists() {
		return nil, nil
	}

	iter, err := linksVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var links []playbook.Link
	for i := 0; iter.Next(); i++ {
		linkVal := iter.Value()
		field := fmt.Sprintf("links[%d]", i)

		from, err := requiredString(linkVal, "from.id", field)
		if err != nil {
			return nil, err
		}
		port, err := optionalString(linkVal, "from.port")
		if err != nil {
			return nil, err
		}
		to, err := requiredString(linkVal, "to.id", field)
		if err != nil {
			return nil, err
		}

		links = append(links, playbook.Link{
			From: playbook.Endpoint{ID: from, Port: port},
			To:   playbook.Endpoint{ID: to},
		})
	}

	return links, nil
}

func requiredString(v cue.Value, path, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", &CompileError{Field: field + "." + path, Message: path + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
